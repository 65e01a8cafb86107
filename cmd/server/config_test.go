package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MegaGrindStone/evaldash/internal/services"
	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

func TestConfigUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		want    llmConfig
		port    string
		wantErr string
	}{
		{
			name: "ollama",
			yaml: "port: \"9000\"\nllm:\n  provider: ollama\n  model: llama3\n  host: http://ollama:11434\n",
			want: &ollamaConfig{
				BaseLLMConfig: BaseLLMConfig{Provider: "ollama", Model: "llama3"},
				Host:          "http://ollama:11434",
			},
			port: "9000",
		},
		{
			name: "anthropic",
			yaml: "llm:\n  provider: anthropic\n  model: claude\n  apiKey: secret\n  maxTokens: 1024\n",
			want: &anthropicConfig{
				BaseLLMConfig: BaseLLMConfig{Provider: "anthropic", Model: "claude"},
				APIKey:        "secret",
				MaxTokens:     1024,
			},
			port: defaultPort,
		},
		{
			name: "openrouter",
			yaml: "llm:\n  provider: openrouter\n  model: some/model\n",
			want: &openRouterConfig{
				BaseLLMConfig: BaseLLMConfig{Provider: "openrouter", Model: "some/model"},
			},
			port: defaultPort,
		},
		{
			name:    "missing provider",
			yaml:    "llm:\n  model: x\n",
			wantErr: "llm provider is required",
		},
		{
			name:    "unknown provider",
			yaml:    "llm:\n  provider: mystery\n",
			wantErr: "unknown llm provider: mystery",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg config
			err := yaml.Unmarshal([]byte(tt.yaml), &cfg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Unmarshal() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if cfg.Port != tt.port {
				t.Errorf("Port = %q, want %q", cfg.Port, tt.port)
			}
			if diff := cmp.Diff(tt.want, cfg.LLM); diff != "" {
				t.Errorf("LLM mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConfigOpenAITemperature(t *testing.T) {
	var cfg config
	in := "llm:\n  provider: openai\n  model: gpt\n  baseURL: http://localhost:1234/v1\n  temperature: 0.2\n"
	if err := yaml.Unmarshal([]byte(in), &cfg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	oc, ok := cfg.LLM.(*openAIConfig)
	if !ok {
		t.Fatalf("LLM = %T, want *openAIConfig", cfg.LLM)
	}
	if oc.Temperature == nil || *oc.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want 0.2", oc.Temperature)
	}
	if oc.BaseURL != "http://localhost:1234/v1" {
		t.Errorf("BaseURL = %q", oc.BaseURL)
	}
}

func TestResponderFromConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r, err := anthropicConfig{
		BaseLLMConfig: BaseLLMConfig{Model: "claude"},
		MaxTokens:     10,
	}.responder("sys", logger)
	if err != nil {
		t.Fatalf("responder() error = %v", err)
	}
	if _, ok := r.(services.Anthropic); !ok {
		t.Errorf("responder = %T, want services.Anthropic", r)
	}

	if _, err := (anthropicConfig{BaseLLMConfig: BaseLLMConfig{Model: "claude"}}).responder("", logger); err == nil {
		t.Error("expected an error without maxTokens")
	}
	if _, err := (ollamaConfig{}).responder("", logger); err == nil {
		t.Error("expected an error without a model")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	content := "port: \"8181\"\ndbPath: /tmp/x.db\nlogLevel: debug\nsystemPrompt: be nice\nllm:\n  provider: ollama\n  model: llama3\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Port != "8181" || cfg.DBPath != "/tmp/x.db" || cfg.SystemPrompt != "be nice" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.logLevel() != slog.LevelDebug {
		t.Errorf("logLevel() = %v, want debug", cfg.logLevel())
	}

	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
