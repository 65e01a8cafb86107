package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/evaldash/internal/gateway"
	"github.com/MegaGrindStone/evaldash/internal/models"
	"github.com/MegaGrindStone/evaldash/internal/reveal"
	"github.com/MegaGrindStone/evaldash/internal/session"
	"github.com/spf13/cobra"
)

func newAskCmd(f *flags) *cobra.Command {
	var (
		conversationID string
		instant        bool
	)

	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send one message and print the reply",
		Long: `Send one message and print the assistant's reply as it is revealed.

Without --conversation a new conversation titled with the message is created.`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.config()
			if err != nil {
				return err
			}
			return runAsk(cmd.Context(), cmd.OutOrStdout(), cfg, conversationID, strings.Join(args, " "), instant)
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Continue an existing conversation")
	cmd.Flags().BoolVar(&instant, "instant", false, "Print the reply at once instead of revealing it")
	return cmd
}

func runAsk(ctx context.Context, out io.Writer, cfg config, conversationID, text string, instant bool) error {
	logger, closeLog, err := openLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	gw := gateway.NewHTTP(cfg.GatewayURL, &http.Client{Timeout: gatewayTimeout}, logger)
	sess := session.New(gw, session.Options{
		UserID: func() string { return cfg.UserID },
		Logger: logger,
	})

	if conversationID != "" {
		if err := sess.SelectConversation(ctx, conversationID); err != nil {
			return err
		}
	}
	if err := sess.Submit(ctx, text); err != nil {
		return err
	}

	state := sess.State()
	reply, ok := lastReply(state.Messages)
	if !ok {
		return errors.New("no reply received")
	}

	if instant {
		_, err := fmt.Fprintln(out, reply.Content)
		return err
	}

	engine := reveal.NewEngine(cfg.pacer())
	engine.Track(reply)
	runes := []rune(reply.Content)
	printed := 0
	err = engine.Run(ctx, reply.ID, func(shown int) {
		if shown > printed {
			fmt.Fprint(out, string(runes[printed:shown]))
			printed = shown
		}
	})
	if printed < len(runes) {
		fmt.Fprint(out, string(runes[printed:]))
	}
	fmt.Fprintln(out)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Fprintf(out, "\nconversation: %s\n", state.ActiveConversationID)
	return nil
}

func lastReply(msgs []models.Message) (models.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == models.SenderAssistant {
			return msgs[i], true
		}
	}
	return models.Message{}, false
}
