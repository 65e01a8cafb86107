package reveal

import (
	"math/rand/v2"
	"time"
	"unicode"
)

// Pacer computes the pause that follows each revealed character.
type Pacer struct {
	// Base is the delay after an ordinary character.
	Base time.Duration
	// Jitter is the upper bound of the random delay added after ordinary characters.
	Jitter time.Duration
}

const (
	sentencePauseFactor = 15
	clausePauseFactor   = 8
	spacePauseFactor    = 2
)

// DefaultPacer returns the pacing used when none is configured.
func DefaultPacer() Pacer {
	return Pacer{Base: 12 * time.Millisecond, Jitter: 8 * time.Millisecond}
}

// Delay returns the pause after r has been revealed. It is never negative.
func (p Pacer) Delay(r rune) time.Duration {
	base := max(p.Base, 0)
	switch r {
	case '.', '!', '?':
		return sentencePauseFactor * base
	case ',', ';', ':':
		return clausePauseFactor * base
	}
	if unicode.IsSpace(r) {
		return spacePauseFactor * base
	}
	if p.Jitter <= 0 {
		return base
	}
	return base + rand.N(p.Jitter)
}
