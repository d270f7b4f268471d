// Package tts turns reply text into audio. The primary synthesizer is
// Gemini speech generation; a fallback chain keeps the session speaking
// when the primary fails.
package tts

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Synthesis is one synthesized utterance. When PCM is true, Audio is raw
// 16-bit signed little-endian mono samples at SampleRate.
type Synthesis struct {
	Audio      []byte
	MIMEType   string
	SampleRate int
	PCM        bool
}

// Duration returns the playback length for PCM audio, zero otherwise.
func (s *Synthesis) Duration() time.Duration {
	if !s.PCM || s.SampleRate <= 0 {
		return 0
	}
	bytesPerSecond := s.SampleRate * 2
	return time.Duration(float64(len(s.Audio)) / float64(bytesPerSecond) * float64(time.Second))
}

// Synthesizer converts text to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*Synthesis, error)
}

// IsPCMMIME reports whether a response MIME type denotes raw PCM samples.
func IsPCMMIME(mime string) bool {
	return strings.Contains(mime, "L16") || strings.Contains(mime, "pcm")
}

type chain struct {
	primary  Synthesizer
	fallback Synthesizer
	logger   *slog.Logger
}

// Chain returns a synthesizer that falls back transparently when the
// primary fails.
func Chain(primary, fallback Synthesizer, logger *slog.Logger) Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &chain{primary: primary, fallback: fallback, logger: logger}
}

func (c *chain) Synthesize(ctx context.Context, text string) (*Synthesis, error) {
	synth, err := c.primary.Synthesize(ctx, text)
	if err == nil {
		return synth, nil
	}
	if c.fallback == nil {
		return nil, err
	}
	c.logger.Warn("primary synthesis failed, using fallback", "error", err)
	return c.fallback.Synthesize(ctx, text)
}
