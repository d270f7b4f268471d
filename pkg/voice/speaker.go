package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/clara-health/prearrival/pkg/voice/tts"
)

// AudioSink receives synthesized audio for playback delivery.
type AudioSink func(s *tts.Synthesis)

// SynthSpeaker implements Speaker over a Synthesizer. Synthesized audio is
// handed to the sink; completion is signaled after the audio's playback
// duration has elapsed, or immediately for non-PCM formats the client times
// itself. Stop cancels in-flight synthesis and fires the pending completion.
type SynthSpeaker struct {
	synth  tts.Synthesizer
	sink   AudioSink
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	onDone func()
	timer  *time.Timer
}

// NewSynthSpeaker wires a speaker.
func NewSynthSpeaker(synth tts.Synthesizer, sink AudioSink, logger *slog.Logger) *SynthSpeaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SynthSpeaker{synth: synth, sink: sink, logger: logger}
}

// Speak implements Speaker.
func (s *SynthSpeaker) Speak(ctx context.Context, text string, onDone func()) error {
	s.Stop()

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.onDone = onDone
	s.mu.Unlock()

	go func() {
		synth, err := s.synth.Synthesize(ctx, text)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("synthesis failed", "error", err)
			}
			s.complete()
			return
		}
		if ctx.Err() != nil {
			return
		}
		if s.sink != nil {
			s.sink(synth)
		}

		d := synth.Duration()
		if d <= 0 {
			s.complete()
			return
		}
		s.mu.Lock()
		s.timer = time.AfterFunc(d, s.complete)
		s.mu.Unlock()
	}()
	return nil
}

// Stop implements Speaker. The pending completion callback still fires so
// the turn loop can move on.
func (s *SynthSpeaker) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.complete()
}

func (s *SynthSpeaker) complete() {
	s.mu.Lock()
	done := s.onDone
	s.onDone = nil
	s.mu.Unlock()
	if done != nil {
		done()
	}
}
