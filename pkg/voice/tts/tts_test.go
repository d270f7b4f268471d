package tts

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubSynth struct {
	synth *Synthesis
	err   error
	calls int
}

func (s *stubSynth) Synthesize(ctx context.Context, text string) (*Synthesis, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.synth, nil
}

func TestIsPCMMIME(t *testing.T) {
	cases := map[string]bool{
		"audio/L16;codec=pcm;rate=24000": true,
		"audio/L16":                      true,
		"audio/pcm":                      true,
		"audio/mpeg":                     false,
		"audio/ogg":                      false,
		"":                               false,
	}
	for mime, want := range cases {
		if got := IsPCMMIME(mime); got != want {
			t.Errorf("IsPCMMIME(%q) = %v, want %v", mime, got, want)
		}
	}
}

func TestSynthesisDuration(t *testing.T) {
	// One second of 24 kHz 16-bit mono.
	s := &Synthesis{Audio: make([]byte, 48000), SampleRate: 24000, PCM: true}
	if got := s.Duration(); got != time.Second {
		t.Fatalf("Duration = %v, want 1s", got)
	}

	encoded := &Synthesis{Audio: make([]byte, 48000), MIMEType: "audio/mpeg"}
	if got := encoded.Duration(); got != 0 {
		t.Fatalf("encoded Duration = %v, want 0", got)
	}
}

func TestChainUsesPrimary(t *testing.T) {
	primary := &stubSynth{synth: &Synthesis{Audio: []byte{1}, MIMEType: "audio/pcm", PCM: true, SampleRate: 24000}}
	fallback := &stubSynth{synth: &Synthesis{Audio: []byte{2}}}

	c := Chain(primary, fallback, nil)
	got, err := c.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got.Audio[0] != 1 {
		t.Fatal("fallback used despite healthy primary")
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback calls = %d", fallback.calls)
	}
}

func TestChainFallsBack(t *testing.T) {
	primary := &stubSynth{err: errors.New("quota")}
	fallback := &stubSynth{synth: &Synthesis{Audio: []byte{2}, MIMEType: "audio/mpeg"}}

	c := Chain(primary, fallback, nil)
	got, err := c.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got.Audio[0] != 2 {
		t.Fatal("primary result returned despite failure")
	}
}

func TestChainNoFallback(t *testing.T) {
	primary := &stubSynth{err: errors.New("quota")}
	c := Chain(primary, nil, nil)
	if _, err := c.Synthesize(context.Background(), "hello"); err == nil {
		t.Fatal("want error when primary fails and no fallback exists")
	}
}
