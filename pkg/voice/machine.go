// Package voice implements the hands-free turn loop: listen for an
// utterance, debounce silence, process it, speak the reply, listen again.
// Capture is acquired once at session start and held until exit.
package voice

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Recognizer is the speech capture side. Acquire obtains capture (mic
// permission) and holds it; Start/Stop toggle recognition without releasing
// capture; Release gives capture back entirely.
type Recognizer interface {
	Acquire(ctx context.Context) error
	Start() error
	Stop()
	Release()
}

// Speaker plays a reply. Speak must be non-blocking and call onDone exactly
// once when playback finishes or is stopped. Stop cancels current playback.
type Speaker interface {
	Speak(ctx context.Context, text string, onDone func()) error
	Stop()
}

// Process turns a committed utterance into a spoken reply.
type Process func(ctx context.Context, text string) (string, error)

// Recognition error kinds, mirroring capture-layer failures.
const (
	RecogErrNoSpeech     = "no-speech"
	RecogErrAudioCapture = "audio-capture"
	RecogErrNotAllowed   = "not-allowed"
	RecogErrNetwork      = "network"
)

// Apology is spoken when processing an utterance fails.
const Apology = "I'm having trouble understanding right now. Could you please try again?"

// Config tunes the machine's timing.
type Config struct {
	// SilenceTimeout is how long after the last partial transcript the
	// utterance commits.
	SilenceTimeout time.Duration
	// BargeInDelay is the pause between stopping playback on interruption
	// and resuming listening.
	BargeInDelay time.Duration
	// NetworkRetryDelay is the wait before re-listening after a network
	// recognition error.
	NetworkRetryDelay time.Duration
}

// DefaultConfig returns the standard timing.
func DefaultConfig() Config {
	return Config{
		SilenceTimeout:    1500 * time.Millisecond,
		BargeInDelay:      100 * time.Millisecond,
		NetworkRetryDelay: 2 * time.Second,
	}
}

// Callbacks are invoked outside the machine's lock.
type Callbacks struct {
	OnStateChange func(from, to State)
	OnTranscript  func(text string)
	OnReply       func(text string)
	OnError       func(err error)
}

// Machine drives one voice session. Safe for concurrent use.
type Machine struct {
	cfg        Config
	callbacks  Callbacks
	recognizer Recognizer
	speaker    Speaker
	process    Process
	logger     *slog.Logger

	mu           sync.Mutex
	ctx          context.Context
	state        State
	active       bool
	transcript   string
	committed    bool
	silenceTimer *time.Timer
	retryTimer   *time.Timer
	speakGen     int
}

// NewMachine wires a machine. All dependencies are required.
func NewMachine(cfg Config, recognizer Recognizer, speaker Speaker, process Process, callbacks Callbacks, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = DefaultConfig().SilenceTimeout
	}
	if cfg.BargeInDelay <= 0 {
		cfg.BargeInDelay = DefaultConfig().BargeInDelay
	}
	if cfg.NetworkRetryDelay <= 0 {
		cfg.NetworkRetryDelay = DefaultConfig().NetworkRetryDelay
	}
	return &Machine{
		cfg:        cfg,
		callbacks:  callbacks,
		recognizer: recognizer,
		speaker:    speaker,
		process:    process,
		logger:     logger,
		state:      StateIdle,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Enter acquires capture and starts listening. Capture denial is terminal.
func (m *Machine) Enter(ctx context.Context) error {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return nil
	}
	m.active = true
	m.ctx = ctx
	m.mu.Unlock()

	if err := m.recognizer.Acquire(ctx); err != nil {
		m.mu.Lock()
		m.active = false
		m.mu.Unlock()
		m.setState(StateError)
		m.emitError(err)
		return err
	}

	m.startListening()
	return nil
}

// HandlePartial feeds a partial transcript. While listening it resets the
// silence debounce; while speaking it is treated as an interruption.
func (m *Machine) HandlePartial(text string) {
	m.mu.Lock()
	switch m.state {
	case StateListening:
		m.transcript = text
		m.resetSilenceTimerLocked()
		cb := m.callbacks.OnTranscript
		m.mu.Unlock()
		if cb != nil {
			cb(text)
		}
	case StateSpeaking:
		m.mu.Unlock()
		m.HandleSpeechStart()
	default:
		// Commits and partials while processing are dropped.
		m.mu.Unlock()
	}
}

// HandleSpeechStart signals the user started talking. While speaking this is
// a barge-in: playback stops, then listening resumes after a short pause.
func (m *Machine) HandleSpeechStart() {
	m.mu.Lock()
	if m.state != StateSpeaking || !m.active {
		m.mu.Unlock()
		return
	}
	m.speakGen++
	delay := m.cfg.BargeInDelay
	m.mu.Unlock()

	m.speaker.Stop()
	time.AfterFunc(delay, m.startListening)
}

// HandleRecognitionError applies the recognition error policy.
func (m *Machine) HandleRecognitionError(kind string) {
	switch kind {
	case RecogErrNoSpeech:
		// Nothing was said; keep the session going.
		m.startListening()
	case RecogErrAudioCapture, RecogErrNotAllowed:
		m.terminate(kind)
	case RecogErrNetwork:
		m.mu.Lock()
		if !m.active {
			m.mu.Unlock()
			return
		}
		if m.retryTimer != nil {
			m.retryTimer.Stop()
		}
		m.retryTimer = time.AfterFunc(m.cfg.NetworkRetryDelay, m.startListening)
		m.mu.Unlock()
	default:
		m.logger.Warn("recognition error", "kind", kind)
		m.startListening()
	}
}

// Exit stops listening and speaking, releases capture and returns to idle.
// Idempotent.
func (m *Machine) Exit() {
	m.mu.Lock()
	if !m.active && m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	m.active = false
	m.speakGen++
	if m.silenceTimer != nil {
		m.silenceTimer.Stop()
		m.silenceTimer = nil
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.mu.Unlock()

	m.recognizer.Stop()
	m.speaker.Stop()
	m.recognizer.Release()
	m.setState(StateIdle)
}

func (m *Machine) startListening() {
	m.mu.Lock()
	if !m.active || m.state == StateListening || m.state == StateProcessing {
		m.mu.Unlock()
		return
	}
	m.transcript = ""
	m.committed = false
	m.mu.Unlock()

	if err := m.recognizer.Start(); err != nil {
		m.emitError(err)
		return
	}
	m.setState(StateListening)
}

func (m *Machine) resetSilenceTimerLocked() {
	if m.silenceTimer != nil {
		m.silenceTimer.Stop()
	}
	m.silenceTimer = time.AfterFunc(m.cfg.SilenceTimeout, m.commit)
}

// commit fires when silence has lasted past the debounce window.
func (m *Machine) commit() {
	m.mu.Lock()
	if m.committed || m.state != StateListening || !m.active {
		m.mu.Unlock()
		return
	}
	text := strings.TrimSpace(m.transcript)
	if text == "" {
		m.mu.Unlock()
		return
	}
	m.committed = true
	ctx := m.ctx
	m.mu.Unlock()

	m.recognizer.Stop()
	m.setState(StateProcessing)
	go m.runTurn(ctx, text)
}

func (m *Machine) runTurn(ctx context.Context, text string) {
	reply, err := m.process(ctx, text)
	if err != nil {
		m.emitError(err)
		m.speak(ctx, Apology)
		return
	}
	if cb := m.callbacks.OnReply; cb != nil {
		cb(reply)
	}
	m.speak(ctx, reply)
}

// speak stops any current playback before starting the new one. Listening
// and speaking are never hot at the same time.
func (m *Machine) speak(ctx context.Context, text string) {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.speakGen++
	gen := m.speakGen
	m.mu.Unlock()

	m.speaker.Stop()
	m.recognizer.Stop()
	m.setState(StateSpeaking)

	err := m.speaker.Speak(ctx, text, func() {
		m.speechDone(gen)
	})
	if err != nil {
		m.logger.Warn("speak failed, resuming listening", "error", err)
		m.mu.Lock()
		m.speakGen++
		m.mu.Unlock()
		m.setIdleIfSpeaking()
		m.startListening()
	}
}

func (m *Machine) speechDone(gen int) {
	m.mu.Lock()
	stale := gen != m.speakGen || !m.active
	m.mu.Unlock()
	if stale {
		return
	}
	m.setIdleIfSpeaking()
	m.startListening()
}

func (m *Machine) setIdleIfSpeaking() {
	m.mu.Lock()
	if m.state != StateSpeaking {
		m.mu.Unlock()
		return
	}
	from := m.state
	m.state = StateIdle
	cb := m.callbacks.OnStateChange
	m.mu.Unlock()
	if cb != nil {
		cb(from, StateIdle)
	}
}

func (m *Machine) terminate(kind string) {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.active = false
	m.speakGen++
	if m.silenceTimer != nil {
		m.silenceTimer.Stop()
		m.silenceTimer = nil
	}
	m.mu.Unlock()

	m.recognizer.Stop()
	m.speaker.Stop()
	m.recognizer.Release()
	m.setState(StateError)
	m.emitError(&RecognitionError{Kind: kind})
}

func (m *Machine) setState(to State) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	cb := m.callbacks.OnStateChange
	m.mu.Unlock()
	if cb != nil {
		cb(from, to)
	}
}

func (m *Machine) emitError(err error) {
	if cb := m.callbacks.OnError; cb != nil {
		cb(err)
	}
}

// RecognitionError is a terminal capture-layer failure.
type RecognitionError struct {
	Kind string
}

func (e *RecognitionError) Error() string {
	return "recognition error: " + e.Kind
}
