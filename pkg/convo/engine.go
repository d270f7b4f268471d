// Package convo runs the intake conversation: it keeps the turn history,
// calls the language model, extracts inline tags from replies and feeds
// field updates into the report.
package convo

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/clara-health/prearrival/pkg/report"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one exchange in the conversation history.
type Turn struct {
	Role     Role
	Text     string
	HasImage bool
}

// Image is an inline image for a single turn. Base64 may carry a data URL
// prefix; it is stripped before the model call.
type Image struct {
	Base64   string
	MIMEType string
}

// Model generates a reply from the system prompt and turn history. When
// image is non-nil it belongs to the final turn; earlier turns are sent
// text-only.
type Model interface {
	Generate(ctx context.Context, system string, history []Turn, image *Image) (string, error)
}

// FallbackGreeting is used when the model cannot be reached at session start.
const FallbackGreeting = "Hi, I'm Clara. I'm here to help prepare the ER for your arrival. Tell me — what's happening right now?"

// photoHistoryNote is appended to the stored text of an image turn so later
// calls retain the fact without resending image bytes.
const photoHistoryNote = " [User shared a photo]"

// Result is the outcome of one conversation turn. ReportComplete and
// ReportUpdated reflect this turn only; the engine latches them across turns.
type Result struct {
	Reply          string
	Fields         map[string]string
	Actions        []string
	ReportComplete bool
	ReportUpdated  bool
}

// Engine drives one patient's intake conversation. Safe for concurrent use.
type Engine struct {
	model  Model
	system string
	logger *slog.Logger

	mu             sync.Mutex
	history        []Turn
	rep            *report.Report
	reportComplete bool
	reportUpdated  bool
}

// NewEngine creates an engine with a fresh report.
func NewEngine(model Model, system string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		model:  model,
		system: system,
		logger: logger,
		rep:    report.New(),
	}
}

// Start resets the conversation and asks the model for its opening greeting.
// A model failure is not fatal at this point; the fixed fallback greeting is
// returned instead so the session can proceed. The report keeps any dynamic
// field entries learned earlier, reset to pending.
func (e *Engine) Start(ctx context.Context) *Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = nil
	e.rep.Clear(false)
	e.reportComplete = false
	e.reportUpdated = false

	raw, err := e.model.Generate(ctx, e.system, nil, nil)
	if err != nil {
		e.logger.Warn("greeting generation failed, using fallback", "error", err)
		e.history = append(e.history, Turn{Role: RoleModel, Text: FallbackGreeting})
		return &Result{Reply: FallbackGreeting}
	}

	parsed := ParseReply(raw)
	greeting := parsed.Clean
	if greeting == "" {
		greeting = FallbackGreeting
	}
	e.history = append(e.history, Turn{Role: RoleModel, Text: greeting})

	e.rep.Apply(parsed.Fields)
	if parsed.ReportComplete {
		e.reportComplete = true
	}
	return &Result{
		Reply:          greeting,
		Fields:         parsed.Fields,
		Actions:        parsed.Actions,
		ReportComplete: parsed.ReportComplete,
	}
}

// Send runs one text turn. On model failure the user turn is rolled back so
// the history stays consistent for a retry.
func (e *Engine) Send(ctx context.Context, text string) (*Result, error) {
	return e.send(ctx, text, nil)
}

// SendWithImage runs one turn carrying an inline photo. Only the current
// image is sent to the model; the stored history notes the photo in text.
func (e *Engine) SendWithImage(ctx context.Context, text string, img Image) (*Result, error) {
	img.Base64 = stripDataURL(img.Base64)
	return e.send(ctx, text, &img)
}

func (e *Engine) send(ctx context.Context, text string, img *Image) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	turn := Turn{Role: RoleUser, Text: text}
	if img != nil {
		turn.Text = text + photoHistoryNote
		turn.HasImage = true
	}
	e.history = append(e.history, turn)

	raw, err := e.model.Generate(ctx, e.system, e.history, img)
	if err != nil {
		e.history = e.history[:len(e.history)-1]
		return nil, err
	}

	parsed := ParseReply(raw)
	e.history = append(e.history, Turn{Role: RoleModel, Text: parsed.Clean})

	e.rep.Apply(parsed.Fields)
	if parsed.ReportComplete {
		e.reportComplete = true
	}
	if parsed.ReportUpdated {
		e.reportUpdated = true
	}

	return &Result{
		Reply:          parsed.Clean,
		Fields:         parsed.Fields,
		Actions:        parsed.Actions,
		ReportComplete: parsed.ReportComplete,
		ReportUpdated:  parsed.ReportUpdated,
	}, nil
}

// Report gives access to the engine's report. Callers must not retain it
// across turns without re-reading.
func (e *Engine) Report() *report.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rep
}

// History returns a copy of the conversation so far.
func (e *Engine) History() []Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Turn, len(e.history))
	copy(out, e.history)
	return out
}

// ReportComplete reports whether any turn so far marked the report complete.
func (e *Engine) ReportComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reportComplete
}

// ReportUpdated reports whether any turn so far marked a post-send update.
func (e *Engine) ReportUpdated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reportUpdated
}

func stripDataURL(b64 string) string {
	if strings.HasPrefix(b64, "data:") {
		if i := strings.Index(b64, "base64,"); i >= 0 {
			return b64[i+len("base64,"):]
		}
	}
	return b64
}
