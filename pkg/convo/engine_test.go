package convo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/clara-health/prearrival/pkg/report"
)

type fakeModel struct {
	replies []string
	errs    []error
	calls   int

	lastHistory []Turn
	lastImage   *Image
}

func (f *fakeModel) Generate(ctx context.Context, system string, history []Turn, image *Image) (string, error) {
	f.lastHistory = append([]Turn(nil), history...)
	f.lastImage = image
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return "ok", nil
}

func TestStartReturnsGreeting(t *testing.T) {
	m := &fakeModel{replies: []string{"Hello there. What happened?"}}
	e := NewEngine(m, "system prompt", nil)

	res := e.Start(context.Background())
	if res.Reply != "Hello there. What happened?" {
		t.Fatalf("greeting = %q", res.Reply)
	}
	if len(m.lastHistory) != 0 {
		t.Fatalf("greeting call history len = %d, want 0", len(m.lastHistory))
	}
	h := e.History()
	if len(h) != 1 || h[0].Role != RoleModel {
		t.Fatalf("history after start = %+v", h)
	}
}

func TestStartFallsBackOnModelFailure(t *testing.T) {
	m := &fakeModel{errs: []error{errors.New("down")}}
	e := NewEngine(m, "", nil)

	res := e.Start(context.Background())
	if res.Reply != FallbackGreeting {
		t.Fatalf("greeting = %q, want fallback", res.Reply)
	}
	if len(res.Fields) != 0 || len(res.Actions) != 0 || res.ReportComplete {
		t.Fatalf("fallback result carries data: %+v", res)
	}
	h := e.History()
	if len(h) != 1 || h[0].Text != FallbackGreeting {
		t.Fatalf("history = %+v", h)
	}
}

func TestSendAppliesFieldsAndHistory(t *testing.T) {
	m := &fakeModel{replies: []string{"Understood. [FIELD: chiefComplaint = broken arm] Where does it hurt most?"}}
	e := NewEngine(m, "", nil)

	res, err := e.Send(context.Background(), "I broke my arm")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Fields["chiefComplaint"] != "broken arm" {
		t.Fatalf("fields = %v", res.Fields)
	}
	if strings.Contains(res.Reply, "[FIELD") {
		t.Fatalf("reply not cleaned: %q", res.Reply)
	}
	if v, ok := e.Report().Get("chiefComplaint"); !ok || v != "broken arm" {
		t.Fatalf("report chiefComplaint = %q, %v", v, ok)
	}

	h := e.History()
	if len(h) != 2 || h[0].Role != RoleUser || h[1].Role != RoleModel {
		t.Fatalf("history = %+v", h)
	}
}

func TestSendRollsBackUserTurnOnFailure(t *testing.T) {
	m := &fakeModel{errs: []error{errors.New("unreachable")}}
	e := NewEngine(m, "", nil)

	if _, err := e.Send(context.Background(), "hello"); err == nil {
		t.Fatal("want error")
	}
	if len(e.History()) != 0 {
		t.Fatalf("history = %+v, want empty after rollback", e.History())
	}

	// A retry of the same turn starts clean.
	m.errs = nil
	m.replies = []string{"", "Hi again"}
	if _, err := e.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(e.History()) != 2 {
		t.Fatalf("history len = %d, want 2", len(e.History()))
	}
}

func TestReportMarkersLatch(t *testing.T) {
	m := &fakeModel{replies: []string{
		"Thanks. [REPORT: COMPLETE]",
		"Anything else?",
		"Updated the ER. [REPORT: UPDATED]",
	}}
	e := NewEngine(m, "", nil)
	ctx := context.Background()

	res, _ := e.Send(ctx, "a")
	if !res.ReportComplete || res.ReportUpdated {
		t.Fatalf("turn 1 markers = %+v", res)
	}

	res, _ = e.Send(ctx, "b")
	if res.ReportComplete {
		t.Fatal("turn 2 should not report complete for this call")
	}
	if !e.ReportComplete() {
		t.Fatal("engine should latch report complete")
	}

	res, _ = e.Send(ctx, "c")
	if !res.ReportUpdated {
		t.Fatal("turn 3 should report updated")
	}
	if !e.ReportComplete() || !e.ReportUpdated() {
		t.Fatal("latches lost")
	}
}

func TestSendWithImageHistoryAndInline(t *testing.T) {
	m := &fakeModel{replies: []string{"That looks painful. [FIELD: bleeding = moderate]"}}
	e := NewEngine(m, "", nil)

	_, err := e.SendWithImage(context.Background(), "Here's the wound", Image{
		Base64:   "data:image/png;base64,aGVsbG8=",
		MIMEType: "image/png",
	})
	if err != nil {
		t.Fatalf("SendWithImage: %v", err)
	}

	if m.lastImage == nil || m.lastImage.Base64 != "aGVsbG8=" {
		t.Fatalf("image passed to model = %+v, want stripped data URL", m.lastImage)
	}
	h := e.History()
	if !h[0].HasImage {
		t.Fatal("user turn should note the image")
	}
	if !strings.HasSuffix(h[0].Text, "[User shared a photo]") {
		t.Fatalf("user turn text = %q", h[0].Text)
	}
}

func TestStartResetsState(t *testing.T) {
	m := &fakeModel{replies: []string{"Hi. [REPORT: COMPLETE] [FIELD: chiefComplaint = x]", "Hi"}}
	e := NewEngine(m, "", nil)
	ctx := context.Background()

	e.Send(ctx, "a")
	if !e.ReportComplete() {
		t.Fatal("precondition: latched")
	}

	e.Start(ctx)
	if e.ReportComplete() || e.ReportUpdated() {
		t.Fatal("Start should clear latches")
	}
	if _, ok := e.Report().Get("chiefComplaint"); ok {
		t.Fatal("Start should reset the report")
	}
}

func TestStartKeepsDynamicSchema(t *testing.T) {
	m := &fakeModel{replies: []string{"Noted. [FIELD: pregnancy = 28 weeks]", "Hi"}}
	e := NewEngine(m, "", nil)
	ctx := context.Background()

	e.Send(ctx, "I'm pregnant")
	if _, total := e.Report().Progress(); total != 11 {
		t.Fatalf("precondition total = %d", total)
	}

	e.Start(ctx)
	s, ok := e.Report().Status("pregnancy")
	if !ok {
		t.Fatal("dynamic field dropped from schema on restart")
	}
	if s != report.StatusPending {
		t.Fatalf("dynamic field status = %s, want pending", s)
	}
	if _, ok := e.Report().Get("pregnancy"); ok {
		t.Fatal("dynamic field value survived restart")
	}
}

func TestStartParsesOpeningTags(t *testing.T) {
	m := &fakeModel{replies: []string{
		"Hi, I'm here to help. [FIELD: incidentTime = just now] [ACTION: CONFIRM_READY]",
	}}
	e := NewEngine(m, "", nil)

	res := e.Start(context.Background())
	if res.Fields["incidentTime"] != "just now" {
		t.Fatalf("fields = %v", res.Fields)
	}
	if len(res.Actions) != 1 || res.Actions[0] != ActionConfirmReady {
		t.Fatalf("actions = %v", res.Actions)
	}
	if v, ok := e.Report().Get("incidentTime"); !ok || v != "just now" {
		t.Fatalf("report incidentTime = %q, %v", v, ok)
	}
}

func TestStripDataURL(t *testing.T) {
	cases := map[string]string{
		"data:image/jpeg;base64,QUJD": "QUJD",
		"QUJD":                        "QUJD",
		"data:text/plain,plain":       "data:text/plain,plain",
	}
	for in, want := range cases {
		if got := stripDataURL(in); got != want {
			t.Errorf("stripDataURL(%q) = %q, want %q", in, got, want)
		}
	}
}
