package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clara-health/prearrival/pkg/report"
	"github.com/clara-health/prearrival/pkg/syncbus"
)

func newPatientEvent(t *testing.T, rep map[string]any, photos []report.Photo, tsMs int64) syncbus.Event {
	t.Helper()
	raw, err := json.Marshal(NewPatientPayload{Patient: rep, Photos: photos, Timestamp: tsMs})
	if err != nil {
		t.Fatal(err)
	}
	return syncbus.Event{Type: syncbus.EventNewPatient, Data: raw, TimestampMs: tsMs}
}

func updateEvent(t *testing.T, id string, updates map[string]any) syncbus.Event {
	t.Helper()
	raw, err := json.Marshal(PatientUpdatePayload{PatientID: id, Updates: updates})
	if err != nil {
		t.Fatal(err)
	}
	return syncbus.Event{Type: syncbus.EventPatientUpdate, Data: raw}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestHandleNewPatientBuildsEntry(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := NewStore(nil, WithClock(fixedClock(now)))

	s.HandleNewPatient(newPatientEvent(t, map[string]any{
		"chiefComplaint": "chest pain",
		"painLevel":      float64(9),
		"destination":    "County General",
		"eta":            "15 min",
		"armWeakness":    "left side",
	}, nil, now.UnixMilli()))

	patients := s.Patients(SortByReceived)
	if len(patients) != 1 {
		t.Fatalf("patients = %d", len(patients))
	}
	p := patients[0]
	if !strings.HasPrefix(p.ID, "patient_") {
		t.Fatalf("id = %q", p.ID)
	}
	if p.Status != StatusNew {
		t.Fatalf("status = %s", p.Status)
	}
	if p.ChiefComplaint != "chest pain" || p.Destination != "County General" {
		t.Fatalf("patient = %+v", p)
	}
	if p.Name == "" {
		t.Fatal("name fallback not applied")
	}
	if p.ETAMinutes == nil || *p.ETAMinutes != 15 || !p.ETATimestamp.Equal(now) {
		t.Fatalf("eta = %v at %v", p.ETAMinutes, p.ETATimestamp)
	}
	if p.Report["painLevel"] != "9" {
		t.Fatalf("report = %v", p.Report)
	}
	if p.Extra["armWeakness"] != "left side" {
		t.Fatalf("extra = %v", p.Extra)
	}
	wantFlags := []string{"Cardiac concern", "Severe pain"}
	if len(p.WarningFlags) != len(wantFlags) {
		t.Fatalf("flags = %v, want %v", p.WarningFlags, wantFlags)
	}
}

func TestHandleNewPatientFallbacks(t *testing.T) {
	s := NewStore(nil)
	s.HandleNewPatient(newPatientEvent(t, map[string]any{}, nil, time.Now().UnixMilli()))

	p := s.Patients(SortByReceived)[0]
	if p.ChiefComplaint != "Not provided" {
		t.Fatalf("chief complaint = %q", p.ChiefComplaint)
	}
	if p.Destination != "Unknown ER" {
		t.Fatalf("destination = %q", p.Destination)
	}
	if p.ETAMinutes != nil {
		t.Fatalf("eta = %v, want nil", p.ETAMinutes)
	}
}

func TestDedupWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := base
	s := NewStore(nil, WithClock(func() time.Time { return clock }))

	rep := map[string]any{"chiefComplaint": "broken arm"}

	s.HandleNewPatient(newPatientEvent(t, rep, nil, base.UnixMilli()))
	if s.Len() != 1 {
		t.Fatalf("len = %d", s.Len())
	}

	// Same complaint, 4.9s later: duplicate.
	s.HandleNewPatient(newPatientEvent(t, rep, nil, base.Add(4900*time.Millisecond).UnixMilli()))
	if s.Len() != 1 {
		t.Fatalf("duplicate accepted, len = %d", s.Len())
	}

	// Different complaint inside the window: kept.
	s.HandleNewPatient(newPatientEvent(t, map[string]any{"chiefComplaint": "burn"}, nil, base.Add(time.Second).UnixMilli()))
	if s.Len() != 2 {
		t.Fatalf("distinct complaint dropped, len = %d", s.Len())
	}

	// Same complaint, at the window boundary: kept.
	s.HandleNewPatient(newPatientEvent(t, rep, nil, base.Add(5*time.Second).UnixMilli()))
	if s.Len() != 3 {
		t.Fatalf("resend outside window dropped, len = %d", s.Len())
	}
}

func TestNewestPatientFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := base
	s := NewStore(nil, WithClock(func() time.Time { return clock }))

	s.HandleNewPatient(newPatientEvent(t, map[string]any{"chiefComplaint": "first"}, nil, clock.UnixMilli()))
	clock = clock.Add(10 * time.Second)
	s.HandleNewPatient(newPatientEvent(t, map[string]any{"chiefComplaint": "second"}, nil, clock.UnixMilli()))

	patients := s.Patients(SortByReceived)
	if patients[0].ChiefComplaint != "second" {
		t.Fatalf("head = %q, want newest", patients[0].ChiefComplaint)
	}
}

func TestHandlePatientUpdateByIDAndFlags(t *testing.T) {
	s := NewStore(nil)
	s.HandleNewPatient(newPatientEvent(t, map[string]any{"chiefComplaint": "fall"}, nil, time.Now().UnixMilli()))
	id := s.Patients(SortByReceived)[0].ID

	s.HandlePatientUpdate(updateEvent(t, id, map[string]any{
		"painLevel":   "9",
		"destination": "St. Mary's",
		"tingling":    "both hands",
	}))

	p, ok := s.Patient(id)
	if !ok {
		t.Fatal("patient lost")
	}
	if p.Report["painLevel"] != "9" {
		t.Fatalf("report = %v", p.Report)
	}
	if p.Destination != "St. Mary's" {
		t.Fatalf("destination = %q", p.Destination)
	}
	if p.Extra["tingling"] != "both hands" {
		t.Fatalf("extra = %v", p.Extra)
	}
	if !containsFlag(p.WarningFlags, "Severe pain") {
		t.Fatalf("flags not recomputed: %v", p.WarningFlags)
	}
}

func TestHandlePatientUpdateCurrentSentinel(t *testing.T) {
	s := NewStore(nil)
	s.HandleNewPatient(newPatientEvent(t, map[string]any{"chiefComplaint": "older"}, nil, time.Now().Add(-time.Hour).UnixMilli()))
	s.HandleNewPatient(newPatientEvent(t, map[string]any{"chiefComplaint": "newest"}, nil, time.Now().UnixMilli()))

	s.HandlePatientUpdate(updateEvent(t, CurrentPatientID, map[string]any{"painLevel": "7"}))

	patients := s.Patients(SortByReceived)
	if patients[0].Report["painLevel"] != "7" {
		t.Fatal("sentinel did not resolve to the newest patient")
	}
	if patients[1].Report["painLevel"] != "" {
		t.Fatal("sentinel touched the wrong patient")
	}
}

func TestHandlePatientUpdateUnknownIDIgnored(t *testing.T) {
	s := NewStore(nil)
	s.HandlePatientUpdate(updateEvent(t, "patient_missing", map[string]any{"painLevel": "7"}))
	if s.Len() != 0 {
		t.Fatal("unknown update created a patient")
	}
}

func TestHandleETAUpdate(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := NewStore(nil, WithClock(fixedClock(now)))
	s.HandleNewPatient(newPatientEvent(t, map[string]any{"chiefComplaint": "burn"}, nil, now.UnixMilli()))

	etaTS := now.Add(time.Minute).UnixMilli()
	raw, _ := json.Marshal(ETAUpdatePayload{PatientID: CurrentPatientID, ETA: "20 minutes", ETATimestamp: etaTS})
	s.HandleETAUpdate(syncbus.Event{Type: syncbus.EventETAUpdate, Data: raw})

	p := s.Patients(SortByReceived)[0]
	if p.ETAMinutes == nil || *p.ETAMinutes != 20 {
		t.Fatalf("eta = %v", p.ETAMinutes)
	}
	if p.ETATimestamp.UnixMilli() != etaTS {
		t.Fatalf("eta timestamp = %v", p.ETATimestamp)
	}
}

func TestHandleStatusChange(t *testing.T) {
	s := NewStore(nil)
	s.HandleNewPatient(newPatientEvent(t, map[string]any{"chiefComplaint": "burn"}, nil, time.Now().UnixMilli()))
	id := s.Patients(SortByReceived)[0].ID

	raw, _ := json.Marshal(StatusChangePayload{PatientID: id, Status: "ready"})
	s.HandleStatusChange(syncbus.Event{Type: syncbus.EventStatusChange, Data: raw})

	p, _ := s.Patient(id)
	if p.Status != StatusReady {
		t.Fatalf("status = %s", p.Status)
	}

	// The sentinel is not honored for status changes.
	raw, _ = json.Marshal(StatusChangePayload{PatientID: CurrentPatientID, Status: "arrived"})
	s.HandleStatusChange(syncbus.Event{Type: syncbus.EventStatusChange, Data: raw})
	p, _ = s.Patient(id)
	if p.Status != StatusReady {
		t.Fatalf("sentinel applied to status change, status = %s", p.Status)
	}

	// Unknown statuses are rejected.
	raw, _ = json.Marshal(StatusChangePayload{PatientID: id, Status: "discharged"})
	s.HandleStatusChange(syncbus.Event{Type: syncbus.EventStatusChange, Data: raw})
	p, _ = s.Patient(id)
	if p.Status != StatusReady {
		t.Fatalf("invalid status applied, status = %s", p.Status)
	}
}

func TestAdvanceStatusCycles(t *testing.T) {
	s := NewStore(nil)
	s.HandleNewPatient(newPatientEvent(t, map[string]any{"chiefComplaint": "burn"}, nil, time.Now().UnixMilli()))
	id := s.Patients(SortByReceived)[0].ID

	want := []Status{StatusReviewing, StatusReady, StatusArrived, StatusNew}
	for _, w := range want {
		got, err := s.AdvanceStatus(id)
		if err != nil {
			t.Fatalf("AdvanceStatus: %v", err)
		}
		if got != w {
			t.Fatalf("status = %s, want %s", got, w)
		}
	}

	if _, err := s.AdvanceStatus("patient_missing"); err == nil {
		t.Fatal("want error for unknown patient")
	}
}

func TestAddNote(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := NewStore(nil, WithClock(fixedClock(now)))
	s.HandleNewPatient(newPatientEvent(t, map[string]any{"chiefComplaint": "burn"}, nil, now.UnixMilli()))
	id := s.Patients(SortByReceived)[0].ID

	if err := s.AddNote(id, "bed 4 prepped"); err != nil {
		t.Fatalf("AddNote: %v", err)
	}
	p, _ := s.Patient(id)
	if len(p.Notes) != 1 || p.Notes[0].Text != "bed 4 prepped" || !p.Notes[0].Timestamp.Equal(now) {
		t.Fatalf("notes = %+v", p.Notes)
	}

	if err := s.AddNote("patient_missing", "x"); err == nil {
		t.Fatal("want error for unknown patient")
	}
}

func TestPersistenceRedactsPhotos(t *testing.T) {
	mem := NewMemStore()
	s := NewStore(nil, WithPersister(mem))

	photos := []report.Photo{{ID: "ph1", Base64: "AAAA", Thumbnail: "BBBB", Description: "left forearm"}}
	s.HandleNewPatient(newPatientEvent(t, map[string]any{"chiefComplaint": "burn"}, photos, time.Now().UnixMilli()))

	saved := mem.Saved()
	if len(saved) != 1 || len(saved[0].Photos) != 1 {
		t.Fatalf("saved = %+v", saved)
	}
	ph := saved[0].Photos[0]
	if ph.Base64 != "" || ph.Thumbnail != "" {
		t.Fatalf("photo payload not redacted: %+v", ph)
	}
	if ph.ID != "ph1" || ph.Description != "left forearm" {
		t.Fatalf("photo identity lost: %+v", ph)
	}

	// The in-memory patient keeps the full photo.
	p := s.Patients(SortByReceived)[0]
	if p.Photos[0].Base64 != "AAAA" {
		t.Fatal("live patient lost photo payload")
	}
}

func TestPersistFailureSwallowed(t *testing.T) {
	mem := NewMemStore()
	mem.FailWith(errors.New("disk full"), nil)
	s := NewStore(nil, WithPersister(mem))

	s.HandleNewPatient(newPatientEvent(t, map[string]any{"chiefComplaint": "burn"}, nil, time.Now().UnixMilli()))
	if s.Len() != 1 {
		t.Fatal("patient lost because persistence failed")
	}
}

func TestRestoreOrdersByReceived(t *testing.T) {
	mem := NewMemStore()
	older := &Patient{ID: "patient_a", ChiefComplaint: "a", ReceivedAt: time.Now().Add(-time.Hour), Report: map[string]string{}}
	newer := &Patient{ID: "patient_b", ChiefComplaint: "b", ReceivedAt: time.Now(), Report: map[string]string{}}
	mem.Save(context.Background(), []*Patient{older, newer})

	s := NewStore(nil, WithPersister(mem))
	s.Restore(context.Background())

	patients := s.Patients(SortByReceived)
	if len(patients) != 2 || patients[0].ID != "patient_b" {
		t.Fatalf("restored order = %+v", patients)
	}
}

type fakeSuggester struct {
	mu         sync.Mutex
	suggestion string
	err        error
	calls      int
}

func (f *fakeSuggester) Suggest(ctx context.Context, rep map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.suggestion, nil
}

func TestTriageSuggestionApplied(t *testing.T) {
	sg := &fakeSuggester{suggestion: "• Prep cardiac monitor"}
	s := NewStore(nil, WithSuggester(sg))

	s.HandleNewPatient(newPatientEvent(t, map[string]any{"chiefComplaint": "chest pain"}, nil, time.Now().UnixMilli()))
	id := s.Patients(SortByReceived)[0].ID

	waitForCond(t, "suggestion applied", func() bool {
		p, _ := s.Patient(id)
		return p.Triage == "• Prep cardiac monitor"
	})
}

func TestTriageSuggestionFallsBack(t *testing.T) {
	sg := &fakeSuggester{err: errors.New("quota")}
	s := NewStore(nil, WithSuggester(sg))

	s.HandleNewPatient(newPatientEvent(t, map[string]any{"chiefComplaint": "burn"}, nil, time.Now().UnixMilli()))
	id := s.Patients(SortByReceived)[0].ID

	waitForCond(t, "fallback suggestion", func() bool {
		p, _ := s.Patient(id)
		return p.Triage == FallbackSuggestion
	})
}

func TestOnChangeFires(t *testing.T) {
	var mu sync.Mutex
	var changes int
	s := NewStore(nil, WithOnChange(func() {
		mu.Lock()
		changes++
		mu.Unlock()
	}))

	s.HandleNewPatient(newPatientEvent(t, map[string]any{"chiefComplaint": "burn"}, nil, time.Now().UnixMilli()))
	id := s.Patients(SortByReceived)[0].ID
	s.AddNote(id, "n")

	mu.Lock()
	defer mu.Unlock()
	if changes != 2 {
		t.Fatalf("changes = %d, want 2", changes)
	}
}

func TestBindGatesBusDelivery(t *testing.T) {
	var mu sync.Mutex
	var changes int
	s := NewStore(nil, WithOnChange(func() {
		mu.Lock()
		changes++
		mu.Unlock()
	}))
	bus := syncbus.New(nil)
	ctx := context.Background()

	// Events published before Bind never reach the store or its callback.
	bus.Publish(ctx, syncbus.EventNewPatient, NewPatientPayload{
		Patient:   map[string]any{"chiefComplaint": "fall"},
		Timestamp: time.Now().UnixMilli(),
	})
	mu.Lock()
	if changes != 0 {
		mu.Unlock()
		t.Fatalf("onChange fired %d times before Bind", changes)
	}
	mu.Unlock()
	if s.Len() != 0 {
		t.Fatal("store mutated before Bind")
	}

	unbind := s.Bind(bus)
	bus.Publish(ctx, syncbus.EventNewPatient, NewPatientPayload{
		Patient:   map[string]any{"chiefComplaint": "burn"},
		Timestamp: time.Now().UnixMilli(),
	})
	if s.Len() != 1 {
		t.Fatalf("patients after Bind = %d, want 1", s.Len())
	}
	mu.Lock()
	if changes != 1 {
		mu.Unlock()
		t.Fatalf("changes = %d, want 1", changes)
	}
	mu.Unlock()

	unbind()
	bus.Publish(ctx, syncbus.EventNewPatient, NewPatientPayload{
		Patient:   map[string]any{"chiefComplaint": "cut"},
		Timestamp: time.Now().UnixMilli(),
	})
	if s.Len() != 1 {
		t.Fatal("store still receiving events after unbind")
	}
}

func TestMalformedPayloadsIgnored(t *testing.T) {
	s := NewStore(nil)
	s.HandleNewPatient(syncbus.Event{Type: syncbus.EventNewPatient, Data: []byte("{broken")})
	s.HandlePatientUpdate(syncbus.Event{Type: syncbus.EventPatientUpdate, Data: []byte("{broken")})
	s.HandleETAUpdate(syncbus.Event{Type: syncbus.EventETAUpdate, Data: []byte("{broken")})
	s.HandleStatusChange(syncbus.Event{Type: syncbus.EventStatusChange, Data: []byte("{broken")})
	if s.Len() != 0 {
		t.Fatal("malformed payload mutated the board")
	}
}

func containsFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

func waitForCond(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
