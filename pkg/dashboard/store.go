package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/clara-health/prearrival/pkg/report"
	"github.com/clara-health/prearrival/pkg/syncbus"
)

// dedupWindow drops a new-patient event when an existing patient has the
// same chief complaint and arrived within this window.
const dedupWindow = 5 * time.Second

// CurrentPatientID is the sentinel update events use when the sender does
// not know the board-side patient id; it resolves to the newest patient.
const CurrentPatientID = "current"

// Persister stores patient snapshots. Implementations must tolerate being
// called with a redacted patient list.
type Persister interface {
	Save(ctx context.Context, patients []*Patient) error
	Load(ctx context.Context) ([]*Patient, error)
}

// Suggester produces a short triage preparation suggestion for a report.
type Suggester interface {
	Suggest(ctx context.Context, rep map[string]string) (string, error)
}

// NewPatientPayload is the data of a clara:new_patient event.
type NewPatientPayload struct {
	Patient   map[string]any `json:"patient"`
	Photos    []report.Photo `json:"photos,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// PatientUpdatePayload is the data of a clara:patient_update event.
type PatientUpdatePayload struct {
	PatientID string         `json:"patientId"`
	Updates   map[string]any `json:"updates"`
	Timestamp int64          `json:"timestamp"`
}

// ETAUpdatePayload is the data of a clara:eta_update event.
type ETAUpdatePayload struct {
	PatientID    string `json:"patientId"`
	ETA          any    `json:"eta"`
	ETATimestamp int64  `json:"etaTimestamp"`
}

// StatusChangePayload is the data of a clara:status_change event.
type StatusChangePayload struct {
	PatientID string `json:"patientId"`
	Status    string `json:"status"`
}

// Store is the board's patient list. Safe for concurrent use. Persistence
// and change notification failures never block event handling.
type Store struct {
	logger    *slog.Logger
	persister Persister
	suggester Suggester
	now       func() time.Time
	onChange  func()

	mu       sync.Mutex
	patients []*Patient // head is newest
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPersister sets the snapshot persister.
func WithPersister(p Persister) StoreOption {
	return func(s *Store) { s.persister = p }
}

// WithSuggester enables asynchronous triage suggestions.
func WithSuggester(sg Suggester) StoreOption {
	return func(s *Store) { s.suggester = sg }
}

// WithOnChange registers a callback fired after every board mutation.
func WithOnChange(fn func()) StoreOption {
	return func(s *Store) { s.onChange = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty board.
func NewStore(logger *slog.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads persisted patients. Failures are logged and leave the board
// empty.
func (s *Store) Restore(ctx context.Context) {
	if s.persister == nil {
		return
	}
	patients, err := s.persister.Load(ctx)
	if err != nil {
		s.logger.Warn("patient restore failed", "error", err)
		return
	}
	sort.SliceStable(patients, func(i, j int) bool {
		return patients[i].ReceivedAt.After(patients[j].ReceivedAt)
	})
	s.mu.Lock()
	s.patients = patients
	s.mu.Unlock()
}

// Bind subscribes the store to bus events and returns a function removing
// all its subscriptions.
func (s *Store) Bind(bus *syncbus.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(syncbus.EventNewPatient, s.HandleNewPatient),
		bus.Subscribe(syncbus.EventPatientUpdate, s.HandlePatientUpdate),
		bus.Subscribe(syncbus.EventETAUpdate, s.HandleETAUpdate),
		bus.Subscribe(syncbus.EventStatusChange, s.HandleStatusChange),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// HandleNewPatient builds a patient from a report snapshot and prepends it
// to the board. Duplicate sends within the dedup window are dropped.
func (s *Store) HandleNewPatient(e syncbus.Event) {
	var payload NewPatientPayload
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		s.logger.Warn("malformed new_patient payload", "error", err)
		return
	}

	now := s.now()
	rep := stringifyValues(payload.Patient)
	cc := rep["chiefComplaint"]
	if cc == "" {
		cc = "Not provided"
	}

	s.mu.Lock()
	for _, existing := range s.patients {
		if existing.ChiefComplaint != cc {
			continue
		}
		delta := existing.ReceivedAt.UnixMilli() - payload.Timestamp
		if delta < 0 {
			delta = -delta
		}
		if time.Duration(delta)*time.Millisecond < dedupWindow {
			s.mu.Unlock()
			s.logger.Debug("duplicate patient dropped", "chief_complaint", cc)
			return
		}
	}

	p := s.buildPatient(rep, payload.Photos, cc, now)
	s.patients = append([]*Patient{p}, s.patients...)
	s.mu.Unlock()

	s.afterChange()

	if s.suggester != nil {
		go s.suggestTriage(p.ID, p.MergedReport())
	}
}

func (s *Store) buildPatient(rep map[string]string, photos []report.Photo, cc string, now time.Time) *Patient {
	name := rep["name"]
	if name == "" {
		name = generatePatientName()
	}
	destination := rep["destination"]
	if destination == "" {
		destination = "Unknown ER"
	}

	p := &Patient{
		ID:             newPatientID(now),
		Name:           name,
		Status:         StatusNew,
		ReceivedAt:     now,
		ChiefComplaint: cc,
		Destination:    destination,
		Report:         map[string]string{},
		Extra:          map[string]string{},
		Photos:         photos,
	}
	for k, v := range rep {
		if isStandardKey(k) {
			if k != "name" && k != "photos" && k != "photosCount" {
				p.Report[k] = v
			}
			continue
		}
		p.Extra[k] = v
	}
	if p.Report["chiefComplaint"] == "" {
		p.Report["chiefComplaint"] = cc
	}
	if eta := ParseETA(rep["eta"]); eta != nil {
		p.ETAMinutes = eta
		p.ETATimestamp = now
	}
	p.WarningFlags = DetectWarningFlags(p.MergedReport())
	return p
}

// HandlePatientUpdate merges late-arriving report edits into a patient.
func (s *Store) HandlePatientUpdate(e syncbus.Event) {
	var payload PatientUpdatePayload
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		s.logger.Warn("malformed patient_update payload", "error", err)
		return
	}
	updates := stringifyValues(payload.Updates)

	s.mu.Lock()
	p := s.resolveLocked(payload.PatientID, true)
	if p == nil {
		s.mu.Unlock()
		s.logger.Warn("update for unknown patient", "patient_id", payload.PatientID)
		return
	}

	for k, v := range updates {
		if isStandardKey(k) {
			switch k {
			case "name":
				p.Name = v
			case "destination":
				p.Destination = v
			case "eta":
				if eta := ParseETA(v); eta != nil {
					p.ETAMinutes = eta
					p.ETATimestamp = s.now()
				}
			case "photos", "photosCount":
			default:
				p.Report[k] = v
			}
		} else {
			p.Extra[k] = v
		}
	}
	if cc := updates["chiefComplaint"]; cc != "" {
		p.ChiefComplaint = cc
	}
	p.WarningFlags = DetectWarningFlags(p.MergedReport())
	s.mu.Unlock()

	s.afterChange()
}

// HandleETAUpdate applies a new arrival estimate. The "current" sentinel is
// allowed.
func (s *Store) HandleETAUpdate(e syncbus.Event) {
	var payload ETAUpdatePayload
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		s.logger.Warn("malformed eta_update payload", "error", err)
		return
	}

	s.mu.Lock()
	p := s.resolveLocked(payload.PatientID, true)
	if p == nil {
		s.mu.Unlock()
		return
	}
	if eta := ParseETA(payload.ETA); eta != nil {
		p.ETAMinutes = eta
		if payload.ETATimestamp > 0 {
			p.ETATimestamp = time.UnixMilli(payload.ETATimestamp)
		} else {
			p.ETATimestamp = s.now()
		}
	}
	s.mu.Unlock()

	s.afterChange()
}

// HandleStatusChange applies a remote status change. No sentinel here; the
// sender must know the patient.
func (s *Store) HandleStatusChange(e syncbus.Event) {
	var payload StatusChangePayload
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		s.logger.Warn("malformed status_change payload", "error", err)
		return
	}
	status := Status(payload.Status)
	if !status.Valid() {
		s.logger.Warn("unknown status", "status", payload.Status)
		return
	}

	s.mu.Lock()
	p := s.resolveLocked(payload.PatientID, false)
	if p == nil {
		s.mu.Unlock()
		return
	}
	p.Status = status
	s.mu.Unlock()

	s.afterChange()
}

// resolveLocked finds a patient by id. With allowCurrent, the sentinel id
// resolves to the newest patient.
func (s *Store) resolveLocked(id string, allowCurrent bool) *Patient {
	if id == CurrentPatientID {
		if !allowCurrent || len(s.patients) == 0 {
			return nil
		}
		return s.patients[0]
	}
	for _, p := range s.patients {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// AdvanceStatus cycles a patient's status from the board side.
func (s *Store) AdvanceStatus(id string) (Status, error) {
	s.mu.Lock()
	p := s.resolveLocked(id, false)
	if p == nil {
		s.mu.Unlock()
		return "", fmt.Errorf("patient %q not found", id)
	}
	p.Status = NextStatus(p.Status)
	next := p.Status
	s.mu.Unlock()

	s.afterChange()
	return next, nil
}

// AddNote appends a nurse note to a patient.
func (s *Store) AddNote(id, text string) error {
	s.mu.Lock()
	p := s.resolveLocked(id, false)
	if p == nil {
		s.mu.Unlock()
		return fmt.Errorf("patient %q not found", id)
	}
	p.Notes = append(p.Notes, Note{Text: text, Timestamp: s.now()})
	s.mu.Unlock()

	s.afterChange()
	return nil
}

// Patient returns a copy of one patient.
func (s *Store) Patient(id string) (*Patient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.resolveLocked(id, false)
	if p == nil {
		return nil, false
	}
	return p.Clone(), true
}

// Patients returns a sorted copy of the board.
func (s *Store) Patients(mode SortMode) []*Patient {
	s.mu.Lock()
	out := make([]*Patient, len(s.patients))
	for i, p := range s.patients {
		out[i] = p.Clone()
	}
	s.mu.Unlock()

	SortPatients(out, mode, s.now())
	return out
}

// Len returns the number of patients on the board.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.patients)
}

func (s *Store) suggestTriage(patientID string, rep map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	suggestion, err := s.suggester.Suggest(ctx, rep)
	if err != nil {
		s.logger.Warn("triage suggestion failed", "patient_id", patientID, "error", err)
		suggestion = FallbackSuggestion
	}

	s.mu.Lock()
	p := s.resolveLocked(patientID, false)
	if p == nil {
		s.mu.Unlock()
		return
	}
	p.Triage = suggestion
	s.mu.Unlock()

	s.afterChange()
}

// afterChange persists redacted snapshots and notifies observers. Both are
// best effort.
func (s *Store) afterChange() {
	if s.persister != nil {
		s.mu.Lock()
		redacted := make([]*Patient, len(s.patients))
		for i, p := range s.patients {
			redacted[i] = p.Redacted()
		}
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.persister.Save(ctx, redacted); err != nil {
			s.logger.Warn("patient persist failed", "error", err)
		}
		cancel()
	}
	if s.onChange != nil {
		s.onChange()
	}
}

// stringifyValues flattens a JSON object's values to strings so numeric and
// string payload fields are treated alike.
func stringifyValues(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch x := v.(type) {
		case nil:
			continue
		case string:
			out[k] = x
		case float64:
			if x == float64(int64(x)) {
				out[k] = fmt.Sprintf("%d", int64(x))
			} else {
				out[k] = fmt.Sprintf("%v", x)
			}
		case bool:
			if x {
				out[k] = "true"
			} else {
				out[k] = "false"
			}
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				continue
			}
			out[k] = string(raw)
		}
	}
	return out
}
