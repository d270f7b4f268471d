// Package dashboard maintains the ER-side patient list: incoming reports,
// live updates, warning flags, arrival estimates and nurse notes.
package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clara-health/prearrival/pkg/report"
)

// Status is a patient's triage workflow position.
type Status string

const (
	StatusNew       Status = "new"
	StatusReviewing Status = "reviewing"
	StatusReady     Status = "ready"
	StatusArrived   Status = "arrived"
)

var statusOrder = []Status{StatusNew, StatusReviewing, StatusReady, StatusArrived}

// Priority orders statuses for sorting; lower means more urgent attention.
func (s Status) Priority() int {
	for i, st := range statusOrder {
		if st == s {
			return i
		}
	}
	return len(statusOrder)
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.Priority() < len(statusOrder)
}

// NextStatus cycles new -> reviewing -> ready -> arrived -> new.
func NextStatus(s Status) Status {
	return statusOrder[(s.Priority()+1)%len(statusOrder)]
}

// Note is a timestamped nurse annotation.
type Note struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Patient is one incoming patient on the board.
type Patient struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Status         Status         `json:"status"`
	ReceivedAt     time.Time      `json:"receivedAt"`
	ChiefComplaint string         `json:"chiefComplaint"`
	Destination    string         `json:"destination"`
	ETAMinutes     *int           `json:"eta,omitempty"`
	ETATimestamp   time.Time      `json:"etaTimestamp,omitzero"`
	Report         map[string]string `json:"fullReport"`
	Extra          map[string]string `json:"extra,omitempty"`
	Photos         []report.Photo `json:"photos,omitempty"`
	WarningFlags   []string       `json:"warningFlags"`
	Triage         string         `json:"triageSuggestion,omitempty"`
	Notes          []Note         `json:"notes,omitempty"`
}

// Clone deep-copies the patient.
func (p *Patient) Clone() *Patient {
	c := *p
	c.Report = copyMap(p.Report)
	c.Extra = copyMap(p.Extra)
	c.Photos = append([]report.Photo(nil), p.Photos...)
	c.WarningFlags = append([]string(nil), p.WarningFlags...)
	c.Notes = append([]Note(nil), p.Notes...)
	if p.ETAMinutes != nil {
		v := *p.ETAMinutes
		c.ETAMinutes = &v
	}
	return &c
}

// Redacted returns a persistence-safe copy: photo image payloads are
// stripped down to id and description.
func (p *Patient) Redacted() *Patient {
	c := p.Clone()
	for i := range c.Photos {
		c.Photos[i] = report.Photo{
			ID:          c.Photos[i].ID,
			Description: c.Photos[i].Description,
			Timestamp:   c.Photos[i].Timestamp,
		}
	}
	return c
}

// MergedReport combines the standard report and dynamic extras, used for
// warning flag detection.
func (p *Patient) MergedReport() map[string]string {
	out := copyMap(p.Report)
	if out == nil {
		out = map[string]string{}
	}
	for k, v := range p.Extra {
		out[k] = v
	}
	return out
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// nonReportKeys are payload keys that do not belong in the dynamic extras.
var nonReportKeys = map[string]bool{
	"name":        true,
	"destination": true,
	"eta":         true,
	"photos":      true,
	"photosCount": true,
}

func isStandardKey(key string) bool {
	if nonReportKeys[key] {
		return true
	}
	for _, k := range report.StandardKeys() {
		if k == key {
			return true
		}
	}
	return false
}

func newPatientID(now time.Time) string {
	return fmt.Sprintf("patient_%d_%s", now.UnixMilli(), strings.Split(uuid.NewString(), "-")[0])
}

func generatePatientName() string {
	suffix := strings.ToUpper(strings.Split(uuid.NewString(), "-")[0][:4])
	return "Patient " + suffix
}
