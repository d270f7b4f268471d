// Package report holds the pre-arrival intake report: the fields collected
// during a conversation, their collection status, and any photos the caller
// shared.
package report

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// FieldStatus tracks where a field is in its collection lifecycle. A field
// moves pending to asking to collected (either hop may be skipped) and never
// regresses from collected except through Clear.
type FieldStatus string

const (
	StatusPending   FieldStatus = "pending"
	StatusAsking    FieldStatus = "asking"
	StatusCollected FieldStatus = "collected"
)

// Field is a single tracked intake field.
type Field struct {
	Key     string      `json:"key"`
	Label   string      `json:"label"`
	Value   string      `json:"value"`
	Status  FieldStatus `json:"status"`
	Dynamic bool        `json:"dynamic,omitempty"`
}

// Photo is an image shared during intake. Base64 payloads are kept in memory
// only; persistence layers redact them down to ID and Description.
type Photo struct {
	ID          string    `json:"id"`
	Base64      string    `json:"base64,omitempty"`
	MIMEType    string    `json:"mimeType,omitempty"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// maxPhotoDescription bounds the stored photo description.
const maxPhotoDescription = 200

// standardFields is the seed field list, in display order.
var standardFields = []Field{
	{Key: "chiefComplaint", Label: "Chief Complaint", Status: StatusPending},
	{Key: "consciousness", Label: "Consciousness", Status: StatusPending},
	{Key: "painLevel", Label: "Pain Level", Status: StatusPending},
	{Key: "painLocation", Label: "Pain Location", Status: StatusPending},
	{Key: "bleeding", Label: "Bleeding", Status: StatusPending},
	{Key: "mobility", Label: "Mobility", Status: StatusPending},
	{Key: "breathing", Label: "Breathing", Status: StatusPending},
	{Key: "allergies", Label: "Allergies", Status: StatusPending},
	{Key: "medications", Label: "Current Medications", Status: StatusPending},
	{Key: "medicalHistory", Label: "Medical History", Status: StatusPending},
}

// StandardKeys returns the keys of the seed fields in display order.
func StandardKeys() []string {
	keys := make([]string, len(standardFields))
	for i, f := range standardFields {
		keys[i] = f.Key
	}
	return keys
}

// Report is a single patient's intake report. Not safe for concurrent use;
// callers serialize access.
type Report struct {
	fields []Field
	index  map[string]int

	// Values not tracked as fields (destination, eta).
	destination string
	eta         string

	photos []Photo
}

// New returns a report seeded with the standard field list.
func New() *Report {
	r := &Report{
		fields: make([]Field, len(standardFields)),
		index:  make(map[string]int, len(standardFields)),
	}
	copy(r.fields, standardFields)
	for i, f := range r.fields {
		r.index[f.Key] = i
	}
	return r
}

// Apply merges field updates into the report and returns the keys that were
// applied. The photo bookkeeping keys are ignored. Unknown keys become
// dynamic fields with a label derived from the key.
func (r *Report) Apply(updates map[string]string) []string {
	applied := make([]string, 0, len(updates))
	for key, value := range updates {
		switch key {
		case "photos", "photosCount":
			continue
		case "destination":
			r.destination = value
		case "eta":
			r.eta = value
		default:
			r.setField(key, value)
		}
		applied = append(applied, key)
	}
	return applied
}

func (r *Report) setField(key, value string) {
	if i, ok := r.index[key]; ok {
		r.fields[i].Value = value
		r.fields[i].Status = StatusCollected
		return
	}
	r.fields = append(r.fields, Field{
		Key:     key,
		Label:   FormatLabel(key),
		Value:   value,
		Status:  StatusCollected,
		Dynamic: true,
	})
	r.index[key] = len(r.fields) - 1
}

// SetStatus marks the collection state of a known field, typically asking
// while the question is on the table. Unknown keys are ignored, and a
// collected field keeps its status.
func (r *Report) SetStatus(key string, status FieldStatus) {
	i, ok := r.index[key]
	if !ok {
		return
	}
	if r.fields[i].Status == StatusCollected && status != StatusCollected {
		return
	}
	r.fields[i].Status = status
}

// Status returns the collection state of a field.
func (r *Report) Status(key string) (FieldStatus, bool) {
	if i, ok := r.index[key]; ok {
		return r.fields[i].Status, true
	}
	return "", false
}

// Progress reports how many fields have been collected out of the tracked
// total, dynamic fields included.
func (r *Report) Progress() (collected, total int) {
	for _, f := range r.fields {
		if f.Status == StatusCollected {
			collected++
		}
	}
	return collected, len(r.fields)
}

// Clear resets every field to pending with no value and drops photos,
// destination and eta. Dynamic field entries stay on the schema unless
// purgeDynamic is set.
func (r *Report) Clear(purgeDynamic bool) {
	if purgeDynamic {
		kept := r.fields[:0]
		for _, f := range r.fields {
			if !f.Dynamic {
				kept = append(kept, f)
			}
		}
		r.fields = kept
		r.index = make(map[string]int, len(r.fields))
		for i, f := range r.fields {
			r.index[f.Key] = i
		}
	}
	for i := range r.fields {
		r.fields[i].Value = ""
		r.fields[i].Status = StatusPending
	}
	r.destination = ""
	r.eta = ""
	r.photos = nil
}

// Get returns the value for a key, covering fields and the untracked
// destination and eta values.
func (r *Report) Get(key string) (string, bool) {
	switch key {
	case "destination":
		return r.destination, r.destination != ""
	case "eta":
		return r.eta, r.eta != ""
	}
	if i, ok := r.index[key]; ok && r.fields[i].Status == StatusCollected {
		return r.fields[i].Value, true
	}
	return "", false
}

// Fields returns a copy of the tracked fields in display order.
func (r *Report) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Destination returns the destination ER, if set.
func (r *Report) Destination() string { return r.destination }

// ETA returns the raw eta value, if set.
func (r *Report) ETA() string { return r.eta }

// AddPhoto appends a photo, truncating long descriptions.
func (r *Report) AddPhoto(p Photo) {
	if len(p.Description) > maxPhotoDescription {
		p.Description = p.Description[:maxPhotoDescription]
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	r.photos = append(r.photos, p)
}

// Photos returns a copy of the attached photos.
func (r *Report) Photos() []Photo {
	out := make([]Photo, len(r.photos))
	copy(out, r.photos)
	return out
}

// PhotoCount returns the number of attached photos.
func (r *Report) PhotoCount() int { return len(r.photos) }

// Complete reports whether the minimum required information is present.
func (r *Report) Complete() bool {
	v, ok := r.Get("chiefComplaint")
	return ok && strings.TrimSpace(v) != ""
}

// Snapshot returns all collected values keyed by field key, including
// destination and eta. Photos are not included.
func (r *Report) Snapshot() map[string]string {
	out := make(map[string]string, len(r.fields)+2)
	for _, f := range r.fields {
		if f.Status == StatusCollected {
			out[f.Key] = f.Value
		}
	}
	if r.destination != "" {
		out["destination"] = r.destination
	}
	if r.eta != "" {
		out["eta"] = r.eta
	}
	return out
}

// SummaryContext renders the collected fields as a bullet list, used to
// re-prime the model after a reconnect.
func (r *Report) SummaryContext() string {
	var b strings.Builder
	b.WriteString("Information collected so far:\n")
	n := 0
	for _, f := range r.fields {
		if f.Status != StatusCollected {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", f.Label, f.Value)
		n++
	}
	if r.destination != "" {
		fmt.Fprintf(&b, "- Destination: %s\n", r.destination)
		n++
	}
	if r.eta != "" {
		fmt.Fprintf(&b, "- ETA: %s\n", r.eta)
		n++
	}
	if r.PhotoCount() > 0 {
		fmt.Fprintf(&b, "- Photos shared: %d\n", r.PhotoCount())
	}
	if n == 0 {
		return "No information collected yet.\n"
	}
	return b.String()
}

// FormatLabel derives a display label from a camelCase key,
// e.g. "armWeakness" becomes "Arm Weakness".
func FormatLabel(key string) string {
	var b strings.Builder
	for i, r := range key {
		if i == 0 {
			b.WriteRune(unicode.ToUpper(r))
			continue
		}
		if unicode.IsUpper(r) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
