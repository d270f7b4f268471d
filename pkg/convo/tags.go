package convo

import (
	"regexp"
	"strings"
)

// Model replies carry inline tags alongside the conversational text:
//
//	[FIELD: key = value]   collected intake data
//	[ACTION: NAME]         UI action request
//	[REPORT: COMPLETE]     minimum report gathered
//	[REPORT: UPDATED]      post-send edit to an already sent report
var (
	fieldTagRe   = regexp.MustCompile(`\[FIELD:\s*(\w+)\s*=\s*([^\]]+)\]`)
	actionTagRe  = regexp.MustCompile(`\[ACTION:\s*(\w+)\]`)
	reportTagRe  = regexp.MustCompile(`\[REPORT:\s*\w+\]`)
	newlineRunRe = regexp.MustCompile(`\n{3,}`)
)

const (
	markerReportComplete = "[REPORT: COMPLETE]"
	markerReportUpdated  = "[REPORT: UPDATED]"
)

// Actions the model may request.
const (
	ActionSendReport       = "SEND_REPORT"
	ActionShowConfirmation = "SHOW_CONFIRMATION_SCREEN"
	ActionConfirmReady     = "CONFIRM_READY"
)

// Parsed is the result of extracting tags from a raw model reply.
type Parsed struct {
	// Clean is the reply text with all tags stripped.
	Clean string

	Fields  map[string]string
	Actions []string

	ReportComplete bool
	ReportUpdated  bool
}

// ParseReply extracts field updates, actions and report markers from a raw
// model reply and returns the cleaned display text.
func ParseReply(raw string) Parsed {
	p := Parsed{Fields: map[string]string{}}

	for _, m := range fieldTagRe.FindAllStringSubmatch(raw, -1) {
		key := strings.TrimSpace(m[1])
		value := strings.TrimSpace(m[2])
		if key == "" {
			continue
		}
		p.Fields[key] = value
	}
	for _, m := range actionTagRe.FindAllStringSubmatch(raw, -1) {
		p.Actions = append(p.Actions, strings.TrimSpace(m[1]))
	}

	p.ReportComplete = strings.Contains(raw, markerReportComplete)
	p.ReportUpdated = strings.Contains(raw, markerReportUpdated)

	clean := fieldTagRe.ReplaceAllString(raw, "")
	clean = actionTagRe.ReplaceAllString(clean, "")
	clean = reportTagRe.ReplaceAllString(clean, "")
	clean = newlineRunRe.ReplaceAllString(clean, "\n\n")
	p.Clean = strings.TrimSpace(clean)

	return p
}
