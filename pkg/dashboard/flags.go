package dashboard

import (
	"encoding/json"
	"strconv"
	"strings"
)

var cardiacTerms = []string{"chest pain", "heart", "cardiac", "palpitation", "angina"}

var strokeTerms = []string{"stroke", "face droop", "arm weakness", "speech", "slurred"}

var severeBleedingTerms = []string{"severe", "heavy", "uncontrolled"}

// DetectWarningFlags derives clinical warning flags from a report. Pure;
// the full flag set is recomputed on every change rather than patched.
func DetectWarningFlags(rep map[string]string) []string {
	flags := []string{}
	if len(rep) == 0 {
		return flags
	}

	blob, _ := json.Marshal(rep)
	lowered := strings.ToLower(string(blob))

	if containsAny(lowered, cardiacTerms) {
		flags = append(flags, "Cardiac concern")
	}
	if rep["diabetes"] != "" {
		flags = append(flags, "Diabetic")
	}
	if rep["pregnancy"] != "" {
		flags = append(flags, "Pregnant")
	}
	if v := rep["allergies"]; len(v) > 2 {
		lv := strings.ToLower(v)
		if !strings.Contains(lv, "none") && !strings.Contains(lv, "no known") {
			flags = append(flags, "Allergies: "+v)
		}
	}
	if v := strings.ToLower(rep["breathing"]); v != "" {
		if !strings.Contains(v, "normal") && !strings.Contains(v, "fine") {
			flags = append(flags, "Breathing difficulty")
		}
	}
	if n, err := strconv.Atoi(leadingInt(rep["painLevel"])); err == nil && n >= 9 {
		flags = append(flags, "Severe pain")
	}
	if v := strings.ToLower(rep["consciousness"]); v != "" {
		if !strings.Contains(v, "alert") && !strings.Contains(v, "normal") {
			flags = append(flags, "Altered consciousness")
		}
	}
	if containsAny(lowered, strokeTerms) {
		flags = append(flags, "Possible stroke")
	}
	if v := strings.ToLower(rep["bleeding"]); containsAny(v, severeBleedingTerms) {
		flags = append(flags, "Severe bleeding")
	}

	return flags
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// leadingInt pulls the first digit run so values like "8 out of 10" parse.
func leadingInt(s string) string {
	return digitRunRe.FindString(s)
}
