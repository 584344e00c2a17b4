// Package healthctx holds the user profile and latest readings that ground assistant answers.
package healthctx

import "strings"

// Reading is one dated measurement from the user's latest report.
type Reading struct {
	Value  string `json:"value" yaml:"value"`
	Date   string `json:"date" yaml:"date"`
	Status string `json:"status" yaml:"status"`
}

// Empty reports whether no value was recorded.
func (r Reading) Empty() bool {
	return strings.TrimSpace(r.Value) == ""
}

// Context is passed into a session at construction and forwarded with every query.
type Context struct {
	ProfileName   string   `json:"profile_name"`
	Glucose       Reading  `json:"glucose"`
	BloodPressure Reading  `json:"blood_pressure"`
	Medications   []string `json:"medications,omitempty"`
}

// Demo returns the sample profile shipped with a fresh install.
func Demo() Context {
	return Context{
		ProfileName:   "Asha",
		Glucose:       Reading{Value: "145 mg/dL", Date: "2024-01-15", Status: "elevated"},
		BloodPressure: Reading{Value: "128/84 mmHg", Date: "2024-01-15", Status: "normal"},
		Medications:   []string{"Metformin 500 mg"},
	}
}

// Name returns the profile name, or fallback when none is stored.
func (c Context) Name(fallback string) string {
	if name := strings.TrimSpace(c.ProfileName); name != "" {
		return name
	}
	return fallback
}

// MedicationList joins medications for use inside a sentence.
func (c Context) MedicationList() string {
	out := make([]string, 0, len(c.Medications))
	for _, m := range c.Medications {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return strings.Join(out, ", ")
}

// Map renders the context for loosely typed transports (JSON bodies, structpb payloads).
func (c Context) Map() map[string]any {
	meds := make([]any, 0, len(c.Medications))
	for _, m := range c.Medications {
		meds = append(meds, m)
	}
	return map[string]any{
		"profile_name":   c.ProfileName,
		"glucose":        c.Glucose.mapValue(),
		"blood_pressure": c.BloodPressure.mapValue(),
		"medications":    meds,
	}
}

func (r Reading) mapValue() map[string]any {
	return map[string]any{"value": r.Value, "date": r.Date, "status": r.Status}
}
