package ipc

// Request is one control command sent to the running assistant.
type Request struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// ActionView is a suggested action as rendered to control clients.
type ActionView struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

// Response reports the outcome of a command plus the session snapshot it produced.
type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`

	Language         string       `json:"language,omitempty"`
	Interim          string       `json:"interim,omitempty"`
	Notice           string       `json:"notice,omitempty"`
	PermissionDenied bool         `json:"permission_denied,omitempty"`
	TextFallbackOpen bool         `json:"text_fallback_open,omitempty"`
	Answer           string       `json:"answer,omitempty"`
	Disclaimer       string       `json:"disclaimer,omitempty"`
	Source           string       `json:"source,omitempty"`
	Actions          []ActionView `json:"actions,omitempty"`
}
