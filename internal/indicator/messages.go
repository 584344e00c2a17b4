package indicator

import "github.com/rbright/healthmate/internal/locale"

type messages struct {
	listening  string
	processing string
	actions    string
}

// indicatorMessages returns state labels for the session language.
func indicatorMessages(lang locale.Language) messages {
	switch lang {
	case locale.Hindi:
		return messages{listening: "सुन रहा हूँ…", processing: "सोच रहा हूँ…", actions: "सुझाव"}
	case locale.Spanish:
		return messages{listening: "Escuchando…", processing: "Pensando…", actions: "Sugerencias"}
	default:
		return messages{listening: "Listening…", processing: "Thinking…", actions: "Suggestions"}
	}
}
