// Package notice renders the short, localized messages surfaced to the user.
package notice

import (
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/rbright/healthmate/internal/locale"
)

// Kind identifies a notice independent of language.
type Kind string

const (
	Unsupported      Kind = "unsupported"
	PermissionDenied Kind = "permission-denied"
	NoSpeech         Kind = "no-speech"
	RecognitionError Kind = "recognition-error"
	ActionAck        Kind = "action-ack"
)

// Notice is one rendered message.
type Notice struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
}

// Empty reports whether no notice is set.
func (n Notice) Empty() bool {
	return n.Kind == ""
}

var messages = map[locale.Language]map[Kind]string{
	locale.English: {
		Unsupported:      "Voice input isn't available here. Type your question instead.",
		PermissionDenied: "Microphone access was denied. Allow it and tap the mic again.",
		NoSpeech:         "I didn't hear anything. Tap the mic and try again.",
		RecognitionError: "Something went wrong with voice input. Please try again.",
		ActionAck:        "Done: %s",
	},
	locale.Hindi: {
		Unsupported:      "यहाँ वॉइस इनपुट उपलब्ध नहीं है। कृपया अपना सवाल टाइप करें।",
		PermissionDenied: "माइक्रोफ़ोन की अनुमति नहीं मिली। अनुमति दें और फिर से माइक दबाएँ।",
		NoSpeech:         "मुझे कुछ सुनाई नहीं दिया। माइक दबाकर फिर से कोशिश करें।",
		RecognitionError: "वॉइस इनपुट में कुछ गड़बड़ हुई। कृपया फिर से कोशिश करें।",
		ActionAck:        "हो गया: %s",
	},
	locale.Spanish: {
		Unsupported:      "La entrada de voz no está disponible aquí. Escriba su pregunta.",
		PermissionDenied: "Se denegó el acceso al micrófono. Permítalo y toque el micrófono de nuevo.",
		NoSpeech:         "No escuché nada. Toque el micrófono e inténtelo de nuevo.",
		RecognitionError: "Algo salió mal con la entrada de voz. Inténtelo de nuevo.",
		ActionAck:        "Listo: %s",
	},
}

var printers = buildPrinters()

func buildPrinters() map[locale.Language]*message.Printer {
	builder := catalog.NewBuilder(catalog.Fallback(locale.Default.Tag()))
	for lang, byKind := range messages {
		for kind, text := range byKind {
			if err := builder.SetString(lang.Tag(), string(kind), text); err != nil {
				panic(err)
			}
		}
	}

	out := make(map[locale.Language]*message.Printer, len(messages))
	for _, lang := range locale.Supported() {
		out[lang] = message.NewPrinter(lang.Tag(), message.Catalog(builder))
	}
	return out
}

// New renders kind in lang. Unsupported languages render in English.
func New(kind Kind, lang locale.Language, args ...any) Notice {
	p, ok := printers[lang]
	if !ok {
		p = printers[locale.Default]
	}
	return Notice{Kind: kind, Text: p.Sprintf(message.Key(string(kind), string(kind)), args...)}
}

