package responder

import (
	"context"

	"github.com/rbright/healthmate/internal/locale"
)

// Fallback answers from the local catalog. It never fails.
type Fallback struct {
	catalog Catalog
}

// NewFallback builds a fallback responder over catalog.
func NewFallback(catalog Catalog) *Fallback {
	return &Fallback{catalog: catalog}
}

// Respond matches the utterance against catalog keywords and renders a localized answer.
func (f *Fallback) Respond(_ context.Context, req Request) (Answer, error) {
	return f.Answer(req), nil
}

// Answer is Respond without the error return, for callers that must not fail.
func (f *Fallback) Answer(req Request) Answer {
	lang := req.Language
	if !lang.Valid() {
		lang = locale.Default
	}

	topic := f.catalog.match(req.Utterance)
	answer := Answer{
		Text:       f.catalog.render(topic, lang, req.Context),
		Disclaimer: f.catalog.Disclaimer.In(lang),
		Actions:    make([]Action, 0, len(topic.Actions)),
		Source:     SourceFallback,
	}
	for _, kind := range topic.Actions {
		answer.Actions = append(answer.Actions, Action{
			ID:    topic.Name + "-" + string(kind),
			Label: f.catalog.ActionLabels[kind].In(lang),
			Kind:  kind,
		})
	}
	return answer
}
