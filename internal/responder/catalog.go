package responder

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/rbright/healthmate/internal/healthctx"
	"github.com/rbright/healthmate/internal/locale"
)

//go:embed catalog.yaml
var catalogYAML []byte

var defaultCatalog = mustParseCatalog(catalogYAML)

// Localized maps a language tag to text.
type Localized map[locale.Language]string

// In returns the text for lang, falling back to English.
func (l Localized) In(lang locale.Language) string {
	if text, ok := l[lang]; ok && strings.TrimSpace(text) != "" {
		return text
	}
	return l[locale.English]
}

// Topic is one keyword-matched answer family.
type Topic struct {
	Name     string       `yaml:"name"`
	Requires string       `yaml:"requires"`
	Keywords []string     `yaml:"keywords"`
	Answer   Localized    `yaml:"answer"`
	Missing  Localized    `yaml:"missing"`
	Actions  []ActionKind `yaml:"actions"`
}

// Catalog is the localized content behind the fallback responder.
type Catalog struct {
	Disclaimer   Localized                `yaml:"disclaimer"`
	DefaultName  Localized                `yaml:"default_name"`
	ActionLabels map[ActionKind]Localized `yaml:"action_labels"`
	Topics       []Topic                  `yaml:"topics"`
	Default      Topic                    `yaml:"default"`
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() Catalog {
	return defaultCatalog
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(data []byte) (Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	if err := catalog.validate(); err != nil {
		return Catalog{}, err
	}
	return catalog, nil
}

func mustParseCatalog(data []byte) Catalog {
	catalog, err := ParseCatalog(data)
	if err != nil {
		panic(err)
	}
	return catalog
}

func (c Catalog) validate() error {
	if c.Disclaimer.In(locale.English) == "" {
		return fmt.Errorf("catalog disclaimer must define %s", locale.English)
	}
	topics := append(append([]Topic(nil), c.Topics...), c.Default)
	for _, topic := range topics {
		if strings.TrimSpace(topic.Name) == "" {
			return fmt.Errorf("catalog topic name must not be empty")
		}
		if topic.Answer.In(locale.English) == "" {
			return fmt.Errorf("catalog topic %q must define an %s answer", topic.Name, locale.English)
		}
		switch topic.Requires {
		case "", "glucose", "blood_pressure", "medications":
		default:
			return fmt.Errorf("catalog topic %q requires unknown field %q", topic.Name, topic.Requires)
		}
		for _, kind := range topic.Actions {
			if !kind.Valid() {
				return fmt.Errorf("catalog topic %q has unknown action %q", topic.Name, kind)
			}
			if c.ActionLabels[kind].In(locale.English) == "" {
				return fmt.Errorf("catalog action %q has no %s label", kind, locale.English)
			}
		}
	}
	for _, topic := range c.Topics {
		if len(topic.Keywords) == 0 {
			return fmt.Errorf("catalog topic %q must list keywords", topic.Name)
		}
	}
	return nil
}

// match returns the first topic with a keyword present in the utterance.
func (c Catalog) match(utterance string) Topic {
	text := " " + strings.Join(words(utterance), " ") + " "
	for _, topic := range c.Topics {
		for _, keyword := range topic.Keywords {
			needle := strings.Join(words(keyword), " ")
			if needle == "" {
				continue
			}
			if strings.Contains(text, " "+needle+" ") {
				return topic
			}
		}
	}
	return c.Default
}

// render fills a topic template from the health context.
func (c Catalog) render(topic Topic, lang locale.Language, health healthctx.Context) string {
	template := topic.Answer.In(lang)
	if missing(topic.Requires, health) && topic.Missing.In(lang) != "" {
		template = topic.Missing.In(lang)
	}

	replacer := strings.NewReplacer(
		"{name}", health.Name(c.DefaultName.In(lang)),
		"{glucose_value}", health.Glucose.Value,
		"{glucose_date}", health.Glucose.Date,
		"{glucose_status}", health.Glucose.Status,
		"{bp_value}", health.BloodPressure.Value,
		"{bp_date}", health.BloodPressure.Date,
		"{bp_status}", health.BloodPressure.Status,
		"{medications}", health.MedicationList(),
	)
	return replacer.Replace(template)
}

func missing(requires string, health healthctx.Context) bool {
	switch requires {
	case "glucose":
		return health.Glucose.Empty()
	case "blood_pressure":
		return health.BloodPressure.Empty()
	case "medications":
		return health.MedicationList() == ""
	default:
		return false
	}
}

// words lowercases and splits on anything that is not part of a word in any supported script.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsMark(r) && !unicode.IsDigit(r)
	})
}
