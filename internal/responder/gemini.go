package responder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

const geminiSystemPrompt = `You are a careful personal health assistant inside a health-management app.
Answer the user's question in the language with BCP 47 tag %s, in two or three short spoken sentences.
Ground the answer in the user's health context when it is relevant and never invent readings.
Always include a one-sentence disclaimer that this is not medical advice.
Suggest zero or more follow-up actions; each action type must be one of: grocery, reminder, note, appointment.
Respond only with JSON matching the response schema.`

// contentGenerator is the subset of the genai Models service used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig controls the hosted Gemini responder.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Gemini asks a hosted Gemini model for a structured answer.
type Gemini struct {
	models contentGenerator
	model  string
}

// NewGemini creates a Gemini API client.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newGemini(client.Models, cfg.Model), nil
}

func newGemini(models contentGenerator, model string) *Gemini {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{models: models, model: model}
}

// Respond generates an answer constrained to the JSON answer schema.
func (g *Gemini) Respond(ctx context.Context, req Request) (Answer, error) {
	healthJSON, err := json.Marshal(req.Context.Map())
	if err != nil {
		return Answer{}, fmt.Errorf("encode health context: %w", err)
	}

	prompt := fmt.Sprintf("Health context (JSON): %s\n\nQuestion: %s", healthJSON, req.Utterance)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(fmt.Sprintf(geminiSystemPrompt, req.Language), genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    answerSchema(),
		Temperature:       genai.Ptr[float32](0.3),
	}

	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return Answer{}, &StatusError{Code: apiErr.Code, Message: apiErr.Message}
		}
		return Answer{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp == nil {
		return Answer{}, fmt.Errorf("%w: empty gemini response", ErrMalformed)
	}

	raw := stripCodeFence(resp.Text())
	if raw == "" {
		return Answer{}, fmt.Errorf("%w: gemini returned no text", ErrMalformed)
	}

	var answer Answer
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return answer, nil
}

func answerSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"answer":     {Type: genai.TypeString},
			"disclaimer": {Type: genai.TypeString},
			"actions": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"id":    {Type: genai.TypeString},
						"label": {Type: genai.TypeString},
						"type": {
							Type: genai.TypeString,
							Enum: []string{string(ActionGrocery), string(ActionReminder), string(ActionNote), string(ActionAppointment)},
						},
					},
					Required: []string{"id", "label", "type"},
				},
			},
		},
		Required: []string{"answer", "disclaimer", "actions"},
	}
}

// stripCodeFence removes a surrounding ``` block some models add despite JSON mode.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimPrefix(text, "json")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
