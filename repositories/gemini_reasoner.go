package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"vision-adapter-worker/domain"
)

const (
	reasoningProviderName  = "gemini"
	reasonedConfidentAbove = 0.75
)

const defaultReasoningPrompt = `You identify heavy construction machinery from short textual clues such as brand names and model codes.
The clues below were extracted automatically and may be incomplete or wrong.

Return brand, machineType, model, typical attachments, estimated operating weight in kg,
production years in short form (at most 12 characters, for example "1994-2002"),
a confidence between 0 and 1 and a one-line source describing what the answer is based on.
Keep every field short. Do not guess. When the machine cannot be identified reliably,
answer with status "refusal" and a short reason.

brand: {{brand}}
type: {{type}}
model: {{model}}`

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type reasoningResponse struct {
	Status      string   `json:"status"`
	Reason      string   `json:"reason"`
	Brand       string   `json:"brand"`
	MachineType string   `json:"machineType"`
	Model       string   `json:"model"`
	Weight      *float64 `json:"weight"`
	Year        string   `json:"year"`
	Attachment  []string `json:"attachment"`
	Confidence  *float64 `json:"confidence"`
	Source      string   `json:"source"`
}

// GeminiReasoner refines an aggregate by asking a Gemini model to complete
// the identification from the extracted clues.
type GeminiReasoner struct {
	models   contentGenerator
	model    string
	template string
	log      zerolog.Logger
}

func NewGeminiReasoner(ctx context.Context, apiKey, model, promptPath string) (*GeminiReasoner, error) {
	template := defaultReasoningPrompt
	if promptPath != "" {
		data, err := os.ReadFile(promptPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read reasoning prompt %s: %w", promptPath, err)
		}
		template = string(data)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return newGeminiReasoner(client.Models, model, template), nil
}

func newGeminiReasoner(models contentGenerator, model, template string) *GeminiReasoner {
	return &GeminiReasoner{
		models:   models,
		model:    model,
		template: template,
		log:      log.With().Str("provider", reasoningProviderName).Logger(),
	}
}

func (g *GeminiReasoner) Name() string {
	return reasoningProviderName
}

func (g *GeminiReasoner) Model() string {
	return g.model
}

// Refine returns the model's identification. A refusal yields an empty
// aggregate carrying the reason in TypeSource, together with
// domain.ErrReasoningRefused.
func (g *GeminiReasoner) Refine(ctx context.Context, agg domain.MachineAggregate) (domain.MachineAggregate, error) {
	prompt := BuildReasoningPrompt(g.template, agg)

	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   reasoningSchema(),
	})
	if err != nil {
		return domain.MachineAggregate{}, fmt.Errorf("gemini generate content failed: %w", err)
	}
	if resp == nil {
		return domain.MachineAggregate{}, fmt.Errorf("gemini returned no response")
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return domain.MachineAggregate{}, fmt.Errorf("gemini returned an empty answer")
	}

	var parsed reasoningResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return domain.MachineAggregate{}, fmt.Errorf("failed to decode gemini answer: %w", err)
	}

	g.log.Debug().Str("status", parsed.Status).Str("brand", parsed.Brand).Str("model", parsed.Model).Msg("reasoning answer")
	return mapReasoningResponse(parsed)
}

// BuildReasoningPrompt fills {{brand}}, {{type}} and {{model}}; missing
// values read "unknown".
func BuildReasoningPrompt(template string, agg domain.MachineAggregate) string {
	orUnknown := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "unknown"
		}
		return s
	}
	return strings.NewReplacer(
		"{{brand}}", orUnknown(agg.Brand),
		"{{type}}", orUnknown(agg.MachineType),
		"{{model}}", orUnknown(agg.Model),
	).Replace(template)
}

func mapReasoningResponse(r reasoningResponse) (domain.MachineAggregate, error) {
	if strings.EqualFold(r.Status, domain.ReasoningStatusRefusal) {
		return domain.MachineAggregate{TypeSource: r.Reason}, domain.ErrReasoningRefused
	}

	var confidence float64
	if r.Confidence != nil {
		confidence = *r.Confidence
	}
	return domain.MachineAggregate{
		Brand:       r.Brand,
		MachineType: r.MachineType,
		Model:       r.Model,
		Weight:      r.Weight,
		Year:        r.Year,
		Attachment:  r.Attachment,
		Confidence:  confidence,
		IsConfident: confidence > reasonedConfidentAbove,
		TypeSource:  r.Source,
	}, nil
}

func reasoningSchema() *genai.Schema {
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"status":      {Type: genai.TypeString, Enum: []string{"ok", domain.ReasoningStatusRefusal}},
			"reason":      str("why identification was refused"),
			"brand":       str("manufacturer"),
			"machineType": str("kind of machine, e.g. Wheel Loader"),
			"model":       str("model designation"),
			"weight":      {Type: genai.TypeNumber, Description: "operating weight in kg"},
			"year":        str("production years, at most 12 characters"),
			"attachment":  {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"confidence":  {Type: genai.TypeNumber},
			"source":      str("what the answer is based on"),
		},
		Required: []string{"status"},
	}
}
