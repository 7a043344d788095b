// Package gemini extracts chat intents with the Gemini generateContent API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/jconstantine618/ai-consulting-crm/internal/assistant"
	"github.com/jconstantine618/ai-consulting-crm/internal/domain"
)

const DefaultModel = "gemini-2.0-flash"

type Config struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint.
	BaseURL    string
	HTTPClient *http.Client
	Log        *zap.Logger
}

// Extractor asks the model for a JSON object constrained by ResponseSchema.
type Extractor struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

func New(ctx context.Context, cfg Config) (*Extractor, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  cfg.HTTPClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{client: client, model: model, log: log.With(zap.String("model", model))}, nil
}

func (e *Extractor) Extract(ctx context.Context, req assistant.Request) (assistant.Extraction, error) {
	contents := make([]*genai.Content, 0, len(req.Transcript))
	for _, turn := range req.Transcript {
		var role genai.Role = genai.RoleUser
		if turn.Role == assistant.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}
	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    ResponseSchema(),
	})
	if err != nil {
		return assistant.Extraction{}, fmt.Errorf("generate content: %w", err)
	}
	text, err := firstText(resp)
	if err != nil {
		return assistant.Extraction{}, err
	}
	e.log.Debug("extraction received", zap.Int("bytes", len(text)))
	return assistant.ParseExtraction([]byte(text))
}

func firstText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", assistant.ErrMalformedResponse)
	}
	c := resp.Candidates[0]
	if c.Content == nil || len(c.Content.Parts) == 0 || c.Content.Parts[0] == nil {
		return "", fmt.Errorf("%w: candidate has no parts", assistant.ErrMalformedResponse)
	}
	return c.Content.Parts[0].Text, nil
}

// ResponseSchema declares the extraction object: intent, data with every
// contact, deal, project and task field, missingFields and confirmationMessage.
func ResponseSchema() *genai.Schema {
	str := func() *genai.Schema { return &genai.Schema{Type: genai.TypeString} }
	num := func() *genai.Schema { return &genai.Schema{Type: genai.TypeNumber} }
	date := func() *genai.Schema { return &genai.Schema{Type: genai.TypeString, Format: "date"} }

	intents := make([]string, 0, len(assistant.Intents))
	for _, i := range assistant.Intents {
		intents = append(intents, string(i))
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"intent": {Type: genai.TypeString, Enum: intents},
			"data": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"name":              str(),
					"company":           str(),
					"title":             str(),
					"email":             str(),
					"phone":             str(),
					"notes":             str(),
					"lastContacted":     date(),
					"dealName":          str(),
					"dealCompany":       str(),
					"value":             num(),
					"stage":             {Type: genai.TypeString, Enum: append([]string(nil), domain.PipelineStages...)},
					"expectedCloseDate": date(),
					"probability":       num(),
					"projectName":       str(),
					"projectClient":     str(),
					"startDate":         date(),
					"endDate":           date(),
					"progress":          num(),
					"description":       str(),
					"projectId":         str(),
					"taskName":          str(),
				},
			},
			"missingFields":       {Type: genai.TypeArray, Items: str()},
			"confirmationMessage": str(),
		},
		PropertyOrdering: []string{"intent", "data", "missingFields", "confirmationMessage"},
	}
}
