package gemini_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jconstantine618/ai-consulting-crm/internal/assistant"
	"github.com/jconstantine618/ai-consulting-crm/internal/assistant/gemini"
)

type captured struct {
	path   string
	apiKey string
	body   map[string]any
}

func newServer(t *testing.T, status int, reply string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.apiKey = r.Header.Get("x-goog-api-key")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got.body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func candidate(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": text}}},
		}},
	})
	return string(b)
}

func newExtractor(t *testing.T, url string) *gemini.Extractor {
	t.Helper()
	ext, err := gemini.New(context.Background(), gemini.Config{
		APIKey:  "test-key",
		BaseURL: url,
		Log:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return ext
}

var req = assistant.Request{
	SystemPrompt: "You are a CRM assistant.",
	Transcript: []assistant.ChatTurn{
		{Role: assistant.RoleAssistant, Text: assistant.Greeting},
		{Role: assistant.RoleUser, Text: "Add John Doe from Acme"},
	},
}

func TestExtractSendsSchemaAndTranscript(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, candidate(`{"intent":"add_contact","data":{"name":"John Doe","company":"Acme"},"missingFields":["email"],"confirmationMessage":""}`))
	ext := newExtractor(t, srv.URL)

	out, err := ext.Extract(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, assistant.IntentAddContact, out.Intent)
	assert.Equal(t, "John Doe", out.Data["name"])
	assert.Equal(t, []string{"email"}, out.MissingFields)

	assert.True(t, strings.HasSuffix(got.path, "/models/"+gemini.DefaultModel+":generateContent"), got.path)
	assert.Equal(t, "test-key", got.apiKey)

	contents, ok := got.body["contents"].([]any)
	require.True(t, ok)
	require.Len(t, contents, 2)
	assert.Equal(t, "model", contents[0].(map[string]any)["role"])
	assert.Equal(t, "user", contents[1].(map[string]any)["role"])

	cfg, ok := got.body["generationConfig"].(map[string]any)
	require.True(t, ok, "generationConfig missing: %v", got.body)
	assert.Equal(t, "application/json", cfg["responseMimeType"])
	schema := cfg["responseSchema"].(map[string]any)
	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "missingFields")
	assert.NotNil(t, got.body["systemInstruction"])
}

func TestExtractMalformed(t *testing.T) {
	cases := map[string]string{
		"no candidates": `{"candidates":[]}`,
		"no parts":      `{"candidates":[{"content":{"role":"model","parts":[]}}]}`,
		"not json":      candidate("sure, I can help"),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv, _ := newServer(t, http.StatusOK, body)
			_, err := newExtractor(t, srv.URL).Extract(context.Background(), req)
			assert.ErrorIs(t, err, assistant.ErrMalformedResponse)
		})
	}
}

func TestExtractTransportError(t *testing.T) {
	srv, _ := newServer(t, http.StatusInternalServerError, `{"error":{"code":500,"message":"boom","status":"INTERNAL"}}`)
	_, err := newExtractor(t, srv.URL).Extract(context.Background(), req)
	require.Error(t, err)
	assert.NotErrorIs(t, err, assistant.ErrMalformedResponse)
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := gemini.New(context.Background(), gemini.Config{})
	assert.Error(t, err)
}

func TestResponseSchemaStages(t *testing.T) {
	s := gemini.ResponseSchema()
	stage := s.Properties["data"].Properties["stage"]
	assert.Contains(t, stage.Enum, "Proposal Accepted (Won)")
	assert.Len(t, s.Properties["intent"].Enum, 5)
}
