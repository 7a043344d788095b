// Package assistant turns chat utterances into confirmed CRM actions.
//
// A Pipeline keeps the transcript and at most one action draft. Each
// utterance is either sent to an Extractor for intent extraction or, while
// a draft awaits confirmation, read as a yes/no answer. Nothing is written
// through Actions until the user has said yes to a proposed draft.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jconstantine618/ai-consulting-crm/internal/domain"
)

type State string

const (
	StateIdle                 State = "idle"
	StateGathering            State = "gathering"
	StateAwaitingConfirmation State = "awaiting_confirmation"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatTurn struct {
	Role Role   `json:"role" enum:"user,assistant"`
	Text string `json:"text"`
}

type Intent string

const (
	IntentAddContact       Intent = "add_contact"
	IntentUpdateDeal       Intent = "update_deal"
	IntentAddProject       Intent = "add_project"
	IntentAddTaskToProject Intent = "add_task_to_project"
	IntentNone             Intent = "none"
)

// Intents lists every intent the extractor may return.
var Intents = []Intent{IntentAddContact, IntentUpdateDeal, IntentAddProject, IntentAddTaskToProject, IntentNone}

// Actionable reports whether the intent maps to a CRM action.
func (i Intent) Actionable() bool {
	switch i {
	case IntentAddContact, IntentUpdateDeal, IntentAddProject, IntentAddTaskToProject:
		return true
	}
	return false
}

// ActionDraft is the action being gathered or waiting for confirmation.
type ActionDraft struct {
	Intent Intent         `json:"intent"`
	Fields map[string]any `json:"fields"`
	Stage  State          `json:"stage" enum:"gathering,awaiting_confirmation"`
}

func (d ActionDraft) clone() ActionDraft {
	fields := make(map[string]any, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}
	d.Fields = fields
	return d
}

// Extraction is the structured answer of the intent extraction service.
type Extraction struct {
	Intent              Intent         `json:"intent"`
	Data                map[string]any `json:"data"`
	MissingFields       []string       `json:"missingFields"`
	ConfirmationMessage string         `json:"confirmationMessage"`
}

// Request carries everything an Extractor needs for one turn. Transcript
// ends with the utterance being interpreted.
type Request struct {
	SystemPrompt string
	Transcript   []ChatTurn
}

type Extractor interface {
	Extract(ctx context.Context, req Request) (Extraction, error)
}

// Actions is the write surface used once a draft is confirmed.
type Actions interface {
	AddContact(ctx context.Context, c domain.Contact) (domain.Contact, error)
	UpdateDeal(ctx context.Context, id string, p domain.DealPatch) (domain.Deal, error)
	AddProject(ctx context.Context, p domain.Project) (domain.Project, error)
	UpdateProject(ctx context.Context, id string, p domain.ProjectPatch) (domain.Project, error)
}

// Snapshot exposes the current records used to resolve names to ids.
type Snapshot interface {
	Contacts() []domain.Contact
	Deals() []domain.Deal
	Projects() []domain.Project
}

var (
	ErrBusy              = errors.New("assistant is still answering the previous message")
	ErrMalformedResponse = errors.New("malformed extraction response")
)

// ParseExtraction decodes the JSON text returned by the model.
func ParseExtraction(b []byte) (Extraction, error) {
	var ext Extraction
	if err := json.Unmarshal(b, &ext); err != nil {
		return Extraction{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if ext.Intent == "" {
		return Extraction{}, fmt.Errorf("%w: intent is missing", ErrMalformedResponse)
	}
	if ext.Data == nil {
		ext.Data = map[string]any{}
	}
	return ext, nil
}

type emptySnapshot struct{}

func (emptySnapshot) Contacts() []domain.Contact { return nil }
func (emptySnapshot) Deals() []domain.Deal       { return nil }
func (emptySnapshot) Projects() []domain.Project { return nil }
