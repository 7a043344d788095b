package server

import (
	"github.com/jconstantine618/ai-consulting-crm/internal/assistant"
	"github.com/jconstantine618/ai-consulting-crm/internal/domain"
)

type bodyOutput[T any] struct {
	Body T `json:"body"`
}

func respond[T any](v T) *bodyOutput[T] {
	return &bodyOutput[T]{Body: v}
}

// Request payloads

type ContactRequest struct {
	Name          string `json:"name"`
	Company       string `json:"company,omitempty"`
	Title         string `json:"title,omitempty"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Notes         string `json:"notes,omitempty"`
	LastContacted string `json:"lastContacted,omitempty" doc:"YYYY-MM-DD, defaults to today"`
}

func (r ContactRequest) contact() domain.Contact {
	return domain.Contact{
		Name:          r.Name,
		Company:       r.Company,
		Title:         r.Title,
		Email:         r.Email,
		Phone:         r.Phone,
		Notes:         r.Notes,
		LastContacted: r.LastContacted,
	}
}

type DealRequest struct {
	Name              string  `json:"name"`
	Company           string  `json:"company,omitempty"`
	Value             float64 `json:"value,omitempty" minimum:"0"`
	Stage             string  `json:"stage,omitempty" enum:"Initial Contact,First Meeting Scheduled,First Meeting Held,Proposal Sent,Proposal Accepted (Won)"`
	ExpectedCloseDate string  `json:"expectedCloseDate,omitempty"`
	Probability       float64 `json:"probability,omitempty" minimum:"0" maximum:"100"`
	Notes             string  `json:"notes,omitempty"`
}

func (r DealRequest) deal() domain.Deal {
	return domain.Deal{
		Name:              r.Name,
		Company:           r.Company,
		Value:             r.Value,
		Stage:             r.Stage,
		ExpectedCloseDate: r.ExpectedCloseDate,
		Probability:       r.Probability,
		Notes:             r.Notes,
	}
}

type DealMoveRequest struct {
	Stage string `json:"stage" enum:"Initial Contact,First Meeting Scheduled,First Meeting Held,Proposal Sent,Proposal Accepted (Won)"`
}

type ProjectRequest struct {
	Name        string        `json:"name"`
	Client      string        `json:"client,omitempty"`
	StartDate   string        `json:"startDate,omitempty"`
	EndDate     string        `json:"endDate,omitempty"`
	Progress    float64       `json:"progress,omitempty" minimum:"0" maximum:"100"`
	Description string        `json:"description,omitempty"`
	Tasks       []domain.Task `json:"tasks,omitempty"`
}

func (r ProjectRequest) project() domain.Project {
	return domain.Project{
		Name:        r.Name,
		Client:      r.Client,
		StartDate:   r.StartDate,
		EndDate:     r.EndDate,
		Progress:    r.Progress,
		Description: r.Description,
		Tasks:       r.Tasks,
	}
}

type TaskRequest struct {
	Name string `json:"name"`
}

type ProfileRequest struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
	Company   string `json:"company,omitempty"`
	Bio       string `json:"bio,omitempty"`
}

type NotificationsRequest struct {
	EmailNotifications bool `json:"emailNotifications,omitempty"`
	DealReminders      bool `json:"dealReminders,omitempty"`
	TaskNotifications  bool `json:"taskNotifications,omitempty"`
	WeeklyReports      bool `json:"weeklyReports,omitempty"`
}

type ChatMessageRequest struct {
	Text string `json:"text"`
}

// Responses

type TokenResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	ExpiresAt string `json:"expires_at,omitempty" format:"date-time"`
}

type MeResponse struct {
	UserID      string            `json:"user_id"`
	AppID       string            `json:"app_id"`
	Source      string            `json:"source" enum:"jwt,user_header"`
	Collections map[string]string `json:"collections"`
}

type ChatResponse struct {
	Transcript []assistant.ChatTurn   `json:"transcript"`
	State      assistant.State        `json:"state" enum:"idle,gathering,awaiting_confirmation"`
	Draft      *assistant.ActionDraft `json:"draft,omitempty"`
	Pending    bool                   `json:"pending"`
}

type ChatReplyResponse struct {
	Reply assistant.Reply `json:"reply"`
	ChatResponse
}

type TaskToggleResponse struct {
	Task domain.Task `json:"task"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind" enum:"contacts,deals,projects,settings"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    any    `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// SnapshotEvent is one SSE frame carrying a full collection.
type SnapshotEvent struct {
	Kind    string          `json:"kind"`
	Records []domain.Record `json:"records"`
}

type StreamErrorEvent struct {
	Message string `json:"message"`
}

func chatResponse(p *assistant.Pipeline) ChatResponse {
	resp := ChatResponse{
		Transcript: p.Transcript(),
		State:      p.State(),
		Pending:    p.Pending(),
	}
	if d, ok := p.Draft(); ok {
		resp.Draft = &d
	}
	return resp
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
