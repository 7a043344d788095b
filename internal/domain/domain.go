package domain

import "path"

// Collection kinds stored per user.
const (
	KindContacts = "contacts"
	KindDeals    = "deals"
	KindProjects = "projects"
	KindSettings = "settings"
)

// Settings document ids inside the settings collection.
const (
	SettingsProfile       = "profile"
	SettingsNotifications = "notifications"
)

// Pipeline stages in board order.
const (
	StageInitialContact   = "Initial Contact"
	StageMeetingScheduled = "First Meeting Scheduled"
	StageMeetingHeld      = "First Meeting Held"
	StageProposalSent     = "Proposal Sent"
	StageWon              = "Proposal Accepted (Won)"
)

// PipelineStages lists the deal stages in order.
var PipelineStages = []string{
	StageInitialContact,
	StageMeetingScheduled,
	StageMeetingHeld,
	StageProposalSent,
	StageWon,
}

// StageIndex returns the board position of a stage, or -1.
func StageIndex(stage string) int {
	for i, s := range PipelineStages {
		if s == stage {
			return i
		}
	}
	return -1
}

// Scope namespaces every collection by application instance and user.
type Scope struct {
	AppID  string `json:"app_id"`
	UserID string `json:"user_id"`
}

// CollectionPath returns artifacts/{appId}/users/{userId}/{kind}.
func (s Scope) CollectionPath(kind string) string {
	return path.Join("artifacts", s.AppID, "users", s.UserID, kind)
}

// Record is a stored document with its store-assigned id.
type Record struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data"`
	CreatedAt string         `json:"created_at" format:"date-time"`
	UpdatedAt string         `json:"updated_at" format:"date-time"`
}

type Contact struct {
	ID            string `json:"id,omitempty"`
	Name          string `json:"name"`
	Company       string `json:"company"`
	Title         string `json:"title"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Notes         string `json:"notes"`
	LastContacted string `json:"lastContacted" format:"date"`
}

type Deal struct {
	ID                string  `json:"id,omitempty"`
	Name              string  `json:"name"`
	Company           string  `json:"company"`
	Value             float64 `json:"value"`
	Stage             string  `json:"stage"`
	ExpectedCloseDate string  `json:"expectedCloseDate" format:"date"`
	Probability       float64 `json:"probability"`
	Notes             string  `json:"notes"`
}

// Won reports whether the deal is in the closing stage.
func (d Deal) Won() bool { return d.Stage == StageWon }

type Task struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
}

type Project struct {
	ID          string  `json:"id,omitempty"`
	Name        string  `json:"name"`
	Client      string  `json:"client"`
	StartDate   string  `json:"startDate" format:"date"`
	EndDate     string  `json:"endDate" format:"date"`
	Progress    float64 `json:"progress"`
	Description string  `json:"description"`
	Tasks       []Task  `json:"tasks"`
}

type Profile struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Company   string `json:"company"`
	Bio       string `json:"bio"`
}

type NotificationPrefs struct {
	EmailNotifications bool `json:"emailNotifications"`
	DealReminders      bool `json:"dealReminders"`
	TaskNotifications  bool `json:"taskNotifications"`
	WeeklyReports      bool `json:"weeklyReports"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	AppID      string `json:"app_id"`
	UserID     string `json:"user_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// ContactPatch holds the contact fields to change; nil fields are kept.
type ContactPatch struct {
	Name          *string `json:"name,omitempty"`
	Company       *string `json:"company,omitempty"`
	Title         *string `json:"title,omitempty"`
	Email         *string `json:"email,omitempty"`
	Phone         *string `json:"phone,omitempty"`
	Notes         *string `json:"notes,omitempty"`
	LastContacted *string `json:"lastContacted,omitempty" format:"date"`
}

type DealPatch struct {
	Name              *string  `json:"name,omitempty"`
	Company           *string  `json:"company,omitempty"`
	Value             *float64 `json:"value,omitempty"`
	Stage             *string  `json:"stage,omitempty"`
	ExpectedCloseDate *string  `json:"expectedCloseDate,omitempty" format:"date"`
	Probability       *float64 `json:"probability,omitempty"`
	Notes             *string  `json:"notes,omitempty"`
}

type ProjectPatch struct {
	Name        *string  `json:"name,omitempty"`
	Client      *string  `json:"client,omitempty"`
	StartDate   *string  `json:"startDate,omitempty" format:"date"`
	EndDate     *string  `json:"endDate,omitempty" format:"date"`
	Progress    *float64 `json:"progress,omitempty"`
	Description *string  `json:"description,omitempty"`
	Tasks       *[]Task  `json:"tasks,omitempty"`
}
