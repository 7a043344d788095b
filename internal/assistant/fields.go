package assistant

import (
	"strings"

	"github.com/mitchellh/mapstructure"
)

// actionFields is the superset of fields the extractor can fill in.
// Numbers are pointers so that an explicit 0 differs from absence.
type actionFields struct {
	Name          string `json:"name"`
	Company       string `json:"company"`
	Title         string `json:"title"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Notes         string `json:"notes"`
	LastContacted string `json:"lastContacted"`

	DealName          string   `json:"dealName"`
	DealCompany       string   `json:"dealCompany"`
	Value             *float64 `json:"value"`
	Stage             string   `json:"stage"`
	ExpectedCloseDate string   `json:"expectedCloseDate"`
	Probability       *float64 `json:"probability"`

	ProjectName   string   `json:"projectName"`
	ProjectClient string   `json:"projectClient"`
	Client        string   `json:"client"`
	StartDate     string   `json:"startDate"`
	EndDate       string   `json:"endDate"`
	Progress      *float64 `json:"progress"`
	Description   string   `json:"description"`

	ProjectID string `json:"projectId"`
	TaskName  string `json:"taskName"`
}

// present drops keys whose value carries no information.
func present(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func decodeFields(data map[string]any) (actionFields, error) {
	var f actionFields
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &f,
	})
	if err != nil {
		return f, err
	}
	return f, dec.Decode(present(data))
}

func (f actionFields) projectName() string {
	if f.ProjectName != "" {
		return f.ProjectName
	}
	return f.Name
}

func (f actionFields) projectClient() string {
	if f.ProjectClient != "" {
		return f.ProjectClient
	}
	return f.Client
}

func orString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orFloat(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}
