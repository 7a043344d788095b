package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jconstantine618/ai-consulting-crm/internal/domain"
	"github.com/jconstantine618/ai-consulting-crm/internal/engine"
)

func userScope(ctx context.Context, e engine.Engine) (domain.Scope, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return domain.Scope{}, err
	}
	return e.Scope(userID), nil
}

var recordErrors = []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusUnprocessableEntity}

func registerContacts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-contacts",
		Method:      http.MethodGet,
		Path:        "/contacts",
		Summary:     "List contacts",
		Description: "q filters by name, company or email, case-insensitively.",
		Errors:      recordErrors,
	}, func(ctx context.Context, input *struct {
		Query string `query:"q"`
	}) (*bodyOutput[[]domain.Contact], error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		items, err := e.SearchContacts(ctx, scope, input.Query)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-contact",
		Method:        http.MethodPost,
		Path:          "/contacts",
		Summary:       "Create contact",
		DefaultStatus: http.StatusCreated,
		Errors:        recordErrors,
	}, func(ctx context.Context, input *struct {
		Body ContactRequest `json:"body"`
	}) (*bodyOutput[domain.Contact], error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		if err := requireName("contact", input.Body.Name); err != nil {
			return nil, err
		}
		c, err := e.AddContact(ctx, scope, input.Body.contact())
		if err != nil {
			return nil, handleError(err)
		}
		return respond(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contact",
		Method:      http.MethodGet,
		Path:        "/contacts/{id}",
		Summary:     "Get contact",
		Errors:      recordErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*bodyOutput[domain.Contact], error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		c, err := e.GetContact(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-contact",
		Method:      http.MethodPatch,
		Path:        "/contacts/{id}",
		Summary:     "Update contact fields",
		Errors:      recordErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body domain.ContactPatch `json:"body"`
	}) (*bodyOutput[domain.Contact], error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		c, err := e.UpdateContact(ctx, scope, input.ID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-contact",
		Method:        http.MethodDelete,
		Path:          "/contacts/{id}",
		Summary:       "Delete contact",
		DefaultStatus: http.StatusNoContent,
		Errors:        recordErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		if err := e.DeleteContact(ctx, scope, input.ID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerDeals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-deals",
		Method:      http.MethodGet,
		Path:        "/deals",
		Summary:     "List deals",
		Errors:      recordErrors,
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[[]domain.Deal], error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		items, err := e.ListDeals(ctx, scope)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-deal",
		Method:        http.MethodPost,
		Path:          "/deals",
		Summary:       "Create deal",
		DefaultStatus: http.StatusCreated,
		Errors:        recordErrors,
	}, func(ctx context.Context, input *struct {
		Body DealRequest `json:"body"`
	}) (*bodyOutput[domain.Deal], error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		d, err := e.AddDeal(ctx, scope, input.Body.deal())
		if err != nil {
			return nil, handleError(err)
		}
		return respond(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-deal",
		Method:      http.MethodGet,
		Path:        "/deals/{id}",
		Summary:     "Get deal",
		Errors:      recordErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*bodyOutput[domain.Deal], error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		d, err := e.GetDeal(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-deal",
		Method:      http.MethodPatch,
		Path:        "/deals/{id}",
		Summary:     "Update deal fields",
		Errors:      recordErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body domain.DealPatch `json:"body"`
	}) (*bodyOutput[domain.Deal], error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		d, err := e.UpdateDeal(ctx, scope, input.ID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-deal",
		Method:      http.MethodPost,
		Path:        "/deals/{id}/move",
		Summary:     "Move deal to another pipeline stage",
		Description: "A deal may move one stage forward, to any earlier stage, or straight to won.",
		Errors:      append([]int{http.StatusConflict}, recordErrors...),
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body DealMoveRequest `json:"body"`
	}) (*bodyOutput[domain.Deal], error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		d, err := e.MoveDeal(ctx, scope, input.ID, input.Body.Stage)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-deal",
		Method:        http.MethodDelete,
		Path:          "/deals/{id}",
		Summary:       "Delete deal",
		DefaultStatus: http.StatusNoContent,
		Errors:        recordErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		if err := e.DeleteDeal(ctx, scope, input.ID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-pipeline",
		Method:      http.MethodGet,
		Path:        "/pipeline",
		Summary:     "Deals grouped by stage",
		Errors:      recordErrors,
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[[]engine.BoardColumn], error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		cols, err := e.Pipeline(ctx, scope)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(cols), nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      recordErrors,
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[[]domain.Project], error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		items, err := e.ListProjects(ctx, scope)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        recordErrors,
	}, func(ctx context.Context, input *struct {
		Body ProjectRequest `json:"body"`
	}) (*bodyOutput[domain.Project], error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		if err := requireName("project", input.Body.Name); err != nil {
			return nil, err
		}
		p, err := e.AddProject(ctx, scope, input.Body.project())
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get project",
		Errors:      recordErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*bodyOutput[domain.Project], error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		p, err := e.GetProject(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{id}",
		Summary:     "Update project fields",
		Errors:      recordErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body domain.ProjectPatch `json:"body"`
	}) (*bodyOutput[domain.Project], error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		p, err := e.UpdateProject(ctx, scope, input.ID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{id}",
		Summary:       "Delete project",
		DefaultStatus: http.StatusNoContent,
		Errors:        recordErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		if err := e.DeleteProject(ctx, scope, input.ID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-task",
		Method:        http.MethodPost,
		Path:          "/projects/{id}/tasks",
		Summary:       "Append a task to a project",
		DefaultStatus: http.StatusCreated,
		Errors:        recordErrors,
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body TaskRequest `json:"body"`
	}) (*bodyOutput[domain.Task], error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		task, err := e.AddTask(ctx, scope, input.ID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(task), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-task",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/tasks/{task_id}/toggle",
		Summary:     "Flip a task's completed flag",
		Errors:      recordErrors,
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		TaskID string `path:"task_id"`
	}) (*bodyOutput[domain.Task], error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		task, err := e.ToggleTask(ctx, scope, input.ID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(task), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/projects/{id}/tasks/{task_id}",
		Summary:       "Remove a task",
		DefaultStatus: http.StatusNoContent,
		Errors:        recordErrors,
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		TaskID string `path:"task_id"`
	}) (*struct{}, error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		if err := e.DeleteTask(ctx, scope, input.ID, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerSettings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-profile",
		Method:      http.MethodGet,
		Path:        "/settings/profile",
		Summary:     "Get profile settings",
		Errors:      recordErrors,
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[domain.Profile], error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		p, err := e.GetProfile(ctx, scope)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-profile",
		Method:      http.MethodPut,
		Path:        "/settings/profile",
		Summary:     "Save profile settings",
		Errors:      recordErrors,
	}, func(ctx context.Context, input *struct {
		Body ProfileRequest `json:"body"`
	}) (*bodyOutput[domain.Profile], error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		p := domain.Profile(input.Body)
		if err := e.SaveProfile(ctx, scope, p); err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-notifications",
		Method:      http.MethodGet,
		Path:        "/settings/notifications",
		Summary:     "Get notification preferences",
		Errors:      recordErrors,
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[domain.NotificationPrefs], error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		n, err := e.GetNotifications(ctx, scope)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(n), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-notifications",
		Method:      http.MethodPut,
		Path:        "/settings/notifications",
		Summary:     "Save notification preferences",
		Errors:      recordErrors,
	}, func(ctx context.Context, input *struct {
		Body NotificationsRequest `json:"body"`
	}) (*bodyOutput[domain.NotificationPrefs], error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		n := domain.NotificationPrefs(input.Body)
		if err := e.SaveNotifications(ctx, scope, n); err != nil {
			return nil, handleError(err)
		}
		return respond(n), nil
	})
}

func registerDashboard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Totals, recent activity and upcoming deals",
		Errors:      recordErrors,
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[engine.Dashboard], error) {
		scope, err := userScope(ctx, e)
		if err != nil {
			return nil, err
		}
		d, err := e.Dashboard(ctx, scope)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(d), nil
	})
}

// requireName rejects blank names on the create routes. The assistant may
// still store unnamed records through the engine.
func requireName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", kind+" name is required", nil)
	}
	return nil
}
