package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/jconstantine618/ai-consulting-crm/internal/config"
	"github.com/jconstantine618/ai-consulting-crm/internal/domain"
	"github.com/jconstantine618/ai-consulting-crm/internal/recordstore"
	"github.com/jconstantine618/ai-consulting-crm/internal/repo"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrInvalidStageTransition = errors.New("invalid stage transition")
)

type Engine struct {
	Store  *recordstore.Store
	Repo   repo.Repo
	Config *config.Config
	Log    *zap.Logger
	Now    func() time.Time
}

func New(store *recordstore.Store, cfg *config.Config) Engine {
	return Engine{
		Store:  store,
		Repo:   store.Repo,
		Config: cfg,
		Log:    zap.NewNop(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Today is the current date as YYYY-MM-DD.
func (e Engine) Today() string {
	return e.now().UTC().Format(time.DateOnly)
}

// Scope returns the collection namespace for a user of the configured app.
func (e Engine) Scope(userID string) domain.Scope {
	appID := config.DefaultAppID
	if e.Config != nil && e.Config.App.ID != "" {
		appID = e.Config.App.ID
	}
	return domain.Scope{AppID: appID, UserID: userID}
}

func (e Engine) logger() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func validDate(field, v string) error {
	if v == "" {
		return nil
	}
	if _, err := time.Parse(time.DateOnly, v); err != nil {
		return validationError("%s must be YYYY-MM-DD", field)
	}
	return nil
}

// toDoc converts a typed value into record fields, dropping the id.
func toDoc(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	delete(m, "id")
	return m, nil
}

// Decode maps stored fields onto a typed value using its json tags.
// Loose input such as numeric strings is accepted.
func Decode(data map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(data)
}

func decodeRecord[T any](rec domain.Record) (T, error) {
	var out T
	data := make(map[string]any, len(rec.Data)+1)
	for k, v := range rec.Data {
		data[k] = v
	}
	data["id"] = rec.ID
	if err := Decode(data, &out); err != nil {
		return out, fmt.Errorf("decode %s/%s: %w", rec.Kind, rec.ID, err)
	}
	return out, nil
}

func decodeRecords[T any](recs []domain.Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		v, err := decodeRecord[T](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ContactsFromRecords decodes a contacts snapshot.
func ContactsFromRecords(recs []domain.Record) ([]domain.Contact, error) {
	return decodeRecords[domain.Contact](recs)
}

// DealsFromRecords decodes a deals snapshot.
func DealsFromRecords(recs []domain.Record) ([]domain.Deal, error) {
	return decodeRecords[domain.Deal](recs)
}

// ProjectsFromRecords decodes a projects snapshot; a missing task list reads as empty.
func ProjectsFromRecords(recs []domain.Record) ([]domain.Project, error) {
	projects, err := decodeRecords[domain.Project](recs)
	if err != nil {
		return nil, err
	}
	for i := range projects {
		if projects[i].Tasks == nil {
			projects[i].Tasks = []domain.Task{}
		}
	}
	return projects, nil
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

func (e Engine) create(ctx context.Context, scope domain.Scope, kind string, v any) (string, error) {
	doc, err := toDoc(v)
	if err != nil {
		return "", err
	}
	return e.Store.Create(ctx, scope, kind, doc)
}

func (e Engine) patch(ctx context.Context, scope domain.Scope, kind, id string, v any) error {
	doc, err := toDoc(v)
	if err != nil {
		return err
	}
	if len(doc) == 0 {
		return validationError("patch has no fields")
	}
	return e.Store.Update(ctx, scope, kind, id, doc)
}
