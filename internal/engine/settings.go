package engine

import (
	"context"
	"errors"
	"net/mail"

	"github.com/jconstantine618/ai-consulting-crm/internal/domain"
	"github.com/jconstantine618/ai-consulting-crm/internal/repo"
)

// GetProfile returns the saved profile, or an empty one if none was saved.
func (e Engine) GetProfile(ctx context.Context, scope domain.Scope) (domain.Profile, error) {
	var p domain.Profile
	err := e.getSettings(ctx, scope, domain.SettingsProfile, &p)
	return p, err
}

func (e Engine) SaveProfile(ctx context.Context, scope domain.Scope, p domain.Profile) error {
	if err := validEmail(p.Email); err != nil {
		return err
	}
	return e.setSettings(ctx, scope, domain.SettingsProfile, p)
}

// GetNotifications returns the saved preferences; all flags are off by default.
func (e Engine) GetNotifications(ctx context.Context, scope domain.Scope) (domain.NotificationPrefs, error) {
	var n domain.NotificationPrefs
	err := e.getSettings(ctx, scope, domain.SettingsNotifications, &n)
	return n, err
}

func (e Engine) SaveNotifications(ctx context.Context, scope domain.Scope, n domain.NotificationPrefs) error {
	return e.setSettings(ctx, scope, domain.SettingsNotifications, n)
}

func (e Engine) getSettings(ctx context.Context, scope domain.Scope, id string, out any) error {
	rec, err := e.Store.Get(ctx, scope, domain.KindSettings, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return Decode(rec.Data, out)
}

func (e Engine) setSettings(ctx context.Context, scope domain.Scope, id string, v any) error {
	doc, err := toDoc(v)
	if err != nil {
		return err
	}
	return e.Store.Set(ctx, scope, domain.KindSettings, id, doc, true)
}

func validEmail(v string) error {
	if v == "" {
		return nil
	}
	if _, err := mail.ParseAddress(v); err != nil {
		return validationError("email %q is not valid", v)
	}
	return nil
}
