package engine

import (
	"context"
	"strings"

	"github.com/jconstantine618/ai-consulting-crm/internal/domain"
)

// AddContact stores a contact. An empty name is stored as is; lastContacted
// defaults to today.
func (e Engine) AddContact(ctx context.Context, scope domain.Scope, c domain.Contact) (domain.Contact, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.LastContacted == "" {
		c.LastContacted = e.Today()
	}
	if err := validDate("lastContacted", c.LastContacted); err != nil {
		return domain.Contact{}, err
	}
	id, err := e.create(ctx, scope, domain.KindContacts, c)
	if err != nil {
		return domain.Contact{}, err
	}
	c.ID = id
	return c, nil
}

func (e Engine) UpdateContact(ctx context.Context, scope domain.Scope, id string, p domain.ContactPatch) (domain.Contact, error) {
	if p.Name != nil && str(p.Name) == "" {
		return domain.Contact{}, validationError("contact name must not be empty")
	}
	if p.LastContacted != nil {
		if err := validDate("lastContacted", *p.LastContacted); err != nil {
			return domain.Contact{}, err
		}
	}
	if err := e.patch(ctx, scope, domain.KindContacts, id, p); err != nil {
		return domain.Contact{}, err
	}
	return e.GetContact(ctx, scope, id)
}

func (e Engine) DeleteContact(ctx context.Context, scope domain.Scope, id string) error {
	return e.Store.Delete(ctx, scope, domain.KindContacts, id)
}

func (e Engine) GetContact(ctx context.Context, scope domain.Scope, id string) (domain.Contact, error) {
	rec, err := e.Store.Get(ctx, scope, domain.KindContacts, id)
	if err != nil {
		return domain.Contact{}, err
	}
	return decodeRecord[domain.Contact](rec)
}

func (e Engine) ListContacts(ctx context.Context, scope domain.Scope) ([]domain.Contact, error) {
	recs, err := e.Store.List(ctx, scope, domain.KindContacts)
	if err != nil {
		return nil, err
	}
	return ContactsFromRecords(recs)
}

// SearchContacts filters by a case-insensitive substring of name, company or email.
func (e Engine) SearchContacts(ctx context.Context, scope domain.Scope, query string) ([]domain.Contact, error) {
	contacts, err := e.ListContacts(ctx, scope)
	if err != nil {
		return nil, err
	}
	return FilterContacts(contacts, query), nil
}

func FilterContacts(contacts []domain.Contact, query string) []domain.Contact {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return contacts
	}
	out := make([]domain.Contact, 0, len(contacts))
	for _, c := range contacts {
		if strings.Contains(strings.ToLower(c.Name), q) ||
			strings.Contains(strings.ToLower(c.Company), q) ||
			strings.Contains(strings.ToLower(c.Email), q) {
			out = append(out, c)
		}
	}
	return out
}
