// Package recordstore is the per-user document store behind the CRM.
// Collections live at artifacts/{appId}/users/{userId}/{kind}; every
// mutation is audited and pushed to live subscribers.
package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jconstantine618/ai-consulting-crm/internal/domain"
	"github.com/jconstantine618/ai-consulting-crm/internal/events"
	"github.com/jconstantine618/ai-consulting-crm/internal/metrics"
	"github.com/jconstantine618/ai-consulting-crm/internal/repo"
)

var (
	ErrInvalidScope = errors.New("invalid scope: app id and user id are required")
	ErrUnknownKind  = errors.New("invalid collection kind")
)

type Store struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	notifier Notifier
	hub      *hub
	log      *zap.Logger
	now      func() time.Time
	newID    func() string
}

type Option func(*Store)

// WithNotifier fans changes out through n instead of refreshing in-process.
// Start must be called for subscribers to see changes.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		DB:    db,
		Repo:  repo.Repo{DB: db},
		log:   zap.NewNop(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Events = events.Writer{Now: s.now}
	s.hub = newHub(s.Repo.ListRecords, s.log)
	return s
}

// Start attaches the store to its notifier. It is a no-op for in-process stores.
func (s *Store) Start(ctx context.Context) error {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.StartForwarder(ctx, func(c Change) {
		s.hub.refresh(context.WithoutCancel(ctx), c.Scope, c.Kind)
	})
}

func validate(scope domain.Scope, kind string) error {
	if scope.AppID == "" || scope.UserID == "" {
		return ErrInvalidScope
	}
	switch kind {
	case domain.KindContacts, domain.KindDeals, domain.KindProjects, domain.KindSettings:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Create stores data under a fresh id and returns it. An "id" key in data is ignored.
func (s *Store) Create(ctx context.Context, scope domain.Scope, kind string, data map[string]any) (string, error) {
	if err := validate(scope, kind); err != nil {
		return "", err
	}
	now := s.timestamp()
	rec := domain.Record{ID: s.newID(), Kind: kind, Data: withoutID(data), CreatedAt: now, UpdatedAt: now}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.Repo.InsertRecordTx(ctx, tx, scope, rec); err != nil {
			return fmt.Errorf("insert %s: %w", kind, err)
		}
		return s.Events.Append(ctx, tx, events.RecordCreated, scope, kind, rec.ID, events.EventPayload{"fields": fieldNames(rec.Data)})
	})
	if err != nil {
		return "", err
	}
	metrics.RecordMutations.WithLabelValues(kind, "create").Inc()
	s.changed(ctx, scope, kind)
	return rec.ID, nil
}

// Update merges patch into the top-level fields of an existing record.
func (s *Store) Update(ctx context.Context, scope domain.Scope, kind, id string, patch map[string]any) error {
	if err := validate(scope, kind); err != nil {
		return err
	}
	patch = withoutID(patch)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rec, err := s.Repo.GetRecordTx(ctx, tx, scope, kind, id)
		if err != nil {
			return err
		}
		rec.Data = merge(rec.Data, patch)
		rec.UpdatedAt = s.timestamp()
		if err := s.Repo.UpdateRecordTx(ctx, tx, scope, rec); err != nil {
			return err
		}
		return s.Events.Append(ctx, tx, events.RecordUpdated, scope, kind, id, events.EventPayload{"fields": fieldNames(patch)})
	})
	if err != nil {
		return err
	}
	metrics.RecordMutations.WithLabelValues(kind, "update").Inc()
	s.changed(ctx, scope, kind)
	return nil
}

// Set writes a record under a caller-chosen id, creating it if needed.
// With mergeFields the existing fields not present in data are kept.
func (s *Store) Set(ctx context.Context, scope domain.Scope, kind, id string, data map[string]any, mergeFields bool) error {
	if err := validate(scope, kind); err != nil {
		return err
	}
	if id == "" {
		return errors.New("id is required")
	}
	data = withoutID(data)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.timestamp()
		existing, err := s.Repo.GetRecordTx(ctx, tx, scope, kind, id)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			rec := domain.Record{ID: id, Kind: kind, Data: data, CreatedAt: now, UpdatedAt: now}
			if err := s.Repo.InsertRecordTx(ctx, tx, scope, rec); err != nil {
				return err
			}
			return s.Events.Append(ctx, tx, events.RecordCreated, scope, kind, id, events.EventPayload{"fields": fieldNames(data)})
		case err != nil:
			return err
		}
		if mergeFields {
			existing.Data = merge(existing.Data, data)
		} else {
			existing.Data = data
		}
		existing.UpdatedAt = now
		if err := s.Repo.UpdateRecordTx(ctx, tx, scope, existing); err != nil {
			return err
		}
		return s.Events.Append(ctx, tx, events.RecordUpdated, scope, kind, id, events.EventPayload{"fields": fieldNames(data), "merge": mergeFields})
	})
	if err != nil {
		return err
	}
	metrics.RecordMutations.WithLabelValues(kind, "set").Inc()
	s.changed(ctx, scope, kind)
	return nil
}

func (s *Store) Delete(ctx context.Context, scope domain.Scope, kind, id string) error {
	if err := validate(scope, kind); err != nil {
		return err
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.Repo.DeleteRecordTx(ctx, tx, scope, kind, id); err != nil {
			return err
		}
		return s.Events.Append(ctx, tx, events.RecordDeleted, scope, kind, id, nil)
	})
	if err != nil {
		return err
	}
	metrics.RecordMutations.WithLabelValues(kind, "delete").Inc()
	s.changed(ctx, scope, kind)
	return nil
}

func (s *Store) Get(ctx context.Context, scope domain.Scope, kind, id string) (domain.Record, error) {
	if err := validate(scope, kind); err != nil {
		return domain.Record{}, err
	}
	return s.Repo.GetRecord(ctx, scope, kind, id)
}

// List returns the collection ordered by id.
func (s *Store) List(ctx context.Context, scope domain.Scope, kind string) ([]domain.Record, error) {
	if err := validate(scope, kind); err != nil {
		return nil, err
	}
	return s.Repo.ListRecords(ctx, scope, kind)
}

// Subscribe streams the collection: the current snapshot first, then one
// snapshot per change until ctx is done, when the channel is closed.
// A slow reader only ever sees the latest snapshot.
func (s *Store) Subscribe(ctx context.Context, scope domain.Scope, kind string) (<-chan Snapshot, error) {
	if err := validate(scope, kind); err != nil {
		return nil, err
	}
	return s.hub.subscribe(ctx, scope, kind)
}

// Subscribers reports the number of live subscriptions.
func (s *Store) Subscribers() int {
	return s.hub.subscribers()
}

func (s *Store) changed(ctx context.Context, scope domain.Scope, kind string) {
	ctx = context.WithoutCancel(ctx)
	if s.notifier == nil {
		s.hub.refresh(ctx, scope, kind)
		return
	}
	if err := s.notifier.Publish(ctx, Change{Scope: scope, Kind: kind}); err != nil {
		s.log.Warn("publish change failed; refreshing locally",
			zap.String("path", scope.CollectionPath(kind)),
			zap.Error(err))
		s.hub.refresh(ctx, scope, kind)
	}
}

func withoutID(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if k == "id" {
			continue
		}
		out[k] = v
	}
	return out
}

func merge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func fieldNames(data map[string]any) []string {
	names := make([]string, 0, len(data))
	for k := range data {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
