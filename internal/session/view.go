// Package session keeps one assistant conversation per user, backed by a
// live view of that user's records.
package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jconstantine618/ai-consulting-crm/internal/domain"
	"github.com/jconstantine618/ai-consulting-crm/internal/engine"
	"github.com/jconstantine618/ai-consulting-crm/internal/recordstore"
)

// View mirrors a user's contacts, deals and projects from live
// subscriptions. It implements assistant.Snapshot.
type View struct {
	log *zap.Logger

	mu       sync.RWMutex
	contacts []domain.Contact
	deals    []domain.Deal
	projects []domain.Project

	wg   sync.WaitGroup
	done chan struct{}
}

// Watch subscribes to the three collections and returns once the initial
// snapshots are loaded. The view follows changes until ctx is done.
func Watch(ctx context.Context, store *recordstore.Store, scope domain.Scope, log *zap.Logger) (*View, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v := &View{log: log.With(zap.String("user_id", scope.UserID)), done: make(chan struct{})}
	ctx, cancel := context.WithCancel(ctx)

	kinds := []string{domain.KindContacts, domain.KindDeals, domain.KindProjects}
	chans := make([]<-chan recordstore.Snapshot, 0, len(kinds))
	for _, kind := range kinds {
		ch, err := store.Subscribe(ctx, scope, kind)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("subscribe %s: %w", kind, err)
		}
		snap, ok := <-ch
		if !ok {
			cancel()
			return nil, fmt.Errorf("subscribe %s: %w", kind, context.Cause(ctx))
		}
		v.apply(snap)
		chans = append(chans, ch)
	}
	for _, ch := range chans {
		v.wg.Add(1)
		go v.follow(ch)
	}
	go func() {
		v.wg.Wait()
		cancel()
		close(v.done)
	}()
	return v, nil
}

func (v *View) follow(ch <-chan recordstore.Snapshot) {
	defer v.wg.Done()
	for snap := range ch {
		v.apply(snap)
	}
}

func (v *View) apply(snap recordstore.Snapshot) {
	var err error
	switch snap.Kind {
	case domain.KindContacts:
		var contacts []domain.Contact
		if contacts, err = engine.ContactsFromRecords(snap.Records); err == nil {
			v.mu.Lock()
			v.contacts = contacts
			v.mu.Unlock()
		}
	case domain.KindDeals:
		var deals []domain.Deal
		if deals, err = engine.DealsFromRecords(snap.Records); err == nil {
			v.mu.Lock()
			v.deals = deals
			v.mu.Unlock()
		}
	case domain.KindProjects:
		var projects []domain.Project
		if projects, err = engine.ProjectsFromRecords(snap.Records); err == nil {
			v.mu.Lock()
			v.projects = projects
			v.mu.Unlock()
		}
	}
	if err != nil {
		v.log.Warn("snapshot not applied", zap.String("kind", snap.Kind), zap.Error(err))
	}
}

func (v *View) Contacts() []domain.Contact {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.contacts
}

func (v *View) Deals() []domain.Deal {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.deals
}

func (v *View) Projects() []domain.Project {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.projects
}

// Done is closed after the view has stopped following changes.
func (v *View) Done() <-chan struct{} { return v.done }
