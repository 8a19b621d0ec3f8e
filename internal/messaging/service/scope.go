package service

import (
	"context"
	"time"

	"parley/internal/messaging/models"
	"parley/internal/messaging/ports"
)

// Scope is the view a hook gets of the write it runs in. Store is bound to
// the open transaction; anything a hook must not do before commit goes
// through OnCommit.
type Scope struct {
	Store ports.Store
	Actor models.Principal
	Now   time.Time

	committed []func(ctx context.Context)
}

func newScope(store ports.Store, actor models.Principal, now time.Time) *Scope {
	return &Scope{Store: store, Actor: actor, Now: now}
}

// OnCommit registers fn to run once the transaction has committed. Callbacks
// registered by a write that rolls back never run.
func (s *Scope) OnCommit(fn func(ctx context.Context)) {
	s.committed = append(s.committed, fn)
}

func (s *Scope) runCommitted(ctx context.Context) {
	for _, fn := range s.committed {
		fn(ctx)
	}
}
