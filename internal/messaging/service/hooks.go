package service

import (
	"context"

	"parley/internal/messaging/models"
)

// BeforeUpdateHook runs inside the update transaction after the persisted row
// is locked and before proposed is written. It may modify proposed.
type BeforeUpdateHook interface {
	BeforeUpdate(ctx context.Context, sc *Scope, persisted, proposed *models.Message) error
}

// AfterCreateHook runs inside the create transaction once msg is written.
type AfterCreateHook interface {
	AfterCreate(ctx context.Context, sc *Scope, msg *models.Message) error
}

type BeforeUpdateFunc func(ctx context.Context, sc *Scope, persisted, proposed *models.Message) error

func (f BeforeUpdateFunc) BeforeUpdate(ctx context.Context, sc *Scope, persisted, proposed *models.Message) error {
	return f(ctx, sc, persisted, proposed)
}

type AfterCreateFunc func(ctx context.Context, sc *Scope, msg *models.Message) error

func (f AfterCreateFunc) AfterCreate(ctx context.Context, sc *Scope, msg *models.Message) error {
	return f(ctx, sc, msg)
}
