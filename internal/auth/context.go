package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxActor ctxKey = iota
)

var ErrNoIdentity = errors.New("no identity in context")

// WithActor attaches the authenticated actor to the context.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxActor, a)
}

// ActorFrom returns the authenticated actor, or ErrNoIdentity.
func ActorFrom(ctx context.Context) (Actor, error) {
	v := ctx.Value(ctxActor)
	a, ok := v.(Actor)
	if !ok || a.ID == "" {
		return Actor{}, ErrNoIdentity
	}
	return a, nil
}
