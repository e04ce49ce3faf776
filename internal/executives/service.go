package executives

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("executives: not found")
)

// Repository abstracts executive persistence.
type Repository interface {
	Get(ctx context.Context, executiveID string) (Executive, error)
	SetOnCall(ctx context.Context, executiveID string, onCall bool) error
	SetOnline(ctx context.Context, executiveID string, online bool) error
	Stats(ctx context.Context, executiveID string) (Stats, error)
}

// Unavailable reasons surfaced to the initiating client. Keep stable; clients
// branch on them.
const (
	ReasonOffline     = "executive_offline"
	ReasonBanned      = "executive_banned"
	ReasonSuspended   = "executive_suspended"
	ReasonOnOtherCall = "executive_on_call"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Profile(ctx context.Context, executiveID string) (Executive, error) {
	if executiveID == "" {
		return Executive{}, ErrNotFound
	}
	return s.repo.Get(ctx, executiveID)
}

// Availability decides whether an executive can receive a call right now.
// Returns ok=false with a stable reason string when not.
func Availability(e Executive) (ok bool, reason string) {
	switch {
	case e.IsBanned:
		return false, ReasonBanned
	case e.IsSuspended:
		return false, ReasonSuspended
	case !e.IsOnline:
		return false, ReasonOffline
	case e.OnCall:
		return false, ReasonOnOtherCall
	}
	return true, ""
}

func (s *Service) SetOnCall(ctx context.Context, executiveID string, onCall bool) error {
	if executiveID == "" {
		return ErrNotFound
	}
	return s.repo.SetOnCall(ctx, executiveID, onCall)
}

func (s *Service) SetOnline(ctx context.Context, executiveID string, online bool) error {
	if executiveID == "" {
		return ErrNotFound
	}
	return s.repo.SetOnline(ctx, executiveID, online)
}

func (s *Service) Stats(ctx context.Context, executiveID string) (Stats, error) {
	if executiveID == "" {
		return Stats{}, ErrNotFound
	}
	return s.repo.Stats(ctx, executiveID)
}
