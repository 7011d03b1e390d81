package identity

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/movie-ticket-booking/internal/domain"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
)

type RoleSource interface {
	Role(ctx context.Context, userID string) (string, error)
}

type RoleCache interface {
	GetRole(ctx context.Context, userID string) (string, bool, error)
	SetRole(ctx context.Context, userID, role string, ttl time.Duration) error
}

// CachedAuthorizer answers admin checks from the role cache and falls back to
// the provider on a miss. An unknown user is cached with an empty role.
type CachedAuthorizer struct {
	source RoleSource
	cache  RoleCache
	ttl    time.Duration
	logger observability.Logger
}

func NewCachedAuthorizer(source RoleSource, cache RoleCache, ttl time.Duration, logger observability.Logger) *CachedAuthorizer {
	return &CachedAuthorizer{source: source, cache: cache, ttl: ttl, logger: logger}
}

func (a *CachedAuthorizer) IsAdmin(ctx context.Context, userID string) (bool, error) {
	log := a.logger.WithField("user_id", userID)

	role, ok, err := a.cache.GetRole(ctx, userID)
	if err != nil {
		log.WithError(err).Warn("role cache unavailable")
	}
	if ok {
		return role == AdminRole, nil
	}

	role, err = a.source.Role(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}
	if err := a.cache.SetRole(ctx, userID, role, a.ttl); err != nil {
		log.WithError(err).Warn("failed to cache role")
	}
	return role == AdminRole, nil
}
