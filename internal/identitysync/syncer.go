// Package identitysync mirrors identity-provider users into the local user
// collection.
package identitysync

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/movie-ticket-booking/internal/domain"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
)

type UserStore interface {
	UpsertUser(ctx context.Context, u domain.User) error
	DeleteUser(ctx context.Context, id string) error
}

type Syncer struct {
	users  UserStore
	logger observability.Logger
}

func NewSyncer(users UserStore, logger observability.Logger) *Syncer {
	return &Syncer{users: users, logger: logger}
}

// ToUser maps the provider's user object onto the local record.
func ToUser(u domain.IdentityUser) (domain.User, error) {
	if u.ID == "" {
		return domain.User{}, errors.Wrap(domain.ErrInvalidInput, "user id is required")
	}
	if len(u.EmailAddresses) == 0 || u.EmailAddresses[0].EmailAddress == "" {
		return domain.User{}, errors.Wrapf(domain.ErrInvalidInput, "user %s has no email address", u.ID)
	}
	return domain.User{
		ID:          u.ID,
		Email:       u.EmailAddresses[0].EmailAddress,
		DisplayName: strings.TrimSpace(u.FirstName + " " + u.LastName),
		ImageURL:    u.ImageURL,
	}, nil
}

// Create upserts so a redelivered event leaves the same record.
func (s *Syncer) Create(ctx context.Context, u domain.IdentityUser) error {
	return s.save(ctx, u, "user created")
}

// Update creates the user when the create event was lost.
func (s *Syncer) Update(ctx context.Context, u domain.IdentityUser) error {
	return s.save(ctx, u, "user updated")
}

func (s *Syncer) save(ctx context.Context, u domain.IdentityUser, msg string) error {
	user, err := ToUser(u)
	if err != nil {
		return err
	}
	if err := s.users.UpsertUser(ctx, user); err != nil {
		return errors.Wrapf(err, "save user %s", user.ID)
	}
	s.logger.WithField("user_id", user.ID).Info(msg)
	return nil
}

func (s *Syncer) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.Wrap(domain.ErrInvalidInput, "user id is required")
	}
	err := s.users.DeleteUser(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.WithField("user_id", userID).Debug("user already deleted")
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "delete user %s", userID)
	}
	s.logger.WithField("user_id", userID).Info("user deleted")
	return nil
}
