package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/willemliu/universal-comments/internal/comment/model"
	"github.com/willemliu/universal-comments/internal/comment/storage"
	"github.com/willemliu/universal-comments/internal/session"
)

// Circles manages the password gated audiences of the session user.
type Circles struct {
	repo    storage.CircleRepository
	session *session.Store
	log     zerolog.Logger
}

func NewCircles(repo storage.CircleRepository, sess *session.Store, log zerolog.Logger) *Circles {
	return &Circles{repo: repo, session: sess, log: log}
}

func (c *Circles) userUUID() (string, error) {
	id := c.session.UUID()
	if id == "" {
		return "", ErrUnauthenticated
	}
	return id, nil
}

func (c *Circles) Create(ctx context.Context, name, password string) (model.Circle, error) {
	owner, err := c.userUUID()
	if err != nil {
		return model.Circle{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Circle{}, fmt.Errorf("%w: circle name is empty", ErrInvalidInput)
	}

	circle, err := c.repo.CreateCircle(ctx, owner, name, password)
	if err != nil {
		c.log.Error().Err(err).Str("circle", name).Msg("create circle")
		return model.Circle{}, mapErr(err, "circle "+name)
	}
	return circle, nil
}

// Join adds the session user to the circle with this name and password.
// Gateways store bcrypt hashes and check password against them; rows from
// before hashing still match on plain equality.
func (c *Circles) Join(ctx context.Context, name, password string) (model.Circle, error) {
	user, err := c.userUUID()
	if err != nil {
		return model.Circle{}, err
	}
	circle, err := c.repo.JoinCircle(ctx, user, strings.TrimSpace(name), password)
	if err != nil {
		c.log.Error().Err(err).Str("circle", name).Msg("join circle")
		return model.Circle{}, mapErr(err, "circle "+name)
	}
	return circle, nil
}

// Leave removes the session user from a circle. The last member is refused
// so no circle ends up orphaned. The count check and the delete are separate
// calls; a concurrent leave can still empty the circle.
func (c *Circles) Leave(ctx context.Context, circleID string) error {
	user, err := c.userUUID()
	if err != nil {
		return err
	}

	n, err := c.repo.CountCircleMembers(ctx, circleID)
	if err != nil {
		c.log.Error().Err(err).Str("circle_id", circleID).Msg("count circle members")
		return mapErr(err, "circle "+circleID)
	}
	if n <= 1 {
		return fmt.Errorf("circle %s: %w", circleID, ErrLastMember)
	}

	ok, err := c.repo.LeaveCircle(ctx, user, circleID)
	if err != nil {
		c.log.Error().Err(err).Str("circle_id", circleID).Msg("leave circle")
		return mapErr(err, "circle "+circleID)
	}
	if !ok {
		return fmt.Errorf("membership of circle %s: %w", circleID, ErrNotFound)
	}
	return nil
}

// Delete removes a circle and every comment posted in it.
func (c *Circles) Delete(ctx context.Context, circleID string) error {
	user, err := c.userUUID()
	if err != nil {
		return err
	}
	ok, err := c.repo.DeleteCircle(ctx, user, circleID)
	if err != nil {
		c.log.Error().Err(err).Str("circle_id", circleID).Msg("delete circle")
		return mapErr(err, "circle "+circleID)
	}
	if !ok {
		return fmt.Errorf("circle %s: %w", circleID, ErrNotFound)
	}
	return nil
}

// List returns the session user's circles; comment counts are for url when
// it is set.
func (c *Circles) List(ctx context.Context, url string) ([]model.Circle, error) {
	user, err := c.userUUID()
	if err != nil {
		return nil, err
	}
	circles, err := c.repo.CirclesByMember(ctx, user, url)
	if err != nil {
		c.log.Error().Err(err).Msg("list circles")
		return []model.Circle{}, nil
	}
	return circles, nil
}
