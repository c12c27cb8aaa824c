// Package storage is the backend gateway contract. Implementations live in
// the hasura, postgres and inmemory subpackages.
package storage

import (
	"context"
	"errors"

	"github.com/willemliu/universal-comments/internal/comment/model"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type CommentRepository interface {
	CommentsByURL(ctx context.Context, q model.ThreadQuery) (model.CommentPage, error)
	LatestPositive(ctx context.Context, q model.LatestQuery) ([]model.Comment, error)
	CountComments(ctx context.Context, url string, circleID *string, viewerUUID string) (int, error)
	CountAll(ctx context.Context, circleID *string, viewerUUID string) (int, error)
	CommentByID(ctx context.Context, id string) (model.Comment, error)
	CommentsByUser(ctx context.Context, userUUID string) ([]model.Comment, error)

	InsertComment(ctx context.Context, in model.NewComment) (model.Comment, error)
	// EditComment and RemoveComment report false when no row matched the
	// (id, author) pair; that is not an error.
	EditComment(ctx context.Context, id, authorUUID, text string) (model.Comment, bool, error)
	RemoveComment(ctx context.Context, id, authorUUID string) (model.Comment, bool, error)
}

type VoteRepository interface {
	// Vote upserts the (comment, user) score and returns the new aggregate.
	Vote(ctx context.Context, commentID, userUUID string, v model.Vote) (int, error)
}

type UserRepository interface {
	// UpsertUser merges identities by email and returns the stable uuid.
	UpsertUser(ctx context.Context, p model.Profile) (model.User, error)
	SetReceiveMail(ctx context.Context, userUUID string, receive bool) error
}

type CircleRepository interface {
	CreateCircle(ctx context.Context, ownerUUID, name, password string) (model.Circle, error)
	JoinCircle(ctx context.Context, userUUID, name, password string) (model.Circle, error)
	CountCircleMembers(ctx context.Context, circleID string) (int, error)
	LeaveCircle(ctx context.Context, userUUID, circleID string) (bool, error)
	DeleteCircle(ctx context.Context, userUUID, circleID string) (bool, error)
	// CirclesByMember lists the user's circles; when url is set CommentCount
	// is the number of comments on that url.
	CirclesByMember(ctx context.Context, userUUID, url string) ([]model.Circle, error)
}

type NotificationRepository interface {
	Recipients(ctx context.Context, q model.RecipientQuery) ([]model.Recipient, error)
	CommentByID(ctx context.Context, id string) (model.Comment, error)
}

type Repository interface {
	CommentRepository
	VoteRepository
	UserRepository
	CircleRepository
	NotificationRepository
}
