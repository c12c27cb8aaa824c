package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/willemliu/universal-comments/internal/comment/model"
	"github.com/willemliu/universal-comments/internal/comment/storage"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthenticated = errors.New("not logged in")
	ErrLastMember      = errors.New("last member cannot leave circle")
	ErrConflict        = errors.New("already exists")
)

// MaxCommentLength is counted in characters after trimming.
const MaxCommentLength = 2000

// CommentService is the read side used by the HTTP handlers.
type CommentService interface {
	Count(ctx context.Context, url string) (int, error)
	Thread(ctx context.Context, q model.ThreadQuery) (model.CommentPage, error)
	TreePage(ctx context.Context, q model.ThreadQuery) (model.TreePage, error)
}

// Notifier is told about every comment the widget posts.
type Notifier interface {
	CommentPosted(ctx context.Context, c model.Comment) error
}

func validateText(text string) (string, error) {
	t := strings.TrimSpace(text)
	if t == "" || utf8.RuneCountInString(t) > MaxCommentLength {
		return "", fmt.Errorf("%w: comment must be 1-%d characters", ErrInvalidInput, MaxCommentLength)
	}
	return t, nil
}

// mapErr translates gateway errors into service errors naming the entity.
func mapErr(err error, entity string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%s: %w", entity, ErrNotFound)
	case errors.Is(err, storage.ErrConflict):
		return fmt.Errorf("%s: %w", entity, ErrConflict)
	default:
		return fmt.Errorf("%s: %w", entity, err)
	}
}
