package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/willemliu/universal-comments/internal/comment/render"
	"github.com/willemliu/universal-comments/internal/comment/storage"
	"github.com/willemliu/universal-comments/internal/comment/store"
	"github.com/willemliu/universal-comments/internal/session"
)

// Admin lists every comment of the session user across pages.
type Admin struct {
	repo     storage.CommentRepository
	session  *session.Store
	comments *store.CommentStore
	log      zerolog.Logger
}

func NewAdmin(repo storage.CommentRepository, sess *session.Store, log zerolog.Logger) *Admin {
	return &Admin{repo: repo, session: sess, comments: store.New(), log: log}
}

func (a *Admin) Store() *store.CommentStore { return a.comments }

// Thread renders the user's comments without reply forms.
func (a *Admin) Thread() *render.Thread {
	return render.NewThread(a.comments, true)
}

func (a *Admin) Load(ctx context.Context) error {
	user := a.session.UUID()
	if user == "" {
		return ErrUnauthenticated
	}
	comments, err := a.repo.CommentsByUser(ctx, user)
	if err != nil {
		a.log.Error().Err(err).Msg("load user comments")
		a.comments.ReplaceAll(nil)
		return nil
	}
	a.comments.ReplaceAll(comments)
	return nil
}
