package service

import (
	"context"
	"strings"

	"github.com/willemliu/universal-comments/internal/comment/model"
	"github.com/willemliu/universal-comments/internal/comment/pagination"
	"github.com/willemliu/universal-comments/internal/comment/storage"
	"github.com/willemliu/universal-comments/internal/comment/tree"
)

type commentService struct {
	repo storage.CommentRepository
}

func New(repo storage.CommentRepository) CommentService {
	return &commentService{repo: repo}
}

func (s *commentService) Count(ctx context.Context, url string) (int, error) {
	if strings.TrimSpace(url) == "" {
		return 0, ErrInvalidInput
	}
	n, err := s.repo.CountComments(ctx, url, nil, "")
	if err != nil {
		return 0, mapErr(err, "count "+url)
	}
	return n, nil
}

func (s *commentService) Thread(ctx context.Context, q model.ThreadQuery) (model.CommentPage, error) {
	if strings.TrimSpace(q.URL) == "" || q.Offset < 0 || q.Limit < 0 {
		return model.CommentPage{}, ErrInvalidInput
	}
	if q.Limit == 0 || q.Limit > pagination.ThreadPageSize {
		q.Limit = pagination.ThreadPageSize
	}
	page, err := s.repo.CommentsByURL(ctx, q)
	if err != nil {
		return model.CommentPage{}, mapErr(err, "comments for "+q.URL)
	}
	return page, nil
}

func (s *commentService) TreePage(ctx context.Context, q model.ThreadQuery) (model.TreePage, error) {
	page, err := s.Thread(ctx, q)
	if err != nil {
		return model.TreePage{}, err
	}
	return model.TreePage{
		Items:  tree.ToNodes(tree.Assemble(page.Items)),
		Offset: page.Offset,
		Limit:  page.Limit,
		Total:  page.Total,
	}, nil
}
