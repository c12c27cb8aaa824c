// Package hasura implements the backend gateway against a Hasura GraphQL
// endpoint tracking the tables from internal/database/migrations.
package hasura

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/machinebox/graphql"

	"github.com/willemliu/universal-comments/internal/comment/model"
	"github.com/willemliu/universal-comments/internal/comment/storage"
)

type Config struct {
	Endpoint    string
	Role        string
	AdminSecret string
	HTTPClient  *http.Client
}

type Repo struct {
	client *graphql.Client
	role   string
	secret string
}

func New(cfg Config) *Repo {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Repo{
		client: graphql.NewClient(cfg.Endpoint, graphql.WithHTTPClient(hc)),
		role:   cfg.Role,
		secret: cfg.AdminSecret,
	}
}

var _ storage.Repository = (*Repo)(nil)

type vars map[string]any

func (r *Repo) run(ctx context.Context, query string, v vars, resp any) error {
	req := graphql.NewRequest(query)
	for k, val := range v {
		req.Var(k, val)
	}
	if r.role != "" {
		req.Header.Set("X-Hasura-Role", r.role)
	}
	if r.secret != "" {
		req.Header.Set("X-Hasura-Admin-Secret", r.secret)
	}
	if err := r.client.Run(ctx, req, resp); err != nil {
		if strings.Contains(err.Error(), "Uniqueness violation") {
			return fmt.Errorf("%w: %v", storage.ErrConflict, err)
		}
		return err
	}
	return nil
}

type userRow struct {
	ID          string `json:"id"`
	UUID        string `json:"uuid"`
	DisplayName string `json:"display_name"`
	Image       string `json:"image"`
}

type sumAggregate struct {
	Aggregate struct {
		Sum struct {
			Score *int `json:"score"`
		} `json:"sum"`
	} `json:"aggregate"`
}

type countAggregate struct {
	Aggregate struct {
		Count int `json:"count"`
	} `json:"aggregate"`
}

type commentRow struct {
	ID              string       `json:"id"`
	ParentID        *string      `json:"parent_id"`
	URL             string       `json:"url"`
	CircleID        *string      `json:"circle_id"`
	Comment         string       `json:"comment"`
	EditedComment   *string      `json:"edited_comment"`
	Timestamp       time.Time    `json:"timestamp"`
	Updated         *time.Time   `json:"updated"`
	Removed         bool         `json:"removed"`
	User            userRow      `json:"user"`
	ScoresAggregate sumAggregate `json:"scores_aggregate"`
	Score           *int         `json:"score"`
}

func (c commentRow) toModel() model.Comment {
	score := 0
	switch {
	case c.Score != nil:
		score = *c.Score
	case c.ScoresAggregate.Aggregate.Sum.Score != nil:
		score = *c.ScoresAggregate.Aggregate.Sum.Score
	}
	return model.Comment{
		ID:         c.ID,
		ParentID:   c.ParentID,
		URL:        c.URL,
		CircleID:   c.CircleID,
		Text:       c.Comment,
		EditedText: c.EditedComment,
		CreatedAt:  c.Timestamp,
		UpdatedAt:  c.Updated,
		Removed:    c.Removed,
		Author: model.Author{
			ID:          c.User.ID,
			UUID:        c.User.UUID,
			DisplayName: c.User.DisplayName,
			Image:       c.User.Image,
		},
		ScoreSum: model.IntPtr(score),
	}
}

func toModels(rows []commentRow) []model.Comment {
	out := make([]model.Comment, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out
}

// scope builds the bool_exp limiting comments to public ones or to a circle
// the viewer is a member of.
func scope(where vars, circleID *string, viewerUUID string) vars {
	if circleID == nil {
		where["circle_id"] = vars{"_is_null": true}
		return where
	}
	where["circle_id"] = vars{"_eq": *circleID}
	where["circle"] = vars{"users_circles": vars{"user_uuid": vars{"_eq": viewerUUID}}}
	return where
}

func circleVisible(circleID *string, viewerUUID string) bool {
	if circleID == nil {
		return true
	}
	return validID(*circleID) && validID(viewerUUID)
}

func limitVar(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func (r *Repo) CommentsByURL(ctx context.Context, q model.ThreadQuery) (model.CommentPage, error) {
	page := model.CommentPage{Items: []model.Comment{}, Offset: q.Offset, Limit: q.Limit}
	if !circleVisible(q.CircleID, q.ViewerUUID) {
		return page, nil
	}

	var resp struct {
		Comments          []commentRow   `json:"comments"`
		CommentsAggregate countAggregate `json:"comments_aggregate"`
	}
	where := scope(vars{"url": vars{"_eq": q.URL}}, q.CircleID, q.ViewerUUID)
	err := r.run(ctx, queryCommentsByURL, vars{
		"where":  where,
		"offset": max(q.Offset, 0),
		"limit":  limitVar(q.Limit),
	}, &resp)
	if err != nil {
		return model.CommentPage{}, fmt.Errorf("comments for %s: %w", q.URL, err)
	}

	page.Items = toModels(resp.Comments)
	page.Total = resp.CommentsAggregate.Aggregate.Count
	return page, nil
}

func (r *Repo) LatestPositive(ctx context.Context, q model.LatestQuery) ([]model.Comment, error) {
	if !circleVisible(q.CircleID, q.ViewerUUID) {
		return []model.Comment{}, nil
	}

	var resp struct {
		LatestComments []commentRow `json:"latest_comments"`
	}
	err := r.run(ctx, queryLatest, vars{
		"where":  scope(vars{}, q.CircleID, q.ViewerUUID),
		"offset": max(q.Offset, 0),
		"limit":  limitVar(q.Limit),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("latest comments: %w", err)
	}
	return toModels(resp.LatestComments), nil
}

func (r *Repo) CountComments(ctx context.Context, url string, circleID *string, viewerUUID string) (int, error) {
	if !circleVisible(circleID, viewerUUID) {
		return 0, nil
	}
	var resp struct {
		CommentsAggregate countAggregate `json:"comments_aggregate"`
	}
	where := scope(vars{"url": vars{"_eq": url}}, circleID, viewerUUID)
	if err := r.run(ctx, queryCountComments, vars{"where": where}, &resp); err != nil {
		return 0, fmt.Errorf("count comments for %s: %w", url, err)
	}
	return resp.CommentsAggregate.Aggregate.Count, nil
}

func (r *Repo) CountAll(ctx context.Context, circleID *string, viewerUUID string) (int, error) {
	if !circleVisible(circleID, viewerUUID) {
		return 0, nil
	}
	var resp struct {
		LatestCommentsAggregate countAggregate `json:"latest_comments_aggregate"`
	}
	if err := r.run(ctx, queryCountLatest, vars{"where": scope(vars{}, circleID, viewerUUID)}, &resp); err != nil {
		return 0, fmt.Errorf("count latest comments: %w", err)
	}
	return resp.LatestCommentsAggregate.Aggregate.Count, nil
}

func (r *Repo) CommentByID(ctx context.Context, id string) (model.Comment, error) {
	if !validID(id) {
		return model.Comment{}, storage.ErrNotFound
	}
	var resp struct {
		Comment *commentRow `json:"comments_by_pk"`
	}
	if err := r.run(ctx, queryCommentByID, vars{"id": id}, &resp); err != nil {
		return model.Comment{}, fmt.Errorf("comment %s: %w", id, err)
	}
	if resp.Comment == nil {
		return model.Comment{}, storage.ErrNotFound
	}
	return resp.Comment.toModel(), nil
}

func (r *Repo) CommentsByUser(ctx context.Context, userUUID string) ([]model.Comment, error) {
	if !validID(userUUID) {
		return []model.Comment{}, nil
	}
	var resp struct {
		Comments []commentRow `json:"comments"`
	}
	if err := r.run(ctx, queryCommentsByUser, vars{"user": userUUID}, &resp); err != nil {
		return nil, fmt.Errorf("comments of user %s: %w", userUUID, err)
	}
	return toModels(resp.Comments), nil
}

func (r *Repo) InsertComment(ctx context.Context, in model.NewComment) (model.Comment, error) {
	object := vars{
		"url":       in.URL,
		"comment":   in.Text,
		"user_uuid": in.AuthorUUID,
	}
	if in.ParentID != nil {
		object["parent_id"] = *in.ParentID
	}
	if in.CircleID != nil {
		object["circle_id"] = *in.CircleID
	}

	var resp struct {
		Comment *commentRow `json:"insert_comments_one"`
	}
	if err := r.run(ctx, mutationInsertComment, vars{"object": object}, &resp); err != nil {
		return model.Comment{}, fmt.Errorf("insert comment on %s: %w", in.URL, err)
	}
	if resp.Comment == nil {
		return model.Comment{}, storage.ErrNotFound
	}
	return resp.Comment.toModel(), nil
}

func (r *Repo) EditComment(ctx context.Context, id, authorUUID, text string) (model.Comment, bool, error) {
	return r.updateOwn(ctx, id, authorUUID, vars{"edited_comment": text, "updated": "now()"})
}

func (r *Repo) RemoveComment(ctx context.Context, id, authorUUID string) (model.Comment, bool, error) {
	return r.updateOwn(ctx, id, authorUUID, vars{"removed": true, "updated": "now()"})
}

func (r *Repo) updateOwn(ctx context.Context, id, authorUUID string, set vars) (model.Comment, bool, error) {
	if !validID(id) || !validID(authorUUID) {
		return model.Comment{}, false, nil
	}
	var resp struct {
		UpdateComments struct {
			AffectedRows int          `json:"affected_rows"`
			Returning    []commentRow `json:"returning"`
		} `json:"update_comments"`
	}
	if err := r.run(ctx, mutationUpdateComment, vars{"id": id, "user": authorUUID, "set": set}, &resp); err != nil {
		return model.Comment{}, false, fmt.Errorf("update comment %s: %w", id, err)
	}
	if resp.UpdateComments.AffectedRows == 0 || len(resp.UpdateComments.Returning) == 0 {
		return model.Comment{}, false, nil
	}
	return resp.UpdateComments.Returning[0].toModel(), true, nil
}

func (r *Repo) Vote(ctx context.Context, commentID, userUUID string, v model.Vote) (int, error) {
	if !validID(commentID) || !validID(userUUID) {
		return 0, storage.ErrNotFound
	}
	var resp struct {
		Score *struct {
			Comment struct {
				ScoresAggregate sumAggregate `json:"scores_aggregate"`
			} `json:"comment"`
		} `json:"insert_scores_one"`
	}
	err := r.run(ctx, mutationVote, vars{"comment": commentID, "user": userUUID, "score": int(v)}, &resp)
	if err != nil {
		return 0, fmt.Errorf("vote on %s: %w", commentID, err)
	}
	if resp.Score == nil {
		return 0, storage.ErrNotFound
	}
	if sum := resp.Score.Comment.ScoresAggregate.Aggregate.Sum.Score; sum != nil {
		return *sum, nil
	}
	return 0, nil
}

func (r *Repo) UpsertUser(ctx context.Context, p model.Profile) (model.User, error) {
	object := vars{
		"id":           p.ProviderID,
		"display_name": p.DisplayName,
		"email":        strings.ToLower(strings.TrimSpace(p.Email)),
		"image":        p.Image,
		"access_token": p.AccessToken,
	}
	var resp struct {
		User *struct {
			UUID        string `json:"uuid"`
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
			Email       string `json:"email"`
			Image       string `json:"image"`
			AccessToken string `json:"access_token"`
			ReceiveMail bool   `json:"receive_mail"`
		} `json:"insert_users_one"`
	}
	if err := r.run(ctx, mutationUpsertUser, vars{"object": object}, &resp); err != nil {
		return model.User{}, fmt.Errorf("upsert user %s: %w", p.Email, err)
	}
	if resp.User == nil {
		return model.User{}, storage.ErrNotFound
	}
	u := resp.User
	return model.User{
		ID:          u.ID,
		UUID:        u.UUID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Image:       u.Image,
		AccessToken: u.AccessToken,
		ReceiveMail: u.ReceiveMail,
	}, nil
}

func (r *Repo) SetReceiveMail(ctx context.Context, userUUID string, receive bool) error {
	if !validID(userUUID) {
		return storage.ErrNotFound
	}
	var resp struct {
		User *struct {
			UUID string `json:"uuid"`
		} `json:"update_users_by_pk"`
	}
	if err := r.run(ctx, mutationReceiveMail, vars{"uuid": userUUID, "receive": receive}, &resp); err != nil {
		return fmt.Errorf("receive mail for %s: %w", userUUID, err)
	}
	if resp.User == nil {
		return storage.ErrNotFound
	}
	return nil
}

type circleRow struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (r *Repo) CreateCircle(ctx context.Context, ownerUUID, name, password string) (model.Circle, error) {
	if !validID(ownerUUID) {
		return model.Circle{}, storage.ErrNotFound
	}
	hash, err := storage.HashCirclePassword(password)
	if err != nil {
		return model.Circle{}, err
	}
	var resp struct {
		Circle *circleRow `json:"insert_circles_one"`
	}
	err = r.run(ctx, mutationCreateCircle, vars{"name": name, "password": hash, "owner": ownerUUID}, &resp)
	if err != nil {
		return model.Circle{}, fmt.Errorf("create circle %s: %w", name, err)
	}
	if resp.Circle == nil {
		return model.Circle{}, storage.ErrNotFound
	}
	return model.Circle{ID: resp.Circle.ID, Name: resp.Circle.Name, Password: password, MemberCount: 1}, nil
}

func (r *Repo) JoinCircle(ctx context.Context, userUUID, name, password string) (model.Circle, error) {
	if !validID(userUUID) {
		return model.Circle{}, storage.ErrNotFound
	}
	var found struct {
		Circles []circleRow `json:"circles"`
	}
	if err := r.run(ctx, queryFindCircle, vars{"name": name}, &found); err != nil {
		return model.Circle{}, fmt.Errorf("find circle %s: %w", name, err)
	}
	if len(found.Circles) == 0 || !storage.CirclePasswordMatches(found.Circles[0].Password, password) {
		return model.Circle{}, storage.ErrNotFound
	}
	c := model.Circle{ID: found.Circles[0].ID, Name: found.Circles[0].Name}

	var joined struct {
		Membership *struct {
			CircleID string `json:"circle_id"`
		} `json:"insert_users_circles_one"`
	}
	if err := r.run(ctx, mutationJoinCircle, vars{"user": userUUID, "circle": c.ID}, &joined); err != nil {
		return model.Circle{}, fmt.Errorf("join circle %s: %w", name, err)
	}

	n, err := r.CountCircleMembers(ctx, c.ID)
	if err != nil {
		return model.Circle{}, err
	}
	c.MemberCount = n
	return c, nil
}

func (r *Repo) CountCircleMembers(ctx context.Context, circleID string) (int, error) {
	if !validID(circleID) {
		return 0, storage.ErrNotFound
	}
	return r.countMembers(ctx, vars{"circle_id": vars{"_eq": circleID}})
}

func (r *Repo) countMembers(ctx context.Context, where vars) (int, error) {
	var resp struct {
		UsersCirclesAggregate countAggregate `json:"users_circles_aggregate"`
	}
	if err := r.run(ctx, queryCountMembers, vars{"where": where}, &resp); err != nil {
		return 0, fmt.Errorf("count circle members: %w", err)
	}
	return resp.UsersCirclesAggregate.Aggregate.Count, nil
}

func (r *Repo) LeaveCircle(ctx context.Context, userUUID, circleID string) (bool, error) {
	if !validID(userUUID) || !validID(circleID) {
		return false, nil
	}
	var resp struct {
		Deleted struct {
			AffectedRows int `json:"affected_rows"`
		} `json:"delete_users_circles"`
	}
	if err := r.run(ctx, mutationLeaveCircle, vars{"user": userUUID, "circle": circleID}, &resp); err != nil {
		return false, fmt.Errorf("leave circle %s: %w", circleID, err)
	}
	return resp.Deleted.AffectedRows > 0, nil
}

func (r *Repo) DeleteCircle(ctx context.Context, userUUID, circleID string) (bool, error) {
	if !validID(userUUID) || !validID(circleID) {
		return false, nil
	}
	n, err := r.countMembers(ctx, vars{
		"circle_id": vars{"_eq": circleID},
		"user_uuid": vars{"_eq": userUUID},
	})
	if err != nil || n == 0 {
		return false, err
	}

	var resp struct {
		Circle *struct {
			ID string `json:"id"`
		} `json:"delete_circles_by_pk"`
	}
	if err := r.run(ctx, mutationDeleteCircle, vars{"circle": circleID}, &resp); err != nil {
		return false, fmt.Errorf("delete circle %s: %w", circleID, err)
	}
	return resp.Circle != nil, nil
}

func (r *Repo) CirclesByMember(ctx context.Context, userUUID, url string) ([]model.Circle, error) {
	if !validID(userUUID) {
		return []model.Circle{}, nil
	}
	comments := vars{}
	if url != "" {
		comments["url"] = vars{"_eq": url}
	}

	var resp struct {
		Circles []struct {
			circleRow
			Members  countAggregate `json:"users_circles_aggregate"`
			Comments countAggregate `json:"comments_aggregate"`
		} `json:"circles"`
	}
	if err := r.run(ctx, queryCirclesByMember, vars{"user": userUUID, "comments": comments}, &resp); err != nil {
		return nil, fmt.Errorf("circles of %s: %w", userUUID, err)
	}

	out := make([]model.Circle, 0, len(resp.Circles))
	for _, c := range resp.Circles {
		out = append(out, model.Circle{
			ID:           c.ID,
			Name:         c.Name,
			MemberCount:  c.Members.Aggregate.Count,
			CommentCount: c.Comments.Aggregate.Count,
		})
	}
	return out, nil
}

func (r *Repo) Recipients(ctx context.Context, q model.RecipientQuery) ([]model.Recipient, error) {
	where := vars{"url": vars{"_eq": q.URL}}
	circleName := ""
	if q.CircleID != nil {
		if !validID(*q.CircleID) {
			return nil, storage.ErrNotFound
		}
		var c struct {
			Circle *struct {
				Name string `json:"name"`
			} `json:"circles_by_pk"`
		}
		if err := r.run(ctx, queryCircleName, vars{"circle": *q.CircleID}, &c); err != nil {
			return nil, fmt.Errorf("circle %s: %w", *q.CircleID, err)
		}
		if c.Circle == nil {
			return nil, storage.ErrNotFound
		}
		circleName = c.Circle.Name
		where["circle_id"] = vars{"_eq": *q.CircleID}
		where["user"] = vars{"users_circles": vars{"circle_id": vars{"_eq": *q.CircleID}}}
	} else {
		where["circle_id"] = vars{"_is_null": true}
	}

	var resp struct {
		Comments []struct {
			User struct {
				UUID        string `json:"uuid"`
				Email       string `json:"email"`
				DisplayName string `json:"display_name"`
				ReceiveMail bool   `json:"receive_mail"`
			} `json:"user"`
		} `json:"comments"`
	}
	if err := r.run(ctx, queryRecipients, vars{"where": where}, &resp); err != nil {
		return nil, fmt.Errorf("recipients for %s: %w", q.URL, err)
	}

	seen := make(map[string]bool)
	var out []model.Recipient
	for _, c := range resp.Comments {
		u := c.User
		if u.UUID == q.PosterUUID || seen[u.UUID] {
			continue
		}
		seen[u.UUID] = true
		if !u.ReceiveMail || u.Email == "" {
			continue
		}
		out = append(out, model.Recipient{
			UUID:        u.UUID,
			Email:       u.Email,
			DisplayName: u.DisplayName,
			CircleName:  circleName,
		})
	}
	return out, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
