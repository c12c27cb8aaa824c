package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/willemliu/universal-comments/internal/comment/model"
	"github.com/willemliu/universal-comments/internal/comment/storage"
)

const scoreExpr = "(SELECT COALESCE(SUM(s.score), 0) FROM scores s WHERE s.comment_id = c.id)"

var commentColumns = []string{
	"c.id::text",
	"c.parent_id::text",
	"c.url",
	"c.circle_id::text",
	"c.comment",
	"c.edited_comment",
	"c.timestamp",
	"c.updated",
	"c.removed",
	"u.id",
	"u.uuid::text",
	"u.display_name",
	"u.image",
	scoreExpr,
}

type Repo struct {
	db   *sql.DB
	psql sq.StatementBuilderType
}

func New(db *sql.DB) *Repo {
	return &Repo{
		db:   db,
		psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

var _ storage.Repository = (*Repo)(nil)

func (r *Repo) selectComments() sq.SelectBuilder {
	return r.psql.Select(commentColumns...).
		From("comments c").
		Join("users u ON u.uuid = c.user_uuid")
}

// scoped restricts a comment query to a circle the viewer belongs to, or to
// public comments when circleID is nil.
func scoped(b sq.SelectBuilder, circleID *string, viewerUUID string) sq.SelectBuilder {
	if circleID == nil {
		return b.Where("c.circle_id IS NULL")
	}
	return b.Where(sq.Eq{"c.circle_id": *circleID}).
		Where(sq.Expr("EXISTS (SELECT 1 FROM users_circles uc WHERE uc.circle_id = c.circle_id AND uc.user_uuid = ?)", viewerUUID))
}

func circleVisible(circleID *string, viewerUUID string) bool {
	if circleID == nil {
		return true
	}
	return validID(*circleID) && validID(viewerUUID)
}

func (r *Repo) CommentsByURL(ctx context.Context, q model.ThreadQuery) (model.CommentPage, error) {
	page := model.CommentPage{Items: []model.Comment{}, Offset: q.Offset, Limit: q.Limit}
	if !circleVisible(q.CircleID, q.ViewerUUID) {
		return page, nil
	}

	total, err := r.CountComments(ctx, q.URL, q.CircleID, q.ViewerUUID)
	if err != nil {
		return model.CommentPage{}, err
	}
	page.Total = total
	if total == 0 {
		return page, nil
	}

	b := scoped(r.selectComments().Where(sq.Eq{"c.url": q.URL}), q.CircleID, q.ViewerUUID).
		OrderBy("c.timestamp ASC", "c.id ASC").
		Offset(uint64(max(q.Offset, 0)))
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}

	items, err := r.queryComments(ctx, b)
	if err != nil {
		return model.CommentPage{}, err
	}
	page.Items = items
	return page, nil
}

func (r *Repo) LatestPositive(ctx context.Context, q model.LatestQuery) ([]model.Comment, error) {
	if !circleVisible(q.CircleID, q.ViewerUUID) {
		return []model.Comment{}, nil
	}

	b := r.latest(r.selectComments(), q.CircleID, q.ViewerUUID).
		OrderBy("c.timestamp DESC", "c.id DESC").
		Offset(uint64(max(q.Offset, 0)))
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}
	return r.queryComments(ctx, b)
}

func (r *Repo) latest(b sq.SelectBuilder, circleID *string, viewerUUID string) sq.SelectBuilder {
	return scoped(b.Where(sq.Eq{"c.removed": false}).Where(scoreExpr+" >= 0"), circleID, viewerUUID)
}

func (r *Repo) CountComments(ctx context.Context, url string, circleID *string, viewerUUID string) (int, error) {
	if !circleVisible(circleID, viewerUUID) {
		return 0, nil
	}
	b := scoped(r.psql.Select("count(*)").From("comments c").Where(sq.Eq{"c.url": url}), circleID, viewerUUID)
	return r.count(ctx, b)
}

func (r *Repo) CountAll(ctx context.Context, circleID *string, viewerUUID string) (int, error) {
	if !circleVisible(circleID, viewerUUID) {
		return 0, nil
	}
	return r.count(ctx, r.latest(r.psql.Select("count(*)").From("comments c"), circleID, viewerUUID))
}

func (r *Repo) count(ctx context.Context, b sq.SelectBuilder) (int, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Repo) CommentByID(ctx context.Context, id string) (model.Comment, error) {
	if !validID(id) {
		return model.Comment{}, storage.ErrNotFound
	}
	items, err := r.queryComments(ctx, r.selectComments().Where(sq.Eq{"c.id": id}))
	if err != nil {
		return model.Comment{}, err
	}
	if len(items) == 0 {
		return model.Comment{}, storage.ErrNotFound
	}
	return items[0], nil
}

func (r *Repo) CommentsByUser(ctx context.Context, userUUID string) ([]model.Comment, error) {
	if !validID(userUUID) {
		return []model.Comment{}, nil
	}
	return r.queryComments(ctx, r.selectComments().
		Where(sq.Eq{"c.user_uuid": userUUID}).
		OrderBy("c.timestamp DESC"))
}

func (r *Repo) InsertComment(ctx context.Context, in model.NewComment) (model.Comment, error) {
	if !validID(in.AuthorUUID) {
		return model.Comment{}, storage.ErrNotFound
	}
	if in.ParentID != nil {
		if _, err := r.CommentByID(ctx, *in.ParentID); err != nil {
			return model.Comment{}, err
		}
	}
	if in.CircleID != nil {
		member, err := r.isMember(ctx, in.AuthorUUID, *in.CircleID)
		if err != nil {
			return model.Comment{}, err
		}
		if !member {
			return model.Comment{}, storage.ErrNotFound
		}
	}

	query, args, err := r.psql.Insert("comments").
		Columns("url", "comment", "user_uuid", "parent_id", "circle_id").
		Values(in.URL, in.Text, in.AuthorUUID, in.ParentID, in.CircleID).
		Suffix("RETURNING id::text").
		ToSql()
	if err != nil {
		return model.Comment{}, fmt.Errorf("build insert: %w", err)
	}

	var id string
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return model.Comment{}, err
	}
	return r.CommentByID(ctx, id)
}

func (r *Repo) EditComment(ctx context.Context, id, authorUUID, text string) (model.Comment, bool, error) {
	return r.updateOwn(ctx, id, authorUUID, sq.Eq{"edited_comment": text})
}

func (r *Repo) RemoveComment(ctx context.Context, id, authorUUID string) (model.Comment, bool, error) {
	return r.updateOwn(ctx, id, authorUUID, sq.Eq{"removed": true})
}

func (r *Repo) updateOwn(ctx context.Context, id, authorUUID string, set sq.Eq) (model.Comment, bool, error) {
	if !validID(id) || !validID(authorUUID) {
		return model.Comment{}, false, nil
	}

	b := r.psql.Update("comments").
		Set("updated", sq.Expr("now()")).
		Where(sq.Eq{"id": id, "user_uuid": authorUUID}).
		Suffix("RETURNING id::text")
	for col, v := range set {
		b = b.Set(col, v)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return model.Comment{}, false, fmt.Errorf("build update: %w", err)
	}

	var got string
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Comment{}, false, nil
	}
	if err != nil {
		return model.Comment{}, false, err
	}

	c, err := r.CommentByID(ctx, got)
	if err != nil {
		return model.Comment{}, false, err
	}
	return c, true, nil
}

func (r *Repo) Vote(ctx context.Context, commentID, userUUID string, v model.Vote) (int, error) {
	if !validID(userUUID) {
		return 0, storage.ErrNotFound
	}
	if _, err := r.CommentByID(ctx, commentID); err != nil {
		return 0, err
	}

	query, args, err := r.psql.Insert("scores").
		Columns("comment_id", "user_id", "score").
		Values(commentID, userUUID, int(v)).
		Suffix("ON CONFLICT ON CONSTRAINT scores_comment_id_user_id_key DO UPDATE SET score = EXCLUDED.score").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build vote: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return 0, err
	}

	return r.count(ctx, r.psql.Select("COALESCE(SUM(score), 0)").From("scores").Where(sq.Eq{"comment_id": commentID}))
}

func (r *Repo) UpsertUser(ctx context.Context, p model.Profile) (model.User, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))

	query, args, err := r.psql.Insert("users").
		Columns("id", "display_name", "email", "image", "access_token").
		Values(p.ProviderID, p.DisplayName, email, p.Image, p.AccessToken).
		Suffix(`ON CONFLICT ON CONSTRAINT users_email_key DO UPDATE
			SET id = EXCLUDED.id, display_name = EXCLUDED.display_name,
				image = EXCLUDED.image, access_token = EXCLUDED.access_token
			RETURNING uuid::text, id, display_name, email, image, access_token, receive_mail`).
		ToSql()
	if err != nil {
		return model.User{}, fmt.Errorf("build upsert user: %w", err)
	}

	var u model.User
	err = r.db.QueryRowContext(ctx, query, args...).
		Scan(&u.UUID, &u.ID, &u.DisplayName, &u.Email, &u.Image, &u.AccessToken, &u.ReceiveMail)
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

func (r *Repo) SetReceiveMail(ctx context.Context, userUUID string, receive bool) error {
	if !validID(userUUID) {
		return storage.ErrNotFound
	}
	query, args, err := r.psql.Update("users").
		Set("receive_mail", receive).
		Where(sq.Eq{"uuid": userUUID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build receive mail: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *Repo) CreateCircle(ctx context.Context, ownerUUID, name, password string) (model.Circle, error) {
	if !validID(ownerUUID) {
		return model.Circle{}, storage.ErrNotFound
	}

	hash, err := storage.HashCirclePassword(password)
	if err != nil {
		return model.Circle{}, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Circle{}, err
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := r.psql.Insert("circles").
		Columns("name", "password").
		Values(name, hash).
		Suffix("RETURNING id::text").
		ToSql()
	if err != nil {
		return model.Circle{}, fmt.Errorf("build circle: %w", err)
	}

	c := model.Circle{Name: name, Password: password, MemberCount: 1}
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&c.ID); err != nil {
		if isUniqueViolation(err) {
			return model.Circle{}, storage.ErrConflict
		}
		return model.Circle{}, err
	}

	query, args, err = r.psql.Insert("users_circles").
		Columns("user_uuid", "circle_id").
		Values(ownerUUID, c.ID).
		ToSql()
	if err != nil {
		return model.Circle{}, fmt.Errorf("build membership: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return model.Circle{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.Circle{}, err
	}
	return c, nil
}

func (r *Repo) JoinCircle(ctx context.Context, userUUID, name, password string) (model.Circle, error) {
	if !validID(userUUID) {
		return model.Circle{}, storage.ErrNotFound
	}

	query, args, err := r.psql.Select("id::text", "name", "password").
		From("circles").
		Where(sq.Eq{"name": name}).
		ToSql()
	if err != nil {
		return model.Circle{}, fmt.Errorf("build find circle: %w", err)
	}

	var c model.Circle
	var stored string
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&c.ID, &c.Name, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Circle{}, storage.ErrNotFound
	}
	if err != nil {
		return model.Circle{}, err
	}
	if !storage.CirclePasswordMatches(stored, password) {
		return model.Circle{}, storage.ErrNotFound
	}

	query, args, err = r.psql.Insert("users_circles").
		Columns("user_uuid", "circle_id").
		Values(userUUID, c.ID).
		Suffix("ON CONFLICT DO NOTHING").
		ToSql()
	if err != nil {
		return model.Circle{}, fmt.Errorf("build join: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return model.Circle{}, err
	}

	c.MemberCount, err = r.CountCircleMembers(ctx, c.ID)
	if err != nil {
		return model.Circle{}, err
	}
	return c, nil
}

func (r *Repo) CountCircleMembers(ctx context.Context, circleID string) (int, error) {
	if !validID(circleID) {
		return 0, storage.ErrNotFound
	}
	return r.count(ctx, r.psql.Select("count(*)").From("users_circles").Where(sq.Eq{"circle_id": circleID}))
}

func (r *Repo) isMember(ctx context.Context, userUUID, circleID string) (bool, error) {
	if !validID(userUUID) || !validID(circleID) {
		return false, nil
	}
	n, err := r.count(ctx, r.psql.Select("count(*)").From("users_circles").
		Where(sq.Eq{"user_uuid": userUUID, "circle_id": circleID}))
	return n > 0, err
}

func (r *Repo) LeaveCircle(ctx context.Context, userUUID, circleID string) (bool, error) {
	if !validID(userUUID) || !validID(circleID) {
		return false, nil
	}
	query, args, err := r.psql.Delete("users_circles").
		Where(sq.Eq{"user_uuid": userUUID, "circle_id": circleID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build leave: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteCircle removes the circle together with its comments. Only a member
// may delete it.
func (r *Repo) DeleteCircle(ctx context.Context, userUUID, circleID string) (bool, error) {
	member, err := r.isMember(ctx, userUUID, circleID)
	if err != nil || !member {
		return false, err
	}

	query, args, err := r.psql.Delete("circles").Where(sq.Eq{"id": circleID}).ToSql()
	if err != nil {
		return false, fmt.Errorf("build delete circle: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *Repo) CirclesByMember(ctx context.Context, userUUID, url string) ([]model.Circle, error) {
	if !validID(userUUID) {
		return []model.Circle{}, nil
	}

	commentCount := sq.Expr("(SELECT count(*) FROM comments cm WHERE cm.circle_id = c.id AND (? = '' OR cm.url = ?))", url, url)
	query, args, err := r.psql.Select("c.id::text", "c.name", "(SELECT count(*) FROM users_circles m WHERE m.circle_id = c.id)").
		Column(commentCount).
		From("circles c").
		Join("users_circles uc ON uc.circle_id = c.id").
		Where(sq.Eq{"uc.user_uuid": userUUID}).
		OrderBy("c.name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build circles: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Circle{}
	for rows.Next() {
		var c model.Circle
		if err := rows.Scan(&c.ID, &c.Name, &c.MemberCount, &c.CommentCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) Recipients(ctx context.Context, q model.RecipientQuery) ([]model.Recipient, error) {
	circleName := ""
	if q.CircleID != nil {
		if !validID(*q.CircleID) {
			return nil, storage.ErrNotFound
		}
		query, args, err := r.psql.Select("name").From("circles").Where(sq.Eq{"id": *q.CircleID}).ToSql()
		if err != nil {
			return nil, fmt.Errorf("build circle name: %w", err)
		}
		err = r.db.QueryRowContext(ctx, query, args...).Scan(&circleName)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
	}

	b := r.psql.Select("u.uuid::text", "u.email", "u.display_name").
		From("comments c").
		Join("users u ON u.uuid = c.user_uuid").
		Where(sq.Eq{"c.url": q.URL}).
		Where("u.receive_mail").
		Where(sq.NotEq{"u.email": ""}).
		GroupBy("u.uuid", "u.email", "u.display_name").
		OrderBy("MIN(c.timestamp)")
	if validID(q.PosterUUID) {
		b = b.Where(sq.NotEq{"c.user_uuid": q.PosterUUID})
	}
	if q.CircleID != nil {
		b = b.Where(sq.Eq{"c.circle_id": *q.CircleID}).
			Where("EXISTS (SELECT 1 FROM users_circles uc WHERE uc.circle_id = c.circle_id AND uc.user_uuid = u.uuid)")
	} else {
		b = b.Where("c.circle_id IS NULL")
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recipients: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Recipient
	for rows.Next() {
		rc := model.Recipient{CircleName: circleName}
		if err := rows.Scan(&rc.UUID, &rc.Email, &rc.DisplayName); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (r *Repo) queryComments(ctx context.Context, b sq.SelectBuilder) ([]model.Comment, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build comments: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Comment, 0, 16)
	for rows.Next() {
		var (
			c        model.Comment
			parentID sql.NullString
			circleID sql.NullString
			edited   sql.NullString
			updated  sql.NullTime
			score    int
		)
		if err := rows.Scan(
			&c.ID, &parentID, &c.URL, &circleID, &c.Text, &edited,
			&c.CreatedAt, &updated, &c.Removed,
			&c.Author.ID, &c.Author.UUID, &c.Author.DisplayName, &c.Author.Image,
			&score,
		); err != nil {
			return nil, err
		}
		if parentID.Valid {
			c.ParentID = &parentID.String
		}
		if circleID.Valid {
			c.CircleID = &circleID.String
		}
		if edited.Valid {
			c.EditedText = &edited.String
		}
		if updated.Valid {
			c.UpdatedAt = &updated.Time
		}
		c.ScoreSum = model.IntPtr(score)
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
