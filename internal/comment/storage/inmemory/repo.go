package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/willemliu/universal-comments/internal/comment/model"
	"github.com/willemliu/universal-comments/internal/comment/storage"
)

type record struct {
	c model.Comment
}

type Repo struct {
	mu sync.RWMutex

	now      func() time.Time
	comments map[string]*record
	order    []string

	users   map[string]model.User // by uuid
	byEmail map[string]string     // email -> uuid

	scores map[string]map[string]model.Vote // comment id -> user uuid -> vote

	circles map[string]model.Circle
	members map[string]map[string]bool // circle id -> user uuid
}

type Option func(*Repo)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Repo) { r.now = now }
}

func New(opts ...Option) *Repo {
	r := &Repo{
		now:      func() time.Time { return time.Now().UTC() },
		comments: make(map[string]*record),
		users:    make(map[string]model.User),
		byEmail:  make(map[string]string),
		scores:   make(map[string]map[string]model.Vote),
		circles:  make(map[string]model.Circle),
		members:  make(map[string]map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ storage.Repository = (*Repo)(nil)

func (r *Repo) CommentsByURL(ctx context.Context, q model.ThreadQuery) (model.CommentPage, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []model.Comment
	for _, id := range r.order {
		rec := r.comments[id]
		if rec.c.URL != q.URL || !sameCircle(rec.c.CircleID, q.CircleID) {
			continue
		}
		if !r.visibleLocked(rec.c, q.ViewerUUID) {
			continue
		}
		all = append(all, r.withScoreLocked(rec.c))
	}

	total := len(all)
	start := min(max(q.Offset, 0), total)
	end := total
	if q.Limit > 0 {
		end = min(start+q.Limit, total)
	}

	return model.CommentPage{
		Items:  append([]model.Comment{}, all[start:end]...),
		Offset: q.Offset,
		Limit:  q.Limit,
		Total:  total,
	}, nil
}

func (r *Repo) LatestPositive(ctx context.Context, q model.LatestQuery) ([]model.Comment, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.latestLocked(q.CircleID, q.ViewerUUID)
	start := min(max(q.Offset, 0), len(all))
	end := len(all)
	if q.Limit > 0 {
		end = min(start+q.Limit, len(all))
	}
	return append([]model.Comment{}, all[start:end]...), nil
}

func (r *Repo) latestLocked(circleID *string, viewer string) []model.Comment {
	var out []model.Comment
	for i := len(r.order) - 1; i >= 0; i-- {
		rec := r.comments[r.order[i]]
		if rec.c.Removed || !sameCircle(rec.c.CircleID, circleID) {
			continue
		}
		if !r.visibleLocked(rec.c, viewer) {
			continue
		}
		c := r.withScoreLocked(rec.c)
		if c.Score() < 0 {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (r *Repo) CountComments(ctx context.Context, url string, circleID *string, viewerUUID string) (int, error) {
	page, err := r.CommentsByURL(ctx, model.ThreadQuery{URL: url, CircleID: circleID, ViewerUUID: viewerUUID})
	if err != nil {
		return 0, err
	}
	return page.Total, nil
}

func (r *Repo) CountAll(ctx context.Context, circleID *string, viewerUUID string) (int, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.latestLocked(circleID, viewerUUID)), nil
}

func (r *Repo) CommentByID(ctx context.Context, id string) (model.Comment, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.comments[id]
	if !ok {
		return model.Comment{}, storage.ErrNotFound
	}
	return r.withScoreLocked(rec.c), nil
}

func (r *Repo) CommentsByUser(ctx context.Context, userUUID string) ([]model.Comment, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.Comment
	for i := len(r.order) - 1; i >= 0; i-- {
		rec := r.comments[r.order[i]]
		if rec.c.Author.UUID == userUUID {
			out = append(out, r.withScoreLocked(rec.c))
		}
	}
	return out, nil
}

func (r *Repo) InsertComment(ctx context.Context, in model.NewComment) (model.Comment, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	author, ok := r.users[in.AuthorUUID]
	if !ok {
		return model.Comment{}, storage.ErrNotFound
	}
	if in.ParentID != nil {
		if _, ok := r.comments[*in.ParentID]; !ok {
			return model.Comment{}, storage.ErrNotFound
		}
	}
	if in.CircleID != nil && !r.members[*in.CircleID][in.AuthorUUID] {
		return model.Comment{}, storage.ErrNotFound
	}

	c := model.Comment{
		ID:        uuid.NewString(),
		ParentID:  in.ParentID,
		URL:       in.URL,
		CircleID:  in.CircleID,
		Text:      in.Text,
		CreatedAt: r.now(),
		Author: model.Author{
			ID:          author.ID,
			UUID:        author.UUID,
			DisplayName: author.DisplayName,
			Image:       author.Image,
		},
	}
	c = c.Clone()

	r.comments[c.ID] = &record{c: c}
	r.order = append(r.order, c.ID)

	out := c.Clone()
	out.ScoreSum = model.IntPtr(0)
	return out, nil
}

func (r *Repo) EditComment(ctx context.Context, id, authorUUID, text string) (model.Comment, bool, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.comments[id]
	if !ok || rec.c.Author.UUID != authorUUID {
		return model.Comment{}, false, nil
	}
	now := r.now()
	rec.c.EditedText = &text
	rec.c.UpdatedAt = &now
	rec.c = rec.c.Clone()

	return r.withScoreLocked(rec.c), true, nil
}

func (r *Repo) RemoveComment(ctx context.Context, id, authorUUID string) (model.Comment, bool, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.comments[id]
	if !ok || rec.c.Author.UUID != authorUUID {
		return model.Comment{}, false, nil
	}
	now := r.now()
	rec.c.Removed = true
	rec.c.UpdatedAt = &now

	return r.withScoreLocked(rec.c), true, nil
}

func (r *Repo) Vote(ctx context.Context, commentID, userUUID string, v model.Vote) (int, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.comments[commentID]; !ok {
		return 0, storage.ErrNotFound
	}
	if _, ok := r.users[userUUID]; !ok {
		return 0, storage.ErrNotFound
	}
	if r.scores[commentID] == nil {
		r.scores[commentID] = make(map[string]model.Vote)
	}
	r.scores[commentID][userUUID] = v

	return r.sumLocked(commentID), nil
}

// ScoreRows reports how many score rows exist for a comment.
func (r *Repo) ScoreRows(commentID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scores[commentID])
}

func (r *Repo) UpsertUser(ctx context.Context, p model.Profile) (model.User, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(p.Email))
	if id, ok := r.byEmail[email]; ok {
		u := r.users[id]
		u.ID = p.ProviderID
		u.DisplayName = p.DisplayName
		u.Image = p.Image
		u.AccessToken = p.AccessToken
		r.users[id] = u
		return u, nil
	}

	u := model.User{
		ID:          p.ProviderID,
		UUID:        uuid.NewString(),
		DisplayName: p.DisplayName,
		Email:       email,
		Image:       p.Image,
		AccessToken: p.AccessToken,
		ReceiveMail: true,
	}
	r.users[u.UUID] = u
	r.byEmail[email] = u.UUID
	return u, nil
}

func (r *Repo) SetReceiveMail(ctx context.Context, userUUID string, receive bool) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userUUID]
	if !ok {
		return storage.ErrNotFound
	}
	u.ReceiveMail = receive
	r.users[userUUID] = u
	return nil
}

func (r *Repo) CreateCircle(ctx context.Context, ownerUUID, name, password string) (model.Circle, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[ownerUUID]; !ok {
		return model.Circle{}, storage.ErrNotFound
	}
	for _, c := range r.circles {
		if c.Name == name {
			return model.Circle{}, storage.ErrConflict
		}
	}

	hash, err := storage.HashCirclePassword(password)
	if err != nil {
		return model.Circle{}, err
	}
	c := model.Circle{ID: uuid.NewString(), Name: name, Password: hash}
	r.circles[c.ID] = c
	r.members[c.ID] = map[string]bool{ownerUUID: true}

	c.Password = password
	c.MemberCount = 1
	return c, nil
}

func (r *Repo) JoinCircle(ctx context.Context, userUUID, name, password string) (model.Circle, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[userUUID]; !ok {
		return model.Circle{}, storage.ErrNotFound
	}
	for _, c := range r.circles {
		if c.Name != name || !storage.CirclePasswordMatches(c.Password, password) {
			continue
		}
		r.members[c.ID][userUUID] = true
		c.Password = ""
		c.MemberCount = len(r.members[c.ID])
		return c, nil
	}
	return model.Circle{}, storage.ErrNotFound
}

func (r *Repo) CountCircleMembers(ctx context.Context, circleID string) (int, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.circles[circleID]; !ok {
		return 0, storage.ErrNotFound
	}
	return len(r.members[circleID]), nil
}

func (r *Repo) LeaveCircle(ctx context.Context, userUUID, circleID string) (bool, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.members[circleID][userUUID] {
		return false, nil
	}
	delete(r.members[circleID], userUUID)
	return true, nil
}

func (r *Repo) DeleteCircle(ctx context.Context, userUUID, circleID string) (bool, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.members[circleID][userUUID] {
		return false, nil
	}
	delete(r.circles, circleID)
	delete(r.members, circleID)

	kept := r.order[:0]
	for _, id := range r.order {
		rec := r.comments[id]
		if rec.c.CircleID != nil && *rec.c.CircleID == circleID {
			delete(r.comments, id)
			delete(r.scores, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = append([]string(nil), kept...)
	return true, nil
}

func (r *Repo) CirclesByMember(ctx context.Context, userUUID, url string) ([]model.Circle, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.Circle
	for id, c := range r.circles {
		if !r.members[id][userUUID] {
			continue
		}
		c.Password = ""
		c.MemberCount = len(r.members[id])
		for _, rec := range r.comments {
			if rec.c.CircleID == nil || *rec.c.CircleID != id {
				continue
			}
			if url == "" || rec.c.URL == url {
				c.CommentCount++
			}
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Repo) Recipients(ctx context.Context, q model.RecipientQuery) ([]model.Recipient, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	circleName := ""
	if q.CircleID != nil {
		c, ok := r.circles[*q.CircleID]
		if !ok {
			return nil, storage.ErrNotFound
		}
		circleName = c.Name
	}

	seen := make(map[string]bool)
	var out []model.Recipient
	for _, id := range r.order {
		rec := r.comments[id]
		if rec.c.URL != q.URL || !sameCircle(rec.c.CircleID, q.CircleID) {
			continue
		}
		author := rec.c.Author.UUID
		if author == q.PosterUUID || seen[author] {
			continue
		}
		seen[author] = true

		u, ok := r.users[author]
		if !ok || !u.ReceiveMail || u.Email == "" {
			continue
		}
		if q.CircleID != nil && !r.members[*q.CircleID][author] {
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

func (r *Repo) visibleLocked(c model.Comment, viewer string) bool {
	if c.CircleID == nil {
		return true
	}
	if c.Author.UUID == viewer {
		return true
	}
	return r.members[*c.CircleID][viewer]
}

func (r *Repo) withScoreLocked(c model.Comment) model.Comment {
	out := c.Clone()
	if _, ok := r.scores[c.ID]; ok {
		out.ScoreSum = model.IntPtr(r.sumLocked(c.ID))
	}
	return out
}

func (r *Repo) sumLocked(commentID string) int {
	sum := 0
	for _, v := range r.scores[commentID] {
		sum += int(v)
	}
	return sum
}

func sameCircle(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
