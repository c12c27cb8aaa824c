package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/willemliu/universal-comments/internal/canonical"
	"github.com/willemliu/universal-comments/internal/comment/model"
	"github.com/willemliu/universal-comments/internal/comment/pagination"
	"github.com/willemliu/universal-comments/internal/comment/render"
	"github.com/willemliu/universal-comments/internal/comment/storage"
	"github.com/willemliu/universal-comments/internal/comment/store"
	"github.com/willemliu/universal-comments/internal/comment/tree"
	"github.com/willemliu/universal-comments/internal/session"
)

// PageInfo is a snapshot of a pager.
type PageInfo struct {
	Offset      int  `json:"offset"`
	Total       int  `json:"total"`
	HasPrevious bool `json:"has_previous"`
	HasNext     bool `json:"has_next"`
}

func pageInfo(p *pagination.Pager) PageInfo {
	return PageInfo{
		Offset:      p.Offset(),
		Total:       p.Total(),
		HasPrevious: p.HasPrevious(),
		HasNext:     p.HasNext(),
	}
}

// Widget drives one comment thread for one canonical URL: it loads pages
// into the comment store, keeps the latest-comments list and performs writes
// on behalf of the session user.
//
// Read failures are logged and leave empty results. Write failures are logged
// and returned with the store untouched. A write that matched no row is
// reported as not applied, without an error.
type Widget struct {
	url      string
	repo     storage.Repository
	session  *session.Store
	comments *store.CommentStore
	notifier Notifier
	log      zerolog.Logger

	mu       sync.Mutex
	circleID *string
	thread   *pagination.Pager
	latestPg *pagination.Pager
	latest   []model.Comment
}

type WidgetOption func(*Widget)

func WithNotifier(n Notifier) WidgetOption {
	return func(w *Widget) { w.notifier = n }
}

func WithLogger(l zerolog.Logger) WidgetOption {
	return func(w *Widget) { w.log = l }
}

// WithStore lets the caller share a comment store, e.g. with a render.Thread
// built beforehand.
func WithStore(s *store.CommentStore) WidgetOption {
	return func(w *Widget) { w.comments = s }
}

func NewWidget(url string, repo storage.Repository, sess *session.Store, opts ...WidgetOption) *Widget {
	w := &Widget{
		url:      canonical.Normalize(url),
		repo:     repo,
		session:  sess,
		log:      zerolog.Nop(),
		thread:   pagination.NewPager(pagination.ThreadPageSize),
		latestPg: pagination.NewPager(pagination.LatestPageSize),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.comments == nil {
		w.comments = store.New()
	}
	w.log = w.log.With().Str("url", w.url).Logger()
	return w
}

func (w *Widget) URL() string                { return w.url }
func (w *Widget) Store() *store.CommentStore { return w.comments }
func (w *Widget) Session() *session.Store    { return w.session }

func (w *Widget) Thread(noForm bool) *render.Thread {
	return render.NewThread(w.comments, noForm)
}

// Tree assembles the current store contents.
func (w *Widget) Tree() []*model.Comment {
	return tree.Assemble(w.comments.All())
}

func (w *Widget) CircleID() *string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.circleID
}

func (w *Widget) ThreadPage() PageInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return pageInfo(w.thread)
}

func (w *Widget) LatestPage() PageInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return pageInfo(w.latestPg)
}

// Latest returns a copy of the loaded latest comments.
func (w *Widget) Latest() []model.Comment {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]model.Comment, len(w.latest))
	for i, c := range w.latest {
		out[i] = c.Clone()
	}
	return out
}

type threadState struct {
	circleID *string
	offset   int
	limit    int
}

func (w *Widget) threadState() threadState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return threadState{circleID: w.circleID, offset: w.thread.Offset(), limit: w.thread.PageSize()}
}

func (w *Widget) latestState() threadState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return threadState{circleID: w.circleID, offset: w.latestPg.Offset(), limit: w.latestPg.PageSize()}
}

// Load fetches the thread page, its count, the latest comments and their
// count concurrently.
func (w *Widget) Load(ctx context.Context) error {
	ts := w.threadState()
	ls := w.latestState()
	viewer := w.session.UUID()

	var (
		page        model.CommentPage
		threadTotal int
		latest      []model.Comment
		latestTotal int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		page = w.fetchThread(gctx, ts, viewer)
		return nil
	})
	g.Go(func() error {
		n, err := w.repo.CountComments(gctx, w.url, ts.circleID, viewer)
		if err != nil {
			w.log.Error().Err(err).Msg("count comments")
		}
		threadTotal = n
		return nil
	})
	g.Go(func() error {
		latest = w.fetchLatest(gctx, ls, viewer)
		return nil
	})
	g.Go(func() error {
		n, err := w.repo.CountAll(gctx, ls.circleID, viewer)
		if err != nil {
			w.log.Error().Err(err).Msg("count latest comments")
		}
		latestTotal = n
		return nil
	})
	_ = g.Wait()

	w.mu.Lock()
	w.thread.SetTotal(threadTotal)
	w.latestPg.SetTotal(latestTotal)
	w.latest = latest
	w.mu.Unlock()

	w.comments.ReplaceAll(page.Items)
	return ctx.Err()
}

func (w *Widget) fetchThread(ctx context.Context, ts threadState, viewer string) model.CommentPage {
	page, err := w.repo.CommentsByURL(ctx, model.ThreadQuery{
		URL:        w.url,
		CircleID:   ts.circleID,
		ViewerUUID: viewer,
		Offset:     ts.offset,
		Limit:      ts.limit,
	})
	if err != nil {
		w.log.Error().Err(err).Int("offset", ts.offset).Msg("load comments")
		return model.CommentPage{Items: []model.Comment{}}
	}
	return page
}

func (w *Widget) fetchLatest(ctx context.Context, ls threadState, viewer string) []model.Comment {
	latest, err := w.repo.LatestPositive(ctx, model.LatestQuery{
		CircleID:   ls.circleID,
		ViewerUUID: viewer,
		Offset:     ls.offset,
		Limit:      ls.limit,
	})
	if err != nil {
		w.log.Error().Err(err).Int("offset", ls.offset).Msg("load latest comments")
		return []model.Comment{}
	}
	return latest
}

// SelectCircle switches to circleID ("" for the public thread) and reloads
// from the first page.
func (w *Widget) SelectCircle(ctx context.Context, circleID string) error {
	w.mu.Lock()
	w.circleID = model.StringPtr(circleID)
	w.thread.Reset()
	w.latestPg.Reset()
	w.mu.Unlock()

	return w.Load(ctx)
}

func (w *Widget) reloadThread(ctx context.Context) {
	page := w.fetchThread(ctx, w.threadState(), w.session.UUID())
	w.comments.ReplaceAll(page.Items)
}

func (w *Widget) reloadLatest(ctx context.Context) {
	latest := w.fetchLatest(ctx, w.latestState(), w.session.UUID())
	w.mu.Lock()
	w.latest = latest
	w.mu.Unlock()
}

// NextPage moves the thread forward one page. It reports false when there is
// no next page.
func (w *Widget) NextPage(ctx context.Context) bool {
	w.mu.Lock()
	if !w.thread.HasNext() {
		w.mu.Unlock()
		return false
	}
	w.thread.Next()
	w.mu.Unlock()

	w.reloadThread(ctx)
	return true
}

func (w *Widget) PreviousPage(ctx context.Context) bool {
	w.mu.Lock()
	if !w.thread.HasPrevious() {
		w.mu.Unlock()
		return false
	}
	w.thread.Previous()
	w.mu.Unlock()

	w.reloadThread(ctx)
	return true
}

func (w *Widget) NextLatest(ctx context.Context) bool {
	w.mu.Lock()
	if !w.latestPg.HasNext() {
		w.mu.Unlock()
		return false
	}
	w.latestPg.Next()
	w.mu.Unlock()

	w.reloadLatest(ctx)
	return true
}

func (w *Widget) PreviousLatest(ctx context.Context) bool {
	w.mu.Lock()
	if !w.latestPg.HasPrevious() {
		w.mu.Unlock()
		return false
	}
	w.latestPg.Previous()
	w.mu.Unlock()

	w.reloadLatest(ctx)
	return true
}

func (w *Widget) viewer() (model.User, error) {
	u, ok := w.session.Current()
	if !ok || u.UUID == "" {
		return model.User{}, ErrUnauthenticated
	}
	return u, nil
}

// Post inserts a comment (a reply when parentID is set) and appends it to the
// store.
func (w *Widget) Post(ctx context.Context, text, parentID string) (model.Comment, error) {
	u, err := w.viewer()
	if err != nil {
		return model.Comment{}, err
	}
	body, err := validateText(text)
	if err != nil {
		return model.Comment{}, err
	}

	c, err := w.repo.InsertComment(ctx, model.NewComment{
		URL:        w.url,
		AuthorUUID: u.UUID,
		Text:       body,
		ParentID:   model.StringPtr(parentID),
		CircleID:   w.CircleID(),
	})
	if err != nil {
		w.log.Error().Err(err).Str("parent_id", parentID).Msg("post comment")
		return model.Comment{}, mapErr(err, "post on "+w.url)
	}

	w.mu.Lock()
	w.thread.SetTotal(w.thread.Total() + 1)
	w.mu.Unlock()
	w.comments.Append(c)

	if w.notifier != nil {
		if err := w.notifier.CommentPosted(ctx, c); err != nil {
			w.log.Warn().Err(err).Str("comment_id", c.ID).Msg("notify subscribers")
		}
	}
	return c, nil
}

// Vote records the session user's vote, pushes the new aggregate score into
// the store and returns it.
func (w *Widget) Vote(ctx context.Context, commentID string, v model.Vote) (int, error) {
	u, err := w.viewer()
	if err != nil {
		return 0, err
	}
	if !v.Valid() {
		return 0, ErrInvalidInput
	}

	sum, err := w.repo.Vote(ctx, commentID, u.UUID, v)
	if err != nil {
		w.log.Error().Err(err).Str("comment_id", commentID).Msg("vote")
		return 0, mapErr(err, "vote on comment "+commentID)
	}
	w.comments.SetScore(commentID, sum)
	return sum, nil
}

// Edit stores an edited body. The original text is kept so a diff can be
// shown.
func (w *Widget) Edit(ctx context.Context, commentID, text string) (bool, error) {
	u, err := w.viewer()
	if err != nil {
		return false, err
	}
	body, err := validateText(text)
	if err != nil {
		return false, err
	}

	c, ok, err := w.repo.EditComment(ctx, commentID, u.UUID, body)
	if err != nil {
		w.log.Error().Err(err).Str("comment_id", commentID).Msg("edit comment")
		return false, mapErr(err, "edit comment "+commentID)
	}
	if !ok {
		w.log.Debug().Str("comment_id", commentID).Msg("edit matched no comment")
		return false, nil
	}
	w.comments.ApplyPatch(c)
	return true, nil
}

// Remove soft-deletes a comment of the session user.
func (w *Widget) Remove(ctx context.Context, commentID string) (bool, error) {
	u, err := w.viewer()
	if err != nil {
		return false, err
	}

	c, ok, err := w.repo.RemoveComment(ctx, commentID, u.UUID)
	if err != nil {
		w.log.Error().Err(err).Str("comment_id", commentID).Msg("remove comment")
		return false, mapErr(err, "remove comment "+commentID)
	}
	if !ok {
		w.log.Debug().Str("comment_id", commentID).Msg("remove matched no comment")
		return false, nil
	}
	w.comments.ApplyPatch(c)
	return true, nil
}

// SetReceiveMail saves the session user's notification preference.
func (w *Widget) SetReceiveMail(ctx context.Context, receive bool) error {
	u, err := w.viewer()
	if err != nil {
		return err
	}
	if err := w.repo.SetReceiveMail(ctx, u.UUID, receive); err != nil {
		w.log.Error().Err(err).Msg("set receive mail")
		return mapErr(err, "user "+u.UUID)
	}
	w.session.SetReceiveMail(receive)
	return nil
}
