package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/willemliu/universal-comments/internal/cache"
	"github.com/willemliu/universal-comments/internal/canonical"
	"github.com/willemliu/universal-comments/internal/comment/model"
	"github.com/willemliu/universal-comments/internal/comment/pagination"
	"github.com/willemliu/universal-comments/internal/comment/render"
	"github.com/willemliu/universal-comments/internal/comment/service"
	"github.com/willemliu/universal-comments/internal/comment/storage"
	"github.com/willemliu/universal-comments/internal/comment/store"
	"github.com/willemliu/universal-comments/internal/notify"
	"github.com/willemliu/universal-comments/internal/session"
)

const countCacheControl = "max-age=0, s-maxage=60, stale-while-revalidate"

// Notifier sends the new-comment mails for a request.
type Notifier interface {
	Notify(ctx context.Context, req notify.Request) ([]notify.Message, error)
}

// CanonicalFetcher resolves the canonical URL of a remote page.
type CanonicalFetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// Recorder receives backend and cache observations.
type Recorder interface {
	RecordGatewayFailure(operation string)
	RecordCacheLookup(hit bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordGatewayFailure(string) {}
func (nopRecorder) RecordCacheLookup(bool)      {}

type Deps struct {
	Comments  service.CommentService
	Users     session.Upserter
	Notifier  Notifier
	Providers session.Providers
	Counts    cache.CountCache
	Canonical CanonicalFetcher
	Metrics   Recorder
	Log       zerolog.Logger
}

type Handler struct {
	svc       service.CommentService
	users     session.Upserter
	notifier  Notifier
	providers session.Providers
	counts    cache.CountCache
	canonical CanonicalFetcher
	metrics   Recorder
	renderer  *render.Renderer
	log       zerolog.Logger
}

func New(d Deps) *Handler {
	h := &Handler{
		svc:       d.Comments,
		users:     d.Users,
		notifier:  d.Notifier,
		providers: d.Providers,
		counts:    d.Counts,
		canonical: d.Canonical,
		metrics:   d.Metrics,
		renderer:  render.NewRenderer(),
		log:       d.Log,
	}
	if h.metrics == nil {
		h.metrics = nopRecorder{}
	}
	if h.providers == nil {
		h.providers = session.Providers{}
	}
	return h
}

func (h *Handler) Health(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
	writeJSON(w, stdhttp.StatusOK, map[string]any{"result": "ok"})
}

// Count answers {"count": n}. Backend failures answer zero so embedding pages
// never break.
func (h *Handler) Count(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	url := canonical.Normalize(r.URL.Query().Get("canonical"))
	w.Header().Set("Cache-Control", countCacheControl)
	if url == "" {
		writeJSON(w, stdhttp.StatusBadRequest, map[string]any{"error": "canonical is required"})
		return
	}

	ctx := r.Context()
	if h.counts != nil {
		n, err := h.counts.Get(ctx, url)
		if err == nil {
			h.metrics.RecordCacheLookup(true)
			writeJSON(w, stdhttp.StatusOK, map[string]any{"count": n})
			return
		}
		h.metrics.RecordCacheLookup(false)
		if !errors.Is(err, cache.ErrMiss) {
			h.log.Warn().Err(err).Str("url", url).Msg("count cache read failed")
		}
	}

	n, err := h.svc.Count(ctx, url)
	if err != nil {
		h.metrics.RecordGatewayFailure("count")
		h.log.Error().Err(err).Str("url", url).Msg("count comments failed")
		writeJSON(w, stdhttp.StatusOK, map[string]any{"count": 0})
		return
	}

	if h.counts != nil {
		if err := h.counts.Set(ctx, url, n); err != nil {
			h.log.Warn().Err(err).Str("url", url).Msg("count cache write failed")
		}
	}
	writeJSON(w, stdhttp.StatusOK, map[string]any{"count": n})
}

// Comments returns one thread page assembled into a tree.
func (h *Handler) Comments(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	q, ok := threadQuery(w, r)
	if !ok {
		return
	}

	res, err := h.svc.TreePage(r.Context(), q)
	if err != nil {
		h.writeServiceError(w, err, "comments")
		return
	}
	writeJSON(w, stdhttp.StatusOK, res)
}

// Embed renders the thread page as read-only HTML.
func (h *Handler) Embed(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	q, ok := threadQuery(w, r)
	if !ok {
		return
	}

	page, err := h.svc.Thread(r.Context(), q)
	if err != nil {
		h.writeServiceError(w, err, "embed")
		return
	}

	comments := store.New()
	comments.ReplaceAll(page.Items)
	thread := render.NewThread(comments, true)
	defer thread.Close()

	var buf bytes.Buffer
	if err := h.renderer.Render(&buf, thread, nil); err != nil {
		h.log.Error().Err(err).Str("url", q.URL).Msg("render thread failed")
		writeJSON(w, stdhttp.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}

	pager := pagination.NewPager(pagination.ThreadPageSize)
	pager.SetOffset(page.Offset)
	pager.SetTotal(page.Total)
	w.Header().Set("X-Total-Count", strconv.Itoa(page.Total))
	w.Header().Set("X-Has-Next", strconv.FormatBool(pager.HasNext()))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(stdhttp.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) Canonical(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	if h.canonical == nil {
		writeJSON(w, stdhttp.StatusNotFound, map[string]any{"error": "canonical lookup disabled"})
		return
	}
	pageURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if pageURL == "" {
		writeJSON(w, stdhttp.StatusBadRequest, map[string]any{"error": "url is required"})
		return
	}

	c, err := h.canonical.Fetch(r.Context(), pageURL)
	if err != nil {
		writeJSON(w, stdhttp.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, stdhttp.StatusOK, map[string]any{"canonical": c})
}

// Mail notifies earlier commenters on a public page.
func (h *Handler) Mail(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	h.mail(w, r, false)
}

// CircleMail notifies earlier commenters within a circle.
func (h *Handler) CircleMail(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	h.mail(w, r, true)
}

func (h *Handler) mail(w stdhttp.ResponseWriter, r *stdhttp.Request, circle bool) {
	req, err := mailRequest(r)
	if err != nil {
		writeJSON(w, stdhttp.StatusBadRequest, map[string]any{"error": "bad request body"})
		return
	}
	if circle && (req.CircleID == nil || *req.CircleID == "") {
		writeJSON(w, stdhttp.StatusBadRequest, map[string]any{"error": "circleId is required"})
		return
	}
	if !circle {
		req.CircleID = nil
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, stdhttp.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	msgs, err := h.notifier.Notify(r.Context(), req)
	switch {
	case errors.Is(err, notify.ErrCommentMismatch):
		writeJSON(w, stdhttp.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, stdhttp.StatusNotFound, map[string]any{"error": "comment not found"})
		return
	case err != nil:
		h.log.Error().Err(err).Str("url", req.URL).Str("comment", req.CommentUUID).Msg("send notifications failed")
		writeJSON(w, stdhttp.StatusGatewayTimeout, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, stdhttp.StatusOK, map[string]any{"status": "OK", "messages": msgs})
}

// mailRequest reads query parameters first and lets a JSON body override them.
func mailRequest(r *stdhttp.Request) (notify.Request, error) {
	q := r.URL.Query()
	req := notify.Request{
		URL:         q.Get("url"),
		UUID:        q.Get("uuid"),
		CommentUUID: q.Get("commentUuid"),
		CircleID:    model.StringPtr(q.Get("circleId")),
	}
	if r.Body == nil {
		return req, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		return req, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, err
	}
	return req, nil
}

type sessionRequest struct {
	Provider   string `json:"provider"`
	Credential string `json:"credential"`
}

// Session verifies a provider credential and upserts the user.
func (h *Handler) Session(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, stdhttp.StatusBadRequest, map[string]any{"error": "bad json"})
		return
	}
	p, ok := h.providers.Get(req.Provider)
	if !ok {
		writeJSON(w, stdhttp.StatusBadRequest, map[string]any{"error": "unknown provider"})
		return
	}

	sess := session.NewStore()
	u, err := sess.Login(r.Context(), p, req.Credential, h.users)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidToken):
			writeJSON(w, stdhttp.StatusUnauthorized, map[string]any{"error": "invalid credential"})
		case errors.Is(err, session.ErrNoEmail):
			writeJSON(w, stdhttp.StatusBadRequest, map[string]any{"error": "provider returned no e-mail"})
		default:
			h.metrics.RecordGatewayFailure("upsert_user")
			h.log.Error().Err(err).Str("provider", req.Provider).Msg("login failed")
			writeJSON(w, stdhttp.StatusBadGateway, map[string]any{"error": "login failed"})
		}
		return
	}
	writeJSON(w, stdhttp.StatusOK, u)
}

func threadQuery(w stdhttp.ResponseWriter, r *stdhttp.Request) (model.ThreadQuery, bool) {
	q := r.URL.Query()

	url := canonical.Normalize(q.Get("canonical"))
	if url == "" {
		writeJSON(w, stdhttp.StatusBadRequest, map[string]any{"error": "canonical is required"})
		return model.ThreadQuery{}, false
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeJSON(w, stdhttp.StatusBadRequest, map[string]any{"error": "invalid offset"})
			return model.ThreadQuery{}, false
		}
		offset = parsed
	}

	return model.ThreadQuery{
		URL:      url,
		CircleID: model.StringPtr(q.Get("circle")),
		Offset:   offset,
		Limit:    pagination.ThreadPageSize,
	}, true
}

func (h *Handler) writeServiceError(w stdhttp.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeJSON(w, stdhttp.StatusBadRequest, map[string]any{"error": "invalid input"})
	case errors.Is(err, service.ErrNotFound):
		writeJSON(w, stdhttp.StatusNotFound, map[string]any{"error": "not found"})
	default:
		h.metrics.RecordGatewayFailure(op)
		h.log.Error().Err(err).Str("op", op).Msg("backend request failed")
		writeJSON(w, stdhttp.StatusBadGateway, map[string]any{"error": "backend unavailable"})
	}
}

func writeJSON(w stdhttp.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
