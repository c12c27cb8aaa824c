// Package store holds the flat list of comments the widget is currently
// showing and notifies subscribers on every change.
package store

import (
	"sync"

	"github.com/willemliu/universal-comments/internal/comment/model"
	"github.com/willemliu/universal-comments/internal/observer"
)

type Subscription = observer.Subscription

type CommentStore struct {
	mu       sync.RWMutex
	comments []model.Comment

	listeners observer.List
}

func New() *CommentStore {
	return &CommentStore{}
}

// ReplaceAll discards the current list and keeps a copy of comments.
func (s *CommentStore) ReplaceAll(comments []model.Comment) {
	s.mu.Lock()
	s.comments = cloneAll(comments)
	s.mu.Unlock()

	s.listeners.Notify()
}

// Append adds c at the end. No re-sort happens: callers append in
// ascending creation order.
func (s *CommentStore) Append(c model.Comment) {
	s.mu.Lock()
	s.comments = append(s.comments, c.Clone())
	s.mu.Unlock()

	s.listeners.Notify()
}

// ApplyPatch copies Text, EditedText, Removed and UpdatedAt from patch onto
// the comment with the same ID. It reports false, and notifies nobody, when
// that comment is not loaded.
func (s *CommentStore) ApplyPatch(patch model.Comment) bool {
	p := patch.Clone()

	s.mu.Lock()
	found := false
	for i := range s.comments {
		if s.comments[i].ID != p.ID {
			continue
		}
		s.comments[i].Text = p.Text
		s.comments[i].EditedText = p.EditedText
		s.comments[i].Removed = p.Removed
		s.comments[i].UpdatedAt = p.UpdatedAt
		found = true
	}
	s.mu.Unlock()

	if found {
		s.listeners.Notify()
	}
	return found
}

// SetScore stores a new aggregate score for id. Like ApplyPatch it reports
// false without notifying when id is not loaded.
func (s *CommentStore) SetScore(id string, sum int) bool {
	s.mu.Lock()
	found := false
	for i := range s.comments {
		if s.comments[i].ID == id {
			s.comments[i].ScoreSum = model.IntPtr(sum)
			found = true
		}
	}
	s.mu.Unlock()

	if found {
		s.listeners.Notify()
	}
	return found
}

func (s *CommentStore) Subscribe(fn func()) Subscription {
	return s.listeners.Subscribe(fn)
}

func (s *CommentStore) Unsubscribe(id Subscription) {
	s.listeners.Unsubscribe(id)
}

// All returns a snapshot that callers may mutate freely.
func (s *CommentStore) All() []model.Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.comments)
}

func (s *CommentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.comments)
}

func cloneAll(in []model.Comment) []model.Comment {
	out := make([]model.Comment, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
