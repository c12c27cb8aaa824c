package render

import (
	"sync"

	"github.com/willemliu/universal-comments/internal/comment/model"
	"github.com/willemliu/universal-comments/internal/comment/store"
	"github.com/willemliu/universal-comments/internal/comment/tree"
)

// Thread is the rendered tree of a comment store. It rebuilds on every store
// change and keeps the state of comments it has already seen.
type Thread struct {
	mu     sync.RWMutex
	roots  []*model.Comment
	byID   map[string]model.Comment
	states map[string]*NodeState
	noForm bool

	src *store.CommentStore
	sub store.Subscription
}

func NewThread(src *store.CommentStore, noForm bool) *Thread {
	t := &Thread{
		states: make(map[string]*NodeState),
		byID:   make(map[string]model.Comment),
		noForm: noForm,
		src:    src,
	}
	t.sub = src.Subscribe(t.rebuild)
	t.rebuild()
	return t
}

// Close stops following the store.
func (t *Thread) Close() {
	t.src.Unsubscribe(t.sub)
}

func (t *Thread) rebuild() {
	flat := t.src.All()
	roots := tree.Assemble(flat)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.roots = roots
	t.byID = make(map[string]model.Comment, len(flat))
	for _, c := range flat {
		t.byID[c.ID] = c
		if _, ok := t.states[c.ID]; !ok {
			st := NewNodeState(c)
			t.states[c.ID] = &st
		}
	}
}

func (t *Thread) NoForm() bool { return t.noForm }

// Roots returns the current tree. Callers must not modify it.
func (t *Thread) Roots() []*model.Comment {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.roots
}

func (t *Thread) State(id string) (NodeState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[id]
	if !ok {
		return NodeState{}, false
	}
	return *st, true
}

func (t *Thread) update(id string, fn func(st *NodeState, c model.Comment)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[id]
	if !ok {
		return false
	}
	fn(st, t.byID[id])
	return true
}

func (t *Thread) ToggleCollapsed(id string) bool {
	return t.update(id, func(st *NodeState, _ model.Comment) { st.ToggleCollapsed() })
}

func (t *Thread) ToggleReply(id string) bool {
	if t.noForm {
		return false
	}
	return t.update(id, func(st *NodeState, _ model.Comment) { st.ToggleReply() })
}

func (t *Thread) ToggleEdit(id string) bool {
	return t.update(id, func(st *NodeState, _ model.Comment) { st.ToggleEdit() })
}

func (t *Thread) CloseForm(id string) bool {
	return t.update(id, func(st *NodeState, _ model.Comment) { st.CloseForm() })
}

func (t *Thread) ToggleDiff(id string) bool {
	changed := false
	t.update(id, func(st *NodeState, c model.Comment) { changed = st.ToggleDiff(c) })
	return changed
}
