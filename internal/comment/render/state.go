// Package render turns a comment thread into HTML and tracks the per-comment
// view state (collapsed, reply/edit form, diff).
package render

import "github.com/willemliu/universal-comments/internal/comment/model"

type Form int

const (
	FormNone Form = iota
	FormReply
	FormEdit
)

type Mode string

const (
	ModeCollapsed Mode = "collapsed"
	ModeExpanded  Mode = "expanded"
	ModeReplying  Mode = "replying"
	ModeEditing   Mode = "editing"
	ModeDiff      Mode = "diff"
)

// NodeState is the view state of one comment. Reply and edit forms are
// mutually exclusive; the diff flag is independent of them.
type NodeState struct {
	collapsed bool
	form      Form
	diff      bool
}

// NewNodeState starts collapsed for removed or negatively scored comments.
func NewNodeState(c model.Comment) NodeState {
	return NodeState{collapsed: c.Removed || c.Score() < 0}
}

func (s NodeState) Collapsed() bool { return s.collapsed }
func (s NodeState) Form() Form      { return s.form }
func (s NodeState) DiffShown() bool { return s.diff }

func (s NodeState) Mode() Mode {
	switch {
	case s.collapsed:
		return ModeCollapsed
	case s.form == FormReply:
		return ModeReplying
	case s.form == FormEdit:
		return ModeEditing
	case s.diff:
		return ModeDiff
	default:
		return ModeExpanded
	}
}

func (s *NodeState) ToggleCollapsed() {
	s.collapsed = !s.collapsed
}

// ToggleReply opens the reply form, closing an open edit form.
func (s *NodeState) ToggleReply() {
	if s.form == FormReply {
		s.form = FormNone
		return
	}
	s.form = FormReply
}

// ToggleEdit opens the edit form, closing an open reply form.
func (s *NodeState) ToggleEdit() {
	if s.form == FormEdit {
		s.form = FormNone
		return
	}
	s.form = FormEdit
}

func (s *NodeState) CloseForm() {
	s.form = FormNone
}

// ToggleDiff flips the diff view. It is a no-op for comments without an edit.
func (s *NodeState) ToggleDiff(c model.Comment) bool {
	if !c.HasEdit() {
		s.diff = false
		return false
	}
	s.diff = !s.diff
	return true
}

// Affordances are the actions a viewer may take on a comment.
type Affordances struct {
	Remove bool
	Edit   bool
	Vote   bool
	Reply  bool
}

// AffordancesFor returns what viewer may do with c. A nil viewer is anonymous.
func AffordancesFor(c model.Comment, viewer *model.User, noForm bool) Affordances {
	if viewer == nil || viewer.UUID == "" {
		return Affordances{}
	}
	own := viewer.UUID == c.Author.UUID && !c.Removed
	return Affordances{
		Remove: own,
		Edit:   own,
		Vote:   true,
		Reply:  !noForm,
	}
}
