// Package tree turns the flat comment list into a forest of roots with
// their replies attached as SubComments.
package tree

import (
	"errors"

	"github.com/willemliu/universal-comments/internal/comment/model"
)

var errUnreachable = errors.New("tree: comments unreachable from any root")

// Assemble never fails. Comments whose parent is not in flat (a thread split
// by pagination) become roots. On any internal error, including a parent
// cycle, the flat list is returned without nesting.
func Assemble(flat []model.Comment) (roots []*model.Comment) {
	defer func() {
		if r := recover(); r != nil {
			roots = flatCopy(flat)
		}
	}()

	roots, err := assemble(flat)
	if err != nil {
		return flatCopy(flat)
	}
	return roots
}

func assemble(flat []model.Comment) ([]*model.Comment, error) {
	nodes := make([]*model.Comment, len(flat))
	byID := make(map[string]*model.Comment, len(flat))
	for i := range flat {
		c := flat[i].Clone()
		nodes[i] = &c
		if _, dup := byID[c.ID]; !dup {
			byID[c.ID] = nodes[i]
		}
	}

	roots := make([]*model.Comment, 0, len(nodes))
	for _, n := range nodes {
		if n.IsRoot() {
			roots = append(roots, n)
			continue
		}
		parent, ok := byID[*n.ParentID]
		if !ok || parent == n {
			roots = append(roots, n)
			continue
		}
		parent.SubComments = append(parent.SubComments, n)
	}

	if count(roots, make(map[*model.Comment]bool, len(nodes))) != len(nodes) {
		return nil, errUnreachable
	}
	return roots, nil
}

func count(list []*model.Comment, seen map[*model.Comment]bool) int {
	n := 0
	for _, c := range list {
		if seen[c] {
			continue
		}
		seen[c] = true
		n += 1 + count(c.SubComments, seen)
	}
	return n
}

func flatCopy(flat []model.Comment) []*model.Comment {
	out := make([]*model.Comment, len(flat))
	for i := range flat {
		c := flat[i].Clone()
		out[i] = &c
	}
	return out
}

// Flatten walks the forest depth first, parents before children.
func Flatten(roots []*model.Comment) []model.Comment {
	out := make([]model.Comment, 0, len(roots))
	var walk func([]*model.Comment)
	walk = func(list []*model.Comment) {
		for _, c := range list {
			out = append(out, c.Clone())
			walk(c.SubComments)
		}
	}
	walk(roots)
	return out
}

func ToNodes(roots []*model.Comment) []model.CommentNode {
	out := make([]model.CommentNode, 0, len(roots))
	for _, c := range roots {
		out = append(out, model.CommentNode{
			Comment:  c.Clone(),
			Children: ToNodes(c.SubComments),
		})
	}
	return out
}

// Walk visits every comment with its depth, parents before children.
func Walk(roots []*model.Comment, fn func(c *model.Comment, depth int)) {
	var walk func([]*model.Comment, int)
	walk = func(list []*model.Comment, depth int) {
		for _, c := range list {
			fn(c, depth)
			walk(c.SubComments, depth+1)
		}
	}
	walk(roots, 0)
}
