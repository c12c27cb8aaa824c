package model

import "time"

type Author struct {
	ID          string `json:"id"`
	UUID        string `json:"uuid"`
	DisplayName string `json:"display_name"`
	Image       string `json:"image"`
}

// Comment is one posted message. SubComments is filled only by the tree
// assembler and is never serialized.
type Comment struct {
	ID          string     `json:"id"`
	ParentID    *string    `json:"parent_id"`
	URL         string     `json:"url"`
	CircleID    *string    `json:"circle_id"`
	Text        string     `json:"comment"`
	EditedText  *string    `json:"edited_comment"`
	CreatedAt   time.Time  `json:"timestamp"`
	UpdatedAt   *time.Time `json:"updated"`
	Removed     bool       `json:"removed"`
	Author      Author     `json:"user"`
	ScoreSum    *int       `json:"score"`
	SubComments []*Comment `json:"-"`
}

// Clone returns a deep copy without SubComments.
func (c Comment) Clone() Comment {
	out := c
	out.ParentID = cloneString(c.ParentID)
	out.CircleID = cloneString(c.CircleID)
	out.EditedText = cloneString(c.EditedText)
	if c.UpdatedAt != nil {
		t := *c.UpdatedAt
		out.UpdatedAt = &t
	}
	if c.ScoreSum != nil {
		s := *c.ScoreSum
		out.ScoreSum = &s
	}
	out.SubComments = nil
	return out
}

func (c Comment) IsRoot() bool {
	return c.ParentID == nil || *c.ParentID == ""
}

// Body is the text to display: the latest edit when there is one.
func (c Comment) Body() string {
	if c.EditedText != nil {
		return *c.EditedText
	}
	return c.Text
}

func (c Comment) HasEdit() bool {
	return c.EditedText != nil && *c.EditedText != c.Text
}

func (c Comment) Score() int {
	if c.ScoreSum == nil {
		return 0
	}
	return *c.ScoreSum
}

// Vote is one user's score on one comment.
type Vote int

const (
	VoteDown    Vote = -1
	VoteNeutral Vote = 0
	VoteUp      Vote = 1
)

func (v Vote) Valid() bool {
	return v == VoteDown || v == VoteNeutral || v == VoteUp
}

type CommentPage struct {
	Items  []Comment `json:"items"`
	Offset int       `json:"offset"`
	Limit  int       `json:"limit"`
	Total  int       `json:"total"`
}

type CommentNode struct {
	Comment
	Children []CommentNode `json:"children"`
}

type TreePage struct {
	Items  []CommentNode `json:"items"`
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
	Total  int           `json:"total"`
}

func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func IntPtr(n int) *int {
	return &n
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
