package model

type ThreadQuery struct {
	URL        string
	CircleID   *string
	ViewerUUID string
	Offset     int
	Limit      int
}

type LatestQuery struct {
	CircleID   *string
	ViewerUUID string
	Offset     int
	Limit      int
}

type NewComment struct {
	URL        string
	AuthorUUID string
	Text       string
	ParentID   *string
	CircleID   *string
}

type RecipientQuery struct {
	URL        string
	PosterUUID string
	CommentID  string
	CircleID   *string
}
