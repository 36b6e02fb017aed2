package comment

import "time"

// Status is the moderation state of a comment.
type Status string

// Comment statuses.
const (
	StatusPending Status = "pending"
	StatusVisible Status = "visible"
	StatusHidden  Status = "hidden"
)

// Action is a moderation verb.
type Action string

// Moderation actions. ActionRemove is an alias of ActionDelete.
const (
	ActionHide   Action = "hide"
	ActionShow   Action = "show"
	ActionDelete Action = "delete"
	ActionRemove Action = "remove"
)

// Comment represents a row in the ds_comments table.
type Comment struct {
	ID         int64
	DatasetID  int64
	AuthorID   int64
	AuthorName string
	Content    string
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
