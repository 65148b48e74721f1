/*
Package reports joins user reports with the content they point at.

PURPOSE:
  Moderators read the newest reports as flat rows: a link to the reported
  content, its text, and who reported whom. Reports live in the
  relational store; the content they reference lives in both stores and
  may have been deleted since.

KEY CONCEPTS:
  - Report: One row of the reports table
  - Target: Tagged variant naming exactly one kind of reported content
  - LiteReport: The flattened row returned to callers

TARGET KINDS:
  ContractTarget         content_type=contract
  ContractCommentTarget  content_type=comment, parent_type=contract
  PostCommentTarget      content_type=comment, parent_type=post
  UserTarget             content_type=user

  Any other combination is not a Target and the report is dropped.

SEE ALSO:
  - service.go: Concurrent join
  - richtext.go: Comment body flattening
*/
package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/market-engine/generic"
)

// =============================================================================
// ROWS
// =============================================================================

type ContentType string

const (
	ContentContract ContentType = "contract"
	ContentComment  ContentType = "comment"
	ContentUser     ContentType = "user"
)

type ParentType string

const (
	ParentContract ParentType = "contract"
	ParentPost     ParentType = "post"
)

type Report struct {
	ID             string
	UserID         string
	ContentID      string
	ContentType    ContentType
	ContentOwnerID string
	ParentType     ParentType
	ParentID       string
	Description    string
	CreatedAt      time.Time
}

// Comment is a comment on a contract or a post. Content holds the rich
// text document when Text is empty.
type Comment struct {
	ID         string
	UserID     string
	ParentType ParentType
	ParentID   string
	Text       string
	Content    json.RawMessage
	CreatedAt  time.Time
}

type Post struct {
	ID        string
	Slug      string
	Title     string
	CreatorID string
	CreatedAt time.Time
}

// LiteReport is the flattened join result.
type LiteReport struct {
	ReportedByID       string `json:"reportedById"`
	Slug               string `json:"slug"`
	ID                 string `json:"id"`
	Text               string `json:"text"`
	ContentOwnerID     string `json:"contentOwnerId"`
	ReasonsDescription string `json:"reasonsDescription"`
}

// =============================================================================
// TARGETS
// =============================================================================

// Target is implemented by the four reportable content kinds.
type Target interface {
	target()
}

type ContractTarget struct{ ContractID string }

type ContractCommentTarget struct{ ContractID, CommentID string }

type PostCommentTarget struct{ PostID, CommentID string }

type UserTarget struct{ UserID string }

func (ContractTarget) target()        {}
func (ContractCommentTarget) target() {}
func (PostCommentTarget) target()     {}
func (UserTarget) target()            {}

// Target classifies the report. Comments need a parent to be resolvable.
func (r Report) Target() (Target, error) {
	switch r.ContentType {
	case ContentContract:
		return ContractTarget{ContractID: r.ContentID}, nil
	case ContentComment:
		if r.ParentID == "" {
			break
		}
		switch r.ParentType {
		case ParentContract:
			return ContractCommentTarget{ContractID: r.ParentID, CommentID: r.ContentID}, nil
		case ParentPost:
			return PostCommentTarget{PostID: r.ParentID, CommentID: r.ContentID}, nil
		}
	case ContentUser:
		return UserTarget{UserID: r.ContentID}, nil
	}
	return nil, fmt.Errorf("report %s: %w: content %q parent %q",
		r.ID, generic.ErrUnsupportedKind, r.ContentType, r.ParentType)
}

// =============================================================================
// SOURCES
// =============================================================================

// ReportSource lists reports newest first.
type ReportSource interface {
	LatestReports(ctx context.Context, limit int) ([]Report, error)
}

// ContentSource reads comments and posts. Both return generic.ErrNotFound
// for deleted rows.
type ContentSource interface {
	Comment(ctx context.Context, id string) (Comment, error)
	Post(ctx context.Context, id string) (Post, error)
}

// UserSource reads user accounts.
type UserSource interface {
	GetAccount(ctx context.Context, id generic.AccountID) (generic.Account, error)
}

// Recorder counts dropped reports. Implemented by the metrics package.
type Recorder interface {
	ReportDropped(reason string)
}
