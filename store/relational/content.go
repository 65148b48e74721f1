package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/warp/market-engine/generic"
	"github.com/warp/market-engine/reports"
)

// ─── Reports ────────────────────────────────────────────────────────────────

func (s *Store) SaveReport(ctx context.Context, r reports.Report) error {
	_, err := s.exec(ctx, `
		INSERT INTO reports (id, user_id, content_id, content_type, content_owner_id,
			parent_type, parent_id, description, created_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.ContentID, string(r.ContentType), r.ContentOwnerID,
		nullString(string(r.ParentType)), nullString(r.ParentID), nullString(r.Description),
		r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save report %s: %w", r.ID, err)
	}
	return nil
}

// LatestReports returns up to limit reports, newest first.
func (s *Store) LatestReports(ctx context.Context, limit int) ([]reports.Report, error) {
	rows, err := s.query(ctx, `
		SELECT id, user_id, content_id, content_type, content_owner_id,
			parent_type, parent_id, description, created_time
		FROM reports
		ORDER BY created_time DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reports.Report
	for rows.Next() {
		var (
			r                          reports.Report
			contentType                string
			parentType, parentID, desc sql.NullString
			createdMillis              int64
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.ContentID, &contentType, &r.ContentOwnerID,
			&parentType, &parentID, &desc, &createdMillis); err != nil {
			return nil, err
		}
		r.ContentType = reports.ContentType(contentType)
		r.ParentType = reports.ParentType(parentType.String)
		r.ParentID = parentID.String
		r.Description = desc.String
		r.CreatedAt = time.UnixMilli(createdMillis)
		out = append(out, r)
	}
	return out, mapErr(rows.Err())
}

// ─── Comments and posts ─────────────────────────────────────────────────────

func (s *Store) SaveComment(ctx context.Context, c reports.Comment) error {
	var content sql.NullString
	if len(c.Content) > 0 {
		content = sql.NullString{String: string(c.Content), Valid: true}
	}
	_, err := s.exec(ctx, `
		INSERT INTO comments (id, user_id, parent_type, parent_id, text, content, created_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			content = excluded.content`,
		c.ID, c.UserID, string(c.ParentType), c.ParentID, nullString(c.Text), content,
		c.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save comment %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) Comment(ctx context.Context, id string) (reports.Comment, error) {
	var (
		c             reports.Comment
		parentType    string
		text, content sql.NullString
		createdMillis int64
	)
	err := s.queryRow(ctx, `
		SELECT id, user_id, parent_type, parent_id, text, content, created_time
		FROM comments WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &parentType, &c.ParentID, &text, &content, &createdMillis)
	if err != nil {
		return reports.Comment{}, notFound(err, "comment", id)
	}
	c.ParentType = reports.ParentType(parentType)
	c.Text = text.String
	if content.Valid {
		c.Content = json.RawMessage(content.String)
	}
	c.CreatedAt = time.UnixMilli(createdMillis)
	return c, nil
}

func (s *Store) SavePost(ctx context.Context, p reports.Post) error {
	_, err := s.exec(ctx, `
		INSERT INTO posts (id, slug, title, creator_id, created_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			slug = excluded.slug,
			title = excluded.title`,
		p.ID, p.Slug, p.Title, p.CreatorID, p.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save post %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) Post(ctx context.Context, id string) (reports.Post, error) {
	var (
		p             reports.Post
		createdMillis int64
	)
	err := s.queryRow(ctx, `
		SELECT id, slug, title, creator_id, created_time
		FROM posts WHERE id = ?`, id,
	).Scan(&p.ID, &p.Slug, &p.Title, &p.CreatorID, &createdMillis)
	if err != nil {
		return reports.Post{}, notFound(err, "post", id)
	}
	p.CreatedAt = time.UnixMilli(createdMillis)
	return p, nil
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, generic.ErrNotFound)
	}
	return mapErr(err)
}
