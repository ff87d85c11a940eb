package content

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound reports a missing post, page, or tag id.
var ErrNotFound = errors.New("not found")

// Status flags. A row's status column is a comma-separated flag set; pages
// are posts carrying the is-page flag (the page tools rely on this
// convention).
const (
	StatusPublished = "published"
	StatusDraft     = "draft"
	StatusIsPage    = "is-page"
)

// Post is one content document. IsPage distinguishes pages from posts; both
// live in the same table.
type Post struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Slug       string    `json:"slug"`
	Text       string    `json:"text"`
	Status     string    `json:"status"`
	IsPage     bool      `json:"isPage"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

func hasFlag(status, flag string) bool {
	for _, f := range strings.Split(status, ",") {
		if strings.TrimSpace(f) == flag {
			return true
		}
	}
	return false
}

func composeStatus(base string, isPage bool) string {
	if base == "" {
		base = StatusPublished
	}
	if isPage && !hasFlag(base, StatusIsPage) {
		return base + "," + StatusIsPage
	}
	return base
}

// ListPosts returns posts (isPage false) or pages (isPage true) for site,
// newest first.
func (s *Store) ListPosts(site string, isPage bool) ([]Post, error) {
	db, err := s.openDB(site)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT id, title, slug, text, status, created_at, modified_at
		FROM posts ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var out []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		if p.IsPage != isPage {
			continue
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(r rowScanner) (Post, error) {
	var (
		p        Post
		created  int64
		modified int64
	)
	if err := r.Scan(&p.ID, &p.Title, &p.Slug, &p.Text, &p.Status, &created, &modified); err != nil {
		return p, fmt.Errorf("scan post: %w", err)
	}
	p.CreatedAt = time.Unix(created, 0).UTC()
	p.ModifiedAt = time.Unix(modified, 0).UTC()
	p.IsPage = hasFlag(p.Status, StatusIsPage)
	return p, nil
}

// GetPost fetches one post or page by id, including its tag slugs.
func (s *Store) GetPost(site string, id int64, isPage bool) (Post, error) {
	db, err := s.openDB(site)
	if err != nil {
		return Post{}, err
	}
	defer db.Close()
	return getPost(db, id, isPage)
}

func getPost(db *sql.DB, id int64, isPage bool) (Post, error) {
	row := db.QueryRow(`SELECT id, title, slug, text, status, created_at, modified_at
		FROM posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Post{}, fmt.Errorf("%w: %s %d", ErrNotFound, kindWord(isPage), id)
		}
		return Post{}, err
	}
	if p.IsPage != isPage {
		return Post{}, fmt.Errorf("%w: %s %d", ErrNotFound, kindWord(isPage), id)
	}
	rows, err := db.Query(`SELECT t.slug FROM tags t
		JOIN posts_tags pt ON pt.tag_id = t.id WHERE pt.post_id = ? ORDER BY t.slug`, id)
	if err != nil {
		return Post{}, fmt.Errorf("load tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return Post{}, fmt.Errorf("scan tag: %w", err)
		}
		p.Tags = append(p.Tags, slug)
	}
	return p, rows.Err()
}

func kindWord(isPage bool) string {
	if isPage {
		return "page"
	}
	return "post"
}

// CreatePost inserts a post or page and returns the stored record.
func (s *Store) CreatePost(site string, p Post) (Post, error) {
	if strings.TrimSpace(p.Title) == "" {
		return Post{}, fmt.Errorf("title is required")
	}
	db, err := s.openDB(site)
	if err != nil {
		return Post{}, err
	}
	defer db.Close()

	slug := p.Slug
	if slug == "" {
		slug = Slugify(p.Title)
	}
	slug, err = uniqueSlug(db, "posts", slug, 0)
	if err != nil {
		return Post{}, err
	}
	now := time.Now().Unix()
	status := composeStatus(p.Status, p.IsPage)
	res, err := db.Exec(`INSERT INTO posts (title, slug, text, status, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?)`, p.Title, slug, p.Text, status, now, now)
	if err != nil {
		return Post{}, fmt.Errorf("create %s: %w", kindWord(p.IsPage), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Post{}, fmt.Errorf("create %s: %w", kindWord(p.IsPage), err)
	}
	if err := setPostTags(db, id, p.Tags); err != nil {
		return Post{}, err
	}
	return getPost(db, id, p.IsPage)
}

// UpdatePost applies non-zero fields of p to the stored record.
func (s *Store) UpdatePost(site string, id int64, p Post, isPage bool) (Post, error) {
	db, err := s.openDB(site)
	if err != nil {
		return Post{}, err
	}
	defer db.Close()

	cur, err := getPost(db, id, isPage)
	if err != nil {
		return Post{}, err
	}
	if p.Title != "" {
		cur.Title = p.Title
	}
	if p.Text != "" {
		cur.Text = p.Text
	}
	if p.Status != "" {
		cur.Status = composeStatus(p.Status, isPage)
	}
	if p.Slug != "" && p.Slug != cur.Slug {
		slug, err := uniqueSlug(db, "posts", p.Slug, id)
		if err != nil {
			return Post{}, err
		}
		cur.Slug = slug
	}
	now := time.Now().Unix()
	if _, err := db.Exec(`UPDATE posts SET title = ?, slug = ?, text = ?, status = ?, modified_at = ?
		WHERE id = ?`, cur.Title, cur.Slug, cur.Text, cur.Status, now, id); err != nil {
		return Post{}, fmt.Errorf("update %s %d: %w", kindWord(isPage), id, err)
	}
	if p.Tags != nil {
		if err := setPostTags(db, id, p.Tags); err != nil {
			return Post{}, err
		}
	}
	return getPost(db, id, isPage)
}

// DeletePost removes a post or page and its tag associations.
func (s *Store) DeletePost(site string, id int64, isPage bool) error {
	db, err := s.openDB(site)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := getPost(db, id, isPage); err != nil {
		return err
	}
	if _, err := db.Exec(`DELETE FROM posts_tags WHERE post_id = ?`, id); err != nil {
		return fmt.Errorf("delete %s tags: %w", kindWord(isPage), err)
	}
	if _, err := db.Exec(`DELETE FROM posts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete %s %d: %w", kindWord(isPage), id, err)
	}
	return nil
}

// setPostTags replaces the tag set for a post. Unknown tag slugs are created
// on the fly.
func setPostTags(db *sql.DB, postID int64, tagSlugs []string) error {
	if tagSlugs == nil {
		return nil
	}
	if _, err := db.Exec(`DELETE FROM posts_tags WHERE post_id = ?`, postID); err != nil {
		return fmt.Errorf("reset post tags: %w", err)
	}
	for _, raw := range tagSlugs {
		slug := Slugify(raw)
		var tagID int64
		err := db.QueryRow(`SELECT id FROM tags WHERE slug = ?`, slug).Scan(&tagID)
		if errors.Is(err, sql.ErrNoRows) {
			res, err := db.Exec(`INSERT INTO tags (name, slug) VALUES (?, ?)`, raw, slug)
			if err != nil {
				return fmt.Errorf("create tag %q: %w", slug, err)
			}
			tagID, err = res.LastInsertId()
			if err != nil {
				return fmt.Errorf("create tag %q: %w", slug, err)
			}
		} else if err != nil {
			return fmt.Errorf("find tag %q: %w", slug, err)
		}
		if _, err := db.Exec(`INSERT OR IGNORE INTO posts_tags (post_id, tag_id) VALUES (?, ?)`, postID, tagID); err != nil {
			return fmt.Errorf("associate tag %q: %w", slug, err)
		}
	}
	return nil
}
