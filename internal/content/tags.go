package content

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Tag is one taxonomy entry.
type Tag struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
	PostCount   int    `json:"postCount"`
}

// ListTags returns all tags for site with usage counts, ordered by slug.
func (s *Store) ListTags(site string) ([]Tag, error) {
	db, err := s.openDB(site)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT t.id, t.name, t.slug, t.description,
		(SELECT COUNT(*) FROM posts_tags pt WHERE pt.tag_id = t.id)
		FROM tags t ORDER BY t.slug`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var out []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.Description, &t.PostCount); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTag fetches one tag by id.
func (s *Store) GetTag(site string, id int64) (Tag, error) {
	db, err := s.openDB(site)
	if err != nil {
		return Tag{}, err
	}
	defer db.Close()
	return getTag(db, id)
}

func getTag(db *sql.DB, id int64) (Tag, error) {
	var t Tag
	err := db.QueryRow(`SELECT t.id, t.name, t.slug, t.description,
		(SELECT COUNT(*) FROM posts_tags pt WHERE pt.tag_id = t.id)
		FROM tags t WHERE t.id = ?`, id).Scan(&t.ID, &t.Name, &t.Slug, &t.Description, &t.PostCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Tag{}, fmt.Errorf("%w: tag %d", ErrNotFound, id)
	}
	if err != nil {
		return Tag{}, fmt.Errorf("get tag %d: %w", id, err)
	}
	return t, nil
}

// CreateTag inserts a tag and returns the stored record.
func (s *Store) CreateTag(site string, t Tag) (Tag, error) {
	if strings.TrimSpace(t.Name) == "" {
		return Tag{}, fmt.Errorf("name is required")
	}
	db, err := s.openDB(site)
	if err != nil {
		return Tag{}, err
	}
	defer db.Close()

	slug := t.Slug
	if slug == "" {
		slug = Slugify(t.Name)
	}
	slug, err = uniqueSlug(db, "tags", slug, 0)
	if err != nil {
		return Tag{}, err
	}
	res, err := db.Exec(`INSERT INTO tags (name, slug, description) VALUES (?, ?, ?)`,
		t.Name, slug, t.Description)
	if err != nil {
		return Tag{}, fmt.Errorf("create tag: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Tag{}, fmt.Errorf("create tag: %w", err)
	}
	return getTag(db, id)
}

// UpdateTag applies non-zero fields of t to the stored record.
func (s *Store) UpdateTag(site string, id int64, t Tag) (Tag, error) {
	db, err := s.openDB(site)
	if err != nil {
		return Tag{}, err
	}
	defer db.Close()

	cur, err := getTag(db, id)
	if err != nil {
		return Tag{}, err
	}
	if t.Name != "" {
		cur.Name = t.Name
	}
	if t.Description != "" {
		cur.Description = t.Description
	}
	if t.Slug != "" && t.Slug != cur.Slug {
		slug, err := uniqueSlug(db, "tags", t.Slug, id)
		if err != nil {
			return Tag{}, err
		}
		cur.Slug = slug
	}
	if _, err := db.Exec(`UPDATE tags SET name = ?, slug = ?, description = ? WHERE id = ?`,
		cur.Name, cur.Slug, cur.Description, id); err != nil {
		return Tag{}, fmt.Errorf("update tag %d: %w", id, err)
	}
	return getTag(db, id)
}

// DeleteTag removes a tag and its post associations.
func (s *Store) DeleteTag(site string, id int64) error {
	db, err := s.openDB(site)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := getTag(db, id); err != nil {
		return err
	}
	if _, err := db.Exec(`DELETE FROM posts_tags WHERE tag_id = ?`, id); err != nil {
		return fmt.Errorf("delete tag associations: %w", err)
	}
	if _, err := db.Exec(`DELETE FROM tags WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete tag %d: %w", id, err)
	}
	return nil
}
