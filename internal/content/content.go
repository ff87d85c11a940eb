// Package content implements the domain operations behind the content
// tools: sites, posts, pages, tags, menus, and media. All state lives in a
// per-site directory tree with an embedded SQLite database for structured
// content. The database has no concurrent-writer support; callers are
// expected to serialize access (the dispatcher's execution queue does).
package content

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrUnknownSite reports a site name with no directory under the sites root.
var ErrUnknownSite = errors.New("unknown site")

// Store locates site trees under one root directory:
//
//	<root>/<site>/input/site.yaml
//	<root>/<site>/input/db.sqlite
//	<root>/<site>/input/media/
//	<root>/<site>/input/config/menu.json
//	<root>/<site>/output/
type Store struct {
	root string
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the sites root directory.
func (s *Store) Root() string {
	return s.root
}

// SiteDir returns the directory for site without checking existence.
func (s *Store) SiteDir(site string) string {
	return filepath.Join(s.root, site)
}

// InputDir returns the input directory for site.
func (s *Store) InputDir(site string) string {
	return filepath.Join(s.SiteDir(site), "input")
}

// OutputDir returns the rendered-output directory for site.
func (s *Store) OutputDir(site string) string {
	return filepath.Join(s.SiteDir(site), "output")
}

// MediaDir returns the media directory for site.
func (s *Store) MediaDir(site string) string {
	return filepath.Join(s.InputDir(site), "media")
}

// DatabasePath returns the embedded database location for site.
func (s *Store) DatabasePath(site string) string {
	return filepath.Join(s.InputDir(site), "db.sqlite")
}

// CheckSite verifies the site exists.
func (s *Store) CheckSite(site string) error {
	site = strings.TrimSpace(site)
	if site == "" {
		return fmt.Errorf("site is required")
	}
	info, err := os.Stat(s.SiteDir(site))
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %q", ErrUnknownSite, site)
	}
	return nil
}

// CreateSite materializes the directory tree and schema for a new site.
// Used by provisioning and tests; tool calls only operate on existing sites.
func (s *Store) CreateSite(site string, cfg SiteConfig) error {
	site = strings.TrimSpace(site)
	if site == "" {
		return fmt.Errorf("site is required")
	}
	for _, dir := range []string{s.InputDir(site), s.MediaDir(site), s.OutputDir(site), filepath.Join(s.InputDir(site), "config")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if cfg.Name == "" {
		cfg.Name = site
	}
	if err := s.WriteSiteConfig(site, cfg); err != nil {
		return err
	}
	db, err := s.openDB(site)
	if err != nil {
		return err
	}
	defer db.Close()
	return initSchema(db)
}

// openDB opens the site database for one operation. The handle must be
// closed before the operation returns so the engine's file locks are not
// held across calls.
func (s *Store) openDB(site string) (*sql.DB, error) {
	if err := s.CheckSite(site); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", s.DatabasePath(site))
	if err != nil {
		return nil, fmt.Errorf("open database for %q: %w", site, err)
	}
	// Single connection: the serialization guarantee comes from the
	// dispatcher queue, not from SQLite's own locking.
	db.SetMaxOpenConns(1)
	return db, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS posts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	slug TEXT NOT NULL UNIQUE,
	text TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'published',
	created_at INTEGER NOT NULL,
	modified_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS tags (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	slug TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS posts_tags (
	post_id INTEGER NOT NULL,
	tag_id INTEGER NOT NULL,
	PRIMARY KEY (post_id, tag_id)
);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL slug from a title.
func Slugify(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = slugStrip.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "untitled"
	}
	return slug
}

// uniqueSlug appends a numeric suffix until slug is free in table.
func uniqueSlug(db *sql.DB, table, slug string, excludeID int64) (string, error) {
	candidate := slug
	for i := 2; ; i++ {
		var n int
		err := db.QueryRow(
			fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE slug = ? AND id != ?`, table),
			candidate, excludeID,
		).Scan(&n)
		if err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if n == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", slug, i)
	}
}
