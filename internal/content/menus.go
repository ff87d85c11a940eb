package content

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const menuFileName = "menu.json"

// MenuItem is one navigation entry. Items are ordered by their slice
// position; nesting is not supported.
type MenuItem struct {
	Label string `json:"label"`
	Link  string `json:"link"`
}

// Menu is the navigation document for one site.
type Menu struct {
	Items []MenuItem `json:"items"`
}

func (s *Store) menuPath(site string) string {
	return filepath.Join(s.InputDir(site), "config", menuFileName)
}

// GetMenu loads the menu for site. A missing file yields an empty menu.
func (s *Store) GetMenu(site string) (Menu, error) {
	var m Menu
	if err := s.CheckSite(site); err != nil {
		return m, err
	}
	raw, err := os.ReadFile(s.menuPath(site))
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return m, fmt.Errorf("read menu: %w", err)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("parse menu: %w", err)
	}
	return m, nil
}

// SetMenu replaces the whole menu for site.
func (s *Store) SetMenu(site string, m Menu) error {
	if err := s.CheckSite(site); err != nil {
		return err
	}
	for i, item := range m.Items {
		if strings.TrimSpace(item.Label) == "" {
			return fmt.Errorf("menu item %d: label is required", i)
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.menuPath(site)), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode menu: %w", err)
	}
	if err := os.WriteFile(s.menuPath(site), raw, 0o644); err != nil {
		return fmt.Errorf("write menu: %w", err)
	}
	return nil
}

// AddMenuItem appends one item to the menu.
func (s *Store) AddMenuItem(site string, item MenuItem) (Menu, error) {
	if strings.TrimSpace(item.Label) == "" {
		return Menu{}, fmt.Errorf("label is required")
	}
	m, err := s.GetMenu(site)
	if err != nil {
		return Menu{}, err
	}
	m.Items = append(m.Items, item)
	if err := s.SetMenu(site, m); err != nil {
		return Menu{}, err
	}
	return m, nil
}

// RemoveMenuItem removes the first item whose label matches.
func (s *Store) RemoveMenuItem(site, label string) (Menu, error) {
	m, err := s.GetMenu(site)
	if err != nil {
		return Menu{}, err
	}
	for i, item := range m.Items {
		if item.Label == label {
			m.Items = append(m.Items[:i], m.Items[i+1:]...)
			if err := s.SetMenu(site, m); err != nil {
				return Menu{}, err
			}
			return m, nil
		}
	}
	return Menu{}, fmt.Errorf("%w: menu item %q", ErrNotFound, label)
}

// ClearMenu removes all items.
func (s *Store) ClearMenu(site string) error {
	return s.SetMenu(site, Menu{Items: []MenuItem{}})
}
