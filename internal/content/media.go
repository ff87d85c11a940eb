package content

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// imageExtensions are the upload_image accepted formats.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".svg":  true,
	".avif": true,
}

// MediaInfo describes one stored media file.
type MediaInfo struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"sizeBytes"`
	ModifiedAt time.Time `json:"modifiedAt"`
	IsImage    bool      `json:"isImage"`
}

// ListMedia returns the media files for site, sorted by name.
func (s *Store) ListMedia(site string) ([]MediaInfo, error) {
	if err := s.CheckSite(site); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.MediaDir(site))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list media: %w", err)
	}
	var out []MediaInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, MediaInfo{
			Name:       e.Name(),
			Path:       filepath.Join(s.MediaDir(site), e.Name()),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime().UTC(),
			IsImage:    imageExtensions[strings.ToLower(filepath.Ext(e.Name()))],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetMediaInfo returns metadata for one stored media file.
func (s *Store) GetMediaInfo(site, name string) (MediaInfo, error) {
	if err := s.CheckSite(site); err != nil {
		return MediaInfo{}, err
	}
	if err := checkMediaName(name); err != nil {
		return MediaInfo{}, err
	}
	path := filepath.Join(s.MediaDir(site), name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return MediaInfo{}, fmt.Errorf("%w: media %q", ErrNotFound, name)
		}
		return MediaInfo{}, fmt.Errorf("stat media: %w", err)
	}
	return MediaInfo{
		Name:       name,
		Path:       path,
		SizeBytes:  info.Size(),
		ModifiedAt: info.ModTime().UTC(),
		IsImage:    imageExtensions[strings.ToLower(filepath.Ext(name))],
	}, nil
}

// UploadMedia copies the file at sourcePath into the site media directory
// under a random-prefixed name. imageOnly restricts accepted extensions to
// image formats (the upload_image tool).
func (s *Store) UploadMedia(site, sourcePath, fileName string, imageOnly bool) (MediaInfo, error) {
	if err := s.CheckSite(site); err != nil {
		return MediaInfo{}, err
	}
	if strings.TrimSpace(sourcePath) == "" {
		return MediaInfo{}, fmt.Errorf("path is required")
	}
	if fileName == "" {
		fileName = filepath.Base(sourcePath)
	}
	if err := checkMediaName(fileName); err != nil {
		return MediaInfo{}, err
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if imageOnly && !imageExtensions[ext] {
		return MediaInfo{}, fmt.Errorf("unsupported image format %q", ext)
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return MediaInfo{}, fmt.Errorf("open source file: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(s.MediaDir(site), 0o755); err != nil {
		return MediaInfo{}, fmt.Errorf("create media dir: %w", err)
	}
	// Random prefix keeps repeated uploads of the same file name from
	// clobbering each other.
	stored := uuid.NewString()[:8] + "-" + fileName
	dstPath := filepath.Join(s.MediaDir(site), stored)
	dst, err := os.Create(dstPath)
	if err != nil {
		return MediaInfo{}, fmt.Errorf("create media file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return MediaInfo{}, fmt.Errorf("copy media: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return MediaInfo{}, fmt.Errorf("close media file: %w", err)
	}
	return s.GetMediaInfo(site, stored)
}

// DeleteMedia removes one stored media file.
func (s *Store) DeleteMedia(site, name string) error {
	if err := s.CheckSite(site); err != nil {
		return err
	}
	if err := checkMediaName(name); err != nil {
		return err
	}
	path := filepath.Join(s.MediaDir(site), name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: media %q", ErrNotFound, name)
		}
		return fmt.Errorf("delete media: %w", err)
	}
	return nil
}

// checkMediaName rejects names that would escape the media directory.
func checkMediaName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid media name %q", name)
	}
	return nil
}
