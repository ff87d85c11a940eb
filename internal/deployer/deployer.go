// Package deployer ships a rendered output tree to a deployment target and
// keeps a manifest of what the target holds. Targets are local directories,
// S3-compatible object stores, and Azure Blob containers. The deployer runs
// inside the deploy worker process.
package deployer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quillcms/quilld/internal/content"
)

// ManifestName is the object key holding the deployment manifest on
// every target.
const ManifestName = "quill-manifest.json"

// Manifest maps slash-separated relative paths to content hashes.
type Manifest map[string]string

// Target is one deployment destination.
type Target interface {
	// Fetch reads an object. found is false when the object does not
	// exist; that is not an error.
	Fetch(ctx context.Context, key string) (data []byte, found bool, err error)
	// Put writes an object.
	Put(ctx context.Context, key string, data []byte) error
	// Delete removes an object. Deleting a missing object is a no-op.
	Delete(ctx context.Context, key string) error
	// Description names the target for logs and result payloads.
	Description() string
}

// NewTarget builds the Target selected by the site's deployment config.
func NewTarget(cfg content.DeploymentConfig) (Target, error) {
	switch cfg.Protocol {
	case "local":
		return NewLocalTarget(cfg.Local)
	case "s3":
		return NewS3Target(cfg.S3)
	case "azure":
		return NewAzureTarget(cfg.Azure)
	case "":
		return nil, fmt.Errorf("site has no deployment protocol configured")
	default:
		return nil, fmt.Errorf("unknown deployment protocol %q", cfg.Protocol)
	}
}

// SyncStats summarizes one sync run.
type SyncStats struct {
	Uploaded int `json:"uploaded"`
	Deleted  int `json:"deleted"`
	Skipped  int `json:"skipped"`
}

// Deployer synchronizes a local directory with a Target.
type Deployer struct {
	target Target
}

// New returns a Deployer for target.
func New(target Target) *Deployer {
	return &Deployer{target: target}
}

// Target returns the deployer's target.
func (d *Deployer) Target() Target {
	return d.target
}

// RemoteManifest fetches the manifest from the target. found is false for
// an empty target that has never been deployed to.
func (d *Deployer) RemoteManifest(ctx context.Context) (Manifest, bool, error) {
	data, found, err := d.target.Fetch(ctx, ManifestName)
	if err != nil {
		return nil, false, fmt.Errorf("fetch manifest: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		// A corrupt manifest forces a full re-upload instead of
		// failing the deploy.
		return Manifest{}, true, nil
	}
	return m, true, nil
}

// Sync uploads every file under dir whose hash differs from remote, deletes
// remote entries with no local counterpart, and writes a fresh manifest.
// onProgress receives (completed, total) upload counts.
func (d *Deployer) Sync(ctx context.Context, dir string, remote Manifest, onProgress func(current, total int64)) (SyncStats, error) {
	var stats SyncStats
	local, err := LocalManifest(dir)
	if err != nil {
		return stats, err
	}
	if remote == nil {
		remote = Manifest{}
	}

	var changed []string
	for key, sum := range local {
		if remote[key] != sum {
			changed = append(changed, key)
		} else {
			stats.Skipped++
		}
	}
	sort.Strings(changed)

	total := int64(len(changed))
	for i, key := range changed {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(key)))
		if err != nil {
			return stats, fmt.Errorf("read %s: %w", key, err)
		}
		if err := d.target.Put(ctx, key, data); err != nil {
			return stats, fmt.Errorf("upload %s: %w", key, err)
		}
		stats.Uploaded++
		if onProgress != nil {
			onProgress(int64(i+1), total)
		}
	}

	for key := range remote {
		if _, ok := local[key]; ok || key == ManifestName {
			continue
		}
		if err := d.target.Delete(ctx, key); err != nil {
			return stats, fmt.Errorf("delete %s: %w", key, err)
		}
		stats.Deleted++
	}

	data, err := json.MarshalIndent(local, "", "  ")
	if err != nil {
		return stats, fmt.Errorf("encode manifest: %w", err)
	}
	if err := d.target.Put(ctx, ManifestName, data); err != nil {
		return stats, fmt.Errorf("write manifest: %w", err)
	}
	return stats, nil
}

// LocalManifest hashes every regular file under dir. Keys are relative,
// slash-separated paths.
func LocalManifest(dir string) (Manifest, error) {
	m := Manifest{}
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !entry.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		sum, err := hashFile(path)
		if err != nil {
			return err
		}
		m[filepath.ToSlash(rel)] = sum
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	return m, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func joinPrefix(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

func contentTypeFor(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
