// Package renderer produces the static HTML tree for one site from its
// content database: an index listing published posts, one document per post
// and page, and a copy of the media directory. It runs inside the render
// worker process, never in the dispatcher.
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/quillcms/quilld/internal/content"
)

// Stats summarizes one render run.
type Stats struct {
	Posts int `json:"posts"`
	Pages int `json:"pages"`
	Media int `json:"media"`
}

// Renderer renders one site.
type Renderer struct {
	store *content.Store
	site  string
	md    goldmark.Markdown
}

// New returns a Renderer for site backed by store.
func New(store *content.Store, site string) *Renderer {
	return &Renderer{store: store, site: site, md: goldmark.New()}
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}} - {{.SiteTitle}}</title>
</head>
<body>
<header><h1><a href="/">{{.SiteTitle}}</a></h1>
<nav>{{range .Menu}}<a href="{{.Link}}">{{.Label}}</a> {{end}}</nav>
</header>
<main>
<article>
<h2>{{.Title}}</h2>
{{.Body}}
</article>
</main>
</body>
</html>
`))

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.SiteTitle}}</title>
</head>
<body>
<header><h1>{{.SiteTitle}}</h1>
<nav>{{range .Menu}}<a href="{{.Link}}">{{.Label}}</a> {{end}}</nav>
</header>
<main>
<ul>
{{range .Posts}}<li><a href="/{{.Slug}}/">{{.Title}}</a></li>
{{end}}</ul>
</main>
</body>
</html>
`))

// Render writes the full output tree, reporting coarse progress through
// onProgress (percent, message). Existing output is overwritten in place.
func (r *Renderer) Render(ctx context.Context, onProgress func(float64, string)) (Stats, error) {
	report := func(pct float64, msg string) {
		if onProgress != nil {
			onProgress(pct, msg)
		}
	}
	var stats Stats

	cfg, err := r.store.ReadSiteConfig(r.site)
	if err != nil {
		return stats, err
	}
	siteTitle := cfg.DisplayName
	if siteTitle == "" {
		siteTitle = cfg.Name
	}
	menu, err := r.store.GetMenu(r.site)
	if err != nil {
		return stats, err
	}
	posts, err := r.store.ListPosts(r.site, false)
	if err != nil {
		return stats, err
	}
	pages, err := r.store.ListPosts(r.site, true)
	if err != nil {
		return stats, err
	}
	report(10, "content loaded")

	outDir := r.store.OutputDir(r.site)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return stats, fmt.Errorf("create output dir: %w", err)
	}

	published := posts[:0]
	for _, p := range posts {
		if strings.Contains(p.Status, content.StatusDraft) {
			continue
		}
		published = append(published, p)
	}

	docs := append(append([]content.Post{}, published...), pages...)
	total := len(docs)
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		body, err := r.renderBody(doc.Text)
		if err != nil {
			return stats, fmt.Errorf("render %q: %w", doc.Slug, err)
		}
		var buf bytes.Buffer
		err = pageTemplate.Execute(&buf, map[string]any{
			"Title":     doc.Title,
			"SiteTitle": siteTitle,
			"Menu":      menu.Items,
			"Body":      body,
		})
		if err != nil {
			return stats, fmt.Errorf("render %q: %w", doc.Slug, err)
		}
		docDir := filepath.Join(outDir, doc.Slug)
		if err := os.MkdirAll(docDir, 0o755); err != nil {
			return stats, fmt.Errorf("create %s: %w", docDir, err)
		}
		if err := os.WriteFile(filepath.Join(docDir, "index.html"), buf.Bytes(), 0o644); err != nil {
			return stats, fmt.Errorf("write %q: %w", doc.Slug, err)
		}
		if doc.IsPage {
			stats.Pages++
		} else {
			stats.Posts++
		}
		report(10+float64(i+1)/float64(total+1)*70, fmt.Sprintf("rendered %s", doc.Slug))
	}

	var buf bytes.Buffer
	err = indexTemplate.Execute(&buf, map[string]any{
		"SiteTitle": siteTitle,
		"Menu":      menu.Items,
		"Posts":     published,
	})
	if err != nil {
		return stats, fmt.Errorf("render index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "index.html"), buf.Bytes(), 0o644); err != nil {
		return stats, fmt.Errorf("write index: %w", err)
	}
	report(85, "index rendered")

	copied, err := r.copyMedia()
	if err != nil {
		return stats, err
	}
	stats.Media = copied
	report(100, "render complete")
	return stats, nil
}

// renderBody passes markdown through goldmark; text already marked up as
// HTML (leading '<') is emitted untouched.
func (r *Renderer) renderBody(text string) (template.HTML, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "<") {
		return template.HTML(trimmed), nil
	}
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

func (r *Renderer) copyMedia() (int, error) {
	mediaDir := r.store.MediaDir(r.site)
	entries, err := os.ReadDir(mediaDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read media dir: %w", err)
	}
	outMedia := filepath.Join(r.store.OutputDir(r.site), "media")
	if err := os.MkdirAll(outMedia, 0o755); err != nil {
		return 0, fmt.Errorf("create output media dir: %w", err)
	}
	copied := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(mediaDir, e.Name()), filepath.Join(outMedia, e.Name())); err != nil {
			return copied, err
		}
		copied++
	}
	return copied, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", dst, err)
	}
	return out.Close()
}
