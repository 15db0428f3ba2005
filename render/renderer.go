// Package render produces the server-side application shell for the embedded
// app. The client bundle referenced by the shell takes over once loaded.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"strings"

	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/games"
)

//go:embed templates/*.gohtml
var templatesFS embed.FS

type View string

const (
	ViewHome     View = "home"
	ViewSettings View = "settings"
	ViewNotFound View = "not_found"
)

const defaultTitle = "Board game loader"

// Page is the per-request input of the shell.
type Page struct {
	View  View
	Title string
	Path  string
	Shop  string
	Host  string
	Games Result[[]games.Game]
}

type bridgeConfig struct {
	APIKey        string `json:"apiKey"`
	Host          string `json:"host,omitempty"`
	ForceRedirect bool   `json:"forceRedirect"`
}

type pageData struct {
	Page
	APIKey     string
	BundlePath string
	Bridge     bridgeConfig
}

// SettingsURL and HomeURL keep shop and host on in-app links so the embedded
// frame can be restored after navigation.
func (d pageData) SettingsURL() string {
	return d.link(core.PathSettings)
}

func (d pageData) HomeURL() string {
	return d.link("/")
}

func (d pageData) link(path string) string {
	query := url.Values{}
	if d.Shop != "" {
		query.Set("shop", d.Shop)
	}
	if d.Host != "" {
		query.Set("host", d.Host)
	}
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}

type Config struct {
	APIKey     string
	BundlePath string
}

type Renderer struct {
	apiKey     string
	bundlePath string
	tmpl       *template.Template
}

func NewRenderer(cfg Config) (*Renderer, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("render: api key is required")
	}
	bundlePath := strings.TrimSpace(cfg.BundlePath)
	if bundlePath == "" {
		return nil, fmt.Errorf("render: bundle path is required")
	}
	tmpl, err := template.ParseFS(templatesFS, "templates/*.gohtml")
	if err != nil {
		return nil, fmt.Errorf("render: parse templates: %w", err)
	}
	return &Renderer{
		apiKey:     apiKey,
		bundlePath: bundlePath,
		tmpl:       tmpl,
	}, nil
}

// Render executes the shell for page into w. Output is buffered so a failed
// render never leaves partial markup behind.
func (r *Renderer) Render(w io.Writer, page Page) error {
	if r == nil || r.tmpl == nil {
		return fmt.Errorf("render: renderer is not configured")
	}
	if strings.TrimSpace(page.Title) == "" {
		page.Title = defaultTitle
	}
	switch page.View {
	case ViewHome, ViewSettings, ViewNotFound:
	default:
		page.View = ViewNotFound
	}
	data := pageData{
		Page:       page,
		APIKey:     r.apiKey,
		BundlePath: r.bundlePath,
		Bridge: bridgeConfig{
			APIKey:        r.apiKey,
			Host:          page.Host,
			ForceRedirect: true,
		},
	}
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "shell", data); err != nil {
		return fmt.Errorf("render: execute %s view: %w", page.View, err)
	}
	_, err := buf.WriteTo(w)
	return err
}
