package api

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

type page struct {
	Name  string
	Title string
}

var pages = map[string]page{
	"/":         {Name: "dashboard", Title: "Dashboard"},
	"/call":     {Name: "call", Title: "Make a Call"},
	"/settings": {Name: "settings", Title: "Settings"},
	"/agent":    {Name: "agent", Title: "Agent Persona"},
	"/contacts": {Name: "contacts", Title: "Contacts"},
	"/history":  {Name: "history", Title: "Call History"},
}

// navOrder is the order pages appear in the layout navigation.
var navOrder = []string{"/", "/call", "/history", "/contacts", "/agent", "/settings"}

type navItem struct {
	Path   string
	Title  string
	Active bool
}

type pageData struct {
	Title      string
	Version    string
	AuthHeader string
	Nav        []navItem
}

func parsePageTemplates() (map[string]*template.Template, error) {
	out := make(map[string]*template.Template, len(pages))
	for _, p := range pages {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+p.Name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s page: %w", p.Name, err)
		}
		out[p.Name] = tmpl
	}
	return out, nil
}

func (s *server) pagesHandler() http.Handler {
	templates, err := parsePageTemplates()
	if err != nil {
		panic(err)
	}
	authHeader := s.options.AuthHeader
	if authHeader == "" {
		authHeader = "X-Calldesk-Key"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if !requireMethod(w, r, http.MethodGet, http.MethodHead) {
			return
		}

		nav := make([]navItem, 0, len(navOrder))
		for _, path := range navOrder {
			nav = append(nav, navItem{Path: path, Title: pages[path].Title, Active: path == r.URL.Path})
		}

		var body bytes.Buffer
		if err := templates[p.Name].ExecuteTemplate(&body, "layout", pageData{
			Title:      p.Title,
			Version:    s.options.AppVersion,
			AuthHeader: authHeader,
			Nav:        nav,
		}); err != nil {
			s.internalError(w, r, "render page failed", err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body.Bytes())
	})
}
