package web

import (
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Ehm-Ehs/project-nexus/internal/auth"
	"github.com/Ehm-Ehs/project-nexus/internal/home"
	"github.com/Ehm-Ehs/project-nexus/internal/library"
	"github.com/Ehm-Ehs/project-nexus/internal/movies"
	"github.com/Ehm-Ehs/project-nexus/internal/onboarding"
)

// Templates manages HTML template rendering.
type Templates struct {
	templates map[string]*template.Template
	funcs     template.FuncMap
}

// NewTemplates creates a new template manager by loading templates from the given filesystem.
func NewTemplates(templatesFS fs.FS) (*Templates, error) {
	t := &Templates{
		templates: make(map[string]*template.Template),
		funcs:     defaultFuncs(),
	}

	if err := t.load(templatesFS); err != nil {
		return nil, err
	}

	return t, nil
}

// Render renders a page template with the given data.
func (t *Templates) Render(w io.Writer, page string, data any) error {
	tmpl, ok := t.templates[page]
	if !ok {
		return fmt.Errorf("template %q not found", page)
	}
	return tmpl.ExecuteTemplate(w, "base", data)
}

// load parses every page together with the layouts and partials.
func (t *Templates) load(templatesFS fs.FS) error {
	layouts, err := fs.Glob(templatesFS, "layouts/*.html")
	if err != nil {
		return fmt.Errorf("finding layouts: %w", err)
	}
	partials, err := fs.Glob(templatesFS, "partials/*.html")
	if err != nil {
		return fmt.Errorf("finding partials: %w", err)
	}
	pages, err := fs.Glob(templatesFS, "pages/*.html")
	if err != nil {
		return fmt.Errorf("finding pages: %w", err)
	}

	common := append(layouts, partials...)
	for _, page := range pages {
		name := strings.TrimSuffix(filepath.Base(page), ".html")
		files := append([]string{page}, common...)

		tmpl, err := template.New(name).Funcs(t.funcs).ParseFS(templatesFS, files...)
		if err != nil {
			return fmt.Errorf("parsing template %s: %w", name, err)
		}
		t.templates[name] = tmpl
	}
	return nil
}

// defaultFuncs returns the default template functions.
func defaultFuncs() template.FuncMap {
	return template.FuncMap{
		// poster returns the movie's poster or a placeholder.
		"poster": func(m movies.Movie) string {
			if m.PosterURL != "" {
				return m.PosterURL
			}
			return "/static/poster-placeholder.svg"
		},

		"rating": func(r float64) string {
			return fmt.Sprintf("%.1f", r)
		},

		// formatDate formats a time as "Jan 2, 2006"
		"formatDate": func(t time.Time) string {
			return t.Format("Jan 2, 2006")
		},

		"contains": slices.Contains[[]string, string],

		// dict builds a map from alternating keys and values, for passing
		// several values to a partial.
		"dict": func(pairs ...any) (map[string]any, error) {
			if len(pairs)%2 != 0 {
				return nil, fmt.Errorf("dict: odd number of arguments")
			}
			m := make(map[string]any, len(pairs)/2)
			for i := 0; i < len(pairs); i += 2 {
				key, ok := pairs[i].(string)
				if !ok {
					return nil, fmt.Errorf("dict: key %v is not a string", pairs[i])
				}
				m[key] = pairs[i+1]
			}
			return m, nil
		},

		"isFavorite": func(favs []movies.Movie, m movies.Movie) bool {
			return movies.IsFavorite(favs, m.Key())
		},

		// add adds two integers (for 1-based indexing in loops)
		"add": func(a, b int) int {
			return a + b
		},
	}
}

// PageData contains common data passed to all page templates.
type PageData struct {
	Title         string
	Identity      *auth.Identity
	Notifications []home.Notification
	CurrentPath   string
	Providers     []string
}

// HomePageData contains data for the home page template.
type HomePageData struct {
	PageData
	Tab       string
	Tabs      []string
	Home      home.Snapshot
	Favorites []movies.Movie
	Lists     []movies.MovieList
	Profile   *library.TasteProfile
	Popular   []movies.Movie
}

// OnboardingPageData contains data for the onboarding page template.
type OnboardingPageData struct {
	PageData
	State        onboarding.State
	StepCount    int
	MinRated     int
	Moods        []onboarding.Option
	Languages    []string
	Countries    []string
	ContentFlags []onboarding.Option
	Candidates   []movies.Movie
}

// candidateLimit caps the titles offered on the rating step.
const candidateLimit = 20

// Home tabs.
const (
	tabTrending    = "trending"
	tabRecommended = "recommended"
	tabFavorites   = "favorites"
	tabLists       = "lists"
	tabProfile     = "profile"
)

var homeTabs = []string{tabTrending, tabRecommended, tabFavorites, tabLists, tabProfile}
