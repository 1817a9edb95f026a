package http

import (
	"embed"
	"html/template"
	"net/http"
	"net/url"
	"time"

	"keyforge/internal/lifecycle"
	"keyforge/internal/middleware"
	"keyforge/pkg/contracts"
)

//go:embed templates/dashboard.html
var templateFS embed.FS

var dashboardTemplate = template.Must(
	template.New("dashboard.html").Funcs(template.FuncMap{
		"ts": func(t time.Time) string {
			return t.UTC().Format("2006-01-02 15:04:05")
		},
		"age": func(d time.Duration) string {
			return d.Truncate(time.Minute).String()
		},
	}).ParseFS(templateFS, "templates/dashboard.html"),
)

// dashboardView is the data handed to the dashboard template. Every field
// is escaped by html/template; cookies and hwids are caller supplied.
type dashboardView struct {
	*lifecycle.Snapshot
	Version   string
	ExportURL string
}

func newDashboardView(snap *lifecycle.Snapshot, r *http.Request) dashboardView {
	export := url.URL{Path: "/user/admin/export.xlsx"}
	// Carry a query token along so the link works from a bookmarked URL
	if token := r.URL.Query().Get(middleware.AdminQueryParam); token != "" {
		export.RawQuery = url.Values{middleware.AdminQueryParam: {token}}.Encode()
	}

	return dashboardView{
		Snapshot:  snap,
		Version:   contracts.Version,
		ExportURL: export.String(),
	}
}
