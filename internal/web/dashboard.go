// Package web serves the embedded demo editor and the monitoring dashboard.
package web

import (
	"embed"
	"net/http"
)

//go:embed static/*.html
var static embed.FS

// ServeEditor serves the live feedback editor page
func ServeEditor(w http.ResponseWriter, r *http.Request) {
	serve(w, "static/editor.html")
}

// ServeDashboard serves the bias detection dashboard
func ServeDashboard(w http.ResponseWriter, r *http.Request) {
	serve(w, "static/dashboard.html")
}

func serve(w http.ResponseWriter, name string) {
	page, err := static.ReadFile(name)
	if err != nil {
		http.Error(w, "page not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	w.Write(page)
}
