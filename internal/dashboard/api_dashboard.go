package dashboard

import (
	"embed"
	"net/http"
)

//go:embed web/index.html
var webFiles embed.FS

// handleStaticFiles serves the single-page status view
func (s *Server) handleStaticFiles(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}

	content, err := webFiles.ReadFile("web/index.html")
	if err != nil {
		http.Error(w, "File read error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(content)
}
