package api

import (
	_ "embed"
	"net/http"
	"text/template"
)

//go:embed static/debug-client.js
var debugClientSource string

var debugClientTemplate = template.Must(template.New("debug-client.js").Parse(debugClientSource))

func (s *Server) handleDebugClientJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")

	tmpl := debugClientTemplate
	if s.jsClientSource != "" {
		custom, err := template.New("debug-client.js").Parse(s.jsClientSource)
		if err != nil {
			log.Error("failed to parse custom debug client template", "error", err)
		} else {
			tmpl = custom
		}
	}

	baseURL := "http://" + r.Host
	if err := tmpl.Execute(w, map[string]string{"BaseURL": baseURL}); err != nil {
		log.Error("failed to render debug client", "error", err)
	}
}

func (s *Server) handleComErrors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"errors": s.comErrors.All()})
}
