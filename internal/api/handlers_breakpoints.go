package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/curtcox/cideldill/internal/apierr"
	"github.com/curtcox/cideldill/internal/breakpoint"
	"github.com/curtcox/cideldill/internal/metrics"
)

func (s *Server) handleListBreakpoints(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"breakpoints": s.manager.ListBreakpoints()})
}

func (s *Server) handleAddBreakpoint(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FunctionName string `json:"function_name"`
	}
	if err := decodeBody(r, &body); err != nil || body.FunctionName == "" {
		badRequest(w, "function_name is required")
		return
	}
	s.manager.AddBreakpoint(body.FunctionName)
	writeJSON(w, http.StatusOK, map[string]any{"function_name": body.FunctionName})
}

func (s *Server) handleRemoveBreakpoint(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	s.manager.RemoveBreakpoint(name)
	writeJSON(w, http.StatusOK, map[string]any{"function_name": name})
}

func (s *Server) handleAfterBehavior(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var body struct {
		Behavior breakpoint.Behavior `json:"behavior"`
	}
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if body.Behavior == "continue" {
		body.Behavior = breakpoint.BehaviorGo
	}
	if err := s.manager.SetAfterBehavior(name, body.Behavior); err != nil {
		badRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"function_name": name, "behavior": body.Behavior})
}

func (s *Server) handleGetBehavior(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"behavior": s.manager.GetDefaultBehavior()})
}

func (s *Server) handleSetBehavior(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Behavior breakpoint.Behavior `json:"behavior"`
	}
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if body.Behavior == "continue" {
		body.Behavior = breakpoint.BehaviorGo
	}
	if err := s.manager.SetDefaultBehavior(body.Behavior); err != nil {
		badRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"behavior": body.Behavior})
}

func (s *Server) handleListPaused(w http.ResponseWriter, r *http.Request) {
	paused := s.manager.ListPaused()
	out := make([]map[string]any, 0, len(paused))
	for _, pe := range paused {
		out = append(out, map[string]any{
			"pause_id":      pe.PauseID,
			"function_name": pe.CallData.MethodName,
			"paused_at":     pe.PausedAt,
			"call_id":       pe.CallData.CallID,
			"process_key":   pe.CallData.ProcessKey,
			"pretty_args":   pe.CallData.PrettyArgs,
			"pretty_kwargs": pe.CallData.PrettyKwargs,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": out})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	pauseID := mux.Vars(r)["pause_id"]

	var action breakpoint.ResumeAction
	if err := decodeBody(r, &action); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	if err := s.manager.Resume(pauseID, action); err != nil {
		writeAPIError(w, apierr.New(apierr.PauseNotFound, map[string]any{"pause_id": pauseID}))
		return
	}
	metrics.ExecutionsPaused.Dec()
	writeJSON(w, http.StatusOK, map[string]any{"pause_id": pauseID})
}
