package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/curtcox/cideldill/internal/apierr"
	"github.com/curtcox/cideldill/internal/breakpoint"
	"github.com/curtcox/cideldill/internal/codec"
)

// replBridgeTimeout bounds how long an eval request waits for a live JS
// client to claim and answer it via poll-repl/call-repl-result before
// falling back to the server's own best-effort evaluator.
const replBridgeTimeout = 200 * time.Millisecond

func (s *Server) handleReplStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PauseID string `json:"pause_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	pe, ok := s.manager.GetPaused(body.PauseID)
	if !ok {
		writeAPIError(w, apierr.New(apierr.PauseNotFound, map[string]any{"pause_id": body.PauseID}))
		return
	}

	sessionID, err := s.manager.StartReplSession(body.PauseID, 0, pe.CallData.Args)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID})
}

func (s *Server) handleReplEval(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]

	var body struct {
		Expr string `json:"expr"`
	}
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	session, ok := s.manager.GetReplSession(sessionID)
	if !ok {
		writeAPIError(w, apierr.New(apierr.SessionNotFound, map[string]any{"session_id": sessionID}))
		return
	}

	format := codec.FormatJSON
	if pe, ok := s.manager.GetPaused(session.PauseID); ok && pe.PreferredFormat != "" {
		format = codec.Format(pe.PreferredFormat)
	}

	evalID := uuid.NewString()
	resultCh := s.bridge.enqueue(session.PauseID, evalID, body.Expr)

	select {
	case hostResult := <-resultCh:
		value := codec.Deserialize(hostResult.ResultData, codec.Format(hostResult.ResultSerializationFmt))
		output := fmt.Sprintf("%v", value)
		idx, _ := s.manager.AppendReplTranscript(sessionID, body.Expr, output, "", false, hostResult.ResultCID)
		writeJSON(w, http.StatusOK, map[string]any{"output": output, "is_error": false, "index": idx})

	case <-time.After(replBridgeTimeout):
		result := s.evaluator.Eval(session.Namespace, body.Expr, format)
		errText := ""
		if result.IsError {
			errText = result.Output
		}
		idx, _ := s.manager.AppendReplTranscript(sessionID, body.Expr, result.Output, errText, result.IsError, result.Payload.CID)
		writeJSON(w, http.StatusOK, map[string]any{"output": result.Output, "is_error": result.IsError, "index": idx})
	}
}

func (s *Server) handleReplSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := breakpoint.ReplSessionFilter{Status: q.Get("status"), Search: q.Get("search")}
	if from := q.Get("from_ts"); from != "" {
		if v, err := strconv.ParseFloat(from, 64); err == nil {
			filter.FromTS = v
		}
	}
	if to := q.Get("to_ts"); to != "" {
		if v, err := strconv.ParseFloat(to, 64); err == nil {
			filter.ToTS = v
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.manager.ListReplSessions(filter)})
}
