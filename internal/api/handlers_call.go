package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/curtcox/cideldill/internal/apierr"
	"github.com/curtcox/cideldill/internal/breakpoint"
	"github.com/curtcox/cideldill/internal/calllog"
	"github.com/curtcox/cideldill/internal/codec"
	"github.com/curtcox/cideldill/internal/metrics"
)

// prettyValue renders value for the pretty_args/pretty_kwargs wire
// fields: a degraded argument (its encoder raised) renders as its
// Placeholder's own JSON shape, carrying "__placeholder__":true, rather
// than Go's default struct formatting.
func prettyValue(value any) string {
	if p, ok := value.(*codec.Placeholder); ok {
		if raw, err := json.Marshal(p); err == nil {
			return string(raw)
		}
	}
	return fmt.Sprintf("%v", value)
}

type callStartRequest struct {
	MethodName       string                `json:"method_name"`
	Target           *cidPayload           `json:"target"`
	Args             []cidPayload          `json:"args"`
	Kwargs           map[string]cidPayload `json:"kwargs"`
	CallSite         calllog.CallSite      `json:"call_site"`
	ProcessPID       int                   `json:"process_pid"`
	ProcessStartTime float64               `json:"process_start_time"`
	PageURL          string                `json:"page_url,omitempty"`
	PreferredFormat  string                `json:"preferred_format,omitempty"`
	Signature        string                `json:"signature,omitempty"`
}

func (s *Server) handleCallStart(w http.ResponseWriter, r *http.Request) {
	var req callStartRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	allPayloads := append([]cidPayload{}, req.Args...)
	if req.Target != nil {
		allPayloads = append(allPayloads, *req.Target)
	}
	for _, p := range req.Kwargs {
		allPayloads = append(allPayloads, p)
	}

	blobs := map[string][]byte{}
	var needExisting []string
	if apiErr := collectPayloads(allPayloads, blobs, &needExisting); apiErr != nil {
		writeAPIError(w, apiErr)
		return
	}
	if len(blobs) > 0 {
		if err := s.cids.PutMany(blobs); err != nil {
			writeAPIError(w, apierr.New(apierr.CIDMismatch, map[string]any{"message": err.Error()}))
			return
		}
	}
	if len(needExisting) > 0 {
		missing, err := s.cids.Missing(needExisting)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		if len(missing) > 0 {
			writeAPIError(w, apierr.New(apierr.CIDNotFound, map[string]any{"missing_cids": missing}))
			return
		}
	}

	preferredFormat := codec.Format(req.PreferredFormat)
	if preferredFormat == "" {
		preferredFormat = codec.FormatJSON
	}

	decodedArgs := map[string]any{}
	prettyArgs := make([]string, 0, len(req.Args))
	for i, p := range req.Args {
		value, err := s.decodePayloadValue(p, preferredFormat)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		if ph, ok := value.(*codec.Placeholder); ok {
			s.comErrors.Add("call/start:pickle_error", ph.PickleError)
		}
		decodedArgs[fmt.Sprintf("%d", i)] = value
		prettyArgs = append(prettyArgs, prettyValue(value))
	}
	prettyKwargs := make(map[string]string, len(req.Kwargs))
	for name, p := range req.Kwargs {
		value, err := s.decodePayloadValue(p, preferredFormat)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		if ph, ok := value.(*codec.Placeholder); ok {
			s.comErrors.Add("call/start:pickle_error", ph.PickleError)
		}
		decodedArgs[name] = value
		prettyKwargs[name] = prettyValue(value)
	}

	processKey := s.nextProcessKey(req.ProcessStartTime, req.ProcessPID)
	callID := s.nextCallID(processKey)

	callData := breakpoint.CallData{
		CallID:           callID,
		MethodName:       req.MethodName,
		CallSite:         req.CallSite,
		ProcessPID:       req.ProcessPID,
		ProcessStartTime: req.ProcessStartTime,
		ProcessKey:       processKey,
		PageURL:          req.PageURL,
		Signature:        req.Signature,
		PrettyArgs:       prettyArgs,
		PrettyKwargs:     prettyKwargs,
		Args:             decodedArgs,
		PreferredFormat:  string(preferredFormat),
	}
	s.manager.TrackCall(callData)
	metrics.CallsStarted.WithLabelValues(req.MethodName).Inc()

	if !s.manager.ShouldPause(req.MethodName) {
		writeJSON(w, http.StatusOK, map[string]any{"call_id": callID, "action": "continue"})
		return
	}

	pauseID := s.manager.AddPaused(callData)
	metrics.ExecutionsPaused.Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"call_id":          callID,
		"action":           "poll",
		"poll_url":         "/api/poll/" + pauseID,
		"poll_interval_ms": 150,
	})
}

// nextProcessKey and nextCallID are declared in server.go alongside the
// counters they guard.

type callCompleteRequest struct {
	CallID       string                 `json:"call_id"`
	Status       calllog.Status         `json:"status"`
	ResultCID    string                 `json:"result_cid,omitempty"`
	ResultData   string                 `json:"result_data,omitempty"`
	ResultFormat string                 `json:"result_format,omitempty"`
	Exception    *calllog.ExceptionInfo `json:"exception,omitempty"`
}

func (s *Server) handleCallComplete(w http.ResponseWriter, r *http.Request) {
	var req callCompleteRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	callData, _ := s.manager.PopCallData(req.CallID)

	var resultCID string
	if req.ResultCID != "" {
		payload := cidPayload{CID: req.ResultCID, Data: req.ResultData, Format: req.ResultFormat}
		blobs := map[string][]byte{}
		var needExisting []string
		if apiErr := collectPayloads([]cidPayload{payload}, blobs, &needExisting); apiErr != nil {
			writeAPIError(w, apiErr)
			return
		}
		if len(blobs) > 0 {
			if err := s.cids.PutMany(blobs); err != nil {
				writeAPIError(w, apierr.New(apierr.CIDMismatch, map[string]any{"message": err.Error()}))
				return
			}
		}
		if len(needExisting) > 0 {
			missing, err := s.cids.Missing(needExisting)
			if err != nil {
				badRequest(w, err.Error())
				return
			}
			if len(missing) > 0 {
				writeAPIError(w, apierr.New(apierr.CIDNotFound, map[string]any{"missing_cids": missing}))
				return
			}
		}
		resultCID = req.ResultCID
	}

	record := calllog.CallRecord{
		CallID:           req.CallID,
		MethodName:       callData.MethodName,
		Status:           req.Status,
		Args:             callData.Args,
		PrettyArgs:       callData.PrettyArgs,
		PrettyKwargs:     callData.PrettyKwargs,
		Signature:        callData.Signature,
		CallSite:         callData.CallSite,
		ProcessPID:       callData.ProcessPID,
		ProcessStartTime: callData.ProcessStartTime,
		ProcessKey:       callData.ProcessKey,
		PageURL:          callData.PageURL,
		StartedAt:        callData.CallSite.Timestamp,
		CompletedAt:      nowSeconds(),
		ResultCID:        resultCID,
		Exception:        req.Exception,
	}
	if err := s.manager.RecordCall(record); err != nil {
		badRequest(w, err.Error())
		return
	}
	metrics.CallsCompleted.WithLabelValues(string(req.Status)).Inc()

	writeJSON(w, http.StatusOK, map[string]any{"call_id": req.CallID})
}

// handleCallHistory lists completed calls from the call log, newest
// last (calllog.Store.List's natural order), optionally narrowed by
// the function_name/process_key/status query parameters.
func (s *Server) handleCallHistory(w http.ResponseWriter, r *http.Request) {
	filters := calllog.Filters{
		FunctionName: r.URL.Query().Get("function_name"),
		ProcessKey:   r.URL.Query().Get("process_key"),
		Status:       calllog.Status(r.URL.Query().Get("status")),
	}
	records, err := s.calls.List(filters)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": records})
}

func (s *Server) handleCallEvent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CallID  string `json:"call_id"`
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	log.Info("call event", "call_id", body.CallID, "type", body.Type, "message", body.Message)
	if body.Type == "pickle_error" {
		s.comErrors.Add("call/event:"+body.Type, body.Message)
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleCallReplResult(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EvalID                 string `json:"eval_id"`
		SessionID              string `json:"session_id"`
		PauseID                string `json:"pause_id"`
		ResultCID              string `json:"result_cid"`
		ResultData             string `json:"result_data"`
		ResultSerializationFmt string `json:"result_serialization_format"`
	}
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(body.ResultData)
	if err != nil {
		badRequest(w, "invalid base64 result_data")
		return
	}
	s.bridge.deliver(body.EvalID, replEvalResult{
		ResultCID:              body.ResultCID,
		ResultData:             raw,
		ResultSerializationFmt: body.ResultSerializationFmt,
	})
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	pauseID := mux.Vars(r)["pause_id"]

	timer := prometheusTimer()
	action, ok := s.manager.WaitForResume(pauseID, s.pollTimeout)
	timer()

	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"status": "pending"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "action": action})
}

func prometheusTimer() func() {
	start := time.Now()
	return func() {
		metrics.PollLatency.Observe(time.Since(start).Seconds())
	}
}

func (s *Server) handlePollRepl(w http.ResponseWriter, r *http.Request) {
	pauseID := mux.Vars(r)["pause_id"]
	pending := s.bridge.popPending(pauseID)
	writeJSON(w, http.StatusOK, map[string]any{"expressions": pending})
}
