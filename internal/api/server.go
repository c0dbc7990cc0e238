// Package api implements the HTTP control plane: the single JSON
// endpoint set that links the client proxy, the breakpoint manager, the
// CID store, and the call log.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/curtcox/cideldill/internal/apierr"
	"github.com/curtcox/cideldill/internal/breakpoint"
	"github.com/curtcox/cideldill/internal/calllog"
	"github.com/curtcox/cideldill/internal/casstore"
	"github.com/curtcox/cideldill/internal/comerrors"
	"github.com/curtcox/cideldill/internal/identity"
	"github.com/curtcox/cideldill/internal/logging"
	"github.com/curtcox/cideldill/internal/notify"
	"github.com/curtcox/cideldill/internal/repl"
)

var log = logging.New("api")

// Server wires the breakpoint manager, CID store, and call log behind
// the control plane's wire protocol.
type Server struct {
	router      *mux.Router
	manager     *breakpoint.Manager
	cids        casstore.Store
	calls       calllog.Store
	evaluator   *repl.Evaluator
	comErrors   *comerrors.Ring
	hub         *wsHub
	bridge      *replBridge
	corsOrigins []string
	pollTimeout time.Duration

	callIDMu       sync.Mutex
	callIDCounters map[string]int64 // process_key -> next sequence

	jsClientSource string
}

// Options configures a Server.
type Options struct {
	CORSOrigins []string
	PollTimeout time.Duration
	JSClient    string
	// WebhookURL, if set, installs a notify.WebhookSink alongside the
	// always-on notify.LogSink.
	WebhookURL string
}

// NewServer builds a Server and registers its full route table.
func NewServer(manager *breakpoint.Manager, cids casstore.Store, calls calllog.Store, evaluator *repl.Evaluator, opts Options) *Server {
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.PollTimeout == 0 {
		opts.PollTimeout = 25 * time.Second
	}

	s := &Server{
		manager:        manager,
		cids:           cids,
		calls:          calls,
		evaluator:      evaluator,
		comErrors:      comerrors.NewRing(200),
		hub:            newWSHub(),
		bridge:         newReplBridge(),
		corsOrigins:    opts.CORSOrigins,
		pollTimeout:    opts.PollTimeout,
		callIDCounters: map[string]int64{},
		jsClientSource: opts.JSClient,
	}

	manager.Subscribe(s.forwardToHub)
	manager.Subscribe(notify.LogSink{}.Notify)
	if opts.WebhookURL != "" {
		manager.Subscribe(notify.NewWebhookSink(opts.WebhookURL, s.comErrors).Notify)
	}

	s.router = mux.NewRouter()
	s.router.Use(s.corsMiddleware)
	s.registerRoutes()
	return s
}

// Handler returns the root http.Handler for the control plane.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.corsOrigins) > 0 {
			origin = s.corsOrigins[0]
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/breakpoints", s.handleListBreakpoints).Methods(http.MethodGet)
	api.HandleFunc("/breakpoints", s.handleAddBreakpoint).Methods(http.MethodPost)
	api.HandleFunc("/breakpoints/{name}", s.handleRemoveBreakpoint).Methods(http.MethodDelete)
	api.HandleFunc("/breakpoints/{name}/after_behavior", s.handleAfterBehavior).Methods(http.MethodPost)

	api.HandleFunc("/behavior", s.handleGetBehavior).Methods(http.MethodGet)
	api.HandleFunc("/behavior", s.handleSetBehavior).Methods(http.MethodPost)

	api.HandleFunc("/paused", s.handleListPaused).Methods(http.MethodGet)
	api.HandleFunc("/paused/{pause_id}/continue", s.handleResume).Methods(http.MethodPost)

	api.HandleFunc("/call/start", s.handleCallStart).Methods(http.MethodPost)
	api.HandleFunc("/call/complete", s.handleCallComplete).Methods(http.MethodPost)
	api.HandleFunc("/call/event", s.handleCallEvent).Methods(http.MethodPost)
	api.HandleFunc("/call/repl-result", s.handleCallReplResult).Methods(http.MethodPost)
	api.HandleFunc("/call-history", s.handleCallHistory).Methods(http.MethodGet)

	api.HandleFunc("/poll/{pause_id}", s.handlePoll).Methods(http.MethodGet)
	api.HandleFunc("/poll-repl/{pause_id}", s.handlePollRepl).Methods(http.MethodGet)

	api.HandleFunc("/cids/query", s.handleCIDsQuery).Methods(http.MethodPost)
	api.HandleFunc("/cids/upload", s.handleCIDsUpload).Methods(http.MethodPost)

	api.HandleFunc("/repl/start", s.handleReplStart).Methods(http.MethodPost)
	api.HandleFunc("/repl/{session_id}/eval", s.handleReplEval).Methods(http.MethodPost)
	api.HandleFunc("/repl/sessions", s.handleReplSessions).Methods(http.MethodGet)

	api.HandleFunc("/debug-client.js", s.handleDebugClientJS).Methods(http.MethodGet)
	api.HandleFunc("/com-errors", s.handleComErrors).Methods(http.MethodGet)
	api.HandleFunc("/ws/events", s.hub.handleWebSocket)

	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response", "error", err)
	}
}

func writeAPIError(w http.ResponseWriter, apiErr *apierr.Error) {
	body := map[string]any{"error": string(apiErr.Kind)}
	for k, v := range apiErr.Extra {
		body[k] = v
	}
	writeJSON(w, apierr.StatusFor(apiErr.Kind), body)
}

func badRequest(w http.ResponseWriter, message string) {
	writeAPIError(w, apierr.New(apierr.BadRequest, map[string]any{"message": message}))
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func nowSeconds() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// nextProcessKey derives the process_key every call/start request
// carries its (process_pid, process_start_time) pair into.
func (s *Server) nextProcessKey(startTime float64, pid int) string {
	return string(identity.NewProcessKey(startTime, pid))
}

// nextCallID assigns a call_id local to this server, monotonically
// increasing within one process_key.
func (s *Server) nextCallID(processKey string) string {
	s.callIDMu.Lock()
	defer s.callIDMu.Unlock()
	s.callIDCounters[processKey]++
	return fmt.Sprintf("%s-%d", processKey, s.callIDCounters[processKey])
}
