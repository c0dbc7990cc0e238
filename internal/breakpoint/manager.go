package breakpoint

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/curtcox/cideldill/internal/calllog"
	"github.com/curtcox/cideldill/internal/events"
	"github.com/curtcox/cideldill/internal/identity"
	"github.com/curtcox/cideldill/internal/logging"
)

var log = logging.New("breakpoint")

// Manager is the breakpoint state machine authority linking the HTTP
// control plane to paused host workers. All operations are atomic with
// respect to each other; observer dispatch happens after the internal
// lock is released.
type Manager struct {
	mu sync.Mutex

	breakpoints     map[string]struct{}
	afterBehavior   map[string]Behavior
	defaultBehavior Behavior

	paused        map[string]*PausedExecution
	resumeActions map[string]ResumeAction
	activeCalls   map[string]CallData

	replSessions map[string]*ReplSession

	registeredFunctions map[string]string

	bus *events.Bus

	calls calllog.Store
}

// NewManager returns a Manager with default_behavior=stop, backed by
// calls for record_call persistence.
func NewManager(calls calllog.Store) *Manager {
	return &Manager{
		breakpoints:         map[string]struct{}{},
		afterBehavior:       map[string]Behavior{},
		defaultBehavior:     BehaviorStop,
		paused:              map[string]*PausedExecution{},
		resumeActions:       map[string]ResumeAction{},
		activeCalls:         map[string]CallData{},
		replSessions:        map[string]*ReplSession{},
		registeredFunctions: map[string]string{},
		bus:                 events.NewBus(),
		calls:               calls,
	}
}

// --- breakpoints ---

func (m *Manager) AddBreakpoint(name string) {
	m.mu.Lock()
	m.breakpoints[name] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) RemoveBreakpoint(name string) {
	m.mu.Lock()
	delete(m.breakpoints, name)
	delete(m.afterBehavior, name)
	m.mu.Unlock()
}

func (m *Manager) ClearBreakpoints() {
	m.mu.Lock()
	m.breakpoints = map[string]struct{}{}
	m.afterBehavior = map[string]Behavior{}
	m.mu.Unlock()
}

func (m *Manager) ListBreakpoints() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.breakpoints))
	for name := range m.breakpoints {
		names = append(names, name)
	}
	return names
}

// SetDefaultBehavior sets the behavior applied to breakpoints with no
// per-name override.
func (m *Manager) SetDefaultBehavior(b Behavior) error {
	if b != BehaviorStop && b != BehaviorGo {
		return fmt.Errorf("breakpoint: behavior must be %q or %q, got %q", BehaviorStop, BehaviorGo, b)
	}
	m.mu.Lock()
	m.defaultBehavior = b
	m.mu.Unlock()
	return nil
}

func (m *Manager) GetDefaultBehavior() Behavior {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaultBehavior
}

// SetAfterBehavior overrides the effective behavior for one breakpoint
// name.
func (m *Manager) SetAfterBehavior(name string, b Behavior) error {
	if b != BehaviorStop && b != BehaviorGo {
		return fmt.Errorf("breakpoint: behavior must be %q or %q, got %q", BehaviorStop, BehaviorGo, b)
	}
	m.mu.Lock()
	m.afterBehavior[name] = b
	m.mu.Unlock()
	return nil
}

func (m *Manager) GetAfterBehavior(name string) (Behavior, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.afterBehavior[name]
	return b, ok
}

// ShouldPause reports whether functionName should pause: true iff the
// name is a breakpoint AND its effective behavior
// (after_behavior override, else default_behavior) is stop.
func (m *Manager) ShouldPause(functionName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.breakpoints[functionName]; !ok {
		return false
	}
	effective := m.defaultBehavior
	if override, ok := m.afterBehavior[functionName]; ok {
		effective = override
	}
	return effective == BehaviorStop
}

// --- registered functions (UI hint) ---

func (m *Manager) RegisterFunction(name, signature string) {
	m.mu.Lock()
	m.registeredFunctions[name] = signature
	m.mu.Unlock()
}

func (m *Manager) ListRegisteredFunctions() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.registeredFunctions))
	for k, v := range m.registeredFunctions {
		out[k] = v
	}
	return out
}

// --- observers ---

// Subscribe registers an observer against the manager's event bus and
// returns a function that removes it. The observer runs on its own
// goroutine, reading CloudEvents published by dispatch until Unsubscribe
// closes its channel.
func (m *Manager) Subscribe(obs Observer) (unsubscribe func()) {
	ch := m.bus.Subscribe()

	go func() {
		for ce := range ch {
			m.callObserver(obs, ce.Type, ce.Data)
		}
	}()

	return func() { m.bus.Unsubscribe(ch) }
}

// dispatch wraps event/payload as a CloudEvent and publishes it on the
// manager's bus, subject set to whichever of pause_id/call_id the
// payload carries.
func (m *Manager) dispatch(event string, payload map[string]any) {
	m.bus.Emit(event, "breakpoint.manager", events.SubjectOf(payload), payload)
}

// callObserver runs obs with event/payload, recovering and logging a
// panic so one broken observer never affects its siblings or dispatch's
// caller.
func (m *Manager) callObserver(obs Observer, event string, payload map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("observer panicked", "event", event, "panic", r)
		}
	}()
	obs(event, payload)
}

// --- paused executions ---

func nowSeconds() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// AddPaused creates a PausedExecution with a fresh uuid and dispatches
// execution_paused.
func (m *Manager) AddPaused(callData CallData) string {
	pauseID := uuid.NewString()
	pe := &PausedExecution{
		PauseID:         pauseID,
		CallData:        callData,
		PausedAt:        nowSeconds(),
		PreferredFormat: callData.PreferredFormat,
		resumeCh:        make(chan struct{}),
	}

	m.mu.Lock()
	m.paused[pauseID] = pe
	m.mu.Unlock()

	m.dispatch(events.TypeExecutionPaused, map[string]any{
		"pause_id":      pauseID,
		"function_name": callData.MethodName,
	})
	return pauseID
}

func (m *Manager) GetPaused(pauseID string) (*PausedExecution, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pe, ok := m.paused[pauseID]
	return pe, ok
}

func (m *Manager) ListPaused() []*PausedExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*PausedExecution, 0, len(m.paused))
	for _, pe := range m.paused {
		out = append(out, pe)
	}
	return out
}

// Resume stores action, removes pauseID from the paused set, auto-closes
// every open REPL session belonging to it, and dispatches
// execution_resumed.
func (m *Manager) Resume(pauseID string, action ResumeAction) error {
	m.mu.Lock()
	pe, ok := m.paused[pauseID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("breakpoint: no paused execution %q", pauseID)
	}
	m.resumeActions[pauseID] = action
	delete(m.paused, pauseID)

	var toClose []*ReplSession
	for _, s := range m.replSessions {
		if s.PauseID == pauseID && s.ClosedAt == nil {
			toClose = append(toClose, s)
		}
	}
	closedAt := nowSeconds()
	for _, s := range toClose {
		t := closedAt
		s.ClosedAt = &t
	}
	m.mu.Unlock()

	close(pe.resumeCh)

	m.dispatch(events.TypeExecutionResumed, map[string]any{
		"pause_id":      pauseID,
		"function_name": pe.CallData.MethodName,
		"action":        action.Kind,
	})
	return nil
}

// PopResumeAction removes and returns the resume action recorded for
// pauseID.
func (m *Manager) PopResumeAction(pauseID string) (ResumeAction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	action, ok := m.resumeActions[pauseID]
	if ok {
		delete(m.resumeActions, pauseID)
	}
	return action, ok
}

// WaitForResume blocks the caller until pauseID is resumed or timeout
// elapses, then pops and returns its action. It returns ok=false on
// timeout without consuming
// any action.
func (m *Manager) WaitForResume(pauseID string, timeout time.Duration) (ResumeAction, bool) {
	m.mu.Lock()
	pe, ok := m.paused[pauseID]
	m.mu.Unlock()
	if !ok {
		// Already resumed (or never existed) — try popping directly.
		return m.PopResumeAction(pauseID)
	}

	select {
	case <-pe.resumeCh:
		return m.PopResumeAction(pauseID)
	case <-time.After(timeout):
		return ResumeAction{}, false
	}
}

// --- in-flight call tracking ---

// TrackCall remembers data under data.CallID so a later RecordCall can
// assemble a full CallRecord without the caller having to resend
// call_site/signature/args at completion time.
func (m *Manager) TrackCall(data CallData) {
	m.mu.Lock()
	m.activeCalls[data.CallID] = data
	m.mu.Unlock()
}

// PopCallData removes and returns the CallData tracked for callID.
func (m *Manager) PopCallData(callID string) (CallData, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.activeCalls[callID]
	if ok {
		delete(m.activeCalls, callID)
	}
	return d, ok
}

// --- call log integration ---

// RecordCall persists record via the call log and dispatches
// call_completed.
func (m *Manager) RecordCall(record calllog.CallRecord) error {
	if err := m.calls.Record(record); err != nil {
		return err
	}
	m.dispatch(events.TypeCallCompleted, map[string]any{
		"call_id":       record.CallID,
		"function_name": record.MethodName,
		"status":        string(record.Status),
	})
	return nil
}

// --- REPL sessions ---

// StartReplSession creates a session bound to an active pause, per
// now is injectable for
// deterministic tests; pass 0 to use the wall clock. seed populates the
// session's initial evaluation namespace (typically the paused call's
// decoded arguments); it may be nil.
func (m *Manager) StartReplSession(pauseID string, now float64, seed map[string]any) (string, error) {
	m.mu.Lock()
	pe, ok := m.paused[pauseID]
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("breakpoint: no active pause %q", pauseID)
	}
	pid := pe.CallData.ProcessPID
	fn := pe.CallData.MethodName
	m.mu.Unlock()

	namespace := map[string]any{}
	for k, v := range seed {
		namespace[k] = v
	}

	sessionID := identity.NewSessionID(pid, now)
	session := &ReplSession{
		SessionID:    sessionID,
		PauseID:      pauseID,
		PID:          pid,
		FunctionName: fn,
		StartedAt:    nowSeconds(),
		Namespace:    namespace,
	}

	m.mu.Lock()
	m.replSessions[sessionID] = session
	m.mu.Unlock()

	return sessionID, nil
}

// AppendReplTranscript records one evaluated line. It errors if the
// session is already closed.
func (m *Manager) AppendReplTranscript(sessionID, input, output, errText string, isError bool, resultCID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.replSessions[sessionID]
	if !ok {
		return 0, fmt.Errorf("breakpoint: no repl session %q", sessionID)
	}
	if session.ClosedAt != nil {
		return 0, fmt.Errorf("breakpoint: repl session %q is closed", sessionID)
	}

	index := len(session.Transcript)
	session.Transcript = append(session.Transcript, TranscriptEntry{
		Index:     index,
		Input:     input,
		Output:    output,
		Error:     errText,
		IsError:   isError,
		ResultCID: resultCID,
		CreatedAt: nowSeconds(),
	})
	return index, nil
}

func (m *Manager) CloseReplSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.replSessions[sessionID]
	if !ok {
		return fmt.Errorf("breakpoint: no repl session %q", sessionID)
	}
	if session.ClosedAt == nil {
		t := nowSeconds()
		session.ClosedAt = &t
	}
	return nil
}

func (m *Manager) GetReplSession(sessionID string) (*ReplSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.replSessions[sessionID]
	return s, ok
}

// ListReplSessions filters sessions by status, free-text search (matched
// against function name and transcript input/output), and start-time
// range.
func (m *Manager) ListReplSessions(filter ReplSessionFilter) []*ReplSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*ReplSession
	for _, s := range m.replSessions {
		if filter.Status == "active" && s.ClosedAt != nil {
			continue
		}
		if filter.Status == "closed" && s.ClosedAt == nil {
			continue
		}
		if filter.FromTS != 0 && s.StartedAt < filter.FromTS {
			continue
		}
		if filter.ToTS != 0 && s.StartedAt > filter.ToTS {
			continue
		}
		if filter.Search != "" && !sessionMatchesSearch(s, filter.Search) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func sessionMatchesSearch(s *ReplSession, search string) bool {
	if strings.Contains(s.FunctionName, search) {
		return true
	}
	for _, entry := range s.Transcript {
		if strings.Contains(entry.Input, search) || strings.Contains(entry.Output, search) {
			return true
		}
	}
	return false
}
