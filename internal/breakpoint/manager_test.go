package breakpoint

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curtcox/cideldill/internal/calllog"
)

func demoCallData(pid int) CallData {
	return CallData{
		CallID:           "call-1",
		MethodName:       "demo",
		ProcessPID:       pid,
		ProcessStartTime: 1000.0,
		ProcessKey:       "1000.000000+1",
	}
}

// eventRecorder collects observer events. Subscribe delivers events on
// the observer's own goroutine, so waitFor blocks until n have arrived.
type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) observe(event string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) waitFor(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.events) >= n
	}, time.Second, 5*time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestShouldPauseRespectsBreakpointsAndBehavior(t *testing.T) {
	m := NewManager(calllog.NewMemoryStore())

	assert.False(t, m.ShouldPause("add"))

	m.AddBreakpoint("add")
	assert.True(t, m.ShouldPause("add"), "default behavior is stop")

	require.NoError(t, m.SetDefaultBehavior(BehaviorGo))
	assert.False(t, m.ShouldPause("add"))

	require.NoError(t, m.SetAfterBehavior("add", BehaviorStop))
	assert.True(t, m.ShouldPause("add"), "per-name override beats default")

	m.RemoveBreakpoint("add")
	assert.False(t, m.ShouldPause("add"))
}

func TestAddPausedDispatchesExecutionPaused(t *testing.T) {
	m := NewManager(calllog.NewMemoryStore())

	rec := &eventRecorder{}
	m.Subscribe(rec.observe)

	pauseID := m.AddPaused(demoCallData(1))
	assert.NotEmpty(t, pauseID)
	assert.Equal(t, []string{"execution_paused"}, rec.waitFor(t, 1))

	_, ok := m.GetPaused(pauseID)
	assert.True(t, ok)
}

func TestResumeRemovesFromPausedAndDispatches(t *testing.T) {
	m := NewManager(calllog.NewMemoryStore())
	pauseID := m.AddPaused(demoCallData(1))

	rec := &eventRecorder{}
	m.Subscribe(rec.observe)

	require.NoError(t, m.Resume(pauseID, ResumeAction{Kind: ActionContinue}))

	_, ok := m.GetPaused(pauseID)
	assert.False(t, ok, "invariant: pause_id present in paused set iff no resume action recorded")

	action, ok := m.PopResumeAction(pauseID)
	require.True(t, ok)
	assert.Equal(t, ActionContinue, action.Kind)
	assert.Equal(t, []string{"execution_resumed"}, rec.waitFor(t, 1))
}

func TestWaitForResumeBlocksUntilResumed(t *testing.T) {
	m := NewManager(calllog.NewMemoryStore())
	pauseID := m.AddPaused(demoCallData(1))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, m.Resume(pauseID, ResumeAction{Kind: ActionContinue}))
	}()

	action, ok := m.WaitForResume(pauseID, time.Second)
	wg.Wait()
	require.True(t, ok)
	assert.Equal(t, ActionContinue, action.Kind)
}

func TestWaitForResumeTimesOutWithoutConsumingAction(t *testing.T) {
	m := NewManager(calllog.NewMemoryStore())
	pauseID := m.AddPaused(demoCallData(1))

	_, ok := m.WaitForResume(pauseID, 10*time.Millisecond)
	assert.False(t, ok)

	_, stillPaused := m.GetPaused(pauseID)
	assert.True(t, stillPaused)
}

func TestObserverPanicDoesNotAffectOthers(t *testing.T) {
	m := NewManager(calllog.NewMemoryStore())

	second := &eventRecorder{}
	m.Subscribe(func(event string, payload map[string]any) {
		panic("boom")
	})
	m.Subscribe(second.observe)

	m.AddPaused(demoCallData(1))
	assert.Equal(t, []string{"execution_paused"}, second.waitFor(t, 1))
}

func TestReplSessionLifecycle(t *testing.T) {
	m := NewManager(calllog.NewMemoryStore())
	pauseID := m.AddPaused(demoCallData(999))

	sessionID, err := m.StartReplSession(pauseID, 1700000000.123456, nil)
	require.NoError(t, err)
	assert.Regexp(t, `^999-`, sessionID)

	session, ok := m.GetReplSession(sessionID)
	require.True(t, ok)
	assert.Equal(t, pauseID, session.PauseID)
	assert.Nil(t, session.ClosedAt)

	idx, err := m.AppendReplTranscript(sessionID, "1 + 1", "2", "", false, "")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	require.NoError(t, m.CloseReplSession(sessionID))
	session, _ = m.GetReplSession(sessionID)
	assert.NotNil(t, session.ClosedAt)

	_, err = m.AppendReplTranscript(sessionID, "2 + 2", "4", "", false, "")
	assert.Error(t, err)
}

func TestStartReplSessionRequiresActivePause(t *testing.T) {
	m := NewManager(calllog.NewMemoryStore())
	_, err := m.StartReplSession("missing", 0, nil)
	assert.Error(t, err)
}

func TestResumeAutoClosesOpenReplSessions(t *testing.T) {
	m := NewManager(calllog.NewMemoryStore())
	pauseID := m.AddPaused(demoCallData(1))

	sessionID, err := m.StartReplSession(pauseID, 1700000000.0, nil)
	require.NoError(t, err)

	require.NoError(t, m.Resume(pauseID, ResumeAction{Kind: ActionContinue}))

	session, ok := m.GetReplSession(sessionID)
	require.True(t, ok)
	assert.NotNil(t, session.ClosedAt)
}

func TestListReplSessionsFiltersByStatusAndSearch(t *testing.T) {
	m := NewManager(calllog.NewMemoryStore())
	pauseID := m.AddPaused(demoCallData(1))
	sessionID, err := m.StartReplSession(pauseID, 1700000000.0, nil)
	require.NoError(t, err)
	_, err = m.AppendReplTranscript(sessionID, "x", "42", "", false, "")
	require.NoError(t, err)
	require.NoError(t, m.CloseReplSession(sessionID))

	assert.Empty(t, m.ListReplSessions(ReplSessionFilter{Status: "active"}))
	assert.Len(t, m.ListReplSessions(ReplSessionFilter{Status: "closed"}), 1)
	assert.Len(t, m.ListReplSessions(ReplSessionFilter{Search: "demo"}), 1)
	assert.Len(t, m.ListReplSessions(ReplSessionFilter{Search: "42"}), 1)
}

func TestSessionIDCollisionRetries(t *testing.T) {
	m := NewManager(calllog.NewMemoryStore())
	pauseID := m.AddPaused(demoCallData(1))

	fixed := 1700000000.0
	id1, err := m.StartReplSession(pauseID, fixed, nil)
	require.NoError(t, err)
	id2, err := m.StartReplSession(pauseID, fixed, nil)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
}

func TestRecordCallDispatchesCallCompleted(t *testing.T) {
	calls := calllog.NewMemoryStore()
	m := NewManager(calls)

	rec := &eventRecorder{}
	m.Subscribe(rec.observe)

	require.NoError(t, m.RecordCall(calllog.CallRecord{
		CallID:     "call-1",
		MethodName: "demo",
		Status:     calllog.StatusSuccess,
	}))

	assert.Equal(t, []string{"call_completed"}, rec.waitFor(t, 1))
	all, err := calls.ExportAll()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestTrackCallPopCallDataIsOneShot(t *testing.T) {
	m := NewManager(calllog.NewMemoryStore())
	m.TrackCall(demoCallData(1))

	data, ok := m.PopCallData("call-1")
	require.True(t, ok)
	assert.Equal(t, "demo", data.MethodName)

	_, ok = m.PopCallData("call-1")
	assert.False(t, ok, "PopCallData consumes the tracked entry")
}
