package proxy

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curtcox/cideldill/internal/api"
	"github.com/curtcox/cideldill/internal/breakpoint"
	"github.com/curtcox/cideldill/internal/calllog"
	"github.com/curtcox/cideldill/internal/casstore"
	"github.com/curtcox/cideldill/internal/repl"
)

func codecJSONPayload(t *testing.T, value any) []byte {
	t.Helper()
	raw, err := json.Marshal(value)
	require.NoError(t, err)
	return raw
}

func newTestServer(t *testing.T) (*httptest.Server, *breakpoint.Manager, calllog.Store) {
	t.Helper()
	calls := calllog.NewMemoryStore()
	manager := breakpoint.NewManager(calls)
	server := api.NewServer(manager, casstore.NewMemoryStore(), calls, repl.NewEvaluator(), api.Options{
		PollTimeout: 2 * time.Second,
	})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, manager, calls
}

func TestWrapFuncContinuePathRecordsCall(t *testing.T) {
	ts, _, calls := newTestServer(t)

	client := NewClient(ts.URL)
	add := func(a, b int) int { return a + b }
	wrapped := WrapFunc(add, "add", client)

	got := wrapped(2, 3)
	assert.Equal(t, 5, got)

	records, err := calls.List(calllog.Filters{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "add", records[0].MethodName)
	assert.Equal(t, calllog.StatusSuccess, records[0].Status)
}

func TestProxiedCallPausesAndHonorsSkipAction(t *testing.T) {
	ts, manager, _ := newTestServer(t)
	manager.AddBreakpoint("greet")

	client := NewClient(ts.URL)
	proxied := Wrap(nil, "greet", client)

	resultCh := make(chan any, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := proxied.Call(context.Background(), "greet", []any{"world"}, nil,
			func(args []any, _ map[string]any) (any, error) {
				t.Error("target should not run when skipped")
				return nil, nil
			})
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	var pauseID string
	require.Eventually(t, func() bool {
		paused := manager.ListPaused()
		if len(paused) == 0 {
			return false
		}
		pauseID = paused[0].PauseID
		return true
	}, time.Second, 10*time.Millisecond)

	payload := codecJSONPayload(t, "skipped!")
	require.NoError(t, manager.Resume(pauseID, breakpoint.ResumeAction{
		Kind:                breakpoint.ActionSkip,
		SerializationFormat: "json",
		FakeResult:          payload,
	}))

	select {
	case result := <-resultCh:
		assert.Equal(t, "skipped!", result)
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for skipped call to resolve")
	}
}
