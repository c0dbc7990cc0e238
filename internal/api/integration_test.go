package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curtcox/cideldill/internal/breakpoint"
	"github.com/curtcox/cideldill/internal/calllog"
	"github.com/curtcox/cideldill/internal/casstore"
	"github.com/curtcox/cideldill/internal/codec"
	"github.com/curtcox/cideldill/internal/repl"
)

// newIntegrationServer wires a Server against fully in-memory stores —
// the shape every scenario below drives end-to-end over HTTP via
// httptest, exercising the same route table a real client talks to.
func newIntegrationServer(t *testing.T) *httptest.Server {
	t.Helper()
	calls := calllog.NewMemoryStore()
	manager := breakpoint.NewManager(calls)
	srv := NewServer(manager, casstore.NewMemoryStore(), calls, repl.NewEvaluator(), Options{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func jsonPayload(t *testing.T, value any) cidPayload {
	t.Helper()
	p := codec.Serialize(value, codec.FormatJSON)
	return cidPayload{CID: p.CID, Data: base64.StdEncoding.EncodeToString(p.Bytes), Format: string(p.Format)}
}

func doJSON(t *testing.T, method, url string, body, out any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func addBreakpoint(t *testing.T, base, name string) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, base+"/api/breakpoints", map[string]any{"function_name": name}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// startAddCall issues call/start for add(2, 3) and returns the decoded
// response body.
func startAddCall(t *testing.T, base string) map[string]any {
	t.Helper()
	req := map[string]any{
		"method_name": "add",
		"args":        []cidPayload{jsonPayload(t, 2), jsonPayload(t, 3)},
		"kwargs":      map[string]cidPayload{},
		"call_site":   calllog.CallSite{Function: "caller", Filename: "main.go", Lineno: 1},
		"process_pid": 100,
	}
	var out map[string]any
	resp := doJSON(t, http.MethodPost, base+"/api/call/start", req, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return out
}

func firstPauseID(t *testing.T, base string) string {
	t.Helper()
	var pausedOut map[string]any
	doJSON(t, http.MethodGet, base+"/api/paused", nil, &pausedOut)
	entries := pausedOut["paused"].([]any)
	require.NotEmpty(t, entries)
	return entries[0].(map[string]any)["pause_id"].(string)
}

func waitForPollReady(t *testing.T, base, pauseID string) map[string]any {
	t.Helper()
	var pollOut map[string]any
	require.Eventually(t, func() bool {
		resp := doJSON(t, http.MethodGet, base+"/api/poll/"+pauseID, nil, &pollOut)
		return resp.StatusCode == http.StatusOK && pollOut["status"] == "ready"
	}, time.Second, 20*time.Millisecond)
	return pollOut["action"].(map[string]any)
}

func TestS1PauseThenContinue(t *testing.T) {
	ts := newIntegrationServer(t)
	base := ts.URL
	addBreakpoint(t, base, "add")

	start := startAddCall(t, base)
	require.Equal(t, "poll", start["action"])
	callID := start["call_id"].(string)

	var pausedOut map[string]any
	resp := doJSON(t, http.MethodGet, base+"/api/paused", nil, &pausedOut)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := pausedOut["paused"].([]any)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	assert.Equal(t, "add", entry["function_name"])
	assert.Equal(t, []any{"2", "3"}, entry["pretty_args"])
	pauseID := entry["pause_id"].(string)

	resp = doJSON(t, http.MethodPost, base+"/api/paused/"+pauseID+"/continue", map[string]any{"action": "continue"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	waitForPollReady(t, base, pauseID)

	resultPayload := jsonPayload(t, 5)
	complete := map[string]any{
		"call_id":       callID,
		"status":        "success",
		"result_cid":    resultPayload.CID,
		"result_data":   resultPayload.Data,
		"result_format": resultPayload.Format,
	}
	resp = doJSON(t, http.MethodPost, base+"/api/call/complete", complete, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var historyOut map[string]any
	resp = doJSON(t, http.MethodGet, base+"/api/call-history", nil, &historyOut)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	records := historyOut["calls"].([]any)
	require.Len(t, records, 1)
	record := records[0].(map[string]any)
	assert.Equal(t, "add", record["method_name"])
	assert.Equal(t, "success", record["status"])
	assert.Equal(t, []any{"2", "3"}, record["pretty_args"])
	assert.Equal(t, resultPayload.CID, record["result_cid"])
}

func TestS2ResumeWithModifiedArgs(t *testing.T) {
	ts := newIntegrationServer(t)
	base := ts.URL
	addBreakpoint(t, base, "add")

	startAddCall(t, base)
	pauseID := firstPauseID(t, base)

	argA := codec.Serialize(10, codec.FormatJSON)
	argB := codec.Serialize(20, codec.FormatJSON)
	action := map[string]any{
		"action":               "modify",
		"modified_args":        [][]byte{argA.Bytes, argB.Bytes},
		"serialization_format": "json",
	}
	resp := doJSON(t, http.MethodPost, base+"/api/paused/"+pauseID+"/continue", action, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	readyAction := waitForPollReady(t, base, pauseID)
	assert.Equal(t, "modify", readyAction["action"])

	modifiedArgs := readyAction["modified_args"].([]any)
	require.Len(t, modifiedArgs, 2)
	sum := 0.0
	for _, raw := range modifiedArgs {
		bytesRaw, err := base64.StdEncoding.DecodeString(raw.(string))
		require.NoError(t, err)
		sum += codec.Deserialize(bytesRaw, codec.FormatJSON).(float64)
	}
	assert.Equal(t, 30.0, sum)
}

func TestS3ResumeWithSkipFakeResult(t *testing.T) {
	ts := newIntegrationServer(t)
	base := ts.URL
	addBreakpoint(t, base, "add")

	startAddCall(t, base)
	pauseID := firstPauseID(t, base)

	fakeResult := codec.Serialize(99, codec.FormatJSON)
	action := map[string]any{
		"action":      "skip",
		"fake_result": fakeResult.Bytes,
	}
	resp := doJSON(t, http.MethodPost, base+"/api/paused/"+pauseID+"/continue", action, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	readyAction := waitForPollReady(t, base, pauseID)
	assert.Equal(t, "skip", readyAction["action"])

	raw, err := base64.StdEncoding.DecodeString(readyAction["fake_result"].(string))
	require.NoError(t, err)
	assert.Equal(t, float64(99), codec.Deserialize(raw, codec.FormatJSON))
}

func TestS4ResumeWithRaise(t *testing.T) {
	ts := newIntegrationServer(t)
	base := ts.URL
	addBreakpoint(t, base, "add")

	startAddCall(t, base)
	pauseID := firstPauseID(t, base)

	action := map[string]any{
		"action":            "raise",
		"exception_type":    "ValueError",
		"exception_message": "forced",
	}
	resp := doJSON(t, http.MethodPost, base+"/api/paused/"+pauseID+"/continue", action, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	readyAction := waitForPollReady(t, base, pauseID)
	assert.Equal(t, "raise", readyAction["action"])
	assert.Equal(t, "ValueError", readyAction["exception_type"])
	assert.Equal(t, "forced", readyAction["exception_message"])

	complete := map[string]any{
		"call_id": "forced-raise-callid", // no call/start tracked this id; exercises the untracked-call path
		"status":  "exception",
		"exception": calllog.ExceptionInfo{
			TypeFQN: "ValueError",
			Message: "forced",
		},
	}
	resp = doJSON(t, http.MethodPost, base+"/api/call/complete", complete, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var historyOut map[string]any
	doJSON(t, http.MethodGet, base+"/api/call-history?status=exception", nil, &historyOut)
	records := historyOut["calls"].([]any)
	require.Len(t, records, 1)
	record := records[0].(map[string]any)
	assert.Equal(t, "exception", record["status"])
	assert.Equal(t, "ValueError", record["exception"].(map[string]any)["type_fqn"])
}

// flipHexChar corrupts cid's leading hex digit to a value guaranteed to
// differ from it, producing a claimed CID that cannot match its data.
func flipHexChar(cid string) string {
	if cid[0] == '0' {
		return "f" + cid[1:]
	}
	return "0" + cid[1:]
}

func TestS5CIDMismatchRejectsCallStart(t *testing.T) {
	ts := newIntegrationServer(t)
	base := ts.URL
	addBreakpoint(t, base, "add")

	good := jsonPayload(t, 2)
	mutated := good
	mutated.CID = flipHexChar(good.CID) // claim a CID that doesn't match the data

	req := map[string]any{
		"method_name": "add",
		"args":        []cidPayload{mutated, jsonPayload(t, 3)},
		"kwargs":      map[string]cidPayload{},
		"call_site":   calllog.CallSite{Function: "caller", Filename: "main.go", Lineno: 1},
		"process_pid": 100,
	}
	var out map[string]any
	resp := doJSON(t, http.MethodPost, base+"/api/call/start", req, &out)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "cid_mismatch", out["error"])
	assert.Equal(t, mutated.CID, out["provided_cid"])
	assert.Equal(t, good.CID, out["expected_cid"])

	var pausedOut map[string]any
	doJSON(t, http.MethodGet, base+"/api/paused", nil, &pausedOut)
	assert.Empty(t, pausedOut["paused"])
}

func TestS6UnpicklableArgumentDegradesToPlaceholder(t *testing.T) {
	ts := newIntegrationServer(t)
	base := ts.URL
	addBreakpoint(t, base, "add")

	unpicklable := codec.Serialize(make(chan int), codec.FormatJSON)
	require.Equal(t, codec.FormatPlaceholder, unpicklable.Format, "a channel value cannot be JSON-encoded and must degrade")
	placeholderArg := cidPayload{CID: unpicklable.CID, Data: base64.StdEncoding.EncodeToString(unpicklable.Bytes), Format: string(unpicklable.Format)}

	req := map[string]any{
		"method_name": "add",
		"args":        []cidPayload{placeholderArg, jsonPayload(t, 3)},
		"kwargs":      map[string]cidPayload{},
		"call_site":   calllog.CallSite{Function: "caller", Filename: "main.go", Lineno: 1},
		"process_pid": 100,
	}
	var out map[string]any
	resp := doJSON(t, http.MethodPost, base+"/api/call/start", req, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "poll", out["action"])

	var pausedOut map[string]any
	doJSON(t, http.MethodGet, base+"/api/paused", nil, &pausedOut)
	entry := pausedOut["paused"].([]any)[0].(map[string]any)
	prettyArgs := entry["pretty_args"].([]any)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(prettyArgs[0].(string)), &decoded))
	assert.Equal(t, true, decoded["__placeholder__"])

	var comErrorsOut map[string]any
	resp = doJSON(t, http.MethodGet, base+"/api/com-errors", nil, &comErrorsOut)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	errs := comErrorsOut["errors"].([]any)
	require.NotEmpty(t, errs)

	found := false
	for _, e := range errs {
		if source, ok := e.(map[string]any)["source"].(string); ok && strings.Contains(source, "pickle_error") {
			found = true
		}
	}
	assert.True(t, found, "expected a pickle_error entry on the com-errors page")
}

func TestS7ReplInPausedCall(t *testing.T) {
	ts := newIntegrationServer(t)
	base := ts.URL
	addBreakpoint(t, base, "f")

	req := map[string]any{
		"method_name": "f",
		"args":        []cidPayload{},
		"kwargs": map[string]cidPayload{
			"x": jsonPayload(t, 10),
			"y": jsonPayload(t, 32),
		},
		"call_site":   calllog.CallSite{Function: "caller", Filename: "main.go", Lineno: 1},
		"process_pid": 100,
	}
	var start map[string]any
	resp := doJSON(t, http.MethodPost, base+"/api/call/start", req, &start)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "poll", start["action"])

	pauseID := firstPauseID(t, base)

	var sessionOut map[string]any
	resp = doJSON(t, http.MethodPost, base+"/api/repl/start", map[string]any{"pause_id": pauseID}, &sessionOut)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessionID := sessionOut["session_id"].(string)

	var evalOut map[string]any
	resp = doJSON(t, http.MethodPost, base+"/api/repl/"+sessionID+"/eval", map[string]any{"expr": "x+y"}, &evalOut)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "42", evalOut["output"])
	assert.Equal(t, false, evalOut["is_error"])

	resp = doJSON(t, http.MethodPost, base+"/api/repl/"+sessionID+"/eval", map[string]any{"expr": "z = x+5"}, &evalOut)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, evalOut["is_error"])

	resp = doJSON(t, http.MethodPost, base+"/api/repl/"+sessionID+"/eval", map[string]any{"expr": "z"}, &evalOut)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "15", evalOut["output"])

	resp = doJSON(t, http.MethodPost, base+"/api/paused/"+pauseID+"/continue", map[string]any{"action": "continue"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sessionsOut map[string]any
	resp = doJSON(t, http.MethodGet, base+"/api/repl/sessions", nil, &sessionsOut)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions := sessionsOut["sessions"].([]any)
	require.Len(t, sessions, 1)
	session := sessions[0].(map[string]any)
	assert.NotNil(t, session["closed_at"])
}
