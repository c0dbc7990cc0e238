// Package breakpoint implements the Breakpoint Manager (component D):
// the thread-safe authority on debug state that links the HTTP control
// plane to paused host workers.
package breakpoint

import "github.com/curtcox/cideldill/internal/calllog"

// Behavior is the breakpoint stop/go setting.
type Behavior string

const (
	BehaviorStop Behavior = "stop"
	BehaviorGo   Behavior = "go"
)

// ActionKind tags a ResumeAction.
type ActionKind string

const (
	ActionContinue ActionKind = "continue"
	ActionModify   ActionKind = "modify"
	ActionSkip     ActionKind = "skip"
	ActionRaise    ActionKind = "raise"
	ActionReplace  ActionKind = "replace"
)

// ResumeAction is the tagged union a paused worker pops to learn how to
// proceed. Argument/result payload bytes are opaque here
// — the proxy decodes them with internal/codec using SerializationFormat.
type ResumeAction struct {
	Kind                ActionKind        `json:"action"`
	SerializationFormat string            `json:"serialization_format,omitempty"`
	ModifiedArgs        [][]byte          `json:"modified_args,omitempty"`
	ModifiedKwargs      map[string][]byte `json:"modified_kwargs,omitempty"`
	FakeResult          []byte            `json:"fake_result,omitempty"`
	ExceptionType       string            `json:"exception_type,omitempty"`
	ExceptionMessage    string            `json:"exception_message,omitempty"`
	FunctionName        string            `json:"function_name,omitempty"`
}

// CallData is the call/start payload a host worker reports when it hits
// a breakpoint.
type CallData struct {
	CallID           string
	MethodName       string
	CallSite         calllog.CallSite
	ProcessPID       int
	ProcessStartTime float64
	ProcessKey       string
	PageURL          string
	Signature        string
	PrettyArgs       []string
	PrettyKwargs     map[string]string
	Args             map[string]any
	PreferredFormat  string
}

// PausedExecution is a call blocked waiting for a ResumeAction. It is
// removed from the manager's paused set the instant a resume action is
// recorded for it.
type PausedExecution struct {
	PauseID         string
	CallData        CallData
	PausedAt        float64
	PreferredFormat string

	resumeCh chan struct{}
}

// TranscriptEntry is one evaluated line of a REPL session.
type TranscriptEntry struct {
	Index     int     `json:"index"`
	Input     string  `json:"input"`
	Output    string  `json:"output"`
	Error     string  `json:"error"`
	IsError   bool    `json:"is_error"`
	ResultCID string  `json:"result_cid,omitempty"`
	CreatedAt float64 `json:"created_at"`
}

// ReplSession is a REPL evaluation session bound to one pause.
type ReplSession struct {
	SessionID    string            `json:"session_id"`
	PauseID      string            `json:"pause_id"`
	PID          int               `json:"pid"`
	FunctionName string            `json:"function_name"`
	StartedAt    float64           `json:"started_at"`
	ClosedAt     *float64          `json:"closed_at"`
	Namespace    map[string]any    `json:"-"`
	Transcript   []TranscriptEntry `json:"transcript"`
}

// ReplSessionFilter narrows ListReplSessions by status, free-text
// search, and start-time range.
type ReplSessionFilter struct {
	Status string // "active" or "closed"; empty matches both
	Search string // matched against function name and transcript text
	FromTS float64
	ToTS   float64
}

// Observer receives breakpoint manager notifications.
type Observer func(event string, payload map[string]any)
