// Package proxy implements the Client Proxy Engine (component F): a
// same-surface wrapper around a target function or object that reports
// every call through the HTTP control plane and honors whatever action
// a breakpoint resumes with.
package proxy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/curtcox/cideldill/internal/calllog"
	"github.com/curtcox/cideldill/internal/codec"
	"github.com/curtcox/cideldill/internal/identity"
	"github.com/curtcox/cideldill/internal/logging"
)

var log = logging.New("proxy")

// Client talks to the control plane on behalf of one host process. A
// single Client is meant to be shared by every Wrap/WrapFunc call in
// that process so its CID cache and function registry are effective.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Format     codec.Format

	// Watchdog logs a stack dump when a tracked operation runs longer
	// than this without completing. Zero disables it.
	WatchdogThreshold time.Duration

	cacheMu   sync.Mutex
	knownCIDs map[string]bool

	registryMu sync.RWMutex
	registry   map[string]func(args []any, kwargs map[string]any) (any, error)
}

// NewClient returns a Client pointed at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:           baseURL,
		HTTPClient:        &http.Client{Timeout: 30 * time.Second},
		Format:            codec.FormatJSON,
		WatchdogThreshold: 10 * time.Second,
		knownCIDs:         map[string]bool{},
		registry:          map[string]func(args []any, kwargs map[string]any) (any, error){},
	}
}

// Register names fn so a breakpoint's "replace" action can look it up by
// name and call it with the original call's args/kwargs.
func (c *Client) Register(name string, fn func(args []any, kwargs map[string]any) (any, error)) {
	c.registryMu.Lock()
	defer c.registryMu.Unlock()
	c.registry[name] = fn
}

func (c *Client) lookup(name string) (func(args []any, kwargs map[string]any) (any, error), bool) {
	c.registryMu.RLock()
	defer c.registryMu.RUnlock()
	fn, ok := c.registry[name]
	return fn, ok
}

type wirePayload struct {
	CID    string `json:"cid"`
	Data   string `json:"data,omitempty"`
	Format string `json:"format,omitempty"`
}

// toPayload serializes value and omits Data when the cid was already
// confirmed present on the server earlier in this process's lifetime.
func (c *Client) toPayload(value any) wirePayload {
	p := codec.Serialize(value, c.Format)

	c.cacheMu.Lock()
	known := c.knownCIDs[p.CID]
	c.cacheMu.Unlock()

	wire := wirePayload{CID: p.CID, Format: string(c.Format)}
	if !known {
		wire.Data = base64.StdEncoding.EncodeToString(p.Bytes)
	}
	return wire
}

func (c *Client) rememberCID(cid string) {
	c.cacheMu.Lock()
	c.knownCIDs[cid] = true
	c.cacheMu.Unlock()
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("proxy: marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("proxy: build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("proxy: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("proxy: %s responded %d: %v", path, resp.StatusCode, apiErr)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("proxy: build %s request: %w", path, err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("proxy: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("proxy: %s responded %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type startRequest struct {
	MethodName       string                 `json:"method_name"`
	Target           *wirePayload           `json:"target,omitempty"`
	Args             []wirePayload          `json:"args"`
	Kwargs           map[string]wirePayload `json:"kwargs"`
	CallSite         calllog.CallSite       `json:"call_site"`
	ProcessPID       int                    `json:"process_pid"`
	ProcessStartTime float64                `json:"process_start_time"`
	PreferredFormat  string                 `json:"preferred_format,omitempty"`
	Signature        string                 `json:"signature,omitempty"`
}

type startResponse struct {
	CallID         string `json:"call_id"`
	Action         string `json:"action"`
	PollURL        string `json:"poll_url"`
	PollIntervalMS int    `json:"poll_interval_ms"`
}

func (c *Client) start(ctx context.Context, req startRequest) (startResponse, error) {
	var resp startResponse
	err := c.post(ctx, "/api/call/start", req, &resp)
	if err == nil {
		for _, p := range req.Args {
			c.rememberCID(p.CID)
		}
		for _, p := range req.Kwargs {
			c.rememberCID(p.CID)
		}
		if req.Target != nil {
			c.rememberCID(req.Target.CID)
		}
	}
	return resp, err
}

type pollResponse struct {
	Status string         `json:"status"`
	Action map[string]any `json:"action"`
}

func (c *Client) poll(ctx context.Context, pollURL string) (pollResponse, error) {
	var resp pollResponse
	err := c.get(ctx, pollURL, &resp)
	return resp, err
}

type completeRequest struct {
	CallID       string         `json:"call_id"`
	Status       calllog.Status `json:"status"`
	ResultCID    string         `json:"result_cid,omitempty"`
	ResultData   string         `json:"result_data,omitempty"`
	ResultFormat string         `json:"result_format,omitempty"`
	Exception    *exceptionWire `json:"exception,omitempty"`
}

type exceptionWire struct {
	TypeFQN   string `json:"type_fqn"`
	Message   string `json:"message"`
	Traceback string `json:"traceback"`
}

func (c *Client) complete(ctx context.Context, req completeRequest) error {
	return c.post(ctx, "/api/call/complete", req, nil)
}

type pendingEvalWire struct {
	EvalID string `json:"eval_id"`
	Expr   string `json:"expr"`
}

func (c *Client) pollRepl(ctx context.Context, pauseID string) ([]pendingEvalWire, error) {
	var resp struct {
		Expressions []pendingEvalWire `json:"expressions"`
	}
	err := c.get(ctx, "/api/poll-repl/"+pauseID, &resp)
	return resp.Expressions, err
}

func (c *Client) postReplResult(ctx context.Context, pauseID, evalID, resultCID, resultData, format string) error {
	return c.post(ctx, "/api/call/repl-result", map[string]any{
		"eval_id":                     evalID,
		"pause_id":                    pauseID,
		"result_cid":                  resultCID,
		"result_data":                 resultData,
		"result_serialization_format": format,
	}, nil)
}

func identityProcessFields() (int, float64) {
	return os.Getpid(), identity.ProcessStartTime()
}

func encodePayloadData(p codec.Payload) string {
	return base64.StdEncoding.EncodeToString(p.Bytes)
}
