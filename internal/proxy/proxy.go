package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/curtcox/cideldill/internal/breakpoint"
	"github.com/curtcox/cideldill/internal/calllog"
	"github.com/curtcox/cideldill/internal/codec"
	"github.com/curtcox/cideldill/internal/repl"
)

// Proxied wraps a target value so every call to it is reported through
// the control plane. Go has no dynamic attribute interception, so unlike
// the original's transparent proxy, callers invoke Call(ctx, method,
// args...) explicitly rather than dotting into methods directly; this is
// the reflection-keyed "explicit union" alternative for dynamic dispatch.
type Proxied struct {
	target any
	name   string
	client *Client

	enabled bool
}

// Wrap returns a Proxied around target, reporting calls under name
// through client.
func Wrap(target any, name string, client *Client) *Proxied {
	return &Proxied{target: target, name: name, client: client, enabled: true}
}

// Enable toggles interception. When disabled, Call invokes fn directly
// without reporting anything — step 1 of the call protocol.
func (p *Proxied) Enable(enabled bool) { p.enabled = enabled }

// Unwrap returns the wrapped target, satisfying codec.Unwrapper so
// serializing a Proxied never recurses back through interception.
func (p *Proxied) Unwrap() any { return p.target }

// Call invokes fn under method, reporting the call through the control
// plane unless interception is disabled. fn receives the same
// args/kwargs it is reported with, so a "modify" resume action can
// rewrite them before fn actually runs.
func (p *Proxied) Call(ctx context.Context, method string, args []any, kwargs map[string]any, fn func(args []any, kwargs map[string]any) (any, error)) (any, error) {
	if !p.enabled || isTransparent(method) {
		return fn(args, kwargs)
	}

	watchdogStop := startWatchdog(p.client.WatchdogThreshold, method)
	defer watchdogStop()

	callSite := captureCallSite(0)
	pid, startTime := identityProcessFields()

	argPayloads := make([]wirePayload, len(args))
	for i, a := range args {
		argPayloads[i] = p.client.toPayload(a)
	}
	kwargPayloads := make(map[string]wirePayload, len(kwargs))
	for k, v := range kwargs {
		kwargPayloads[k] = p.client.toPayload(v)
	}

	start, err := p.client.start(ctx, startRequest{
		MethodName:       method,
		Args:             argPayloads,
		Kwargs:           kwargPayloads,
		CallSite:         callSite,
		ProcessPID:       pid,
		ProcessStartTime: startTime,
		PreferredFormat:  string(p.client.Format),
	})
	if err != nil {
		log.Warn("call/start failed; calling target directly", "method", method, "error", err)
		return fn(args, kwargs)
	}

	if start.Action == "continue" {
		return p.invokeAndComplete(ctx, start.CallID, args, kwargs, fn)
	}
	return p.pollAndAct(ctx, start, args, kwargs, fn)
}

func (p *Proxied) pollAndAct(ctx context.Context, start startResponse, args []any, kwargs map[string]any, fn func([]any, map[string]any) (any, error)) (any, error) {
	pauseID := pauseIDFromPollURL(start.PollURL)
	namespace := replNamespace(args, kwargs)
	replStop := p.serviceReplEval(ctx, pauseID, namespace)
	defer replStop()

	for {
		select {
		case <-ctx.Done():
			_ = p.client.complete(context.Background(), completeRequest{
				CallID: start.CallID, Status: calllog.StatusException,
				Exception: &exceptionWire{TypeFQN: "context.Canceled", Message: ctx.Err().Error()},
			})
			return nil, ctx.Err()
		default:
		}

		result, err := p.client.poll(ctx, start.PollURL)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return nil, fmt.Errorf("proxy: poll: %w", err)
		}
		if result.Status != "ready" {
			time.Sleep(150 * time.Millisecond)
			continue
		}

		var action breakpoint.ResumeAction
		raw, _ := json.Marshal(result.Action)
		if err := json.Unmarshal(raw, &action); err != nil {
			return nil, fmt.Errorf("proxy: decode resume action: %w", err)
		}
		return p.applyAction(ctx, start.CallID, action, args, kwargs, fn)
	}
}

func (p *Proxied) applyAction(ctx context.Context, callID string, action breakpoint.ResumeAction, args []any, kwargs map[string]any, fn func([]any, map[string]any) (any, error)) (any, error) {
	switch action.Kind {
	case breakpoint.ActionSkip:
		var result any
		if action.FakeResult != nil {
			result = codec.Deserialize(action.FakeResult, codec.Format(action.SerializationFormat))
		}
		p.completeSuccess(ctx, callID, calllog.StatusSkipped, result)
		return result, nil

	case breakpoint.ActionRaise:
		exc := &exceptionWire{TypeFQN: action.ExceptionType, Message: action.ExceptionMessage}
		_ = p.client.complete(ctx, completeRequest{CallID: callID, Status: calllog.StatusException, Exception: exc})
		return nil, fmt.Errorf("%s: %s", action.ExceptionType, action.ExceptionMessage)

	case breakpoint.ActionReplace:
		replacement, ok := p.client.lookup(action.FunctionName)
		if !ok {
			err := fmt.Errorf("proxy: replace action named unregistered function %q", action.FunctionName)
			_ = p.client.complete(ctx, completeRequest{CallID: callID, Status: calllog.StatusException,
				Exception: &exceptionWire{TypeFQN: "LookupError", Message: err.Error()}})
			return nil, err
		}
		return p.invokeAndCompleteWith(ctx, callID, calllog.StatusReplaced, args, kwargs, replacement)

	case breakpoint.ActionModify:
		modArgs := decodeModifiedArgs(action, args)
		modKwargs := decodeModifiedKwargs(action, kwargs)
		return p.invokeAndComplete(ctx, callID, modArgs, modKwargs, fn)

	default: // ActionContinue
		return p.invokeAndComplete(ctx, callID, args, kwargs, fn)
	}
}

func decodeModifiedArgs(action breakpoint.ResumeAction, original []any) []any {
	if action.ModifiedArgs == nil {
		return original
	}
	out := make([]any, len(action.ModifiedArgs))
	for i, raw := range action.ModifiedArgs {
		out[i] = codec.Deserialize(raw, codec.Format(action.SerializationFormat))
	}
	return out
}

func decodeModifiedKwargs(action breakpoint.ResumeAction, original map[string]any) map[string]any {
	if action.ModifiedKwargs == nil {
		return original
	}
	out := make(map[string]any, len(action.ModifiedKwargs))
	for k, raw := range action.ModifiedKwargs {
		out[k] = codec.Deserialize(raw, codec.Format(action.SerializationFormat))
	}
	return out
}

func (p *Proxied) invokeAndComplete(ctx context.Context, callID string, args []any, kwargs map[string]any, fn func([]any, map[string]any) (any, error)) (any, error) {
	return p.invokeAndCompleteWith(ctx, callID, calllog.StatusSuccess, args, kwargs, fn)
}

func (p *Proxied) invokeAndCompleteWith(ctx context.Context, callID string, status calllog.Status, args []any, kwargs map[string]any, fn func([]any, map[string]any) (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			exc := exceptionFromPanic(r)
			_ = p.client.complete(ctx, completeRequest{CallID: callID, Status: calllog.StatusException, Exception: &exc})
			err = fmt.Errorf("%s: %s", exc.TypeFQN, exc.Message)
		}
	}()

	result, callErr := fn(args, kwargs)
	if callErr != nil {
		exc := &exceptionWire{TypeFQN: fmt.Sprintf("%T", callErr), Message: callErr.Error()}
		_ = p.client.complete(ctx, completeRequest{CallID: callID, Status: calllog.StatusException, Exception: exc})
		return nil, callErr
	}

	p.completeSuccess(ctx, callID, status, result)
	return result, nil
}

func (p *Proxied) completeSuccess(ctx context.Context, callID string, status calllog.Status, result any) {
	payload := p.client.toPayload(result)
	_ = p.client.complete(ctx, completeRequest{
		CallID:       callID,
		Status:       status,
		ResultCID:    payload.CID,
		ResultData:   payload.Data,
		ResultFormat: payload.Format,
	})
}

var replEvaluator = repl.NewEvaluator()

func replNamespace(args []any, kwargs map[string]any) map[string]any {
	ns := make(map[string]any, len(kwargs)+1)
	for k, v := range kwargs {
		ns[k] = v
	}
	ns["args"] = args
	return ns
}

// serviceReplEval polls poll-repl/<pauseID> in the background for as
// long as the call is paused, evaluating each expression against the
// call's own args/kwargs namespace — the only "frame locals" a Go client
// can actually reconstruct without runtime reflection into fn's scope.
func (p *Proxied) serviceReplEval(ctx context.Context, pauseID string, namespace map[string]any) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pending, err := p.client.pollRepl(ctx, pauseID)
				if err != nil {
					continue
				}
				for _, expr := range pending {
					p.evalAndReply(ctx, pauseID, expr, namespace)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (p *Proxied) evalAndReply(ctx context.Context, pauseID string, expr pendingEvalWire, namespace map[string]any) {
	result := replEvaluator.Eval(namespace, expr.Expr, p.client.Format)
	if err := p.client.postReplResult(ctx, pauseID, expr.EvalID, result.Payload.CID,
		encodePayloadData(result.Payload), string(result.Payload.Format)); err != nil {
		log.Warn("failed to post repl result", "pause_id", pauseID, "eval_id", expr.EvalID, "error", err)
	}
}

func pauseIDFromPollURL(url string) string {
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == '/' {
			return url[i+1:]
		}
	}
	return url
}
