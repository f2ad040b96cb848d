package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/errs"
	"github.com/mcp-jive/jive/internal/metrics"
	"github.com/mcp-jive/jive/internal/telemetry"
)

const (
	maxAttempts  = 3
	retryBackoff = 50 * time.Millisecond
)

// Envelope is the uniform tool response: either data or a taxonomy error,
// never both, plus call metadata.
type Envelope struct {
	Success  bool        `json:"success"`
	Data     any         `json:"data,omitempty"`
	Error    *errs.Error `json:"error,omitempty"`
	Metadata Metadata    `json:"metadata"`
}

// Metadata is the per-call metadata attached to every envelope.
type Metadata struct {
	ExecutionTimeMs int64    `json:"execution_time_ms"`
	Namespace       string   `json:"namespace"`
	Warnings        []string `json:"warnings,omitempty"`
}

// Dispatcher validates arguments, routes to the tool, retries transient
// store failures, and wraps every outcome in an Envelope.
type Dispatcher struct {
	registry *Registry
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher over a registry.
func NewDispatcher(registry *Registry, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{registry: registry, logger: logger.Named("dispatch")}
}

// Registry returns the dispatcher's registry, for tools/list.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch runs one tool call end to end. It never returns an error; every
// failure becomes a failure envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, call *Call, args map[string]any) *Envelope {
	start := time.Now()
	if args == nil {
		args = map[string]any{}
	}
	action, _ := args["action"].(string)

	spanCtx, span := telemetry.StartToolSpan(ctx, name, action, call.Namespace)
	env := d.dispatch(spanCtx, name, call, args)
	env.Metadata = Metadata{
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		Namespace:       call.Namespace,
		Warnings:        call.Warnings(),
	}

	outcome := "success"
	errCode := ""
	if env.Error != nil {
		outcome = string(env.Error.Code)
		errCode = outcome
		d.logger.Warn("tool call failed",
			zap.String("tool", name),
			zap.String("action", action),
			zap.String("namespace", call.Namespace),
			zap.String("code", outcome),
			zap.String("message", env.Error.Message))
	} else {
		d.logger.Debug("tool call ok",
			zap.String("tool", name),
			zap.String("action", action),
			zap.String("namespace", call.Namespace),
			zap.Duration("elapsed", time.Since(start)))
	}
	telemetry.EndToolSpan(span, errCode)
	metrics.RecordToolCall(name, outcome, time.Since(start))
	return env
}

func (d *Dispatcher) dispatch(ctx context.Context, name string, call *Call, args map[string]any) *Envelope {
	reg, ok := d.registry.lookup(name)
	if !ok {
		return fail(errs.Newf(errs.CodeToolNotFound, "unknown tool %q", name).
			WithDetail("available", d.registry.List()))
	}

	if err := reg.schema.Validate(normalize(args)); err != nil {
		return fail(errs.New(errs.CodeValidation, validationMessage(err)))
	}

	var (
		result any
		err    error
	)
	for attempt := 1; ; attempt++ {
		result, err = d.safeHandle(ctx, reg.tool, call, args)
		if err == nil || !errs.Retryable(err) || attempt == maxAttempts {
			break
		}
		metrics.RecordStoreRetry(name)
		d.logger.Warn("retrying after transient store failure",
			zap.String("tool", name), zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(backoff(attempt)):
			continue
		}
		break
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fail(errs.New(errs.CodeTimeout, "tool call exceeded its deadline"))
		}
		return fail(errs.AsError(err))
	}
	return &Envelope{Success: true, Data: result}
}

func (d *Dispatcher) safeHandle(ctx context.Context, tool Tool, call *Call, args map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool handler panicked",
				zap.String("tool", tool.Name()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = errs.Newf(errs.CodeInternal, "internal failure in %s", tool.Name())
		}
	}()
	return tool.Handle(ctx, call, args)
}

func fail(e *errs.Error) *Envelope {
	return &Envelope{Success: false, Error: e}
}

func backoff(attempt int) time.Duration {
	base := retryBackoff << (attempt - 1)
	return base + time.Duration(rand.Int63n(int64(retryBackoff)))
}

// validationMessage collapses the multi-line schema error into one line.
func validationMessage(err error) string {
	msg := err.Error()
	lines := strings.Split(msg, "\n")
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(strings.TrimLeft(line, " -"))
		if line != "" {
			parts = append(parts, line)
		}
	}
	msg = strings.Join(parts, "; ")
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return fmt.Sprintf("invalid arguments: %s", msg)
}

// normalize re-decodes the argument map so the validator sees only plain
// JSON value types.
func normalize(args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return args
	}
	return doc
}
