package ptyscript

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/markjdb/bricoler/internal/pty"
)

const defaultTimeout = 10 * time.Second
const readChunkSize = 4096
const pollSlice = 200 * time.Millisecond

// exitError carries a script-requested exit code up through Driver.Run.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("ptyscript: exit %d requested", e.code) }

// ExitCode extracts the code from a script's `exit` step, if err came
// from one.
func ExitCode(err error) (int, bool) {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code, true
	}
	return 0, false
}

// action is a compiled MatchAction: a StepSpec plus its resolved
// matcher and timeout (spec.md §3).
type action struct {
	spec     StepSpec
	matcher  Matcher
	timeout  time.Duration
	callback CallbackFunc
}

// matchContext is an ordered MatchAction sequence plus a cursor,
// processed either sequentially or via alternation (spec.md §3).
type matchContext struct {
	actions     []action
	cursor      int
	alternation bool
	done        bool
}

// Driver drives a pty.Process through a script's queue (spec.md §4.9.2).
type Driver struct {
	ctx       context.Context
	proc      *pty.Process
	callbacks *CallbackRegistry
	logger    arbor.ILogger

	buf []byte

	stack []*matchContext

	defaultMatcher MatcherKind
	defaultTimeout time.Duration
	raw            bool
	rate           *RateConfig
	failCallback   CallbackFunc
}

// NewDriver builds a Driver bound to an already-spawned process. proc
// may be nil if the script's first queued step is `spawn`.
func NewDriver(proc *pty.Process, callbacks *CallbackRegistry, logger arbor.ILogger) *Driver {
	if callbacks == nil {
		callbacks = NewCallbackRegistry()
	}
	return &Driver{
		proc:           proc,
		callbacks:      callbacks,
		logger:         logger,
		defaultMatcher: MatcherLiteral,
		defaultTimeout: defaultTimeout,
	}
}

// RunScript loads a script file, spawns the target command under a
// controlled PTY, and drives it through the script's queue
// (spec.md §6.1 "script" action, §6.3).
func RunScript(ctx context.Context, scriptPath, command string, args []string, callbacks *CallbackRegistry, logger arbor.ILogger) error {
	steps, err := LoadScript(scriptPath)
	if err != nil {
		return err
	}

	proc, err := pty.Spawn(ctx, command, args, pty.Options{})
	if err != nil {
		return fmt.Errorf("ptyscript: spawn: %w", err)
	}
	defer func() { _ = proc.Close() }()

	d := NewDriver(proc, callbacks, logger)
	return d.Run(ctx, steps)
}

// Run drives the queue stage then the drive stage: steps are compiled
// into the root MatchContext, then the stack is consumed top-first
// until empty (spec.md §4.9.2).
func (d *Driver) Run(ctx context.Context, steps []StepSpec) error {
	d.ctx = ctx
	root, err := d.buildContext(steps, false)
	if err != nil {
		return err
	}
	d.stack = []*matchContext{root}

	for len(d.stack) > 0 {
		top := d.stack[len(d.stack)-1]
		var done bool
		if top.alternation {
			done, err = d.stepAlternation(top)
		} else {
			done, err = d.stepSequential(top)
		}
		if err != nil {
			return err
		}
		if done {
			d.stack = d.stack[:len(d.stack)-1]
		}
	}
	return nil
}

// buildContext compiles a step list into a MatchContext. An alternation
// context's children are constrained to `match` actions only — the
// `one` block constraint preserved exactly (spec.md §9).
func (d *Driver) buildContext(steps []StepSpec, alternation bool) (*matchContext, error) {
	mc := &matchContext{alternation: alternation}
	for _, s := range steps {
		if alternation && s.Kind != KindMatch {
			return nil, fmt.Errorf("ptyscript: one block may only contain match actions, got %q at step %d", s.Kind, s.ordinal)
		}
		a, err := d.buildAction(s)
		if err != nil {
			return nil, err
		}
		mc.actions = append(mc.actions, a)
	}
	return mc, nil
}

func (d *Driver) buildAction(spec StepSpec) (action, error) {
	a := action{spec: spec}
	if spec.Kind != KindMatch {
		return a, nil
	}
	kind := d.defaultMatcher
	if spec.Matcher != "" {
		kind = spec.Matcher
	}
	m, err := compileMatcher(kind, spec.Pattern)
	if err != nil {
		return action{}, err
	}
	a.matcher = m

	timeout := d.defaultTimeout
	if spec.Timeout != nil {
		timeout = time.Duration(*spec.Timeout * float64(time.Second))
	}
	a.timeout = timeout

	cb, err := d.callbacks.lookup(spec.Callback)
	if err != nil {
		return action{}, err
	}
	a.callback = cb
	return a, nil
}

// stepSequential processes exactly the next unprocessed action in mc
// (spec.md §4.9.2 "process"). Kinds that push a child context (`one`,
// `enqueue`) return without marking mc done; the pushed child becomes
// the new stack top and runs to completion first.
func (d *Driver) stepSequential(mc *matchContext) (bool, error) {
	if mc.cursor >= len(mc.actions) {
		return true, nil
	}
	a := mc.actions[mc.cursor]
	mc.cursor++
	err := d.exec(a)
	return false, err
}

func (d *Driver) exec(a action) error {
	switch a.spec.Kind {
	case KindMatch:
		if d.proc == nil {
			return fmt.Errorf("ptyscript: match at step %d before any process was spawned", a.spec.ordinal)
		}
		return d.runMatch(a)
	case KindOne:
		child, err := d.buildContext(a.spec.Steps, true)
		if err != nil {
			return err
		}
		d.stack = append(d.stack, child)
		return nil
	case KindEnqueue:
		child, err := d.buildContext(a.spec.Steps, false)
		if err != nil {
			return err
		}
		d.stack = append(d.stack, child)
		return nil
	case KindEOF:
		return d.waitEOF(a.timeout)
	case KindWrite:
		return d.write(translateControlChars(a.spec.Payload, d.raw))
	case KindRaw:
		if b, ok := a.spec.Value.(bool); ok {
			d.raw = b
		}
		return nil
	case KindLog:
		if d.logger != nil {
			d.logger.Info().Msg(a.spec.Message)
		}
		return nil
	case KindDebug:
		if d.logger != nil {
			d.logger.Debug().Msg(a.spec.Message)
		}
		return nil
	case KindSpawn:
		return d.spawn(a.spec.Command, a.spec.Args)
	case KindCfg:
		if a.spec.Rate != nil {
			d.rate = a.spec.Rate
		}
		return nil
	case KindRelease:
		// The RELEASE handshake already completed synchronously inside
		// pty.Spawn; this step is a script-visible no-op marker.
		return nil
	case KindStty:
		return d.applyStty(a.spec.Value)
	case KindSleep:
		dur, err := toDuration(a.spec.Value)
		if err != nil {
			return err
		}
		time.Sleep(dur)
		return nil
	case KindExit:
		return &exitError{code: a.spec.Code}
	case KindFail:
		cb, err := d.callbacks.lookup(a.spec.Callback)
		if err != nil {
			return err
		}
		d.failCallback = cb
		return nil
	case KindTimeout:
		dur, err := toDuration(a.spec.Value)
		if err != nil {
			return err
		}
		if dur < 0 {
			return fmt.Errorf("ptyscript: timeout must be non-negative")
		}
		d.defaultTimeout = dur
		return nil
	case KindMatcher:
		kind, ok := a.spec.Value.(string)
		if !ok {
			return fmt.Errorf("ptyscript: matcher value must be a string")
		}
		d.defaultMatcher = MatcherKind(kind)
		return nil
	case KindHexdump:
		if d.logger != nil {
			d.logger.Debug().Str("buffer", hex.EncodeToString(d.buf)).Msg("hexdump")
		}
		return nil
	default:
		return fmt.Errorf("ptyscript: unknown step kind %q", a.spec.Kind)
	}
}

// stepAlternation implements process_one: reads until any action's
// matcher fires, honoring each action's own timeout; the shortest
// remaining deadline elapsing with no match triggers the fail path
// (spec.md §4.9.2).
func (d *Driver) stepAlternation(mc *matchContext) (bool, error) {
	if mc.done || len(mc.actions) == 0 {
		return true, nil
	}
	if d.proc == nil {
		return true, fmt.Errorf("ptyscript: one block reached before any process was spawned")
	}

	now := time.Now()
	deadlines := make([]time.Time, len(mc.actions))
	for i, a := range mc.actions {
		deadlines[i] = now.Add(a.timeout)
	}

	for {
		for i, a := range mc.actions {
			if start, end, ok := a.matcher.Find(d.buf); ok {
				matched := append([]byte(nil), d.buf[start:end]...)
				d.buf = d.buf[end:]
				mc.done = true
				if a.callback != nil {
					return true, a.callback(d, matched)
				}
				return true, nil
			}
		}

		earliest := deadlines[0]
		for _, dl := range deadlines[1:] {
			if dl.Before(earliest) {
				earliest = dl
			}
		}
		remaining := time.Until(earliest)
		if remaining <= 0 {
			return true, d.onFailure(fmt.Errorf("ptyscript: alternation timed out with no matching action"))
		}

		chunk := make([]byte, readChunkSize)
		n, err := d.proc.ReadTimeout(chunk, minDuration(remaining, pollSlice))
		if err != nil {
			if errors.Is(err, pty.ErrTimeout) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return true, d.onFailure(fmt.Errorf("ptyscript: eof during alternation"))
			}
			return true, err
		}
		d.buf = append(d.buf, chunk[:n]...)
	}
}

func (d *Driver) runMatch(a action) error {
	deadline := time.Now().Add(a.timeout)
	for {
		if start, end, ok := a.matcher.Find(d.buf); ok {
			matched := append([]byte(nil), d.buf[start:end]...)
			d.buf = d.buf[end:]
			if a.callback != nil {
				return a.callback(d, matched)
			}
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return d.onFailure(fmt.Errorf("ptyscript: step %d timed out waiting for pattern %q", a.spec.ordinal, a.spec.Pattern))
		}

		chunk := make([]byte, readChunkSize)
		n, err := d.proc.ReadTimeout(chunk, minDuration(remaining, pollSlice))
		if err != nil {
			if errors.Is(err, pty.ErrTimeout) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return d.onFailure(fmt.Errorf("ptyscript: step %d: eof waiting for pattern %q", a.spec.ordinal, a.spec.Pattern))
			}
			return err
		}
		d.buf = append(d.buf, chunk[:n]...)
	}
}

func (d *Driver) waitEOF(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return d.onFailure(fmt.Errorf("ptyscript: timed out waiting for eof"))
		}
		chunk := make([]byte, readChunkSize)
		_, err := d.proc.ReadTimeout(chunk, minDuration(remaining, pollSlice))
		if err == nil {
			continue
		}
		if errors.Is(err, pty.ErrTimeout) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
}

// onFailure runs the installed `fail` callback, if any, with the
// current buffer contents; otherwise the failure is fatal
// (spec.md §4.9.2 "fail").
func (d *Driver) onFailure(err error) error {
	if d.failCallback == nil {
		return err
	}
	return d.failCallback(d, append([]byte(nil), d.buf...))
}

func (d *Driver) write(payload []byte) error {
	if d.rate == nil || d.rate.Bytes <= 0 {
		_, err := d.proc.Write(payload)
		return err
	}
	delay := time.Duration(d.rate.Delay * float64(time.Second))
	for len(payload) > 0 {
		n := d.rate.Bytes
		if n > len(payload) {
			n = len(payload)
		}
		if _, err := d.proc.Write(payload[:n]); err != nil {
			return err
		}
		payload = payload[n:]
		if len(payload) > 0 && delay > 0 {
			time.Sleep(delay)
		}
	}
	return nil
}

func (d *Driver) spawn(command string, args []string) error {
	if d.proc != nil {
		_ = d.proc.Close()
	}
	p, err := pty.Spawn(d.ctx, command, args, pty.Options{})
	if err != nil {
		return fmt.Errorf("ptyscript: spawn: %w", err)
	}
	d.proc = p
	d.buf = nil
	return nil
}

func (d *Driver) applyStty(value interface{}) error {
	m, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("ptyscript: stty value must be a map of flag name to bool")
	}
	for name, v := range m {
		enabled, ok := v.(bool)
		if !ok {
			return fmt.Errorf("ptyscript: stty %q value must be boolean", name)
		}
		if err := d.proc.SetLocalFlag(name, enabled); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue lets a callback push further steps onto the stack, the
// Go-native rendering of a `fail`/match callback "queueing more
// actions" (spec.md §4.9.2).
func (d *Driver) Enqueue(steps []StepSpec) error {
	child, err := d.buildContext(steps, false)
	if err != nil {
		return err
	}
	d.stack = append(d.stack, child)
	return nil
}

func toDuration(v interface{}) (time.Duration, error) {
	switch t := v.(type) {
	case int:
		return time.Duration(t) * time.Second, nil
	case float64:
		return time.Duration(t * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("ptyscript: expected a numeric duration, got %T", v)
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
