package ptyscript

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markjdb/bricoler/internal/pty"
)

// TestMain lets this test binary double as the PTY bootstrap child; see
// internal/pty's own TestMain for why.
func TestMain(m *testing.M) {
	if pty.IsBootstrapInvocation(os.Args) {
		pty.RunBootstrap(os.Args)
		return
	}
	os.Exit(m.Run())
}

func spawnCat(t *testing.T) (*pty.Process, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	p, err := pty.Spawn(ctx, "cat", nil, pty.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, ctx
}

func TestRun_MatchesSpawnedCommandsOwnOutput(t *testing.T) {
	// Matches on a shell's own output with nothing written to the
	// master first: only passes if the bootstrap child actually
	// execve'd the target rather than stalling in the release
	// handshake with the PTY's input echo standing in for real output.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	proc, err := pty.Spawn(ctx, "sh", []string{"-c", "echo ready"}, pty.Options{})
	require.NoError(t, err)
	defer func() { _ = proc.Close() }()

	d := NewDriver(proc, nil, nil)
	steps := []StepSpec{
		{Kind: KindMatch, Pattern: "ready", Timeout: floatPtr(3)},
	}
	require.NoError(t, d.Run(ctx, steps))
}

func TestRun_WriteThenMatchSucceeds(t *testing.T) {
	proc, ctx := spawnCat(t)
	d := NewDriver(proc, nil, nil)

	steps := []StepSpec{
		{Kind: KindWrite, Payload: "hello\n"},
		{Kind: KindMatch, Pattern: "hello", Timeout: floatPtr(3)},
	}
	require.NoError(t, d.Run(ctx, steps))
}

func TestRun_MatchTimesOutWithoutFailCallback(t *testing.T) {
	proc, ctx := spawnCat(t)
	d := NewDriver(proc, nil, nil)

	steps := []StepSpec{
		{Kind: KindMatch, Pattern: "never-appears", Timeout: floatPtr(1)},
	}
	err := d.Run(ctx, steps)
	assert.Error(t, err)
}

func TestRun_FailCallbackRescuesTimeout(t *testing.T) {
	proc, ctx := spawnCat(t)
	registry := NewCallbackRegistry()
	rescued := false
	registry.Register("rescue", func(d *Driver, buf []byte) error {
		rescued = true
		return d.Enqueue([]StepSpec{{Kind: KindWrite, Payload: "ok\n"}})
	})
	d := NewDriver(proc, registry, nil)

	steps := []StepSpec{
		{Kind: KindFail, Callback: "rescue"},
		{Kind: KindMatch, Pattern: "never-appears", Timeout: floatPtr(1)},
	}
	require.NoError(t, d.Run(ctx, steps))
	assert.True(t, rescued)
}

func TestRun_OneBlockAlternationMatchesSecondAlternative(t *testing.T) {
	proc, ctx := spawnCat(t)
	registry := NewCallbackRegistry()
	var fired string
	registry.Register("gotB", func(d *Driver, buf []byte) error {
		fired = string(buf)
		return nil
	})
	d := NewDriver(proc, registry, nil)

	steps := []StepSpec{
		{Kind: KindWrite, Payload: "b\n"},
		{
			Kind: KindOne,
			Steps: []StepSpec{
				{Kind: KindMatch, Pattern: "a", Timeout: floatPtr(3)},
				{Kind: KindMatch, Pattern: "b", Timeout: floatPtr(3), Callback: "gotB"},
			},
		},
	}
	require.NoError(t, d.Run(ctx, steps))
	assert.Equal(t, "b", fired)
}

func TestRun_OneBlockRejectsNonMatchSteps(t *testing.T) {
	proc, ctx := spawnCat(t)
	d := NewDriver(proc, nil, nil)

	steps := []StepSpec{
		{Kind: KindOne, Steps: []StepSpec{
			{Kind: KindSleep, Value: 1},
		}},
	}
	err := d.Run(ctx, steps)
	assert.Error(t, err)
}

func TestRun_ExitStepPropagatesCode(t *testing.T) {
	proc, ctx := spawnCat(t)
	d := NewDriver(proc, nil, nil)

	steps := []StepSpec{{Kind: KindExit, Code: 7}}
	err := d.Run(ctx, steps)
	require.Error(t, err)
	code, ok := ExitCode(err)
	require.True(t, ok)
	assert.Equal(t, 7, code)
}

func TestRun_RawModeBypassesControlTranslation(t *testing.T) {
	proc, ctx := spawnCat(t)
	d := NewDriver(proc, nil, nil)

	steps := []StepSpec{
		{Kind: KindRaw, Value: true},
		{Kind: KindWrite, Payload: "^C\n"},
		{Kind: KindMatch, Pattern: "^C", Timeout: floatPtr(3)},
	}
	require.NoError(t, d.Run(ctx, steps))
}

func floatPtr(v float64) *float64 { return &v }
