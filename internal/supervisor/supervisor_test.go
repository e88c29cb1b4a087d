package supervisor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomizedcoder/procwatch/internal/logging"
	"github.com/randomizedcoder/procwatch/internal/output"
	"github.com/randomizedcoder/procwatch/internal/signals"
	"github.com/randomizedcoder/procwatch/internal/timeout"
	"github.com/randomizedcoder/procwatch/internal/tty"
)

// =============================================================================
// Test Helpers
// =============================================================================

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test uses /bin/sh")
	}
}

// newShell builds a process for a shell command line with a reliable
// environment, so results do not depend on how the test binary was run.
func newShell(t *testing.T, line string, mutate ...func(*Config)) *Process {
	t.Helper()
	skipWithoutShell(t)
	cfg := Config{
		Command:     line,
		Logger:      newTestLogger(),
		Environment: &signals.Environment{},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	p, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Stop(0, syscall.SIGKILL) })
	return p
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, kind, e.Kind, "error: %v", err)
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"no command", Config{}, ErrInvalidArgument},
		{"command and args", Config{Command: "true", Args: []string{"true"}}, ErrInvalidArgument},
		{"negative timeout", Config{Command: "true", Timeout: -time.Second}, ErrInvalidArgument},
		{"negative idle timeout", Config{Command: "true", IdleTimeout: -1}, ErrInvalidArgument},
		{"idle with output disabled", Config{Command: "true", IdleTimeout: time.Second, OutputDisabled: true}, ErrLogic},
		{"map input", Config{Command: "true", Input: map[string]string{"a": "b"}}, ErrInvalidArgument},
		{"tty and pty", Config{Command: "true", TTY: true, PTY: true}, ErrInvalidArgument},
		{"bad shell option", Config{Command: "true", SpawnOptions: map[string]any{OptionShell: 1}}, ErrInvalidArgument},
		{"bad group option", Config{Command: "true", SpawnOptions: map[string]any{OptionProcessGroup: "yes"}}, ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New(Config{Command: "true"})
	require.NoError(t, err)

	assert.Equal(t, StatusReady, p.Status())
	assert.NotEqual(t, uuid.Nil, p.ID())
	assert.Equal(t, "true", p.CommandLine())
	assert.Equal(t, 0, p.Pid())
	assert.False(t, p.IsStarted())
	assert.False(t, p.IsRunning())
	assert.False(t, p.IsTerminated())
	assert.Equal(t, DefaultTickInterval, p.tick)

	code, err := p.ExitCode()
	require.NoError(t, err)
	assert.Equal(t, -1, code)
	assert.Empty(t, p.ExitCodeText())
}

func TestNew_ArgsCommandLine(t *testing.T) {
	p, err := New(Config{Args: []string{"echo", "a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, "echo a b", p.CommandLine())
}

// =============================================================================
// Scenarios
// =============================================================================

func TestRun_Output(t *testing.T) {
	p := newShell(t, "printf 'output'")
	require.NoError(t, p.Run(nil))

	out, err := p.Output()
	require.NoError(t, err)
	assert.Equal(t, "output", out)

	code, err := p.ExitCode()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "OK", p.ExitCodeText())
	assert.True(t, p.IsSuccessful())
	assert.True(t, p.IsTerminated())
	assert.Equal(t, 0, p.Pid())
}

func TestRun_EchoScenario(t *testing.T) {
	p := newShell(t, "echo 'output';")
	require.NoError(t, p.Run(nil))
	out, err := p.Output()
	require.NoError(t, err)
	assert.Equal(t, "output", strings.TrimRight(out, "\n"))
}

func TestRun_NonZeroExitIsNotAnError(t *testing.T) {
	p := newShell(t, "echo boom >&2; exit 3")
	require.NoError(t, p.Run(nil))

	code, err := p.ExitCode()
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Empty(t, p.ExitCodeText())
	assert.False(t, p.IsSuccessful())

	errOut, err := p.ErrorOutput()
	require.NoError(t, err)
	assert.Equal(t, "boom\n", errOut)
}

func TestRun_CommandNotFound(t *testing.T) {
	p := newShell(t, "definitely-not-a-command-procwatch")
	require.NoError(t, p.Run(nil))
	code, _ := p.ExitCode()
	assert.Equal(t, 127, code)
	assert.Equal(t, "Command not found", p.ExitCodeText())
}

func TestRun_Args(t *testing.T) {
	skipWithoutShell(t)
	p, err := New(Config{Args: []string{"/bin/sh", "-c", "printf %s \"$0\"", "argv0"}, Environment: &signals.Environment{}})
	require.NoError(t, err)
	require.NoError(t, p.Run(nil))
	out, _ := p.Output()
	assert.Equal(t, "argv0", out)
}

func TestRun_MissingProgram(t *testing.T) {
	p, err := New(Config{Args: []string{"/nonexistent/procwatch-binary"}})
	require.NoError(t, err)
	err = p.Start(nil)
	requireKind(t, err, KindRuntime)
	assert.Equal(t, StatusReady, p.Status())
}

func TestRun_CallbackOrderAndStreams(t *testing.T) {
	p := newShell(t, "printf a; sleep 0.05; printf b >&2; sleep 0.05; printf c")

	type seen struct {
		stream output.Stream
		data   string
	}
	var got []seen
	require.NoError(t, p.Run(func(stream output.Stream, data []byte) {
		got = append(got, seen{stream, string(data)})
	}))

	assert.Equal(t, []seen{
		{output.Stdout, "a"},
		{output.Stderr, "b"},
		{output.Stdout, "c"},
	}, got)
}

func TestRun_EnvAndDir(t *testing.T) {
	dir := t.TempDir()
	p := newShell(t, `printf '%s|%s' "$PROCWATCH_TEST" "$(pwd -P)"`, func(c *Config) {
		c.Env = map[string]string{"PROCWATCH_TEST": "42"}
		c.Dir = dir
	})
	require.NoError(t, p.Run(nil))
	out, _ := p.Output()
	parts := strings.SplitN(out, "|", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, "42", parts[0])
	assert.True(t, strings.HasSuffix(parts[1], dir[strings.LastIndex(dir, "/"):]), parts[1])
}

func TestRun_IsolatedEnv(t *testing.T) {
	t.Setenv("PROCWATCH_LEAK", "yes")
	p := newShell(t, `printf '%s' "${PROCWATCH_LEAK:-none}"`, func(c *Config) {
		c.IsolateEnv = true
		c.Env = map[string]string{"PATH": "/usr/bin:/bin"}
	})
	require.NoError(t, p.Run(nil))
	out, _ := p.Output()
	assert.Equal(t, "none", out)
}

func TestRun_Input(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"string", "from string", "from string"},
		{"bytes", []byte("from bytes"), "from bytes"},
		{"reader", strings.NewReader("from reader"), "from reader"},
		{"int", 123, "123"},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newShell(t, "cat", func(c *Config) { c.Input = tt.input })
			require.NoError(t, p.Run(nil))
			out, err := p.Output()
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestRun_ReadsBothStreamsWithoutDeadlock(t *testing.T) {
	// Each stream gets more than a pipe buffer's worth.
	p := newShell(t, `i=0; while [ $i -lt 2000 ]; do echo 0123456789012345678901234567890123456789; echo 0123456789012345678901234567890123456789 >&2; i=$((i+1)); done`,
		func(c *Config) { c.Timeout = 30 * time.Second })
	require.NoError(t, p.Run(nil))
	out, _ := p.Output()
	errOut, _ := p.ErrorOutput()
	assert.Len(t, out, 2000*41)
	assert.Len(t, errOut, 2000*41)
}

// runWithin runs p on another goroutine and fails the test if it has not
// returned after limit. p is not touched here until Run returns.
func runWithin(t *testing.T, p *Process, limit time.Duration) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- p.Run(nil) }()
	select {
	case err := <-done:
		return err
	case <-time.After(limit):
		t.Fatalf("Run still blocked after %s", limit)
		return nil
	}
}

func TestRun_LargeInputEchoedBack(t *testing.T) {
	// Far more than the pipe buffers in both directions.
	payload := bytes.Repeat([]byte("0123456789abcdef"), 64*1024)
	p := newShell(t, "cat", func(c *Config) {
		c.Input = payload
		c.Timeout = 30 * time.Second
	})

	require.NoError(t, runWithin(t, p, 20*time.Second))
	out, _ := p.Output()
	assert.Equal(t, len(payload), len(out))
	assert.True(t, p.IsSuccessful())
}

// =============================================================================
// Timeouts
// =============================================================================

func TestTimeout_General(t *testing.T) {
	p := newShell(t, "sleep 0.6", func(c *Config) { c.Timeout = 500 * time.Millisecond })

	start := time.Now()
	err := p.Run(nil)
	elapsed := time.Since(start)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.True(t, te.IsGeneralTimeout())
	assert.Equal(t, 500*time.Millisecond, te.Exceeded)
	assert.GreaterOrEqual(t, elapsed, 500*time.Millisecond)
	assert.Less(t, elapsed, 600*time.Millisecond+200*time.Millisecond)

	assert.False(t, p.IsRunning())
	assert.Equal(t, timeout.General, p.TimedOut().Kind)
}

func TestTimeout_NeverExits(t *testing.T) {
	p := newShell(t, "sleep 30", func(c *Config) { c.Timeout = 200 * time.Millisecond })
	start := time.Now()
	err := p.Run(nil)
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.Less(t, time.Since(start), 2*time.Second)

	signaled, err := p.HasBeenSignaled()
	require.NoError(t, err)
	assert.True(t, signaled)
}

func TestTimeout_PendingInputDoesNotBlock(t *testing.T) {
	// The child never reads stdin, so most of the input stays pending.
	p := newShell(t, "sleep 5", func(c *Config) {
		c.Input = bytes.Repeat([]byte("x"), 1<<20)
		c.Timeout = time.Second
	})

	start := time.Now()
	err := runWithin(t, p, 5*time.Second)
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.Less(t, time.Since(start), 2500*time.Millisecond)
}

func TestTimeout_AfterExactChunk(t *testing.T) {
	// One full read buffer, then silence: the next read must not park.
	p := newShell(t, "head -c 8192 /dev/zero; sleep 3", func(c *Config) {
		c.Timeout = 500 * time.Millisecond
	})

	start := time.Now()
	err := runWithin(t, p, 5*time.Second)
	elapsed := time.Since(start)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.IsGeneralTimeout())
	assert.Less(t, elapsed, 1200*time.Millisecond, "timeout observed late")

	out, _ := p.Output()
	assert.Len(t, out, 8192)
}

func TestTimeout_Idle(t *testing.T) {
	p := newShell(t, "printf start; sleep 5", func(c *Config) { c.IdleTimeout = 200 * time.Millisecond })
	err := p.Run(nil)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.IsIdleTimeout())
	assert.Equal(t, 200*time.Millisecond, te.Exceeded)

	out, _ := p.Output()
	assert.Equal(t, "start", out)
}

func TestTimeout_GeneralWinsWhileOutputFlows(t *testing.T) {
	p := newShell(t, "while true; do echo tick; sleep 0.05; done", func(c *Config) {
		c.Timeout = 600 * time.Millisecond
		c.IdleTimeout = 300 * time.Millisecond
	})
	err := p.Run(nil)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, timeout.General, te.Kind)
	assert.Equal(t, 600*time.Millisecond, te.Exceeded)
}

func TestCheckTimeout_NoopUnlessStarted(t *testing.T) {
	p, err := New(Config{Command: "true", Timeout: time.Nanosecond})
	require.NoError(t, err)
	assert.NoError(t, p.CheckTimeout())
}

// =============================================================================
// Output
// =============================================================================

func TestIncrementalOutput(t *testing.T) {
	p := newShell(t, "printf foo; sleep 0.2; printf bar; sleep 5")
	require.NoError(t, p.Start(nil))

	ok, err := p.WaitUntil(func(_ output.Stream, data []byte) bool {
		return bytes.Contains(data, []byte("foo"))
	})
	require.NoError(t, err)
	require.True(t, ok)

	inc, err := p.IncrementalOutput()
	require.NoError(t, err)
	assert.Equal(t, "foo", inc)

	inc, _ = p.IncrementalOutput()
	assert.Empty(t, inc, "second call without new bytes")

	ok, err = p.WaitUntil(func(_ output.Stream, data []byte) bool {
		return bytes.Contains(data, []byte("bar"))
	})
	require.NoError(t, err)
	require.True(t, ok)

	inc, _ = p.IncrementalOutput()
	assert.Equal(t, "bar", inc)

	full, _ := p.Output()
	assert.Equal(t, "foobar", full)

	require.NoError(t, p.Stop(time.Second, syscall.SIGTERM))
}

func TestOutputBeforeStart(t *testing.T) {
	p, err := New(Config{Command: "true"})
	require.NoError(t, err)
	_, err = p.Output()
	requireKind(t, err, KindLogic)
	assert.Contains(t, err.Error(), "must be started")
}

func TestDisableOutput(t *testing.T) {
	p := newShell(t, "printf hidden")
	require.NoError(t, p.DisableOutput())
	assert.True(t, p.IsOutputDisabled())
	require.NoError(t, p.Run(nil))

	_, err := p.Output()
	requireKind(t, err, KindLogic)
	assert.Contains(t, err.Error(), "disabled")

	code, _ := p.ExitCode()
	assert.Equal(t, 0, code)
}

func TestEnableOutputBeforeStart(t *testing.T) {
	p := newShell(t, "printf visible")
	require.NoError(t, p.DisableOutput())
	require.NoError(t, p.EnableOutput())
	require.NoError(t, p.Run(nil))
	out, err := p.Output()
	require.NoError(t, err)
	assert.Equal(t, "visible", out)
}

func TestDisableOutput_Rules(t *testing.T) {
	p := newShell(t, "sleep 5", func(c *Config) { c.IdleTimeout = time.Minute })
	requireKind(t, p.DisableOutput(), KindLogic)

	require.NoError(t, p.SetIdleTimeout(0))
	require.NoError(t, p.Start(nil))
	requireKind(t, p.DisableOutput(), KindLogic)
	requireKind(t, p.EnableOutput(), KindLogic)
}

func TestCallbackRequiresOutput(t *testing.T) {
	p := newShell(t, "true", func(c *Config) { c.OutputDisabled = true })
	err := p.Start(func(output.Stream, []byte) {})
	requireKind(t, err, KindLogic)
}

func TestClearOutput(t *testing.T) {
	p := newShell(t, "printf out; printf err >&2")
	require.NoError(t, p.Run(nil))
	p.ClearOutput()
	out, _ := p.Output()
	errOut, _ := p.ErrorOutput()
	assert.Empty(t, out)
	assert.Equal(t, "err", errOut)

	p.ClearErrorOutput()
	errOut, _ = p.ErrorOutput()
	assert.Empty(t, errOut)
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestSetInputWhileStarted(t *testing.T) {
	p := newShell(t, "sleep 5")
	require.NoError(t, p.SetInput("before start"))
	require.NoError(t, p.Start(nil))
	requireKind(t, p.SetInput("late"), KindLogic)
}

func TestSetInput_Rejects(t *testing.T) {
	p, err := New(Config{Command: "cat"})
	require.NoError(t, err)
	requireKind(t, p.SetInput(struct{ A int }{1}), KindInvalidArgument)
	requireKind(t, p.SetInput([]string{"a"}), KindInvalidArgument)
	require.NoError(t, p.SetInput(strings.NewReader("ok")))
}

func TestSetTimeout(t *testing.T) {
	p, err := New(Config{Command: "true"})
	require.NoError(t, err)
	requireKind(t, p.SetTimeout(-time.Second), KindInvalidArgument)
	require.NoError(t, p.SetTimeout(time.Second))
	assert.Equal(t, time.Second, p.Timeout())
	require.NoError(t, p.SetTimeout(0))
	assert.Zero(t, p.Timeout())
}

func TestStartTwice(t *testing.T) {
	p := newShell(t, "sleep 5")
	require.NoError(t, p.Start(nil))
	requireKind(t, p.Start(nil), KindLogic)
	assert.NotZero(t, p.Pid())
	assert.True(t, p.IsRunning())
}

func TestWaitBeforeStart(t *testing.T) {
	p, err := New(Config{Command: "true"})
	require.NoError(t, err)
	requireKind(t, p.Wait(nil), KindLogic)
	_, err = p.Poll(0)
	requireKind(t, err, KindLogic)
}

func TestSignalBeforeStart(t *testing.T) {
	p, err := New(Config{Command: "true"})
	require.NoError(t, err)
	err = p.Signal(syscall.SIGTERM)
	requireKind(t, err, KindLogic)
	assert.Contains(t, err.Error(), "cannot signal a non-running process")
}

func TestSignal(t *testing.T) {
	p := newShell(t, "sleep 5")
	var hooked []string
	p.hooks.OnSignal = func(_ uuid.UUID, sig os.Signal) { hooked = append(hooked, signals.Name(sig)) }
	require.NoError(t, p.Start(nil))
	require.NoError(t, p.Signal(syscall.SIGUSR1))
	require.NoError(t, p.Wait(nil))

	signaled, err := p.HasBeenSignaled()
	require.NoError(t, err)
	assert.True(t, signaled)
	sig, err := p.TermSignal()
	require.NoError(t, err)
	assert.Equal(t, syscall.SIGUSR1, sig)
	code, _ := p.ExitCode()
	assert.Equal(t, 128+int(syscall.SIGUSR1), code)
	assert.Equal(t, []string{"SIGUSR1"}, hooked)

	requireKind(t, p.Signal(syscall.SIGTERM), KindLogic)
}

func TestSignal_Invalid(t *testing.T) {
	p := newShell(t, "sleep 5")
	require.NoError(t, p.Start(nil))
	requireKind(t, p.Signal(syscall.Signal(9999)), KindRuntime)
}

func TestSignalIntrospectionNeedsTermination(t *testing.T) {
	p := newShell(t, "sleep 5")
	require.NoError(t, p.Start(nil))
	_, err := p.HasBeenSignaled()
	requireKind(t, err, KindLogic)
	_, err = p.TermSignal()
	requireKind(t, err, KindLogic)
	_, err = p.HasBeenStopped()
	requireKind(t, err, KindLogic)
	_, err = p.StopSignal()
	requireKind(t, err, KindLogic)
}

func TestStop_EscalatesToKill(t *testing.T) {
	p := newShell(t, "trap '' TERM; sleep 10")
	require.NoError(t, p.Start(nil))
	// Give the shell time to install the trap.
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, p.Stop(300*time.Millisecond, syscall.SIGTERM))
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	assert.Less(t, time.Since(start), 3*time.Second)

	assert.False(t, p.IsRunning())
	signaled, err := p.HasBeenSignaled()
	require.NoError(t, err)
	assert.True(t, signaled)
	sig, _ := p.TermSignal()
	assert.Equal(t, syscall.SIGKILL, sig)
	assert.Equal(t, "Killed (out of memory or SIGKILL)", p.ExitCodeText())
}

func TestStop_GracefulExit(t *testing.T) {
	p := newShell(t, "sleep 10")
	require.NoError(t, p.Start(nil))
	start := time.Now()
	require.NoError(t, p.Stop(5*time.Second, syscall.SIGTERM))
	assert.Less(t, time.Since(start), 2*time.Second)

	sig, err := p.TermSignal()
	require.NoError(t, err)
	assert.Equal(t, syscall.SIGTERM, sig)
	code, _ := p.ExitCode()
	assert.Equal(t, 143, code)
}

func TestStop_Idempotent(t *testing.T) {
	p := newShell(t, "true")
	require.NoError(t, p.Stop(0, syscall.SIGTERM), "ready process")
	require.NoError(t, p.Run(nil))
	code, _ := p.ExitCode()
	require.NoError(t, p.Stop(0, syscall.SIGKILL))
	require.NoError(t, p.StopDefault())
	after, _ := p.ExitCode()
	assert.Equal(t, code, after)
}

func TestRestart(t *testing.T) {
	p := newShell(t, `printf '%s' "$$"`)
	require.NoError(t, p.Run(nil))
	firstOut, _ := p.Output()

	next, err := p.Restart(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = next.Stop(0, syscall.SIGKILL) })
	require.NoError(t, next.Wait(nil))

	secondOut, _ := next.Output()
	assert.NotEqual(t, firstOut, secondOut)
	assert.NotEqual(t, p.ID(), next.ID())
	assert.NotSame(t, p, next)

	code, err := p.ExitCode()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, StatusTerminated, p.Status())
}

func TestRestartWhileRunning(t *testing.T) {
	p := newShell(t, "sleep 5")
	require.NoError(t, p.Start(nil))
	_, err := p.Restart(nil)
	requireKind(t, err, KindLogic)
}

func TestMustRun(t *testing.T) {
	p := newShell(t, "printf good")
	require.NoError(t, p.MustRun(nil))

	p = newShell(t, "printf partial; printf bad >&2; exit 2")
	err := p.MustRun(nil)

	var failed *ProcessFailedError
	require.ErrorAs(t, err, &failed)
	assert.ErrorIs(t, err, ErrProcessFailed)
	assert.Equal(t, 2, failed.ExitCode)
	assert.Equal(t, "partial", failed.Output)
	assert.Equal(t, "bad", failed.ErrorOutput)
	assert.Equal(t, "Misuse of shell builtins", failed.ExitCodeText)
	assert.Contains(t, err.Error(), "Exit Code: 2")
}

func TestPollLoop(t *testing.T) {
	p := newShell(t, "printf x; sleep 0.1; printf y")
	require.NoError(t, p.Start(nil))

	deadline := time.Now().Add(5 * time.Second)
	for {
		running, err := p.Poll(20 * time.Millisecond)
		require.NoError(t, err)
		if !running {
			break
		}
		require.True(t, time.Now().Before(deadline))
	}
	out, _ := p.Output()
	assert.Equal(t, "xy", out)
}

func TestHooks(t *testing.T) {
	var events []string
	p := newShell(t, "printf hi", func(c *Config) {
		c.Hooks = Hooks{
			OnStart:  func(uuid.UUID, int) { events = append(events, "start") },
			OnOutput: func(_ uuid.UUID, s output.Stream, d []byte) { events = append(events, s.String()+":"+string(d)) },
			OnExit: func(_ uuid.UUID, code int, signaled bool, _ time.Duration) {
				events = append(events, fmt.Sprintf("exit:%d:%t", code, signaled))
			},
		}
	})
	require.NoError(t, p.Run(nil))
	assert.Equal(t, []string{"start", "stdout:hi", "exit:0:false"}, events)
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	p := newShell(t, "exit 0", func(c *Config) { c.Logger = logging.NewLoggerWithWriter(&buf, "text", "info") })
	require.NoError(t, p.Run(nil))
	logs := buf.String()
	assert.Contains(t, logs, "process_started")
	assert.Contains(t, logs, "process_exited")
	assert.Contains(t, logs, p.ID().String())
}

// =============================================================================
// Compatibility mode
// =============================================================================

func TestCompat_UnreliableWithoutOptIn(t *testing.T) {
	p := newShell(t, "exit 5", func(c *Config) {
		c.Environment = &signals.Environment{ExitStatusUnreliable: true}
	})
	require.NoError(t, p.Run(nil))
	_, err := p.ExitCode()
	requireKind(t, err, KindRuntime)
	assert.ErrorIs(t, err, signals.ErrExitStatusUnreliable)
	assert.Contains(t, err.Error(), "compatibility mode")
	assert.Empty(t, p.ExitCodeText())
}

func TestCompat_RecoversExitCode(t *testing.T) {
	p := newShell(t, "printf visible; exit 5", func(c *Config) {
		c.Environment = &signals.Environment{ExitStatusUnreliable: true}
		c.CompatibilityMode = true
	})
	require.NoError(t, p.Run(nil))
	code, err := p.ExitCode()
	require.NoError(t, err)
	assert.Equal(t, 5, code)
	out, _ := p.Output()
	assert.Equal(t, "visible", out)
}

func TestCompat_RequiresShellCommand(t *testing.T) {
	skipWithoutShell(t)
	p, err := New(Config{
		Args:              []string{"/bin/true"},
		Environment:       &signals.Environment{ExitStatusUnreliable: true},
		CompatibilityMode: true,
	})
	require.NoError(t, err)
	requireKind(t, p.Start(nil), KindRuntime)
}

func TestCompat_ReliableEnvironmentIgnoresMode(t *testing.T) {
	p := newShell(t, "exit 4", func(c *Config) { c.CompatibilityMode = true })
	require.NoError(t, p.Run(nil))
	code, err := p.ExitCode()
	require.NoError(t, err)
	assert.Equal(t, 4, code)
}

// =============================================================================
// Terminal state seam
// =============================================================================

func TestExitCodeText_FromTerminatedState(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{0, "OK"},
		{1, "General error"},
		{126, "Invoked command cannot execute"},
		{127, "Command not found"},
		{130, "Interrupt"},
		{137, "Killed (out of memory or SIGKILL)"},
		{143, "Termination (request to terminate)"},
		{3, ""},
		{-1, ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			p, err := newTerminated(Config{Command: "true"}, tt.code, signals.Status{Exited: tt.code >= 0, Code: tt.code}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.ExitCodeText())
		})
	}
}

func TestExitCode_UnreliableSeam(t *testing.T) {
	p, err := newTerminated(Config{Command: "true"}, -1, signals.Status{Unreliable: true}, signals.ErrExitStatusUnreliable)
	require.NoError(t, err)
	_, err = p.ExitCode()
	assert.ErrorIs(t, err, ErrRuntime)
	_, err = p.HasBeenSignaled()
	assert.ErrorIs(t, err, ErrRuntime)
}

// =============================================================================
// Operation table
// =============================================================================

// op enumerates the public operations exercised by the state table.
type op int

const (
	opStart op = iota
	opWait
	opSignal
	opSetInput
	opSetTimeout
	opDisableOutput
	opEnableOutput
	opOutput
	opRestart
	opStop
)

func (o op) String() string {
	return [...]string{"start", "wait", "signal", "set_input", "set_timeout",
		"disable_output", "enable_output", "output", "restart", "stop"}[o]
}

func (o op) call(p *Process) error {
	switch o {
	case opStart:
		return p.Start(nil)
	case opWait:
		return p.Wait(nil)
	case opSignal:
		return p.Signal(syscall.SIGTERM)
	case opSetInput:
		return p.SetInput("x")
	case opSetTimeout:
		return p.SetTimeout(time.Minute)
	case opDisableOutput:
		return p.DisableOutput()
	case opEnableOutput:
		return p.EnableOutput()
	case opOutput:
		_, err := p.Output()
		return err
	case opRestart:
		next, err := p.Restart(nil)
		if next != nil {
			_ = next.Stop(0, syscall.SIGKILL)
		}
		return err
	case opStop:
		return p.Stop(time.Second, syscall.SIGTERM)
	}
	return errors.New("unknown op")
}

func TestOperationsByState(t *testing.T) {
	// nil means the operation succeeds in that state.
	tests := []struct {
		op         op
		ready      error
		started    error
		terminated error
	}{
		{opStart, nil, ErrLogic, ErrLogic},
		{opWait, ErrLogic, nil, nil},
		{opSignal, ErrLogic, nil, ErrLogic},
		{opSetInput, nil, ErrLogic, nil},
		{opSetTimeout, nil, ErrLogic, nil},
		{opDisableOutput, nil, ErrLogic, nil},
		{opEnableOutput, nil, ErrLogic, nil},
		{opOutput, ErrLogic, nil, nil},
		{opRestart, nil, ErrLogic, nil},
		{opStop, nil, nil, nil},
	}

	states := []struct {
		name  string
		setup func(*testing.T, *Process)
		want  func(int) error
	}{
		{"ready", func(*testing.T, *Process) {}, func(i int) error { return tests[i].ready }},
		{"started", func(t *testing.T, p *Process) { require.NoError(t, p.Start(nil)) }, func(i int) error { return tests[i].started }},
		{"terminated", func(t *testing.T, p *Process) { require.NoError(t, p.Run(nil)) }, func(i int) error { return tests[i].terminated }},
	}

	for _, st := range states {
		for i, tt := range tests {
			t.Run(st.name+"/"+tt.op.String(), func(t *testing.T) {
				line := "sleep 0.5"
				if st.name == "terminated" {
					line = "true"
				}
				p := newShell(t, line)
				st.setup(t, p)
				err := tt.op.call(p)
				if want := st.want(i); want != nil {
					assert.ErrorIs(t, err, want)
				} else {
					assert.NoError(t, err)
				}
			})
		}
	}
}

// =============================================================================
// Terminal modes
// =============================================================================

func TestPTY(t *testing.T) {
	skipWithoutShell(t)
	if !tty.IsPTYSupported() {
		t.Skip("no pseudo-terminals")
	}
	p := newShell(t, "[ -t 1 ] && printf tty || printf pipe", func(c *Config) { c.PTY = true })
	require.NoError(t, p.Run(nil))
	out, err := p.Output()
	require.NoError(t, err)
	assert.Equal(t, "tty", out)
	code, _ := p.ExitCode()
	assert.Equal(t, 0, code)
}

func TestPipesAreNotTerminals(t *testing.T) {
	p := newShell(t, "[ -t 1 ] && printf tty || printf pipe")
	require.NoError(t, p.Run(nil))
	out, _ := p.Output()
	assert.Equal(t, "pipe", out)
}

func TestSetPTY_ClearsTTY(t *testing.T) {
	if !tty.IsPTYSupported() {
		t.Skip("no pseudo-terminals")
	}
	p, err := New(Config{Command: "true"})
	require.NoError(t, err)
	require.NoError(t, p.SetPTY(true))
	assert.True(t, p.IsPTY())
	assert.False(t, p.IsTTY())
}
