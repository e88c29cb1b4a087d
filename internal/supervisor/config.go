package supervisor

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/procwatch/internal/output"
	"github.com/randomizedcoder/procwatch/internal/signals"
	"github.com/randomizedcoder/procwatch/internal/timeout"
)

// DefaultTickInterval bounds how long one tick blocks waiting for output.
const DefaultTickInterval = 10 * time.Millisecond

// DefaultStopGrace is the grace period used by StopDefault.
const DefaultStopGrace = 10 * time.Second

// Recognised SpawnOptions keys.
const (
	// OptionShell overrides the shell used for Command (string).
	OptionShell = "shell"

	// OptionProcessGroup controls whether the child gets its own process
	// group and signals target the whole group (bool, default true where
	// signals are supported).
	OptionProcessGroup = "process_group"
)

// Callback receives every chunk of output in arrival order.
type Callback func(stream output.Stream, data []byte)

// Hooks contains optional functions for process events. They run
// synchronously on the goroutine driving the process.
type Hooks struct {
	// OnStart is called after the child has been spawned.
	OnStart func(id uuid.UUID, pid int)

	// OnOutput is called for every chunk, after the sink and callback.
	OnOutput func(id uuid.UUID, stream output.Stream, data []byte)

	// OnSignal is called after a signal was delivered.
	OnSignal func(id uuid.UUID, sig os.Signal)

	// OnTimeout is called when a deadline fires, before the child is stopped.
	OnTimeout func(id uuid.UUID, kind timeout.Kind, exceeded time.Duration)

	// OnExit is called once the process is terminated.
	OnExit func(id uuid.UUID, exitCode int, signaled bool, uptime time.Duration)
}

// Config holds configuration for creating a new Process.
type Config struct {
	// Command is a shell command line. Exactly one of Command and Args
	// must be set.
	Command string

	// Args is a direct argv; Args[0] is the program.
	Args []string

	// Dir is the working directory. Empty means the current one.
	Dir string

	// Env is overlaid on the inherited environment. Nil inherits as is.
	Env map[string]string

	// IsolateEnv starts from an empty environment instead of os.Environ.
	IsolateEnv bool

	// Input is fed to stdin: string, []byte, io.Reader, fmt.Stringer,
	// a scalar, or nil.
	Input any

	// Timeout and IdleTimeout; zero disables.
	Timeout     time.Duration
	IdleTimeout time.Duration

	// SpawnOptions are platform spawn settings; see the Option constants.
	SpawnOptions map[string]any

	TTY               bool
	PTY               bool
	OutputDisabled    bool
	CompatibilityMode bool

	// Environment overrides the detected process-wide environment.
	Environment *signals.Environment

	Logger       *slog.Logger
	Hooks        Hooks
	TickInterval time.Duration
}

type spawnOptions struct {
	shell string
	group bool
}

func parseSpawnOptions(m map[string]any) (spawnOptions, error) {
	opts := spawnOptions{shell: DefaultShell, group: signals.Supported()}
	for k, v := range m {
		switch k {
		case OptionShell:
			s, ok := v.(string)
			if !ok || s == "" {
				return opts, fmt.Errorf("%s must be a non-empty string, got %T", k, v)
			}
			opts.shell = s
		case OptionProcessGroup:
			b, ok := v.(bool)
			if !ok {
				return opts, fmt.Errorf("%s must be a bool, got %T", k, v)
			}
			opts.group = b && signals.Supported()
		}
	}
	return opts, nil
}

// clone copies the mutable reference fields so a Restart never shares them.
func (c Config) clone() Config {
	c.Args = slices.Clone(c.Args)
	c.Env = maps.Clone(c.Env)
	c.SpawnOptions = maps.Clone(c.SpawnOptions)
	return c
}

// environ builds the child's environment, or nil to inherit unchanged.
func (c Config) environ() []string {
	if c.Env == nil && !c.IsolateEnv {
		return nil
	}
	merged := make(map[string]string)
	if !c.IsolateEnv {
		for _, kv := range os.Environ() {
			for i := 1; i < len(kv); i++ {
				if kv[i] == '=' {
					merged[kv[:i]] = kv[i+1:]
					break
				}
			}
		}
	}
	maps.Copy(merged, c.Env)

	env := make([]string, 0, len(merged))
	for _, k := range slices.Sorted(maps.Keys(merged)) {
		env = append(env, k+"="+merged[k])
	}
	return env
}
