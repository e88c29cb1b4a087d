// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/randomizedcoder/procwatch/internal/process"
	"github.com/randomizedcoder/procwatch/internal/signals"
	"github.com/randomizedcoder/procwatch/internal/tty"
)

// minFileDescriptors covers the child's pipes, a status pipe, a PTY, the
// metrics listener and some headroom.
const minFileDescriptors = 64

// minProcesses leaves room for the child and whatever it spawns.
const minProcesses = 32

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// Options describes what the upcoming run needs.
type Options struct {
	// Shell is checked when the command is a shell string.
	Shell string

	// Program is argv[0] when the command is an argv.
	Program string

	NeedTTY bool
	NeedPTY bool

	// Compat is set when compatibility mode was requested explicitly.
	Compat bool
}

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 6),
		Passed: true,
	}
	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	if opts.Shell != "" {
		add(checkExecutable("shell", opts.Shell))
	}
	if opts.Program != "" {
		add(checkExecutable("program", opts.Program))
	}
	add(checkFileDescriptors())
	add(checkProcessLimit("/proc/self/limits"))
	add(checkTerminal("tty", opts.NeedTTY, tty.IsTTYSupported()))
	add(checkTerminal("pty", opts.NeedPTY, tty.IsPTYSupported()))
	add(checkExitStatus(signals.DetectEnvironment(), opts.Compat))

	return result
}

// shellWords are builtins and reserved words that never resolve on PATH.
var shellWords = map[string]bool{
	":": true, ".": true, "[": true, "[[": true, "!": true, "{": true,
	"alias": true, "bg": true, "break": true, "case": true, "cd": true,
	"command": true, "continue": true, "echo": true, "eval": true,
	"exec": true, "exit": true, "export": true, "false": true, "fg": true,
	"for": true, "function": true, "getopts": true, "hash": true, "if": true,
	"jobs": true, "kill": true, "local": true, "printf": true, "pwd": true,
	"read": true, "readonly": true, "return": true, "select": true,
	"set": true, "shift": true, "source": true, "test": true, "time": true,
	"times": true, "trap": true, "true": true, "type": true, "ulimit": true,
	"umask": true, "unalias": true, "unset": true, "until": true,
	"wait": true, "while": true,
}

// LeadingProgram returns the program a shell command line starts with, or
// "" when the first word is a builtin, a keyword, an assignment or anything
// the shell would expand first.
func LeadingProgram(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	word := fields[0]
	if shellWords[word] || strings.ContainsAny(word, "=$`'\"\\(){};&|<>*?~#") {
		return ""
	}
	return word
}

func checkExecutable(name, program string) Check {
	path, err := process.FindExecutable(program)
	if err != nil {
		return Check{
			Name:    name,
			Passed:  false,
			Message: err.Error(),
		}
	}
	return Check{
		Name:    name,
		Passed:  true,
		Message: fmt.Sprintf("found at %s", path),
	}
}

// checkProcessLimit reads the soft "Max processes" limit.
func checkProcessLimit(limitsPath string) Check {
	data, err := os.ReadFile(limitsPath)
	if err != nil {
		// Non-Linux or restricted access, assume OK
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	actual := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "Max processes") {
			fields := strings.Fields(line)
			if len(fields) >= 4 {
				if fields[2] == "unlimited" {
					actual = 1_000_000
				} else {
					fmt.Sscanf(fields[2], "%d", &actual)
				}
			}
			break
		}
	}

	if actual == 0 {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: minProcesses,
		Actual:   actual,
		Passed:   actual >= minProcesses,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, minProcesses),
	}
}

// checkTerminal fails only when a mode was requested but is unavailable.
func checkTerminal(name string, needed, supported bool) Check {
	switch {
	case supported:
		return Check{Name: name, Passed: true, Message: "supported"}
	case needed:
		return Check{Name: name, Passed: false, Message: "requested but not supported on this host"}
	default:
		return Check{Name: name, Passed: true, Warning: true, Message: "not supported (not requested)"}
	}
}

// checkExitStatus warns when the host ignores SIGCHLD, in which case exit
// codes are only recovered through compatibility mode.
func checkExitStatus(env signals.Environment, compat bool) Check {
	switch {
	case !env.ExitStatusUnreliable:
		return Check{Name: "exit_status", Passed: true, Message: "reliable"}
	case compat:
		return Check{Name: "exit_status", Passed: true, Warning: true, Message: "SIGCHLD is ignored; using compatibility mode"}
	default:
		return Check{
			Name:    "exit_status",
			Passed:  true,
			Warning: true,
			Message: "SIGCHLD is ignored; exit codes need --compat and a shell command",
		}
	}
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 1024 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "shell":
		return "install a POSIX shell or pass --shell"
	case "program":
		return "check the command name and PATH"
	case "tty":
		return "run from an interactive terminal, or drop --tty"
	case "pty":
		return "mount devpts (/dev/ptmx), or drop --pty"
	default:
		return "see documentation"
	}
}
