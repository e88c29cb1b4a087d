// Package exitcode maps well-known POSIX exit codes to descriptive text.
package exitcode

// Shell convention: a child killed by signal N reports 128+N.
const signalBase = 128

var texts = map[int]string{
	0:   "OK",
	1:   "General error",
	2:   "Misuse of shell builtins",
	126: "Invoked command cannot execute",
	127: "Command not found",
	128: "Invalid exit argument",

	// signals
	129: "Hangup",
	130: "Interrupt",
	131: "Quit and dump core",
	132: "Illegal instruction",
	133: "Trace/breakpoint trap",
	134: "Process aborted",
	135: "Bus error: \"access to undefined portion of memory object\"",
	136: "Floating point exception: \"erroneous arithmetic operation\"",
	137: "Killed (out of memory or SIGKILL)",
	138: "User-defined 1",
	139: "Segmentation violation",
	140: "User-defined 2",
	141: "Write to pipe with no reader",
	142: "Signal raised by alarm",
	143: "Termination (request to terminate)",
	145: "Child process terminated, stopped (or continued*)",
	146: "Continue if stopped",
	147: "Stop executing temporarily",
	148: "Terminal stop signal",
	149: "Background process attempting to read from tty (\"in\")",
	150: "Background process attempting to write to tty (\"out\")",
	151: "Urgent data available on socket",
	152: "CPU time limit exceeded",
	153: "File size limit exceeded",
	154: "Signal raised by timer counting virtual time: \"virtual timer expired\"",
	155: "Profiling timer expired",
	157: "Pollable event",
	159: "Bad syscall",
}

// Text returns the description for code. ok is false for codes outside
// the table.
func Text(code int) (text string, ok bool) {
	text, ok = texts[code]
	return text, ok
}

// Category buckets an exit for metrics labels: "success", "error" or "signal".
func Category(code int, signaled bool) string {
	switch {
	case signaled:
		return "signal"
	case code == 0:
		return "success"
	default:
		return "error"
	}
}

// FromSignal returns the conventional exit code for a child terminated by sig.
func FromSignal(sig int) int {
	return signalBase + sig
}
