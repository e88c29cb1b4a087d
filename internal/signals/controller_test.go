package signals

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatus struct {
	exited   bool
	code     int
	signaled bool
	sig      syscall.Signal
	stopped  bool
	stopSig  syscall.Signal
}

func (f fakeStatus) Exited() bool               { return f.exited }
func (f fakeStatus) ExitStatus() int            { return f.code }
func (f fakeStatus) Signaled() bool             { return f.signaled }
func (f fakeStatus) Signal() syscall.Signal     { return f.sig }
func (f fakeStatus) Stopped() bool              { return f.stopped }
func (f fakeStatus) StopSignal() syscall.Signal { return f.stopSig }

func TestInterpret(t *testing.T) {
	st := Interpret(fakeStatus{exited: true, code: 3})
	assert.Equal(t, Status{Exited: true, Code: 3}, st)

	st = Interpret(fakeStatus{signaled: true, sig: syscall.Signal(9)})
	assert.True(t, st.Exited)
	assert.True(t, st.Signaled)
	assert.Equal(t, syscall.Signal(9), st.TermSignal)
	assert.Equal(t, 137, st.Code)

	st = Interpret(fakeStatus{stopped: true, stopSig: syscall.Signal(19)})
	assert.False(t, st.Exited)
	assert.True(t, st.Stopped)
	assert.Equal(t, -1, st.Code)
}

func TestParseReportedStatus(t *testing.T) {
	tests := []struct {
		in   string
		code int
		ok   bool
	}{
		{"0\n", 0, true},
		{"  42 \n", 42, true},
		{"noise\n7\n", 7, true},
		{"", 0, false},
		{"x\n", 0, false},
	}
	for _, tt := range tests {
		code, ok := ParseReportedStatus([]byte(tt.in))
		assert.Equal(t, tt.ok, ok, "%q", tt.in)
		assert.Equal(t, tt.code, code, "%q", tt.in)
	}
}

func TestExitCode_Reliable(t *testing.T) {
	c := NewController(Environment{})
	code, err := c.ExitCode(Status{Exited: true, Code: 5}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, code)

	code, err = c.ExitCode(Status{Code: -1}, nil)
	require.NoError(t, err)
	assert.Equal(t, -1, code)
}

func TestExitCode_UnreliableRequiresCompat(t *testing.T) {
	c := NewController(Environment{ExitStatusUnreliable: true})
	_, err := c.ExitCode(Status{Exited: true, Code: -1, Unreliable: true}, nil)
	require.ErrorIs(t, err, ErrExitStatusUnreliable)
	assert.Contains(t, err.Error(), "compatibility mode")

	c.SetCompatibilityMode(true)
	assert.True(t, c.WrapsCommands())
	code, err := c.ExitCode(Status{Exited: true, Code: -1, Unreliable: true}, []byte("12\n"))
	require.NoError(t, err)
	assert.Equal(t, 12, code)

	code, err = c.ExitCode(Status{Exited: true, Code: -1, Unreliable: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, -1, code)
}

func TestExitCode_ReapedElsewhere(t *testing.T) {
	c := NewController(Environment{})
	_, err := c.ExitCode(Status{Exited: true, Code: -1, Unreliable: true}, nil)
	assert.ErrorIs(t, err, ErrExitStatusUnreliable)
}

func TestWrapsCommands(t *testing.T) {
	c := NewController(Environment{})
	c.SetCompatibilityMode(true)
	assert.True(t, c.CompatibilityMode())
	assert.False(t, c.WrapsCommands(), "reliable environment needs no wrapping")
}

func TestWrapCommand(t *testing.T) {
	c := NewController(Environment{ExitStatusUnreliable: true})
	got := c.WrapCommand("exit 3")
	assert.Equal(t, "(exit 3) 3>/dev/null; code=$?; echo $code >&3; exit $code", got)
}

func TestValidate_RejectsNonSyscallSignal(t *testing.T) {
	_, err := Validate(fakeSignal{})
	assert.ErrorIs(t, err, ErrInvalidSignal)
}

type fakeSignal struct{}

func (fakeSignal) String() string { return "fake" }
func (fakeSignal) Signal()        {}

func TestParseSignal_Invalid(t *testing.T) {
	for _, in := range []string{"NOPE", "SIGNOPE", ""} {
		_, err := ParseSignal(in)
		assert.ErrorIs(t, err, ErrInvalidSignal, "%q", in)
	}
}
