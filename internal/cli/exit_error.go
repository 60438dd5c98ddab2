package cli

import "fmt"

// Exit codes for the run contract: everything current or updated, a run that
// completed with entry failures, and a run that could not start at all.
const (
	ExitOK      = 0
	ExitFatal   = 1
	ExitPartial = 2
)

// ExitError signals a specific exit code without forcing os.Exit inside RunE
// handlers; Execute unwraps it at the top.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }
