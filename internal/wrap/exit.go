package wrap

import "fmt"

// Process exit codes. A wrapped command's own non-zero status is passed
// through unchanged.
const (
	ExitSuccess      = 0
	ExitArgs         = 2
	ExitInit         = 3
	ExitNoShared     = 4
	ExitOutDir       = 5
	ExitRemoveOutDir = 6
	ExitKeepOutDir   = 7
	ExitNoCommand    = 8
)

// ExitError carries the exit code an invocation should end with. Err is nil
// when there is nothing to report, as when a wrapped command fails.
type ExitError struct {
	Code int
	Err  error
	// Usage asks the caller to print usage help along with Err.
	Usage bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitErr(code int, err error) *ExitError {
	return &ExitError{Code: code, Err: err}
}

func usageErr(code int, err error) *ExitError {
	return &ExitError{Code: code, Err: err, Usage: true}
}
