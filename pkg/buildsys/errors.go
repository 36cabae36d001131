package buildsys

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// ExitError reports a command that exited with a non-zero status.
type ExitError struct {
	Task    string
	Command string
	Status  int
}

var _ error = (*ExitError)(nil)

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %s exited with status %d", e.Task, e.Command, e.Status)
}

// ExitStatus returns the status of the first *ExitError in err's chain.
func ExitStatus(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Status, true
	}

	if exitErr, ok := eris.Cause(err).(*ExitError); ok {
		return exitErr.Status, true
	}

	return 0, false
}
