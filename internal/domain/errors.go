package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConnectivity   = errors.New("connectivity error")
	ErrDelivery       = errors.New("delivery error")
	ErrConfiguration  = errors.New("configuration error")
	ErrHealthTimeout  = errors.New("health check timed out")
	ErrNoPriorBuild   = errors.New("no prior successful build")
	ErrRunInProgress  = errors.New("another run of this job is in progress")
	ErrRunTimeout     = errors.New("pipeline run timed out")
	ErrForcedFailure  = errors.New("forced failure requested")
	ErrApprovalDenied = errors.New("approval denied")
)

// StageError tags an underlying error with one of the kinds above so that
// errors.Is matches both the kind and the cause.
type StageError struct {
	Kind error
	Op   string
	Err  error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func Connectivity(op string, err error) error {
	return &StageError{Kind: ErrConnectivity, Op: op, Err: err}
}

func Delivery(op string, err error) error {
	return &StageError{Kind: ErrDelivery, Op: op, Err: err}
}

func Configuration(op string, err error) error {
	return &StageError{Kind: ErrConfiguration, Op: op, Err: err}
}

// Terminal errors never lead to a rollback.
func Terminal(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrNoPriorBuild)
}

// ExitCode maps an error to the process exit status of the CLI surface.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrConnectivity):
		return 255
	default:
		return 1
	}
}
