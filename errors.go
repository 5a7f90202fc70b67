package cargo

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration indicates bad or missing settings, such as an invalid
	// or already bound port.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnsupportedDeployableType indicates an artifact the driver cannot serve.
	ErrUnsupportedDeployableType = errors.New("unsupported deployable type")

	// ErrDuplicateDeployment indicates a context path that is already deployed.
	ErrDuplicateDeployment = errors.New("duplicate deployment")

	// ErrUnresolvedReference indicates a resource reference that does not
	// resolve within its configuration batch.
	ErrUnresolvedReference = errors.New("unresolved reference")

	// ErrDriverInvocation indicates that an underlying vendor call failed.
	ErrDriverInvocation = errors.New("driver invocation failed")

	// ErrInvalidState indicates an operation attempted in a lifecycle state
	// that does not allow it.
	ErrInvalidState = errors.New("invalid lifecycle state")
)

// DriverError wraps a failed vendor call with enough context to diagnose it
// without looking at driver internals. It matches both ErrDriverInvocation
// and the wrapped cause under errors.Is.
type DriverError struct {
	Driver     string
	Op         string
	Deployable string
	Resource   string
	Err        error
}

func (e *DriverError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Driver)
	sb.WriteString(": ")
	sb.WriteString(e.Op)
	if e.Deployable != "" {
		fmt.Fprintf(&sb, " deployable=%s", e.Deployable)
	}
	if e.Resource != "" {
		fmt.Fprintf(&sb, " resource=%s", e.Resource)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *DriverError) Unwrap() []error {
	return []error{ErrDriverInvocation, e.Err}
}

// WrapDriverError returns err wrapped in a DriverError unless it is nil or
// already carries one of the classified error kinds.
func WrapDriverError(driver, op string, d *Deployable, err error) error {
	if err == nil {
		return nil
	}
	if classified(err) {
		return err
	}
	de := &DriverError{Driver: driver, Op: op, Err: err}
	if d != nil {
		de.Deployable = d.FilePath
	}
	return de
}

func classified(err error) bool {
	for _, kind := range []error{
		ErrConfiguration,
		ErrUnsupportedDeployableType,
		ErrDuplicateDeployment,
		ErrUnresolvedReference,
		ErrDriverInvocation,
		ErrInvalidState,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
