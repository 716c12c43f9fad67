package lockgroup

import (
	"errors"
	"fmt"
)

// ErrTimedOut is returned when a wait for a resource used up its budget.
var ErrTimedOut = errors.New("lockgroup: timed out")

// ContractViolation is the panic value for misuse of a Handle: releasing out
// of order, releasing twice, or using a handle whose group is not the
// current group of its thread.
type ContractViolation struct {
	Op     string
	Reason string
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("lockgroup: %s: %s", e.Op, e.Reason)
}

func violation(op, reason string) *ContractViolation {
	return &ContractViolation{Op: op, Reason: reason}
}
