package error

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorNotFound indicates that requested object wasn't found
var (
	ErrorNotFound       = errors.New("not found")
	ErrorAlreadyExists  = errors.New("already exists")
	ErrorEmptyParameter = errors.New("empty parameter")
	ErrorFailedParsing  = errors.New("failed to parse")

	ErrorUnknownCommand = errors.New("unknown command")

	ErrorOutOfBusSlots  = errors.New("out of bus slots, all 4 SCSI controllers are occupied")
	ErrorOutOfDiskSlots = errors.New("out of disk slots on SCSI controller")

	ErrorSessionExpired = errors.New("hypervisor session is not authenticated")

	ErrorTransientChannel = errors.New("transient channel failure")
	ErrorFatalChannel     = errors.New("too many consecutive channel failures")
)

// ToolError indicates that a disk tool exited non-zero
// Output keeps the combined stdout and stderr of the run
type ToolError struct {
	Tool   string
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Tool, strings.TrimSpace(e.Output))
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Fault carries hypervisor fault messages of a failed task or call,
// Hints holds metadata-derived diagnostics appended to the reported message
type Fault struct {
	Messages []string
	Hints    []string
}

func (e *Fault) Error() string {
	return strings.Join(append(e.Messages, e.Hints...), ", ")
}

// NewFault builds a Fault from non-empty messages
func NewFault(messages ...string) *Fault {
	msgs := make([]string, 0, len(messages))
	for _, m := range messages {
		if m != "" {
			msgs = append(msgs, m)
		}
	}
	if len(msgs) == 0 {
		msgs = append(msgs, "hypervisor operation failed")
	}
	return &Fault{Messages: msgs}
}
