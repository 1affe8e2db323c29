package error

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToolError(t *testing.T) {
	inner := errors.New("exit status 255")
	e := &ToolError{Tool: "vmkfstools", Output: "Failed to create virtual disk\n", Err: inner}
	assert.Equal(t, "vmkfstools failed: Failed to create virtual disk", e.Error())
	assert.True(t, errors.Is(fmt.Errorf("create: %w", e), inner))

	var toolErr *ToolError
	assert.True(t, errors.As(fmt.Errorf("create: %w", e), &toolErr))
	assert.Equal(t, "vmkfstools", toolErr.Tool)
}

func TestFault(t *testing.T) {
	f := NewFault("Invalid configuration for device '0'.", "")
	assert.Equal(t, "Invalid configuration for device '0'.", f.Error())

	f.Hints = append(f.Hints, "disk vol.vmdk already attached to VM=4221ff08")
	assert.Equal(t, "Invalid configuration for device '0'., disk vol.vmdk already attached to VM=4221ff08", f.Error())

	empty := NewFault()
	assert.Equal(t, "hypervisor operation failed", empty.Error())
}
