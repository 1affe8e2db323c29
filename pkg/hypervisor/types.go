/*
Copyright © 2026 ESXops Project Authors. All Rights Reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

   http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package hypervisor models the narrow slice of the hypervisor API this service drives:
// VM lookup, SCSI device snapshots, reconfiguration tasks and task completion tracking
package hypervisor

import (
	"context"
)

// SCSI topology facts of the virtual hardware model
const (
	// SCSIControllerLimit is how many SCSI controllers a VM can have
	SCSIControllerLimit = 4
	// SCSIControllerKeyOffset maps bus number to controller device key, key = offset + bus
	SCSIControllerKeyOffset = 1000
	// SCSIReservedUnit on every controller belongs to the controller itself
	SCSIReservedUnit = 7
	// SCSIMaxUnit is the exclusive upper bound of unit numbers on a controller
	SCSIMaxUnit = 16
)

// TaskState is the lifecycle state of a hypervisor task
type TaskState string

const (
	// TaskQueued means the task is accepted but not started
	TaskQueued TaskState = "queued"
	// TaskRunning means the task is in progress
	TaskRunning TaskState = "running"
	// TaskSuccess is the terminal success state
	TaskSuccess TaskState = "success"
	// TaskError is the terminal failure state
	TaskError TaskState = "error"
)

// TaskRef is an opaque reference to a hypervisor task
type TaskRef string

// TaskDelta is one task state transition reported by a Subscription,
// Fault is set only when State is TaskError
type TaskDelta struct {
	Task  TaskRef
	State TaskState
	Fault error
}

// ControllerInfo is the SCSI controller variant payload of a Device
type ControllerInfo struct {
	BusNumber   int32
	ParaVirtual bool
}

// DiskInfo is the virtual disk variant payload of a Device
type DiskInfo struct {
	ControllerKey int32
	UnitNumber    int32
	BackingFile   string
}

// Device is one entry of a VM device snapshot.
// At most one of Controller and Disk is set, devices of other kinds carry the key only.
type Device struct {
	Key        int32
	Controller *ControllerInfo
	Disk       *DiskInfo
}

// ChangeOp tells whether a DeviceChange adds or removes a device
type ChangeOp string

const (
	// AddDevice adds the described device to the VM
	AddDevice ChangeOp = "add"
	// RemoveDevice removes the device with the given key from the VM
	RemoveDevice ChangeOp = "remove"
)

// DeviceChange is one desired edit of the VM device graph
type DeviceChange struct {
	Op     ChangeOp
	Device Device
}

// Machine is the reconfiguration surface of one resolved VM
type Machine interface {
	// UUID returns the BIOS uuid of the VM in canonical form
	UUID() string
	// Name returns the display name the VM was resolved by
	Name() string
	// Devices returns a point-in-time snapshot of the VM device graph
	Devices(ctx context.Context) ([]Device, error)
	// Reconfigure submits all changes as a single task and returns its reference
	Reconfigure(ctx context.Context, changes []DeviceChange) (TaskRef, error)
}

// Subscription is an incremental change feed over a fixed set of tasks
type Subscription interface {
	// Poll blocks for the next batch of deltas. version is the cursor returned
	// by the previous Poll, empty for the first call
	Poll(ctx context.Context, version string) ([]TaskDelta, string, error)
	// Release frees the server-side subscription state
	Release(ctx context.Context) error
}

// TaskMonitor creates task subscriptions
type TaskMonitor interface {
	Subscribe(ctx context.Context, tasks []TaskRef) (Subscription, error)
}

// Client is the authenticated hypervisor capability this service drives
type Client interface {
	// FindVM resolves a VM by display name
	FindVM(ctx context.Context, name string) (Machine, error)
	// Monitor returns the task monitor of this session
	Monitor() TaskMonitor
	// Logout terminates the session
	Logout(ctx context.Context) error
}
