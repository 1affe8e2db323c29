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

// Package attach moves volumes between VMs by editing their SCSI device graphs
package attach

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	errTypes "github.com/esxops/vmdkops/pkg/base/error"
	"github.com/esxops/vmdkops/pkg/hypervisor"
	"github.com/esxops/vmdkops/pkg/kvstore"
	"github.com/esxops/vmdkops/pkg/vmdk"
)

// Result is the SCSI placement of an attached volume
type Result struct {
	Unit int32
	Bus  int32
}

// Engine is an interface that encapsulates volume attach and detach
type Engine interface {
	// Attach connects the volume at vmdkPath to the VM and returns its placement
	Attach(ctx context.Context, vm hypervisor.Machine, vmdkPath string) (Result, error)
	// Detach disconnects the volume at vmdkPath from the VM
	Detach(ctx context.Context, vm hypervisor.Machine, vmdkPath string) error
}

// EngineImpl is an Engine implementer.
//
// The free slot computations below read one device snapshot and submit one
// reconfiguration without holding any lock. That is safe only while requests
// are served one at a time, concurrent attaches to the same VM would need a
// per VM lock around the snapshot-pick-submit sequence.
type EngineImpl struct {
	kv     kvstore.Factory
	waiter hypervisor.TaskWaiter
	log    *logrus.Entry
}

// NewEngineImpl is a constructor for EngineImpl struct
// Receives kvstore Factory for status records, TaskWaiter that blocks on
// reconfiguration tasks and logrus logger
func NewEngineImpl(kv kvstore.Factory, waiter hypervisor.TaskWaiter, logger *logrus.Logger) *EngineImpl {
	return &EngineImpl{
		kv:     kv,
		waiter: waiter,
		log:    logger.WithField("component", "AttachEngine"),
	}
}

// Attach connects the volume at vmdkPath to the VM on a paravirtual SCSI
// controller, adding the controller first when the VM has none. A volume the
// VM already holds is reported at its discovered placement without another
// reconfiguration. On success the metadata record moves to attached.
func (e *EngineImpl) Attach(ctx context.Context, vm hypervisor.Machine, vmdkPath string) (Result, error) {
	ll := e.log.WithFields(logrus.Fields{"method": "Attach", "volumeName": vmdk.VolumeName(vmdkPath)})
	ll.Infof("attaching %s to VM %s uuid=%s", vmdkPath, vm.Name(), vm.UUID())

	devices, err := vm.Devices(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read devices of VM %s: %w", vm.Name(), err)
	}

	changes := make([]hypervisor.DeviceChange, 0, 2)

	var controllerKey, busNumber int32
	unit := int32(-1) // pre-assigned only when a fresh controller is queued
	if c, ok := preferredController(devices); ok {
		controllerKey = c.Key
		busNumber = c.Controller.BusNumber
	} else {
		ll.Warnf("VM %s has no paravirtual controller, adding one", vm.Name())
		bus, ok := lowestFreeBus(devices)
		if !ok {
			return Result{}, fmt.Errorf("failed to place a controller for %s on VM %s: %w",
				vmdkPath, vm.UUID(), errTypes.ErrorOutOfBusSlots)
		}
		busNumber = bus
		controllerKey = hypervisor.SCSIControllerKeyOffset + bus
		unit = 0
		changes = append(changes, hypervisor.DeviceChange{
			Op: hypervisor.AddDevice,
			Device: hypervisor.Device{
				Key:        controllerKey,
				Controller: &hypervisor.ControllerInfo{BusNumber: bus, ParaVirtual: true},
			},
		})
	}

	if d := findDiskByPath(devices, vmdkPath); d != nil {
		ll.Warnf("%s is already attached to VM %s", vmdkPath, vm.UUID())
		e.persistAttached(ll, vmdkPath, vm.UUID())
		return Result{
			Unit: d.Disk.UnitNumber,
			Bus:  d.Disk.ControllerKey - hypervisor.SCSIControllerKeyOffset,
		}, nil
	}

	if unit < 0 {
		u, ok := lowestFreeUnit(devices, controllerKey)
		if !ok {
			return Result{}, fmt.Errorf("failed to place %s on bus %d of VM %s: %w",
				vmdkPath, busNumber, vm.UUID(), errTypes.ErrorOutOfDiskSlots)
		}
		unit = u
	}
	ll.Debugf("placing disk at controllerKey=%d unit=%d", controllerKey, unit)

	changes = append(changes, hypervisor.DeviceChange{
		Op: hypervisor.AddDevice,
		Device: hypervisor.Device{
			Disk: &hypervisor.DiskInfo{
				ControllerKey: controllerKey,
				UnitNumber:    unit,
				BackingFile:   "[] " + vmdkPath,
			},
		},
	})

	task, err := vm.Reconfigure(ctx, changes)
	if err != nil {
		return Result{}, fmt.Errorf("failed to reconfigure VM %s: %w", vm.Name(), err)
	}
	if err := e.waiter.Wait(ctx, []hypervisor.TaskRef{task}); err != nil {
		return Result{}, e.attachFaultError(ll, vmdkPath, vm.UUID(), err)
	}

	e.persistAttached(ll, vmdkPath, vm.UUID())
	ll.Infof("%s attached, unit=%d bus=%d", vmdkPath, unit, busNumber)
	return Result{Unit: unit, Bus: busNumber}, nil
}

// Detach disconnects the volume at vmdkPath from the VM. A volume the VM does
// not hold is a NotFound outcome, guests keep issuing detach even after a
// failed attach. On success the metadata record moves back to detached.
func (e *EngineImpl) Detach(ctx context.Context, vm hypervisor.Machine, vmdkPath string) error {
	ll := e.log.WithFields(logrus.Fields{"method": "Detach", "volumeName": vmdk.VolumeName(vmdkPath)})
	ll.Infof("detaching %s from VM %s uuid=%s", vmdkPath, vm.Name(), vm.UUID())

	devices, err := vm.Devices(ctx)
	if err != nil {
		return fmt.Errorf("failed to read devices of VM %s: %w", vm.Name(), err)
	}

	d := findDiskByPath(devices, vmdkPath)
	if d == nil {
		ll.Warnf("disk %s not found on VM %s", vmdkPath, vm.UUID())
		return fmt.Errorf("disk %s on VM %s: %w", vmdkPath, vm.UUID(), errTypes.ErrorNotFound)
	}

	task, err := vm.Reconfigure(ctx, []hypervisor.DeviceChange{
		{Op: hypervisor.RemoveDevice, Device: *d},
	})
	if err != nil {
		return fmt.Errorf("failed to reconfigure VM %s: %w", vm.Name(), err)
	}
	if err := e.waiter.Wait(ctx, []hypervisor.TaskRef{task}); err != nil {
		return fmt.Errorf("failed to detach %s: %w", vmdkPath, err)
	}

	e.persistDetached(ll, vmdkPath)
	ll.Infof("%s detached", vmdkPath)
	return nil
}

// attachFaultError augments a reconfiguration fault with the metadata view when
// it claims the volume is held by another VM, which usually explains the fault.
// Metadata stays untouched, the hypervisor report is authoritative.
func (e *EngineImpl) attachFaultError(ll *logrus.Entry, vmdkPath, vmUUID string, waitErr error) error {
	store, err := e.kv.StoreFor(filepath.Dir(vmdkPath))
	if err != nil {
		ll.Warnf("failed to open metadata store of %s: %v", vmdkPath, err)
		return waitErr
	}
	owner, attached, err := kvstore.GetStatusAttached(store, vmdk.VolumeName(vmdkPath))
	if err != nil {
		ll.Warnf("failed to read metadata of %s: %v", vmdkPath, err)
		return waitErr
	}
	if !attached || owner == vmUUID {
		return waitErr
	}

	hint := fmt.Sprintf("disk %s already attached to VM=%s", vmdkPath, owner)
	var fault *errTypes.Fault
	if errors.As(waitErr, &fault) {
		fault.Hints = append(fault.Hints, hint)
		return waitErr
	}
	return fmt.Errorf("%w, %s", waitErr, hint)
}

func (e *EngineImpl) persistAttached(ll *logrus.Entry, vmdkPath, vmUUID string) {
	store, err := e.kv.StoreFor(filepath.Dir(vmdkPath))
	if err == nil {
		err = kvstore.SetStatusAttached(store, vmdk.VolumeName(vmdkPath), vmUUID)
	}
	if err != nil {
		ll.Warnf("failed to save attached status of %s: %v", vmdkPath, err)
	}
}

func (e *EngineImpl) persistDetached(ll *logrus.Entry, vmdkPath string) {
	store, err := e.kv.StoreFor(filepath.Dir(vmdkPath))
	if err == nil {
		err = kvstore.SetStatusDetached(store, vmdk.VolumeName(vmdkPath))
	}
	if err != nil {
		ll.Warnf("failed to save detached status of %s: %v", vmdkPath, err)
	}
}
