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

package vsphere

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/esxops/vmdkops/pkg/base"
	"github.com/esxops/vmdkops/pkg/hypervisor"
)

// machine implements hypervisor.Machine over one resolved VM
type machine struct {
	vm   *object.VirtualMachine
	name string
	uuid string
	pc   *property.Collector
	log  *logrus.Entry
}

func (m *machine) UUID() string { return m.uuid }
func (m *machine) Name() string { return m.name }

// Devices reads the current device list of the VM and normalizes it into the
// snapshot form the attach logic works on
func (m *machine) Devices(ctx context.Context) ([]hypervisor.Device, error) {
	var movm mo.VirtualMachine
	if err := m.pc.RetrieveOne(ctx, m.vm.Reference(), []string{"config.hardware.device"}, &movm); err != nil {
		return nil, asTypedError(fmt.Errorf("failed to read devices of VM %s: %w", m.name, err))
	}
	if movm.Config == nil {
		return nil, nil
	}
	return snapshotDevices(movm.Config.Hardware.Device), nil
}

// Reconfigure submits all changes as one reconfiguration task
func (m *machine) Reconfigure(ctx context.Context, changes []hypervisor.DeviceChange) (hypervisor.TaskRef, error) {
	task, err := m.vm.Reconfigure(ctx, configSpec(changes))
	if err != nil {
		return "", asTypedError(fmt.Errorf("failed to submit reconfiguration of VM %s: %w", m.name, err))
	}
	ref := hypervisor.TaskRef(task.Reference().String())
	m.log.WithField("method", "Reconfigure").Debugf("VM %s reconfiguration submitted as %s", m.name, ref)
	return ref, nil
}

// snapshotDevices maps the polymorphic device objects of the API into the
// tagged snapshot form. Only SCSI controllers and disks carry a payload,
// every other device contributes its key alone.
func snapshotDevices(devices []types.BaseVirtualDevice) []hypervisor.Device {
	snapshot := make([]hypervisor.Device, 0, len(devices))
	for _, d := range devices {
		switch dev := d.(type) {
		case *types.ParaVirtualSCSIController:
			snapshot = append(snapshot, hypervisor.Device{
				Key: dev.Key,
				Controller: &hypervisor.ControllerInfo{
					BusNumber:   dev.BusNumber,
					ParaVirtual: true,
				},
			})
		case types.BaseVirtualSCSIController:
			sc := dev.GetVirtualSCSIController()
			snapshot = append(snapshot, hypervisor.Device{
				Key: sc.Key,
				Controller: &hypervisor.ControllerInfo{
					BusNumber:   sc.BusNumber,
					ParaVirtual: false,
				},
			})
		case *types.VirtualDisk:
			unit := int32(0)
			if dev.UnitNumber != nil {
				unit = *dev.UnitNumber
			}
			fileName := ""
			if b, ok := dev.Backing.(types.BaseVirtualDeviceFileBackingInfo); ok {
				fileName = b.GetVirtualDeviceFileBackingInfo().FileName
			}
			snapshot = append(snapshot, hypervisor.Device{
				Key: dev.Key,
				Disk: &hypervisor.DiskInfo{
					ControllerKey: dev.ControllerKey,
					UnitNumber:    unit,
					BackingFile:   fileName,
				},
			})
		default:
			snapshot = append(snapshot, hypervisor.Device{Key: d.GetVirtualDevice().Key})
		}
	}
	return snapshot
}

// configSpec converts desired device edits into the API reconfiguration spec
func configSpec(changes []hypervisor.DeviceChange) types.VirtualMachineConfigSpec {
	spec := types.VirtualMachineConfigSpec{}
	for _, ch := range changes {
		op := types.VirtualDeviceConfigSpecOperationAdd
		if ch.Op == hypervisor.RemoveDevice {
			op = types.VirtualDeviceConfigSpecOperationRemove
		}
		spec.DeviceChange = append(spec.DeviceChange, &types.VirtualDeviceConfigSpec{
			Operation: op,
			Device:    toVirtualDevice(ch.Device),
		})
	}
	return spec
}

func toVirtualDevice(d hypervisor.Device) types.BaseVirtualDevice {
	switch {
	case d.Controller != nil:
		return &types.ParaVirtualSCSIController{
			VirtualSCSIController: types.VirtualSCSIController{
				SharedBus:    types.VirtualSCSISharingNoSharing,
				HotAddRemove: types.NewBool(true),
				VirtualController: types.VirtualController{
					BusNumber:     d.Controller.BusNumber,
					VirtualDevice: types.VirtualDevice{Key: d.Key},
				},
			},
		}
	case d.Disk != nil:
		unit := d.Disk.UnitNumber
		return &types.VirtualDisk{
			VirtualDevice: types.VirtualDevice{
				Key:           d.Key,
				ControllerKey: d.Disk.ControllerKey,
				UnitNumber:    &unit,
				Backing: &types.VirtualDiskFlatVer2BackingInfo{
					VirtualDeviceFileBackingInfo: types.VirtualDeviceFileBackingInfo{
						FileName: d.Disk.BackingFile,
					},
					DiskMode: string(types.VirtualDiskModePersistent),
				},
				DeviceInfo: &types.Description{
					Label:   base.DiskLabel,
					Summary: base.DiskLabel,
				},
			},
		}
	default:
		return &types.VirtualDevice{Key: d.Key}
	}
}
