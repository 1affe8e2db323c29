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

package attach

import (
	"path/filepath"
	"strings"

	"github.com/esxops/vmdkops/pkg/hypervisor"
)

// preferredController returns the first paravirtual SCSI controller of the
// snapshot. Paravirtual controllers are preferred since they take hot added
// disks without a SCSI rescan in the guest.
func preferredController(devices []hypervisor.Device) (hypervisor.Device, bool) {
	for _, d := range devices {
		if d.Controller != nil && d.Controller.ParaVirtual {
			return d, true
		}
	}
	return hypervisor.Device{}, false
}

// lowestFreeBus returns the lowest bus number not taken by any SCSI controller,
// false when all buses are occupied
func lowestFreeBus(devices []hypervisor.Device) (int32, bool) {
	taken := map[int32]bool{}
	for _, d := range devices {
		if d.Controller != nil {
			taken[d.Controller.BusNumber] = true
		}
	}
	for bus := int32(0); bus < hypervisor.SCSIControllerLimit; bus++ {
		if !taken[bus] {
			return bus, true
		}
	}
	return 0, false
}

// lowestFreeUnit returns the lowest unit number usable for a new disk on the
// controller, skipping the reserved unit and units held by existing disks,
// false when the controller is full
func lowestFreeUnit(devices []hypervisor.Device, controllerKey int32) (int32, bool) {
	taken := map[int32]bool{}
	for _, d := range devices {
		if d.Disk != nil && d.Disk.ControllerKey == controllerKey {
			taken[d.Disk.UnitNumber] = true
		}
	}
	for unit := int32(0); unit < hypervisor.SCSIMaxUnit; unit++ {
		if unit == hypervisor.SCSIReservedUnit || taken[unit] {
			continue
		}
		return unit, true
	}
	return 0, false
}

// backingSuffix returns the datastore relative name the backing of a disk must
// end with to hold the volume at vmdkPath. Backing file names look like
// "[datastore] dir/name.vmdk". The directory part goes through symlink
// resolution since object datastores expose volume directories as links to
// their object uuid.
func backingSuffix(vmdkPath string) string {
	dir := filepath.Dir(vmdkPath)
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		resolved = dir
	}
	return filepath.Base(resolved) + "/" + filepath.Base(vmdkPath)
}

// findDiskByPath returns the disk of the snapshot backed by the volume at
// vmdkPath, nil when the volume is not attached
func findDiskByPath(devices []hypervisor.Device, vmdkPath string) *hypervisor.Device {
	suffix := backingSuffix(vmdkPath)
	for i := range devices {
		if devices[i].Disk == nil {
			continue
		}
		if strings.HasSuffix(devices[i].Disk.BackingFile, suffix) {
			return &devices[i]
		}
	}
	return nil
}
