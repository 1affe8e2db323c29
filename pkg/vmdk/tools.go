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

// Package vmdk contains code for managing virtual disk files through the host disk utils
package vmdk

import (
	"fmt"

	"github.com/esxops/vmdkops/pkg/base/command"
	"github.com/esxops/vmdkops/pkg/base/config"
	errTypes "github.com/esxops/vmdkops/pkg/base/error"
)

const (
	// DefaultVmkfstoolsBin creates and deletes virtual disks
	DefaultVmkfstoolsBin = "/sbin/vmkfstools"
	// DefaultMkfsBin is the ext4 format helper shipped with the service
	DefaultMkfsBin = "/usr/lib/vmware/vmdkops/bin/mkfs.ext4"
	// DefaultOsfsMkdirBin creates directories on any datastore type
	DefaultOsfsMkdirBin = "/usr/lib/vmware/osfs/bin/osfs-mkdir"
	// DefaultObjtoolBin materializes object backed disks under /vmfs/devices
	DefaultObjtoolBin = "/usr/lib/vmware/osfs/bin/objtool"

	// CreateDiskCmdTmpl thin provisioned disk create template, add tool, size and descriptor path
	CreateDiskCmdTmpl = "%s -d thin -c %s %s"
	// DeleteDiskCmdTmpl disk delete template, add tool and descriptor path
	DeleteDiskCmdTmpl = "%s -U %s"
	// FormatDiskCmdTmpl ext4 format template, add tool, volume label and backing device
	FormatDiskCmdTmpl = "%s -qF -L %s %s"
	// MakeVolumeDirCmdTmpl datastore directory create template, add tool and directory
	MakeVolumeDirCmdTmpl = "%s -n %s"
	// OpenObjectCmdTmpl object open template, add tool and object uuid
	OpenObjectCmdTmpl = "%s open -u %s"
)

// Toolset is an interface that encapsulates the host disk utils
type Toolset interface {
	CreateDisk(path, size string) error
	DeleteDisk(path string) error
	FormatDisk(device, label string) error
	MakeVolumeDir(dir string) error
	OpenObject(uuid string) error
}

// ToolsetImpl is a Toolset implementer
type ToolsetImpl struct {
	e command.CmdExecutor

	vmkfstools string
	mkfs       string
	osfsMkdir  string
	objtool    string
}

// NewToolsetImpl is a constructor for ToolsetImpl struct
// Receives CmdExecutor that runs the tools and ToolPaths with optional binary overrides,
// empty fields fall back to the stock ESX locations
func NewToolsetImpl(e command.CmdExecutor, paths config.ToolPaths) *ToolsetImpl {
	t := &ToolsetImpl{
		e:          e,
		vmkfstools: paths.Vmkfstools,
		mkfs:       paths.Mkfs,
		osfsMkdir:  paths.OsfsMkdir,
		objtool:    paths.Objtool,
	}
	if t.vmkfstools == "" {
		t.vmkfstools = DefaultVmkfstoolsBin
	}
	if t.mkfs == "" {
		t.mkfs = DefaultMkfsBin
	}
	if t.osfsMkdir == "" {
		t.osfsMkdir = DefaultOsfsMkdirBin
	}
	if t.objtool == "" {
		t.objtool = DefaultObjtoolBin
	}
	return t
}

// CreateDisk creates a thin provisioned virtual disk of the given size at path
func (t *ToolsetImpl) CreateDisk(path, size string) error {
	return t.run("vmkfstools", fmt.Sprintf(CreateDiskCmdTmpl, t.vmkfstools, size, path))
}

// DeleteDisk deletes the virtual disk at path together with its backing
func (t *ToolsetImpl) DeleteDisk(path string) error {
	return t.run("vmkfstools", fmt.Sprintf(DeleteDiskCmdTmpl, t.vmkfstools, path))
}

// FormatDisk writes an ext4 filesystem with the given label onto the backing device
func (t *ToolsetImpl) FormatDisk(device, label string) error {
	return t.run("mkfs.ext4", fmt.Sprintf(FormatDiskCmdTmpl, t.mkfs, label, device))
}

// MakeVolumeDir creates a datastore directory, works on object datastores as well
func (t *ToolsetImpl) MakeVolumeDir(dir string) error {
	return t.run("osfs-mkdir", fmt.Sprintf(MakeVolumeDirCmdTmpl, t.osfsMkdir, dir))
}

// OpenObject links the object with the given uuid under /vmfs/devices/vsan
func (t *ToolsetImpl) OpenObject(uuid string) error {
	return t.run("objtool", fmt.Sprintf(OpenObjectCmdTmpl, t.objtool, uuid))
}

func (t *ToolsetImpl) run(tool, cmd string) error {
	stdout, stderr, err := t.e.RunCmd(cmd)
	if err != nil {
		return &errTypes.ToolError{Tool: tool, Output: stdout + stderr, Err: err}
	}
	return nil
}
