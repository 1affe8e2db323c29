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

package vmdk

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/esxops/vmdkops/pkg/base"
	errTypes "github.com/esxops/vmdkops/pkg/base/error"
	"github.com/esxops/vmdkops/pkg/kvstore"
)

const (
	// FlatBackingSuffix names the co-located data file of a flat provisioned disk
	FlatBackingSuffix = "-flat.vmdk"
	// VSANDeviceDir is where opened object backings appear
	VSANDeviceDir = "/vmfs/devices/vsan"
)

// vsanObjectRe matches the object reference line of a descriptor that has no flat backing
var vsanObjectRe = regexp.MustCompile(`RW .* VMFS "vsan://(.*)"`)

// VolumeDirForVM returns the volume directory of the datastore holding the VM
// with the given config path, a fixed name sibling of the VM folder
func VolumeDirForVM(cfgPath string) string {
	return filepath.Join(filepath.Dir(filepath.Dir(cfgPath)), base.DockVolsDir)
}

// DescriptorPath returns the descriptor file path of the named volume
func DescriptorPath(dir, name string) string {
	return filepath.Join(dir, name+base.DescriptorSuffix)
}

// VolumeName strips the directory and the descriptor extension from a path
func VolumeName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), base.DescriptorSuffix)
}

// Volume is one volume listing entry, Attributes is reserved and always empty for now
type Volume struct {
	Name       string            `json:"Name"`
	Attributes map[string]string `json:"Attributes"`
}

// Operations is an interface that encapsulates the volume lifecycle on a datastore
type Operations interface {
	// Create makes a new formatted volume with an initial metadata record
	Create(path, name string, opts map[string]string) error
	// Remove deletes the volume and its metadata record
	Remove(path string) error
	// List returns the volumes of a volume directory
	List(dir string) ([]Volume, error)
	// EnsureVolumeDir bootstraps the volume directory if it does not exist yet
	EnsureVolumeDir(dir string) error
}

// OperationsImpl is an Operations implementer
type OperationsImpl struct {
	tools Toolset
	kv    kvstore.Factory
	log   *logrus.Entry
}

// NewOperationsImpl is a constructor for OperationsImpl struct
// Receives Toolset that runs the disk tools, kvstore Factory for metadata records and logrus logger
func NewOperationsImpl(tools Toolset, kv kvstore.Factory, logger *logrus.Logger) *OperationsImpl {
	return &OperationsImpl{
		tools: tools,
		kv:    kv,
		log:   logger.WithField("component", "VolumeOperations"),
	}
}

// Create makes a new volume at path. The disk is created thin provisioned at the
// requested (or default) size, gets a detached metadata record and an ext4
// filesystem labeled with the volume name. Partial failures roll the disk back,
// the caller never has to clean up a half made volume except when the rollback
// itself fails, which the returned error then calls out.
func (o *OperationsImpl) Create(path, name string, opts map[string]string) error {
	ll := o.log.WithFields(logrus.Fields{"method": "Create", "volumeName": name})
	ll.Infof("creating volume at %s, opts: %v", path, opts)

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("volume file %s: %w", path, errTypes.ErrorAlreadyExists)
	}

	size := base.DefaultDiskSize
	if s, ok := opts[base.SizeKey]; ok && s != "" {
		size = s
	}

	if err := o.tools.CreateDisk(path, size); err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := o.createMetadata(path, name, opts); err != nil {
		ll.Warnf("rolling back %s: %v", path, err)
		if rmErr := o.tools.DeleteDisk(path); rmErr != nil {
			ll.Warnf("rollback of %s failed: %v", path, rmErr)
		}
		return err
	}

	if err := o.format(ll, path, name); err != nil {
		if rmErr := o.Remove(path); rmErr != nil {
			ll.Warnf("cleanup of %s failed: %v", path, rmErr)
			return fmt.Errorf("failed to format %s and failed to delete it, remove the volume manually: %w", path, err)
		}
		return fmt.Errorf("failed to format %s: %w", path, err)
	}

	ll.Infof("volume %s created", name)
	return nil
}

// Remove deletes the volume at path together with its metadata record.
// A missing metadata record is not an error, volumes made by older releases have none.
func (o *OperationsImpl) Remove(path string) error {
	ll := o.log.WithFields(logrus.Fields{"method": "Remove", "volumeName": VolumeName(path)})
	ll.Infof("removing volume at %s", path)

	if err := o.tools.DeleteDisk(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	store, err := o.kv.StoreFor(filepath.Dir(path))
	if err == nil {
		err = store.Delete(VolumeName(path))
	}
	if err != nil {
		ll.Warnf("failed to drop metadata of %s: %v", path, err)
	}
	return nil
}

// List returns the volumes of dir. A file counts as a volume descriptor when it
// carries the descriptor extension, is small enough to not be a data file and
// opens with the descriptor signature line.
func (o *OperationsImpl) List(dir string) ([]Volume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read volume directory %s: %w", dir, err)
	}

	volumes := make([]Volume, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !o.isDescriptor(dir, entry) {
			continue
		}
		volumes = append(volumes, Volume{
			Name:       VolumeName(entry.Name()),
			Attributes: map[string]string{},
		})
	}
	return volumes, nil
}

// EnsureVolumeDir bootstraps dir through the directory tool unless it already
// exists, pre-existing directories are returned as is
func (o *OperationsImpl) EnsureVolumeDir(dir string) error {
	ll := o.log.WithFields(logrus.Fields{"method": "EnsureVolumeDir"})

	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		ll.Debugf("found %s", dir)
		return nil
	}
	if err := o.tools.MakeVolumeDir(dir); err != nil {
		return fmt.Errorf("failed to initialize volume directory %s: %w", dir, err)
	}
	ll.Infof("created volume directory %s", dir)
	return nil
}

func (o *OperationsImpl) createMetadata(path, name string, opts map[string]string) error {
	store, err := o.kv.StoreFor(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("failed to open metadata store for %s: %w", path, err)
	}
	meta := make(map[string]string, len(opts)+1)
	for k, v := range opts {
		meta[k] = v
	}
	meta[kvstore.StatusKey] = kvstore.StatusDetached
	if err := store.Create(name, meta); err != nil {
		return fmt.Errorf("failed to create metadata for %s: %w", path, err)
	}
	return nil
}

func (o *OperationsImpl) format(ll *logrus.Entry, path, name string) error {
	backing, err := o.diskBacking(path)
	if err != nil {
		return err
	}
	ll.Debugf("formatting backing %s", backing)
	return o.tools.FormatDisk(backing, name)
}

// diskBacking resolves the data backing of the descriptor at path. Flat disks
// keep their data in a sibling file, object backed disks reference an object
// uuid in the descriptor text and have to be materialized first.
func (o *OperationsImpl) diskBacking(path string) (string, error) {
	flat := strings.TrimSuffix(path, base.DescriptorSuffix) + FlatBackingSuffix
	if _, err := os.Stat(flat); err == nil {
		return flat, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read descriptor %s: %w", path, err)
	}
	m := vsanObjectRe.FindStringSubmatch(string(data))
	if m == nil {
		return "", fmt.Errorf("no backing found for %s", path)
	}
	if err := o.tools.OpenObject(m[1]); err != nil {
		return "", fmt.Errorf("failed to open backing object of %s: %w", path, err)
	}
	device := filepath.Join(VSANDeviceDir, m[1])
	if _, err := os.Stat(device); err != nil {
		return "", fmt.Errorf("backing device %s is missing after open: %w", device, err)
	}
	return device, nil
}

func (o *OperationsImpl) isDescriptor(dir string, entry os.DirEntry) bool {
	if !strings.HasSuffix(entry.Name(), base.DescriptorSuffix) {
		return false
	}
	info, err := entry.Info()
	if err != nil || info.Size() >= base.MaxDescriptorSize {
		return false
	}

	f, err := os.Open(filepath.Join(dir, entry.Name()))
	if err != nil {
		o.log.Warnf("failed to open %s for descriptor check: %v", entry.Name(), err)
		return false
	}
	defer f.Close()

	head := make([]byte, len(base.DescriptorSignature))
	if _, err := io.ReadFull(f, head); err != nil {
		return false
	}
	return string(head) == base.DescriptorSignature
}
