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

// Package kvstore keeps per-volume metadata records next to the volumes they describe
package kvstore

// Metadata record keys and values maintained by the service.
// User supplied create options are merged into the same flat record,
// service keys overwrite colliding option keys.
const (
	// StatusKey holds the attachment state of the volume
	StatusKey = "status"
	// StatusAttached means a VM currently holds the volume
	StatusAttached = "attached"
	// StatusDetached means no VM holds the volume
	StatusDetached = "detached"
	// AttachedVMKey holds the uuid of the VM the volume is attached to,
	// present only while the status is attached
	AttachedVMKey = "attachedVMUuid"
)

// Store keeps the metadata records of one volume directory
type Store interface {
	// Create adds a record for the volume, fails if one already exists
	Create(name string, meta map[string]string) error
	// GetAll returns the record of the volume, a missing record is an empty map
	GetAll(name string) (map[string]string, error)
	// SetAll replaces the whole record of the volume
	SetAll(name string, meta map[string]string) error
	// Delete drops the record of the volume, missing records are ignored
	Delete(name string) error
}

// Factory hands out the Store of a volume directory
type Factory interface {
	// StoreFor returns the Store of dir, opening it on first use
	StoreFor(dir string) (Store, error)
	// Close releases every Store the factory handed out
	Close() error
}

// SetStatusAttached marks the volume as held by the VM with the given uuid
func SetStatusAttached(s Store, name, vmUUID string) error {
	meta, err := s.GetAll(name)
	if err != nil {
		return err
	}
	meta[StatusKey] = StatusAttached
	meta[AttachedVMKey] = vmUUID
	return s.SetAll(name, meta)
}

// SetStatusDetached marks the volume as held by no VM
func SetStatusDetached(s Store, name string) error {
	meta, err := s.GetAll(name)
	if err != nil {
		return err
	}
	meta[StatusKey] = StatusDetached
	delete(meta, AttachedVMKey)
	return s.SetAll(name, meta)
}

// GetStatusAttached reports whether the volume is attached and to which VM
func GetStatusAttached(s Store, name string) (string, bool, error) {
	meta, err := s.GetAll(name)
	if err != nil {
		return "", false, err
	}
	if meta[StatusKey] != StatusAttached {
		return "", false, nil
	}
	return meta[AttachedVMKey], true, nil
}
