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

package kvstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	errTypes "github.com/esxops/vmdkops/pkg/base/error"
)

// DBFileName is the metadata database kept inside each volume directory
const DBFileName = ".vmdkops_meta.db"

var bucketVolumes = []byte("volumes")

// BoltStore is the bbolt implementation of Store, one database file per volume directory
type BoltStore struct {
	db  *bolt.DB
	log *logrus.Entry
}

// NewBoltStore opens, creating when necessary, the metadata database inside dir
// Receives the volume directory and logrus logger
// Returns BoltStore or error if the database cannot be opened
func NewBoltStore(dir string, logger *logrus.Logger) (*BoltStore, error) {
	path := filepath.Join(dir, DBFileName)
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata db %s: %w", path, err)
	}
	if err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVolumes)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init metadata db %s: %w", path, err)
	}
	return &BoltStore{
		db:  db,
		log: logger.WithField("component", "BoltStore"),
	}, nil
}

// Create adds a record for the volume, fails with ErrorAlreadyExists if one exists
func (s *BoltStore) Create(name string, meta map[string]string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketVolumes)
		if bkt.Get([]byte(name)) != nil {
			return fmt.Errorf("metadata for %s: %w", name, errTypes.ErrorAlreadyExists)
		}
		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", name, err)
		}
		return bkt.Put([]byte(name), data)
	})
}

// GetAll returns the record of the volume, a missing record is an empty map
func (s *BoltStore) GetAll(name string) (map[string]string, error) {
	meta := map[string]string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketVolumes).Get([]byte(name))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &meta)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata for %s: %w", name, err)
	}
	return meta, nil
}

// SetAll replaces the whole record of the volume
func (s *BoltStore) SetAll(name string, meta map[string]string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", name, err)
		}
		return tx.Bucket(bucketVolumes).Put([]byte(name), data)
	})
}

// Delete drops the record of the volume, missing records are ignored
func (s *BoltStore) Delete(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVolumes).Delete([]byte(name))
	})
}

// Close closes the underlying database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// BoltFactory opens one BoltStore per volume directory and caches the handles
type BoltFactory struct {
	sync.Mutex
	stores map[string]*BoltStore
	logger *logrus.Logger
	log    *logrus.Entry
}

// NewBoltFactory is a constructor for BoltFactory
func NewBoltFactory(logger *logrus.Logger) *BoltFactory {
	return &BoltFactory{
		stores: map[string]*BoltStore{},
		logger: logger,
		log:    logger.WithField("component", "BoltFactory"),
	}
}

// StoreFor returns the Store of dir, opening the database on first use
func (f *BoltFactory) StoreFor(dir string) (Store, error) {
	f.Lock()
	defer f.Unlock()
	if s, ok := f.stores[dir]; ok {
		return s, nil
	}
	s, err := NewBoltStore(dir, f.logger)
	if err != nil {
		return nil, err
	}
	f.stores[dir] = s
	return s, nil
}

// Close closes every opened store, keeps going after individual failures
func (f *BoltFactory) Close() error {
	f.Lock()
	defer f.Unlock()
	var firstErr error
	for dir, s := range f.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(f.stores, dir)
	}
	return firstErr
}
