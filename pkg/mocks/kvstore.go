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

package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/esxops/vmdkops/pkg/kvstore"
)

// MockStore is the mock implementation of kvstore.Store interface for test purposes.
// All of the mock methods based on stretchr/testify/mock.
type MockStore struct {
	mock.Mock
}

// Create is the mock implementation of Create method from kvstore.Store
func (s *MockStore) Create(name string, meta map[string]string) error {
	args := s.Mock.Called(name, meta)
	return args.Error(0)
}

// GetAll is the mock implementation of GetAll method from kvstore.Store
func (s *MockStore) GetAll(name string) (map[string]string, error) {
	args := s.Mock.Called(name)
	return args.Get(0).(map[string]string), args.Error(1)
}

// SetAll is the mock implementation of SetAll method from kvstore.Store
func (s *MockStore) SetAll(name string, meta map[string]string) error {
	args := s.Mock.Called(name, meta)
	return args.Error(0)
}

// Delete is the mock implementation of Delete method from kvstore.Store
func (s *MockStore) Delete(name string) error {
	args := s.Mock.Called(name)
	return args.Error(0)
}

// MockStoreFactory is the mock implementation of kvstore.Factory interface,
// it hands out the same store for every directory
type MockStoreFactory struct {
	mock.Mock
	Store *MockStore
}

// StoreFor returns the factory's single store and records the requested directory
func (f *MockStoreFactory) StoreFor(dir string) (kvstore.Store, error) {
	args := f.Mock.Called(dir)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	return f.Store, nil
}

// Close is the mock implementation of Close method from kvstore.Factory
func (f *MockStoreFactory) Close() error {
	args := f.Mock.Called()
	return args.Error(0)
}
