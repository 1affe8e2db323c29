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

package hypervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	errTypes "github.com/esxops/vmdkops/pkg/base/error"
)

// Dial authenticates a fresh hypervisor session
type Dial func(ctx context.Context) (Client, error)

// SessionManager owns the single process-wide hypervisor session handle.
// hostd invalidates idle sessions, so every user of the handle must be
// prepared for ErrorSessionExpired and come back through Reconnect.
type SessionManager struct {
	mu     sync.Mutex
	dial   Dial
	client Client
	log    *logrus.Entry
}

// NewSessionManager is a constructor for SessionManager
// Receives Dial that authenticates new sessions and logrus logger
func NewSessionManager(dial Dial, logger *logrus.Logger) *SessionManager {
	return &SessionManager{
		dial: dial,
		log:  logger.WithField("component", "SessionManager"),
	}
}

// Connect dials the initial session. Repeated calls on a live session are no-ops.
func (sm *SessionManager) Connect(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.client != nil {
		return nil
	}
	c, err := sm.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to hypervisor: %w", err)
	}
	sm.client = c
	sm.log.WithField("method", "Connect").Info("hypervisor session established")
	return nil
}

// Client returns the current session handle, nil until Connect succeeds
func (sm *SessionManager) Client() Client {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.client
}

// Reconnect replaces an expired session with a fresh one.
// The old handle is logged out best-effort, callers retry their failed call once.
func (sm *SessionManager) Reconnect(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ll := sm.log.WithField("method", "Reconnect")
	if sm.client != nil {
		if err := sm.client.Logout(ctx); err != nil {
			ll.Debugf("logout of expired session: %v", err)
		}
		sm.client = nil
	}
	c, err := sm.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to reconnect to hypervisor: %w", err)
	}
	sm.client = c
	ll.Info("hypervisor session re-established")
	return nil
}

// Close logs the session out, called once on service shutdown
func (sm *SessionManager) Close(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.client == nil {
		return nil
	}
	err := sm.client.Logout(ctx)
	sm.client = nil
	return err
}

// FindVM resolves the VM with the given display name into a Machine.
// A lookup rejected because the session expired is retried exactly once
// after Reconnect, any other failure is returned as is.
func (sm *SessionManager) FindVM(ctx context.Context, name string) (Machine, error) {
	ll := sm.log.WithFields(logrus.Fields{"method": "FindVM", "vmName": name})
	c := sm.Client()
	if c == nil {
		return nil, errTypes.ErrorSessionExpired
	}
	vm, err := c.FindVM(ctx, name)
	if err == nil || !errors.Is(err, errTypes.ErrorSessionExpired) {
		return vm, err
	}
	ll.Warn("session expired during lookup, reconnecting")
	if rerr := sm.Reconnect(ctx); rerr != nil {
		return nil, rerr
	}
	return sm.Client().FindVM(ctx, name)
}
