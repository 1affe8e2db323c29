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

	"github.com/sirupsen/logrus"

	errTypes "github.com/esxops/vmdkops/pkg/base/error"
)

// TaskWaiter blocks until a set of hypervisor tasks completes
type TaskWaiter interface {
	Wait(ctx context.Context, tasks []TaskRef) error
}

// Waiter is the implementation of TaskWaiter based on an incremental task subscription
type Waiter struct {
	session *SessionManager
	log     *logrus.Entry
}

// NewWaiter is a constructor for Waiter
// Receives SessionManager that owns the session handle and logrus logger
func NewWaiter(session *SessionManager, logger *logrus.Logger) *Waiter {
	return &Waiter{
		session: session,
		log:     logger.WithField("component", "TaskWaiter"),
	}
}

// Wait blocks until every task succeeds or any one of them fails.
// The first failure is raised immediately, remaining tasks are not awaited.
// Deltas about tasks outside the awaited set are ignored.
func (w *Waiter) Wait(ctx context.Context, tasks []TaskRef) error {
	if len(tasks) == 0 {
		return nil
	}
	ll := w.log.WithField("method", "Wait")

	sub, err := w.subscribe(ctx, tasks)
	if err != nil {
		return err
	}
	// the server keeps subscription state until it is released
	defer func() {
		if rerr := sub.Release(ctx); rerr != nil {
			ll.Debugf("failed to release task subscription: %v", rerr)
		}
	}()

	pending := make(map[TaskRef]struct{}, len(tasks))
	for _, t := range tasks {
		pending[t] = struct{}{}
	}

	version := ""
	for len(pending) > 0 {
		deltas, next, err := sub.Poll(ctx, version)
		if err != nil {
			return fmt.Errorf("failed to poll task updates: %w", err)
		}
		version = next
		for _, d := range deltas {
			if _, ok := pending[d.Task]; !ok {
				continue
			}
			ll.Debugf("task %s is %s", d.Task, d.State)
			switch d.State {
			case TaskSuccess:
				delete(pending, d.Task)
			case TaskError:
				if d.Fault != nil {
					return d.Fault
				}
				return errTypes.NewFault(fmt.Sprintf("task %s failed without fault detail", d.Task))
			}
		}
	}
	return nil
}

// subscribe opens the change feed. A subscription rejected because the session
// expired is retried exactly once after Reconnect, a second failure propagates.
func (w *Waiter) subscribe(ctx context.Context, tasks []TaskRef) (Subscription, error) {
	c := w.session.Client()
	if c == nil {
		return nil, errTypes.ErrorSessionExpired
	}
	sub, err := c.Monitor().Subscribe(ctx, tasks)
	if err == nil || !errors.Is(err, errTypes.ErrorSessionExpired) {
		return sub, err
	}
	w.log.WithField("method", "subscribe").Warn("session expired, reconnecting")
	if rerr := w.session.Reconnect(ctx); rerr != nil {
		return nil, rerr
	}
	return w.session.Client().Monitor().Subscribe(ctx, tasks)
}
