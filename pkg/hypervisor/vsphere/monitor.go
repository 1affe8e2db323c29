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

	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/vim25/types"

	errTypes "github.com/esxops/vmdkops/pkg/base/error"
	"github.com/esxops/vmdkops/pkg/hypervisor"
)

// taskMonitor implements hypervisor.TaskMonitor over the session's property collector
type taskMonitor struct {
	pc *property.Collector
}

// Subscribe creates a dedicated collector with one filter over all tasks.
// The returned subscription owns the collector, Release destroys it.
func (t *taskMonitor) Subscribe(ctx context.Context, tasks []hypervisor.TaskRef) (hypervisor.Subscription, error) {
	objSet := make([]types.ObjectSpec, 0, len(tasks))
	for _, task := range tasks {
		var ref types.ManagedObjectReference
		if !ref.FromString(string(task)) {
			return nil, fmt.Errorf("malformed task reference %q: %w", task, errTypes.ErrorFailedParsing)
		}
		objSet = append(objSet, types.ObjectSpec{Obj: ref})
	}

	p, err := t.pc.Create(ctx)
	if err != nil {
		return nil, asTypedError(fmt.Errorf("failed to create task collector: %w", err))
	}
	req := types.CreateFilter{
		Spec: types.PropertyFilterSpec{
			ObjectSet: objSet,
			PropSet:   []types.PropertySpec{{Type: "Task", PathSet: []string{"info"}}},
		},
	}
	if err := p.CreateFilter(ctx, req); err != nil {
		_ = p.Destroy(ctx)
		return nil, asTypedError(fmt.Errorf("failed to create task filter: %w", err))
	}
	return &subscription{p: p}, nil
}

// subscription implements hypervisor.Subscription over a dedicated collector
type subscription struct {
	p *property.Collector
}

// Poll blocks for the next update batch after version and maps it to task deltas
func (s *subscription) Poll(ctx context.Context, version string) ([]hypervisor.TaskDelta, string, error) {
	updates, err := s.p.WaitForUpdates(ctx, version)
	if err != nil {
		return nil, version, asTypedError(fmt.Errorf("failed to wait for task updates: %w", err))
	}
	if updates == nil {
		return nil, version, nil
	}
	return taskDeltas(updates), updates.Version, nil
}

// Release destroys the collector together with its filter
func (s *subscription) Release(ctx context.Context) error {
	return s.p.Destroy(ctx)
}

// taskDeltas flattens an update set into per-task state transitions. The agent
// reports either whole info assignments or modifications of its sub-paths,
// both carry the state.
func taskDeltas(updates *types.UpdateSet) []hypervisor.TaskDelta {
	var deltas []hypervisor.TaskDelta
	for _, fs := range updates.FilterSet {
		for _, ou := range fs.ObjectSet {
			state := hypervisor.TaskState("")
			var fault error
			for _, change := range ou.ChangeSet {
				switch change.Name {
				case "info":
					if info, ok := change.Val.(types.TaskInfo); ok {
						state = taskState(info.State)
						fault = faultError(info.Error)
					}
				case "info.state":
					if s, ok := change.Val.(types.TaskInfoState); ok {
						state = taskState(s)
					}
				case "info.error":
					fault = faultErrorFromAny(change.Val)
				}
			}
			if state == "" {
				continue
			}
			deltas = append(deltas, hypervisor.TaskDelta{
				Task:  hypervisor.TaskRef(ou.Obj.String()),
				State: state,
				Fault: fault,
			})
		}
	}
	return deltas
}

func taskState(s types.TaskInfoState) hypervisor.TaskState {
	switch s {
	case types.TaskInfoStateQueued:
		return hypervisor.TaskQueued
	case types.TaskInfoStateRunning:
		return hypervisor.TaskRunning
	case types.TaskInfoStateSuccess:
		return hypervisor.TaskSuccess
	case types.TaskInfoStateError:
		return hypervisor.TaskError
	}
	return ""
}

// faultError turns a reported method fault into an error carrying every fault
// message. Authentication faults map to the session expiry sentinel instead.
// The decoder may hand the nested fault over as a value or a pointer.
func faultError(lmf *types.LocalizedMethodFault) error {
	if lmf == nil {
		return nil
	}
	switch lmf.Fault.(type) {
	case *types.NotAuthenticated:
		return fmt.Errorf("%s: %w", lmf.LocalizedMessage, errTypes.ErrorSessionExpired)
	}
	messages := []string{lmf.LocalizedMessage}
	if mf, ok := lmf.Fault.(types.BaseMethodFault); ok {
		for _, m := range mf.GetMethodFault().FaultMessage {
			messages = append(messages, m.Message)
		}
	}
	return errTypes.NewFault(messages...)
}

func faultErrorFromAny(v types.AnyType) error {
	switch f := v.(type) {
	case types.LocalizedMethodFault:
		return faultError(&f)
	case *types.LocalizedMethodFault:
		return faultError(f)
	}
	return nil
}
