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

package server

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/esxops/vmdkops/pkg/attach"
	errTypes "github.com/esxops/vmdkops/pkg/base/error"
	"github.com/esxops/vmdkops/pkg/hypervisor"
	"github.com/esxops/vmdkops/pkg/identity"
	"github.com/esxops/vmdkops/pkg/metrics"
	"github.com/esxops/vmdkops/pkg/vmdk"
)

// Commands recognized on the wire
const (
	CmdCreate = "create"
	CmdRemove = "remove"
	CmdList   = "list"
	CmdAttach = "attach"
	CmdDetach = "detach"
)

// VMFinder resolves VM display names into live machine handles
type VMFinder interface {
	FindVM(ctx context.Context, name string) (hypervisor.Machine, error)
}

// Dispatcher routes parsed commands to the volume and attachment engines
type Dispatcher interface {
	Execute(ctx context.Context, vmCtx identity.VMContext, cmd, name string, opts map[string]string) (interface{}, error)
}

// DispatcherImpl is the implementation of Dispatcher
type DispatcherImpl struct {
	volumes vmdk.Operations
	engine  attach.Engine
	finder  VMFinder
	metric  metrics.Statistic
	log     *logrus.Entry
}

// NewDispatcherImpl is a constructor for DispatcherImpl
// Receives the volume operations, the attach engine, the VM finder,
// request metrics and logrus logger
func NewDispatcherImpl(volumes vmdk.Operations, engine attach.Engine, finder VMFinder,
	metric metrics.Statistic, logger *logrus.Logger) *DispatcherImpl {
	return &DispatcherImpl{
		volumes: volumes,
		engine:  engine,
		finder:  finder,
		metric:  metric,
		log:     logger.WithField("component", "Dispatcher"),
	}
}

// Execute resolves the caller's volume directory and runs one command against
// it. The volume directory is a fixed-name sibling of the VM's own folder and
// is bootstrapped on first use.
func (d *DispatcherImpl) Execute(ctx context.Context, vmCtx identity.VMContext,
	cmd, name string, opts map[string]string) (interface{}, error) {
	defer d.metric.EvaluateDuration(cmd, time.Now())
	ll := d.log.WithFields(logrus.Fields{
		"method": "Execute",
		"cmd":    cmd,
		"volume": name,
		"vmName": vmCtx.Name,
	})
	ll.Info("processing request")

	volumeDir := vmdk.VolumeDirForVM(vmCtx.CfgPath)
	if err := d.volumes.EnsureVolumeDir(volumeDir); err != nil {
		return nil, err
	}
	path := vmdk.DescriptorPath(volumeDir, name)

	switch cmd {
	case CmdCreate:
		if err := requireName(cmd, name); err != nil {
			return nil, err
		}
		return nil, d.volumes.Create(path, name, opts)
	case CmdRemove:
		if err := requireName(cmd, name); err != nil {
			return nil, err
		}
		return nil, d.volumes.Remove(path)
	case CmdList:
		return d.volumes.List(volumeDir)
	case CmdAttach:
		if err := requireName(cmd, name); err != nil {
			return nil, err
		}
		vm, err := d.finder.FindVM(ctx, vmCtx.Name)
		if err != nil {
			return nil, err
		}
		res, err := d.engine.Attach(ctx, vm, path)
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"Unit": strconv.FormatInt(int64(res.Unit), 10),
			"Bus":  strconv.FormatInt(int64(res.Bus), 10),
		}, nil
	case CmdDetach:
		if err := requireName(cmd, name); err != nil {
			return nil, err
		}
		vm, err := d.finder.FindVM(ctx, vmCtx.Name)
		if err != nil {
			return nil, err
		}
		return nil, d.engine.Detach(ctx, vm, path)
	default:
		return nil, fmt.Errorf("cmd %q: %w", cmd, errTypes.ErrorUnknownCommand)
	}
}

func requireName(cmd, name string) error {
	if name == "" {
		return fmt.Errorf("volume name is required for %s: %w", cmd, errTypes.ErrorEmptyParameter)
	}
	return nil
}
