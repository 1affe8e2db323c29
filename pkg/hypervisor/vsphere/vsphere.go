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

// Package vsphere implements the hypervisor capability against the local host
// agent through the vSphere API
package vsphere

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"
	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/session"
	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/esxops/vmdkops/pkg/base"
	errTypes "github.com/esxops/vmdkops/pkg/base/error"
	"github.com/esxops/vmdkops/pkg/hypervisor"
)

// LocalSDKEndpoint is the host agent endpoint on the host itself
const LocalSDKEndpoint = "https://localhost/sdk"

// NewDialer returns a Dial that logs in to the local host agent. The session
// runs as the host's dcui user, which keeps its privileges when the host goes
// into lockdown mode, and tags its requests for log correlation on the agent
// side.
func NewDialer(logger *logrus.Logger) hypervisor.Dial {
	log := logger.WithField("component", "VSphereClient")
	return func(ctx context.Context) (hypervisor.Client, error) {
		u, err := url.Parse(LocalSDKEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to parse endpoint %s: %w", LocalSDKEndpoint, err)
		}
		u.User = url.User(base.SessionUser)

		soapClient := soap.NewClient(u, true)
		soapClient.UserAgent = base.SessionTag
		vimClient, err := vim25.NewClient(ctx, soapClient)
		if err != nil {
			return nil, fmt.Errorf("failed to reach host agent at %s: %w", LocalSDKEndpoint, err)
		}
		gc := &govmomi.Client{
			Client:         vimClient,
			SessionManager: session.NewManager(vimClient),
		}
		if err := gc.Login(ctx, u.User); err != nil {
			return nil, fmt.Errorf("failed to log in to host agent as %s: %w", base.SessionUser, err)
		}

		log.Infof("logged in to %s as %s", LocalSDKEndpoint, base.SessionUser)
		return &client{gc: gc, log: log}, nil
	}
}

// client implements hypervisor.Client over one authenticated govmomi session
type client struct {
	gc  *govmomi.Client
	log *logrus.Entry
}

// FindVM resolves a VM by display name and pre-reads its identity properties
func (c *client) FindVM(ctx context.Context, name string) (hypervisor.Machine, error) {
	finder := find.NewFinder(c.gc.Client)
	dc, err := finder.DefaultDatacenter(ctx)
	if err != nil {
		return nil, asTypedError(fmt.Errorf("failed to resolve host datacenter: %w", err))
	}
	finder.SetDatacenter(dc)

	vm, err := finder.VirtualMachine(ctx, name)
	if err != nil {
		var notFound *find.NotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("VM %s: %w", name, errTypes.ErrorNotFound)
		}
		return nil, asTypedError(fmt.Errorf("failed to look up VM %s: %w", name, err))
	}

	var movm mo.VirtualMachine
	pc := property.DefaultCollector(c.gc.Client)
	if err := pc.RetrieveOne(ctx, vm.Reference(), []string{"config.uuid"}, &movm); err != nil {
		return nil, asTypedError(fmt.Errorf("failed to read identity of VM %s: %w", name, err))
	}
	uuid := ""
	if movm.Config != nil {
		uuid = movm.Config.Uuid
	}

	return &machine{vm: vm, name: name, uuid: uuid, pc: pc, log: c.log}, nil
}

// Monitor returns the task monitor of this session
func (c *client) Monitor() hypervisor.TaskMonitor {
	return &taskMonitor{pc: property.DefaultCollector(c.gc.Client)}
}

// Logout terminates the session
func (c *client) Logout(ctx context.Context) error {
	return c.gc.Logout(ctx)
}

// asTypedError rewrites authentication faults into the session expiry sentinel
// so the callers that know how to reconnect can recognize them
func asTypedError(err error) error {
	if isNotAuthenticated(err) {
		return fmt.Errorf("%v: %w", err, errTypes.ErrorSessionExpired)
	}
	return err
}

func isNotAuthenticated(err error) bool {
	for wrapped := err; wrapped != nil; wrapped = errors.Unwrap(wrapped) {
		if !soap.IsSoapFault(wrapped) {
			continue
		}
		switch soap.ToSoapFault(wrapped).VimFault().(type) {
		case types.NotAuthenticated, *types.NotAuthenticated:
			return true
		}
	}
	return false
}
