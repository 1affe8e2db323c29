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

// Package identity maps transport caller tokens into the VMs they belong to
package identity

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// VMContext identifies the calling VM for the duration of one request.
// It is resolved fresh per request and never cached, VMs power off,
// unregister and vMotion between requests.
type VMContext struct {
	// Name is the display name the VM is looked up by
	Name string
	// UUID is the BIOS uuid in canonical hyphenated form
	UUID string
	// CfgPath is the absolute path of the .vmx file
	CfgPath string
}

// GroupInfo is the raw vmm group descriptor as exposed by the host
type GroupInfo struct {
	UUID        string `json:"uuid"`
	DisplayName string `json:"displayName"`
	CfgPath     string `json:"cfgPath"`
}

// Introspector reads the host's process accounting to map cartels to VMs
type Introspector interface {
	// CartelLeader returns the vmm group leader of the caller cartel
	CartelLeader(cartelID uint32) (uint32, error)
	// GroupInfo returns the vmm group descriptor of a leader cartel
	GroupInfo(leader uint32) (GroupInfo, error)
}

// Resolver resolves caller cartel ids into VMContext
type Resolver struct {
	intro Introspector
	log   *logrus.Entry
}

// NewResolver is a constructor for Resolver
// Receives Introspector that reads host process accounting and logrus logger
func NewResolver(intro Introspector, logger *logrus.Logger) *Resolver {
	return &Resolver{
		intro: intro,
		log:   logger.WithField("component", "IdentityResolver"),
	}
}

// Resolve maps the caller cartel id into the VM it belongs to.
// Each failure is reported per request, the service keeps serving.
func (r *Resolver) Resolve(cartelID uint32) (VMContext, error) {
	ll := r.log.WithFields(logrus.Fields{"method": "Resolve", "cartelID": cartelID})

	leader, err := r.intro.CartelLeader(cartelID)
	if err != nil {
		return VMContext{}, fmt.Errorf("failed to find vmm leader for cartel %d: %w", cartelID, err)
	}
	info, err := r.intro.GroupInfo(leader)
	if err != nil {
		return VMContext{}, fmt.Errorf("failed to read vmm group info for leader %d: %w", leader, err)
	}
	canonical, err := CanonicalUUID(info.UUID)
	if err != nil {
		return VMContext{}, fmt.Errorf("cartel %d reports malformed vm uuid %q: %w", cartelID, info.UUID, err)
	}

	ll.Debugf("resolved to VM %q uuid %s", info.DisplayName, canonical)
	return VMContext{
		Name:    info.DisplayName,
		UUID:    canonical,
		CfgPath: info.CfgPath,
	}, nil
}

// CanonicalUUID converts the host's flat uuid form, 32 hex digits possibly
// broken up by spaces or dashes, into the canonical 8-4-4-4-12 form
func CanonicalUUID(raw string) (string, error) {
	flat := strings.NewReplacer(" ", "", "-", "").Replace(raw)
	id, err := uuid.Parse(flat)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
