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

package identity

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/esxops/vmdkops/pkg/base/command"
)

const (
	// CartelLeaderCmdTmpl reads the vmm group leader node of a cartel, param: cartel id
	CartelLeaderCmdTmpl = "/bin/vsish -e get /userworld/cartel/%d/vmmLeader"
	// GroupInfoCmdTmpl reads the vmm group descriptor node of a leader, param: leader cartel id
	GroupInfoCmdTmpl = "/bin/vsish -e get /vm/%d/vmmGroupInfo"
)

// VSIIntrospector is the Introspector implementation over the host sysinfo tree
type VSIIntrospector struct {
	e command.CmdExecutor
}

// NewVSIIntrospector is a constructor for VSIIntrospector
// Receives CmdExecutor that runs the vsish tool
func NewVSIIntrospector(e command.CmdExecutor) *VSIIntrospector {
	return &VSIIntrospector{e: e}
}

// CartelLeader returns the vmm group leader of the caller cartel
func (v *VSIIntrospector) CartelLeader(cartelID uint32) (uint32, error) {
	stdout, stderr, err := v.e.RunCmd(fmt.Sprintf(CartelLeaderCmdTmpl, cartelID))
	if err != nil {
		return 0, fmt.Errorf("vsish failed for cartel %d: %s, error: %w", cartelID, stderr, err)
	}
	leader, err := strconv.ParseUint(strings.TrimSpace(stdout), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("unexpected vmmLeader value %q: %w", strings.TrimSpace(stdout), err)
	}
	return uint32(leader), nil
}

// GroupInfo returns the vmm group descriptor of a leader cartel
func (v *VSIIntrospector) GroupInfo(leader uint32) (GroupInfo, error) {
	stdout, stderr, err := v.e.RunCmd(fmt.Sprintf(GroupInfoCmdTmpl, leader))
	if err != nil {
		return GroupInfo{}, fmt.Errorf("vsish failed for leader %d: %s, error: %w", leader, stderr, err)
	}
	var info GroupInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		return GroupInfo{}, fmt.Errorf("failed to decode vmmGroupInfo for leader %d: %w", leader, err)
	}
	return info, nil
}
