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

// Package vmci accepts volume requests from guest VMs over the host-guest
// vSocket transport
package vmci

import (
	"net"
)

// Request is one guest request. CartelID identifies the calling VM's cartel
// on this host, Data is the raw request payload.
type Request struct {
	CartelID uint32
	Data     []byte

	conn net.Conn
}

// Channel hands over guest requests one at a time and carries the replies back
type Channel interface {
	// NextRequest blocks until a guest sends a request
	NextRequest() (*Request, error)
	// Reply sends data back to the guest the request came from
	Reply(r *Request, data []byte) error
	// Close shuts the channel down, pending NextRequest calls return
	Close() error
}
