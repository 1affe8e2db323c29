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

package vmci

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mdlayher/vsock"
	"github.com/sirupsen/logrus"

	"github.com/esxops/vmdkops/pkg/base"
	errTypes "github.com/esxops/vmdkops/pkg/base/error"
)

const (
	// listenRetries bounds how long the service waits for the vsock transport
	// driver to come up at startup
	listenRetries = 10
	// requestDeadline bounds one guest exchange, a stalled guest must not
	// wedge the request loop
	requestDeadline = 30 * time.Second
)

// VSockChannel implements Channel over the host's VMCI vSocket transport.
// Each request is one short-lived connection: the guest writes the payload,
// reads the reply and the connection is closed.
type VSockChannel struct {
	listener net.Listener
	log      *logrus.Entry
}

// NewVSockChannel opens a vsock listener on the given port. The transport
// driver may still be loading when the service starts, so the listen call is
// retried with capped exponential backoff.
func NewVSockChannel(port uint32, logger *logrus.Logger) (*VSockChannel, error) {
	log := logger.WithField("component", "VSockChannel")

	var l *vsock.Listener
	op := func() error {
		var err error
		l, err = vsock.Listen(port, nil)
		if err != nil {
			log.Warnf("vsock listen on port %d failed: %v, retrying", port, err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 10 * time.Second
	if err := backoff.Retry(op, backoff.WithMaxRetries(b, listenRetries)); err != nil {
		return nil, fmt.Errorf("failed to listen on vsock port %d: %w", port, err)
	}

	log.Infof("listening on vsock port %d", port)
	return &VSockChannel{listener: l, log: log}, nil
}

// NextRequest accepts one connection and reads the request from it.
// The connection stays open for Reply. Failures of a single exchange come
// back wrapped as transient, a closed listener surfaces as net.ErrClosed.
func (c *VSockChannel) NextRequest() (*Request, error) {
	conn, err := c.listener.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to accept vsock connection: %v: %w", err, errTypes.ErrorTransientChannel)
	}

	if err := conn.SetDeadline(time.Now().Add(requestDeadline)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to arm request deadline: %v: %w", err, errTypes.ErrorTransientChannel)
	}

	cid, ok := peerContextID(conn)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected peer address %v: %w", conn.RemoteAddr(), errTypes.ErrorTransientChannel)
	}

	// one request fits a single read, the payload is capped at MaxRequestSize
	buf := make([]byte, base.MaxRequestSize)
	n, err := conn.Read(buf)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to read request of cartel %d: %v: %w", cid, err, errTypes.ErrorTransientChannel)
	}

	c.log.WithField("method", "NextRequest").Debugf("received %d bytes from cartel %d", n, cid)
	return &Request{CartelID: cid, Data: buf[:n], conn: conn}, nil
}

// Reply writes data back on the request's connection and closes it
func (c *VSockChannel) Reply(r *Request, data []byte) error {
	if r.conn == nil {
		return fmt.Errorf("request of cartel %d has no open connection", r.CartelID)
	}
	defer func() {
		_ = r.conn.Close()
		r.conn = nil
	}()
	if _, err := r.conn.Write(data); err != nil {
		return fmt.Errorf("failed to send reply to cartel %d: %w", r.CartelID, err)
	}
	return nil
}

// Close shuts the listener down
func (c *VSockChannel) Close() error {
	return c.listener.Close()
}

func peerContextID(conn net.Conn) (uint32, bool) {
	addr, ok := conn.RemoteAddr().(*vsock.Addr)
	if !ok {
		return 0, false
	}
	return addr.ContextID, true
}
