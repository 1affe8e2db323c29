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

// Package server runs the request loop of the service: it receives guest
// requests from the channel, resolves who sent them and dispatches them to
// the volume and attachment engines
package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/esxops/vmdkops/pkg/base"
	errTypes "github.com/esxops/vmdkops/pkg/base/error"
	"github.com/esxops/vmdkops/pkg/identity"
	"github.com/esxops/vmdkops/pkg/vmci"
)

// CallerResolver maps channel caller tokens to VM identities
type CallerResolver interface {
	Resolve(cartelID uint32) (identity.VMContext, error)
}

// Server is the top-level request loop of the service
type Server struct {
	channel  vmci.Channel
	resolver CallerResolver
	dispatch Dispatcher
	log      *logrus.Entry
}

// NewServer is a constructor for Server
// Receives the request channel, the caller resolver, the dispatcher and logrus logger
func NewServer(channel vmci.Channel, resolver CallerResolver, dispatch Dispatcher, logger *logrus.Logger) *Server {
	return &Server{
		channel:  channel,
		resolver: resolver,
		dispatch: dispatch,
		log:      logger.WithField("component", "Server"),
	}
}

// Serve processes requests one at a time until the channel is closed or fails
// hard. The channel reopens its socket on its own, so transient receive
// failures are skipped, but only MaxSkipCount times in a row. A failed request
// gets an error reply and never stops the loop.
func (s *Server) Serve(ctx context.Context) error {
	ll := s.log.WithField("method", "Serve")
	ll.Infof("serving volume requests")

	failures := 0
	for {
		r, err := s.channel.NextRequest()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				ll.Info("channel closed, stopping")
				return nil
			}
			failures++
			ll.Warnf("receive failed (%d in a row): %v", failures, err)
			if failures >= base.MaxSkipCount {
				return fmt.Errorf("%v: %w", err, errTypes.ErrorFatalChannel)
			}
			continue
		}
		failures = 0
		s.handle(ctx, r)
	}
}

// handle runs one request and replies best-effort
func (s *Server) handle(ctx context.Context, r *vmci.Request) {
	result, err := s.process(ctx, r)
	if err != nil {
		s.log.WithField("method", "handle").Errorf("request of cartel %d failed: %v", r.CartelID, err)
	}
	if rerr := s.channel.Reply(r, marshalReply(result, err)); rerr != nil {
		s.log.WithField("method", "handle").Warnf("failed to reply to cartel %d: %v", r.CartelID, rerr)
	}
}

func (s *Server) process(ctx context.Context, r *vmci.Request) (interface{}, error) {
	vmCtx, err := s.resolver.Resolve(r.CartelID)
	if err != nil {
		return nil, err
	}
	env, err := parseEnvelope(r.Data)
	if err != nil {
		return nil, err
	}
	return s.dispatch.Execute(ctx, vmCtx, env.Cmd, env.Details.Name, env.Details.Opts)
}
