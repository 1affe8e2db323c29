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

package util

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/esxops/vmdkops/pkg/vmci"
)

// SignalHandler is a structure which contains methods for signal handling
type SignalHandler struct {
	log *logrus.Entry
}

// NewSignalHandler is a constructor for SignalHandler
func NewSignalHandler(logger *logrus.Logger) *SignalHandler {
	return &SignalHandler{log: logger.WithField("component", "SignalHandler")}
}

// SetupSIGTERMHandler closes the request channel when SIGTERM or SIGINT is
// caught, the serve loop then stops and the service shuts down
func (sh *SignalHandler) SetupSIGTERMHandler(channel vmci.Channel) {
	sh.setupSignalHandler(syscall.SIGTERM, syscall.SIGINT)
	if err := channel.Close(); err != nil {
		sh.log.Warnf("failed to close request channel: %v", err)
	}
}

// SetupSIGHUPHandler runs cleanupFn when SIGHUP is caught
func (sh *SignalHandler) SetupSIGHUPHandler(cleanupFn func()) {
	sh.setupSignalHandler(syscall.SIGHUP)
	if cleanupFn != nil {
		cleanupFn()
	}
}

// setupSignalHandler blocks until one of the signals arrives
func (sh *SignalHandler) setupSignalHandler(signals ...os.Signal) {
	signalChan := make(chan os.Signal, 1)

	signal.Notify(signalChan, signals...)

	sig := <-signalChan

	sh.log.WithField("method", "setupSignalHandler").Debugf("Got %v signal", sig)
}
