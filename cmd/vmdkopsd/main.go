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

// Package for main function of the vmdkops service
package main

import (
	"context"
	"flag"
	"net/http"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/esxops/vmdkops/pkg/attach"
	"github.com/esxops/vmdkops/pkg/base"
	"github.com/esxops/vmdkops/pkg/base/command"
	"github.com/esxops/vmdkops/pkg/base/config"
	"github.com/esxops/vmdkops/pkg/base/util"
	"github.com/esxops/vmdkops/pkg/hypervisor"
	"github.com/esxops/vmdkops/pkg/hypervisor/vsphere"
	"github.com/esxops/vmdkops/pkg/identity"
	"github.com/esxops/vmdkops/pkg/kvstore"
	"github.com/esxops/vmdkops/pkg/metrics"
	"github.com/esxops/vmdkops/pkg/server"
	"github.com/esxops/vmdkops/pkg/vmci"
	"github.com/esxops/vmdkops/pkg/vmdk"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "path of the service config file")
	logPath     = flag.String("logpath", "", "log path for the service, overrides the config file")
	verboseLogs = flag.Bool("verbose", false, "Debug mode in logs")
	port        = flag.Uint("port", 0, "vsock port to listen on, overrides the config file")
)

func main() {
	flag.Parse()

	cfgReader := config.NewReader(*configPath, logrus.New())
	cfg := cfgReader.Config()

	path := cfg.LogPath
	if *logPath != "" {
		path = *logPath
	}
	logLevel := cfgReader.Level()
	if *verboseLogs {
		logLevel = logrus.DebugLevel
	}
	logger, err := base.InitLogger(path, logLevel)
	if err != nil {
		logger.Warnf("Can't set logger's output to %s. Using stdout instead.", path)
	}

	logger.Infof("Start %s %s", base.ServiceName, base.ServiceVersion)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnf("Failed to create file watcher, config updates are disabled: %v", err)
	} else {
		defer watcher.Close()
		go cfgReader.UpdateOnConfigChange(watcher, logger)
	}

	requestMetrics := metrics.NewRequestMetrics()
	toolMetrics := metrics.NewToolMetrics()
	prometheus.MustRegister(requestMetrics.Collect()...)
	prometheus.MustRegister(toolMetrics.Collect()...)
	if cfg.MetricsAddress != "" {
		go serveMetrics(cfg.MetricsAddress, logger)
	}

	e := &command.Executor{}
	e.SetLogger(logger)
	execWithMetrics := command.NewExecutorWithMetrics(e, toolMetrics)

	kv := kvstore.NewBoltFactory(logger)

	ctx := context.Background()
	session := hypervisor.NewSessionManager(vsphere.NewDialer(logger), logger)
	if err := session.Connect(ctx); err != nil {
		logger.Fatalf("Failed to connect to the hypervisor: %v", err)
	}

	volumes := vmdk.NewOperationsImpl(vmdk.NewToolsetImpl(execWithMetrics, cfg.Tools), kv, logger)
	engine := attach.NewEngineImpl(kv, hypervisor.NewWaiter(session, logger), logger)
	resolver := identity.NewResolver(identity.NewVSIIntrospector(execWithMetrics), logger)
	dispatcher := server.NewDispatcherImpl(volumes, engine, session, requestMetrics, logger)

	channelPort := cfg.Port
	if *port != 0 {
		channelPort = uint32(*port)
	}
	channel, err := vmci.NewVSockChannel(channelPort, logger)
	if err != nil {
		logger.Fatalf("Failed to open the request channel: %v", err)
	}

	sh := util.NewSignalHandler(logger)
	go sh.SetupSIGTERMHandler(channel)

	serveErr := server.NewServer(channel, resolver, dispatcher, logger).Serve(ctx)

	if err := session.Close(ctx); err != nil {
		logger.Warnf("Failed to log the hypervisor session out: %v", err)
	}
	if err := kv.Close(); err != nil {
		logger.Warnf("Failed to close metadata stores: %v", err)
	}
	if serveErr != nil {
		logger.Fatalf("Service stopped: %v", serveErr)
	}
	logger.Info("Service stopped")
}

// serveMetrics exposes prometheus metrics and a liveness probe for host monitoring
func serveMetrics(address string, logger *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if err := http.ListenAndServe(address, mux); err != nil {
		logger.Warnf("Metrics endpoint on %s stopped: %v", address, err)
	}
}
