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

// Package config loads the optional service configuration file and keeps it up to date
package config

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/esxops/vmdkops/pkg/base"
)

const (
	// DefaultConfigPath is where the service looks for its config file
	DefaultConfigPath = "/etc/vmware/vmdkops/config.yaml"
	// DefaultLogPath is used when the config file carries no log path
	DefaultLogPath = "/var/log/vmware/vmdkops.log"
)

// ToolPaths overrides locations of the disk tool binaries
type ToolPaths struct {
	Vmkfstools string `yaml:"vmkfstools"`
	Mkfs       string `yaml:"mkfs"`
	OsfsMkdir  string `yaml:"osfsMkdir"`
	Objtool    string `yaml:"objtool"`
}

// Config struct is the configuration for the vmdkops service, a missing file keeps the defaults
type Config struct {
	LogPath        string    `yaml:"logPath"`
	LogLevel       string    `yaml:"logLevel"`
	Port           uint32    `yaml:"port"`
	MetricsAddress string    `yaml:"metricsAddress"`
	Tools          ToolPaths `yaml:"tools"`
}

// Reader owns the current Config and re-reads it when the file changes
type Reader struct {
	sync.Mutex
	path   string
	config *Config
	log    *logrus.Entry
}

// NewReader is a constructor for Reader, reads the config once before returning
func NewReader(path string, logger *logrus.Logger) *Reader {
	r := &Reader{
		path:   path,
		config: defaultConfig(),
		log:    logger.WithField("component", "ConfigReader"),
	}
	r.readAndSetConfig()
	return r
}

func defaultConfig() *Config {
	return &Config{
		LogPath:  DefaultLogPath,
		LogLevel: logrus.InfoLevel.String(),
		Port:     base.DefaultVMCIPort,
	}
}

// Config returns a copy of the current configuration
func (r *Reader) Config() Config {
	r.Lock()
	defer r.Unlock()
	return *r.config
}

// Level converts the configured log level into logrus.Level, unknown values fall back to Info
func (r *Reader) Level() logrus.Level {
	level, err := logrus.ParseLevel(r.Config().LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// readAndSetConfig reads config from path and tries to unmarshall it. If unmarshall performs successfully then
// the method sets the config to Reader
func (r *Reader) readAndSetConfig() {
	ll := r.log.WithField("method", "readAndSetConfig")

	configData, err := os.ReadFile(r.path)
	if err != nil {
		ll.Debugf("failed to read config file %s: %v", r.path, err)
		return
	}
	c := defaultConfig()
	if err = yaml.Unmarshal(configData, c); err != nil {
		ll.Errorf("failed to unmarshall config: %v", err)
		return
	}
	r.Lock()
	r.config = c
	r.Unlock()
}

// UpdateOnConfigChange re-reads the config on file events and re-applies the log level to logger.
// Port and tool paths are picked up on the next service restart only.
func (r *Reader) UpdateOnConfigChange(watcher *fsnotify.Watcher, logger *logrus.Logger) {
	ll := r.log.WithField("method", "UpdateOnConfigChange")
	if err := watcher.Add(r.path); err != nil {
		ll.Warnf("can't add config to file watcher %s", err)
		return
	}
	for {
		event, ok := <-watcher.Events
		if !ok {
			ll.Info("file watcher is closed")
			return
		}
		ll.Debugf("event %s came ", event.Op)

		switch event.Op {
		case fsnotify.Chmod:
			continue
		case fsnotify.Remove:
			if err := watcher.Remove(r.path); err != nil {
				ll.Debugf("can't remove config from file watcher %s", err)
			}
			if err := watcher.Add(r.path); err != nil {
				ll.Warnf("can't add config to file watcher %s", err)
				return
			}
		}

		ll.Debugf("triggering config update on %s event", event.Op)
		r.readAndSetConfig()
		logger.SetLevel(r.Level())
	}
}
