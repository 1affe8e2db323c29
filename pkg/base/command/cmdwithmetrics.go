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
package command

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/esxops/vmdkops/pkg/metrics"
)

// ExecutorWithMetrics is a wrapper for CmdExecutor that reports tool run durations
type ExecutorWithMetrics struct {
	CmdExecutor
	stat metrics.Statistic
}

// NewExecutorWithMetrics is a constructor for ExecutorWithMetrics
// Receives CmdExecutor to wrap and Statistic to report durations to
func NewExecutorWithMetrics(exec CmdExecutor, stat metrics.Statistic) *ExecutorWithMetrics {
	return &ExecutorWithMetrics{CmdExecutor: exec, stat: stat}
}

// RunCmd runs the wrapped executor and observes the run duration labeled with the tool name
// Returns stdout, stderr and error in case of failed execution
func (e *ExecutorWithMetrics) RunCmd(cmd interface{}) (string, string, error) {
	defer e.stat.EvaluateDuration(toolName(cmd), time.Now())
	return e.CmdExecutor.RunCmd(cmd)
}

// toolName extracts the binary base name from a string command for metric labels
func toolName(cmd interface{}) string {
	if cmdStr, ok := cmd.(string); ok {
		if fields := strings.Fields(cmdStr); len(fields) > 0 {
			return filepath.Base(fields[0])
		}
	}
	return "unknown"
}
