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

package server

import (
	"encoding/json"
	"fmt"

	errTypes "github.com/esxops/vmdkops/pkg/base/error"
)

// RequestDetails is the command payload of one request
type RequestDetails struct {
	Name string            `json:"Name"`
	Opts map[string]string `json:"Opts,omitempty"`
}

// RequestEnvelope is the wire form of one guest request
type RequestEnvelope struct {
	Cmd     string         `json:"cmd"`
	Details RequestDetails `json:"details"`
}

// brokenReplyFallback goes out when a reply itself cannot be serialized
var brokenReplyFallback = []byte(`{"Error":"failed to serialize reply"}`)

func parseEnvelope(data []byte) (RequestEnvelope, error) {
	var env RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return RequestEnvelope{}, fmt.Errorf("failed to parse request envelope: %v: %w", err, errTypes.ErrorFailedParsing)
	}
	if env.Cmd == "" {
		return RequestEnvelope{}, fmt.Errorf("request carries no command: %w", errTypes.ErrorFailedParsing)
	}
	return env, nil
}

// marshalReply serializes an operation outcome. A failed operation becomes
// {"Error": string}, a successful one its result object, nil results stay
// the JSON null literal.
func marshalReply(result interface{}, err error) []byte {
	if err != nil {
		out, merr := json.Marshal(map[string]string{"Error": err.Error()})
		if merr != nil {
			return brokenReplyFallback
		}
		return out
	}
	out, merr := json.Marshal(result)
	if merr != nil {
		return brokenReplyFallback
	}
	return out
}
