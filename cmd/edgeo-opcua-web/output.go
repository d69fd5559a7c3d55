// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	opcua "github.com/edgeo-scada/opcua-web"
)

func jsonOutput() bool {
	return strings.EqualFold(viper.GetString("output"), "json")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatValue renders a relayed variant payload on one line.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "<null>"
	case string:
		return val
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func formatTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func getApplicationTypeName(t opcua.ApplicationType) string {
	switch t {
	case opcua.ApplicationTypeServer:
		return "Server"
	case opcua.ApplicationTypeClient:
		return "Client"
	case opcua.ApplicationTypeClientAndServer:
		return "ClientAndServer"
	case opcua.ApplicationTypeDiscoveryServer:
		return "DiscoveryServer"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}
