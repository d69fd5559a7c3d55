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
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	opcua "github.com/edgeo-scada/opcua-web"
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read the attributes of OPC UA nodes",
	Long: `Read the attributes of one or more nodes. Attributes the node does
not carry are hidden unless --all is given.

Examples:
  edgeo-opcua-web read -e opc.tcp://localhost:4840 -n "ns=2;s=Temperature"
  edgeo-opcua-web read -e opc.tcp://localhost:4840 -n "ns=2;s=Temperature" -a Value -a DataType
  edgeo-opcua-web read -e opc.tcp://localhost:4840 -n "i=2253" -n "i=2254" -o json`,
	RunE: runRead,
}

var (
	readNodeIDs    []string
	readAttributes []string
	readAll        bool
)

func init() {
	readCmd.Flags().StringArrayVarP(&readNodeIDs, "node", "n", nil, "Node ID(s) to read (can specify multiple)")
	readCmd.Flags().StringArrayVarP(&readAttributes, "attribute", "a", nil, "Only show these attributes: NodeId, NodeClass, BrowseName, DisplayName, Value, DataType, etc.")
	readCmd.Flags().BoolVar(&readAll, "all", false, "Also show attributes the node does not carry")
	readCmd.MarkFlagRequired("node")
}

type readOutput struct {
	NodeID          string `json:"nodeId"`
	Attribute       string `json:"attribute"`
	Value           any    `json:"value,omitempty"`
	Status          string `json:"status"`
	SourceTimestamp string `json:"sourceTimestamp,omitempty"`
	ServerTimestamp string `json:"serverTimestamp,omitempty"`
}

func runRead(cmd *cobra.Command, args []string) error {
	nodeIDs, err := parseNodeIDs(readNodeIDs)
	if err != nil {
		return err
	}

	return withSession(func(ctx context.Context, client *opcua.Client) error {
		values, err := client.Read(ctx, nodeIDs...)
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}

		values = filterAttributes(values, readAttributes, readAll)

		if jsonOutput() {
			out := make([]readOutput, len(values))
			for i, v := range values {
				out[i] = readOutput{
					NodeID:          v.NodeID.String(),
					Attribute:       v.Name(),
					Value:           v.Value,
					Status:          v.StatusCode.String(),
					SourceTimestamp: formatTimestamp(v.SourceTimestamp),
					ServerTimestamp: formatTimestamp(v.ServerTimestamp),
				}
			}
			return printJSON(out)
		}

		var last string
		for _, v := range values {
			if id := v.NodeID.String(); id != last {
				if last != "" {
					fmt.Println()
				}
				fmt.Printf("Node: %s\n", id)
				last = id
			}
			if !v.Present() {
				fmt.Printf("  %-24s <absent> (%s)\n", v.Name(), v.StatusCode)
				continue
			}
			fmt.Printf("  %-24s %s\n", v.Name(), formatValue(v.Value))
			if ts := formatTimestamp(v.SourceTimestamp); ts != "" {
				fmt.Printf("  %-24s %s\n", "  SourceTimestamp", ts)
			}
			if !v.StatusCode.IsGood() {
				fmt.Printf("  %-24s %s\n", "  Status", v.StatusCode)
			}
		}
		return nil
	})
}

func filterAttributes(values []opcua.NodeAttribute, names []string, all bool) []opcua.NodeAttribute {
	out := values[:0:0]
	for _, v := range values {
		if !all && !v.Present() {
			continue
		}
		if len(names) > 0 && !containsFold(names, v.Name()) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
