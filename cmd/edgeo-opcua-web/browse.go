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

	"github.com/spf13/cobra"

	opcua "github.com/edgeo-scada/opcua-web"
)

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse the references of OPC UA nodes",
	Long: `Browse the forward hierarchical references of one or more nodes.

Examples:
  edgeo-opcua-web browse -e opc.tcp://localhost:4840
  edgeo-opcua-web browse -e opc.tcp://localhost:4840 -n "i=85"
  edgeo-opcua-web browse -e opc.tcp://localhost:4840 -n "i=85" -n "ns=2;s=Line1" -o json`,
	RunE: runBrowse,
}

var browseNodeIDs []string

func init() {
	browseCmd.Flags().StringArrayVarP(&browseNodeIDs, "node", "n", []string{"i=84"}, "Node ID(s) to browse (default: Root)")
}

type browseOutput struct {
	NodeID     string                       `json:"nodeId"`
	Status     string                       `json:"status"`
	References []opcua.ReferenceDescription `json:"references"`
}

func runBrowse(cmd *cobra.Command, args []string) error {
	nodeIDs, err := parseNodeIDs(browseNodeIDs)
	if err != nil {
		return err
	}

	return withSession(func(ctx context.Context, client *opcua.Client) error {
		results, err := client.Browse(ctx, nodeIDs...)
		if err != nil {
			return fmt.Errorf("browse failed: %w", err)
		}

		if jsonOutput() {
			out := make([]browseOutput, len(results))
			for i, r := range results {
				out[i] = browseOutput{NodeID: r.NodeID.String(), Status: r.StatusCode.String(), References: r.References}
			}
			return printJSON(out)
		}

		for _, r := range results {
			fmt.Printf("Browsing from: %s\n", r.NodeID)
			if r.StatusCode.IsBad() {
				fmt.Printf("Status: %s\n\n", r.StatusCode)
				continue
			}
			fmt.Printf("Found %d references:\n\n", len(r.References))
			for i, ref := range r.References {
				printReference(i+1, ref)
			}
		}
		return nil
	})
}

func printReference(n int, ref opcua.ReferenceDescription) {
	fmt.Printf("[%d] %s\n", n, ref.Label())
	fmt.Printf("    NodeID:     %s\n", ref.NodeID)
	fmt.Printf("    NodeClass:  %s\n", ref.NodeClass)
	fmt.Printf("    BrowseName: %s\n", ref.BrowseName.Name)
	if ref.TypeDefinition != nil {
		fmt.Printf("    TypeDef:    %s\n", ref.TypeDefinition)
	}
	fmt.Println()
}
