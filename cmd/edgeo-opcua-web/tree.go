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
	"golang.org/x/sync/errgroup"

	opcua "github.com/edgeo-scada/opcua-web"
)

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the address space below a node as a tree",
	Long: `Expand the address space below a node level by level. The nodes of
one level are browsed concurrently over the same relay link.

Examples:
  edgeo-opcua-web tree -e opc.tcp://localhost:4840
  edgeo-opcua-web tree -e opc.tcp://localhost:4840 -n "i=85" --depth 4 --parallel 16`,
	RunE: runTree,
}

var (
	treeNodeID   string
	treeDepth    int
	treeParallel int
)

func init() {
	treeCmd.Flags().StringVarP(&treeNodeID, "node", "n", "i=84", "Node ID to start from")
	treeCmd.Flags().IntVarP(&treeDepth, "depth", "d", 3, "Levels to expand")
	treeCmd.Flags().IntVar(&treeParallel, "parallel", 8, "Browse requests in flight per level")
}

type treeNode struct {
	NodeID    string      `json:"nodeId"`
	Label     string      `json:"label"`
	NodeClass string      `json:"nodeClass,omitempty"`
	Status    string      `json:"status,omitempty"`
	Children  []*treeNode `json:"children,omitempty"`

	id opcua.NodeID
}

func runTree(cmd *cobra.Command, args []string) error {
	start, err := opcua.ParseNodeID(treeNodeID)
	if err != nil {
		return fmt.Errorf("invalid node ID: %w", err)
	}
	if treeDepth < 1 {
		return fmt.Errorf("depth must be at least 1")
	}

	return withSession(func(ctx context.Context, client *opcua.Client) error {
		root := &treeNode{NodeID: start.String(), Label: start.String(), id: start}
		if err := expandTree(ctx, client, root, treeDepth, treeParallel); err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(root)
		}
		printTree(root, 0)
		return nil
	})
}

// expandTree browses one level at a time. Every node of a level gets its own
// Browse request; replies may come back in any order.
func expandTree(ctx context.Context, client *opcua.Client, root *treeNode, depth, parallel int) error {
	level := []*treeNode{root}
	seen := map[string]bool{root.NodeID: true}

	for d := 0; d < depth && len(level) > 0; d++ {
		g, gctx := errgroup.WithContext(ctx)
		if parallel > 0 {
			g.SetLimit(parallel)
		}
		for _, n := range level {
			g.Go(func() error {
				refs, err := client.BrowseNode(gctx, n.id)
				if err != nil {
					if opcua.IsSequencing(err) || opcua.IsLinkClosed(err) {
						return err
					}
					n.Status = err.Error()
					return nil
				}
				for _, ref := range refs {
					n.Children = append(n.Children, &treeNode{
						NodeID:    ref.NodeID.String(),
						Label:     ref.Label(),
						NodeClass: ref.NodeClass.String(),
						id:        ref.NodeID,
					})
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("browse failed: %w", err)
		}

		var next []*treeNode
		for _, n := range level {
			for _, child := range n.Children {
				if seen[child.NodeID] {
					continue
				}
				seen[child.NodeID] = true
				next = append(next, child)
			}
		}
		level = next
	}
	return nil
}

func printTree(n *treeNode, indent int) {
	prefix := strings.Repeat("  ", indent)
	line := fmt.Sprintf("%s%s (%s)", prefix, n.Label, n.NodeID)
	if n.NodeClass != "" {
		line += " [" + n.NodeClass + "]"
	}
	if n.Status != "" {
		line += " ! " + n.Status
	}
	fmt.Println(line)
	for _, c := range n.Children {
		printTree(c, indent+1)
	}
}
