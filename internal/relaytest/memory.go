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

package relaytest

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status codes the memory relay reports. Access denials travel as decimal
// strings, the way relays forward them.
const (
	StatusBadInvalidState     = 0x80AF0000
	StatusBadNodeIDUnknown    = 0x80340000
	StatusBadAttributeInvalid = 0x80350000
	StatusBadServiceUnsup     = 0x800B0000
	StatusUserAccessDenied    = "2149515264" // 0x801F0000
)

const (
	policyNone     = "http://opcfoundation.org/UA/SecurityPolicy#None"
	profileTCP     = "http://opcfoundation.org/UA-Profile/Transport/uatcp-uasc-uabinary"
	tokenAnonymous = 0
	tokenUserName  = 1
)

// Handshake progress the memory relay tracks per connection.
const (
	stageIdle = iota
	stageHelloed
	stageChannel
	stageCreated
	stageActive
)

// Node is a node of the memory relay's address space.
type Node struct {
	ID          string
	NodeClass   int
	BrowseName  string
	DisplayName string
	Value       any
	Children    []string
}

// Memory is a Handler that behaves like a relay in front of a small
// in-memory server. It enforces the handshake order per connection.
type Memory struct {
	mu       sync.RWMutex
	nodes    map[string]*Node
	users    map[string]string
	endpoint string
	stages   map[*Conn]int
	sessions int
}

// NewMemory creates a memory relay holding the Root, Objects and Server
// nodes, and one user "admin" with password "secret".
func NewMemory() *Memory {
	m := &Memory{
		nodes:  make(map[string]*Node),
		users:  map[string]string{"admin": "secret"},
		stages: make(map[*Conn]int),
	}
	m.initDefaultNodes()
	return m
}

func (m *Memory) initDefaultNodes() {
	m.nodes["i=84"] = &Node{ID: "i=84", NodeClass: 1, BrowseName: "Root", DisplayName: "Root", Children: []string{"i=85"}}
	m.nodes["i=85"] = &Node{ID: "i=85", NodeClass: 1, BrowseName: "Objects", DisplayName: "Objects", Children: []string{"i=2253"}}
	m.nodes["i=2253"] = &Node{ID: "i=2253", NodeClass: 1, BrowseName: "Server", DisplayName: "Server"}
}

// AddNode adds a node under parent. An empty parent adds a detached node.
func (m *Memory) AddNode(parent string, n Node) {
	m.mu.Lock()
	defer m.mu.Unlock()

	node := n
	m.nodes[n.ID] = &node
	if p, ok := m.nodes[parent]; ok {
		p.Children = append(p.Children, n.ID)
	}
}

// SetValue sets the Value attribute of a node, creating a variable node if
// needed.
func (m *Memory) SetValue(id string, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.nodes[id]; ok {
		n.Value = v
		return
	}
	m.nodes[id] = &Node{ID: id, NodeClass: 2, BrowseName: id, DisplayName: id, Value: v}
}

// AddUser registers a user name and password.
func (m *Memory) AddUser(name, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[name] = password
}

// Endpoint returns the endpoint URL of the last ConnectEndpoint.
func (m *Memory) Endpoint() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.endpoint
}

// Handle implements Handler.
func (m *Memory) Handle(c *Conn, req Request) {
	data, failure := m.serve(c, req)
	if failure != nil {
		_ = c.ReplyError(req.ID, failure)
		return
	}
	_ = c.Reply(req.ID, data)
}

func (m *Memory) serve(c *Conn, req Request) (any, any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stage := m.stages[c]
	expect := func(want ...int) bool {
		for _, w := range want {
			if stage == w {
				return true
			}
		}
		return false
	}

	switch req.Op {
	case "ConnectEndpoint":
		var p struct {
			EndpointURL string `json:"EndpointUrl"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil || p.EndpointURL == "" {
			return nil, "endpoint URL required"
		}
		if !expect(stageIdle) {
			return nil, StatusBadInvalidState
		}
		m.endpoint = p.EndpointURL
		m.stages[c] = stageHelloed
		return nil, nil

	case "OpenSecureChannel":
		if !expect(stageHelloed) {
			return nil, StatusBadInvalidState
		}
		m.stages[c] = stageChannel
		return nil, nil

	case "CloseSecureChannel":
		if !expect(stageChannel) {
			return nil, StatusBadInvalidState
		}
		m.stages[c] = stageHelloed
		return nil, nil

	case "CreateSession":
		if !expect(stageChannel) {
			return nil, StatusBadInvalidState
		}
		m.sessions++
		m.stages[c] = stageCreated
		return map[string]any{
			"SessionId":       fmt.Sprintf("ns=1;i=%d", m.sessions),
			"ServerEndpoints": m.endpoints(),
		}, nil

	case "ActivateSession":
		if !expect(stageCreated) {
			return nil, StatusBadInvalidState
		}
		var p struct {
			TokenType int    `json:"TokenType"`
			Identity  string `json:"Identity"`
			Secret    string `json:"Secret"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, err.Error()
		}
		if p.TokenType == tokenUserName {
			if pw, ok := m.users[p.Identity]; !ok || pw != p.Secret {
				return nil, StatusUserAccessDenied
			}
		}
		m.stages[c] = stageActive
		return nil, nil

	case "CloseSession":
		if !expect(stageActive, stageCreated) {
			return nil, StatusBadInvalidState
		}
		m.stages[c] = stageChannel
		return nil, nil

	case "Browse":
		if !expect(stageActive) {
			return nil, StatusBadInvalidState
		}
		ids, err := nodeIDs(req.Params)
		if err != nil {
			return nil, err.Error()
		}
		results := make([]map[string]any, len(ids))
		for i, id := range ids {
			results[i] = m.browse(id)
		}
		return map[string]any{"Results": results}, nil

	case "Read":
		if !expect(stageActive) {
			return nil, StatusBadInvalidState
		}
		ids, err := nodeIDs(req.Params)
		if err != nil {
			return nil, err.Error()
		}
		var results []map[string]any
		for _, id := range ids {
			results = append(results, m.read(id)...)
		}
		return results, nil

	case "GetEndpoints":
		if stage == stageIdle {
			return nil, StatusBadInvalidState
		}
		return map[string]any{"Endpoints": m.endpoints()}, nil

	case "FindServers":
		if stage == stageIdle {
			return nil, StatusBadInvalidState
		}
		return []map[string]any{m.application()}, nil
	}
	return nil, StatusBadServiceUnsup
}

func nodeIDs(params json.RawMessage) ([]string, error) {
	var p struct {
		NodeID json.RawMessage `json:"NodeId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	var one string
	if err := json.Unmarshal(p.NodeID, &one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(p.NodeID, &many); err != nil {
		return nil, fmt.Errorf("bad NodeId: %w", err)
	}
	return many, nil
}

func (m *Memory) browse(id string) map[string]any {
	n, ok := m.nodes[id]
	if !ok {
		return map[string]any{"StatusCode": StatusBadNodeIDUnknown}
	}
	refs := make([]map[string]any, 0, len(n.Children))
	for _, childID := range n.Children {
		child, ok := m.nodes[childID]
		if !ok {
			continue
		}
		refs = append(refs, map[string]any{
			"ReferenceTypeId": "i=35",
			"IsForward":       true,
			"NodeId":          child.ID,
			"BrowseName":      map[string]any{"Name": child.BrowseName},
			"DisplayName":     map[string]any{"Text": child.DisplayName},
			"NodeClass":       child.NodeClass,
		})
	}
	return map[string]any{"StatusCode": 0, "References": refs}
}

// read reports the attributes of a node, one entry per attribute id; the
// attributes the node does not carry come back with a bad status.
func (m *Memory) read(id string) []map[string]any {
	n, ok := m.nodes[id]
	if !ok {
		return []map[string]any{{"NodeId": id, "AttributeId": 1, "StatusCode": StatusBadNodeIDUnknown}}
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	attrs := map[int]any{
		1: n.ID,
		2: n.NodeClass,
		3: map[string]any{"Name": n.BrowseName},
		4: map[string]any{"Text": n.DisplayName},
	}
	if n.Value != nil {
		attrs[13] = n.Value
	}
	keys := make([]int, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	out := make([]map[string]any, 0, len(keys)+1)
	for _, k := range keys {
		out = append(out, map[string]any{
			"NodeId":          id,
			"AttributeId":     k,
			"Value":           attrs[k],
			"StatusCode":      0,
			"SourceTimestamp": now,
			"ServerTimestamp": now,
		})
	}
	if n.Value == nil {
		out = append(out, map[string]any{"NodeId": id, "AttributeId": 13, "StatusCode": StatusBadAttributeInvalid})
	}
	return out
}

func (m *Memory) application() map[string]any {
	return map[string]any{
		"ApplicationUri":  "urn:edgeo:relaytest",
		"ProductUri":      "urn:edgeo:relaytest:product",
		"ApplicationName": map[string]any{"Text": "relaytest"},
		"ApplicationType": 0,
		"DiscoveryUrls":   []string{m.endpointURL()},
	}
}

func (m *Memory) endpointURL() string {
	if m.endpoint == "" {
		return "opc.tcp://localhost:4841"
	}
	return m.endpoint
}

func (m *Memory) endpoints() []map[string]any {
	return []map[string]any{{
		"EndpointUrl":       m.endpointURL(),
		"Server":            m.application(),
		"SecurityMode":      1,
		"SecurityPolicyUri": policyNone,
		"UserIdentityTokens": []map[string]any{
			{"PolicyId": "anonymous", "TokenType": tokenAnonymous},
			{"PolicyId": "username_basic256", "TokenType": tokenUserName, "SecurityPolicyUri": policyNone},
		},
		"TransportProfileUri": profileTCP,
		"SecurityLevel":       1,
	}}
}
