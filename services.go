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

package opcua

import (
	"context"
	"encoding/json"
	"fmt"
)

var discoveryStates = []HandshakeState{
	HandshakeEndpointHelloed,
	HandshakeSecureChannelOpen,
	HandshakeSessionCreated,
	HandshakeSessionActive,
}

// Browse returns the references of each node, one BrowseResult per node in
// request order. It requires an active session. Every call goes to the
// relay; the client keeps no browse cache.
func (c *Client) Browse(ctx context.Context, nodeIDs ...NodeID) ([]BrowseResult, error) {
	if len(nodeIDs) == 0 {
		return nil, fmt.Errorf("%w: no nodes to browse", ErrInvalidNodeID)
	}
	if err := c.seq.require(OpBrowse, HandshakeSessionActive); err != nil {
		c.metrics.SequenceRejected.Add(1)
		return nil, err
	}

	var raw json.RawMessage
	if err := c.disp.call(ctx, OpBrowse, nodeParams{NodeID: nodeIDParam(nodeIDs)}, &raw); err != nil {
		return nil, err
	}

	var results []BrowseResult
	if err := decodeList(raw, "Results", &results); err != nil {
		return nil, &RequestError{Op: OpBrowse, Err: fmt.Errorf("decode reply: %w", err)}
	}
	if len(results) == len(nodeIDs) {
		for i := range results {
			results[i].NodeID = nodeIDs[i]
		}
	}
	return results, nil
}

// BrowseNode browses a single node and returns its references. A bad status
// for the node is returned as a *RelayError.
func (c *Client) BrowseNode(ctx context.Context, nodeID NodeID) ([]ReferenceDescription, error) {
	results, err := c.Browse(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, NewRelayError(OpBrowse, StatusBadUnknownResponse, "empty browse result")
	}
	if results[0].StatusCode.IsBad() {
		return nil, NewRelayError(OpBrowse, results[0].StatusCode, nodeID.String())
	}
	return results[0].References, nil
}

// Read reads the attributes of the given nodes. It returns one
// NodeAttribute per attribute the relay reported; an attribute with a bad
// status is absent from the node, which is not a failure of the call.
func (c *Client) Read(ctx context.Context, nodeIDs ...NodeID) ([]NodeAttribute, error) {
	if len(nodeIDs) == 0 {
		return nil, fmt.Errorf("%w: no nodes to read", ErrInvalidNodeID)
	}
	if err := c.seq.require(OpRead, HandshakeSessionActive); err != nil {
		c.metrics.SequenceRejected.Add(1)
		return nil, err
	}

	var raw json.RawMessage
	if err := c.disp.call(ctx, OpRead, nodeParams{NodeID: nodeIDParam(nodeIDs)}, &raw); err != nil {
		return nil, err
	}

	var results []readResult
	if err := decodeList(raw, "Results", &results); err != nil {
		return nil, &RequestError{Op: OpRead, Err: fmt.Errorf("decode reply: %w", err)}
	}

	// One entry per node with no attribute ids means a plain value read.
	perNode := len(results) == len(nodeIDs)
	values := make([]NodeAttribute, len(results))
	for i, r := range results {
		v := NodeAttribute{
			AttributeID: r.AttributeID,
			DataValue:   r.DataValue,
		}
		switch {
		case r.NodeID != nil:
			v.NodeID = *r.NodeID
		case len(nodeIDs) == 1:
			v.NodeID = nodeIDs[0]
		case perNode:
			v.NodeID = nodeIDs[i]
		}
		if v.AttributeID == 0 && perNode {
			v.AttributeID = AttributeValue
		}
		values[i] = v
	}
	return values, nil
}

// GetEndpoints asks the server behind the relay for its endpoints. No
// session is required, only a helloed endpoint.
func (c *Client) GetEndpoints(ctx context.Context, endpointURL string) ([]EndpointDescription, error) {
	if err := c.seq.require(OpGetEndpoints, discoveryStates...); err != nil {
		c.metrics.SequenceRejected.Add(1)
		return nil, err
	}

	var raw json.RawMessage
	if err := c.disp.call(ctx, OpGetEndpoints, getEndpointsParams{EndpointURL: endpointURL}, &raw); err != nil {
		return nil, err
	}

	var endpoints []EndpointDescription
	if err := decodeList(raw, "Endpoints", &endpoints); err != nil {
		return nil, &RequestError{Op: OpGetEndpoints, Err: fmt.Errorf("decode reply: %w", err)}
	}
	return endpoints, nil
}

// FindServers asks the server behind the relay for known servers,
// optionally filtered by server URI. No session is required.
func (c *Client) FindServers(ctx context.Context, endpointURL string, serverURIs ...string) ([]ApplicationDescription, error) {
	if err := c.seq.require(OpFindServers, discoveryStates...); err != nil {
		c.metrics.SequenceRejected.Add(1)
		return nil, err
	}

	params := findServersParams{
		EndpointURL: endpointURL,
		ServerURIs:  serverURIs,
	}
	var raw json.RawMessage
	if err := c.disp.call(ctx, OpFindServers, params, &raw); err != nil {
		return nil, err
	}

	var servers []ApplicationDescription
	if err := decodeList(raw, "Servers", &servers); err != nil {
		return nil, &RequestError{Op: OpFindServers, Err: fmt.Errorf("decode reply: %w", err)}
	}
	return servers, nil
}
