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
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
)

// Operation names a relay request. It is the top-level key of the outbound
// envelope.
type Operation string

// Relay operations.
const (
	OpConnectEndpoint    Operation = "ConnectEndpoint"
	OpOpenSecureChannel  Operation = "OpenSecureChannel"
	OpCloseSecureChannel Operation = "CloseSecureChannel"
	OpCreateSession      Operation = "CreateSession"
	OpActivateSession    Operation = "ActivateSession"
	OpCloseSession       Operation = "CloseSession"
	OpBrowse             Operation = "Browse"
	OpRead               Operation = "Read"
	OpGetEndpoints       Operation = "GetEndpoints"
	OpFindServers        Operation = "FindServers"
)

// String returns the operation name.
func (o Operation) String() string {
	return string(o)
}

// RequestIDGenerator generates request IDs. The first ID is 1 and IDs are
// never reused for the lifetime of the generator.
type RequestIDGenerator struct {
	counter atomic.Uint64
}

// Next returns the next request ID.
func (g *RequestIDGenerator) Next() uint64 {
	return g.counter.Add(1)
}

// Last returns the most recently issued ID, or 0.
func (g *RequestIDGenerator) Last() uint64 {
	return g.counter.Load()
}

var emptyParams = json.RawMessage("{}")

// encodeRequest builds {"<op>": params, "id": id}.
func encodeRequest(op Operation, id uint64, params any) ([]byte, error) {
	body := emptyParams
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode %s params: %w", op, err)
		}
		body = b
	}
	return json.Marshal(map[string]any{
		string(op): body,
		"id":       id,
	})
}

// reply is an inbound envelope. Member names match case-insensitively, so
// both "data" and "Data" are accepted.
type reply struct {
	ID    *uint64         `json:"id"`
	Data  json.RawMessage `json:"data"`
	Error json.RawMessage `json:"error"`
}

func (r *reply) failed() bool {
	return present(r.Error)
}

// decodeReply parses an inbound frame. Any parse failure is a protocol
// violation.
func decodeReply(frame []byte) (*reply, error) {
	var r reply
	if err := json.Unmarshal(frame, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	return &r, nil
}

func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// decodeList decodes raw into out whether the relay sent a bare array or an
// object wrapping the array in member key.
func decodeList(raw json.RawMessage, key string, out any) error {
	raw = bytes.TrimSpace(raw)
	if !present(raw) {
		return nil
	}
	if raw[0] == '[' {
		return json.Unmarshal(raw, out)
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return err
	}
	for k, v := range wrapper {
		if strings.EqualFold(k, key) {
			if !present(v) {
				return nil
			}
			return json.Unmarshal(v, out)
		}
	}
	return nil
}

// nodeIDParam encodes one node as a string and several as an array.
func nodeIDParam(ids []NodeID) any {
	if len(ids) == 1 {
		return ids[0].String()
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

type connectEndpointParams struct {
	EndpointURL         string `json:"EndpointUrl"`
	TransportProfileURI string `json:"TransportProfileUri"`
}

type openSecureChannelParams struct {
	TimeoutMs         int64               `json:"TimeoutMs"`
	SecurityPolicyURI SecurityPolicy      `json:"SecurityPolicyUri"`
	SecurityMode      MessageSecurityMode `json:"SecurityMode"`
	ServerCertificate json.RawMessage     `json:"ServerCertificate"`
}

type createSessionParams struct {
	SessionName    string `json:"SessionName"`
	SessionTimeout int64  `json:"SessionTimeout"`
}

type activateSessionParams struct {
	TokenType UserTokenType `json:"TokenType"`
	PolicyID  string        `json:"PolicyId"`
	Identity  string        `json:"Identity,omitempty"`
	Secret    string        `json:"Secret,omitempty"`
}

type nodeParams struct {
	NodeID any `json:"NodeId"`
}

type getEndpointsParams struct {
	EndpointURL string `json:"EndpointUrl,omitempty"`
}

type findServersParams struct {
	EndpointURL string   `json:"EndpointUrl,omitempty"`
	ServerURIs  []string `json:"ServerUris,omitempty"`
}

// readResult is one entry of a Read reply.
type readResult struct {
	NodeID      *NodeID     `json:"NodeId"`
	AttributeID AttributeID `json:"AttributeId"`
	DataValue
}
