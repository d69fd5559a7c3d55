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
	"errors"
	"fmt"
	"strings"

	"github.com/edgeo-scada/opcua-web/internal/transport"
)

// Common errors.
var (
	// ErrAlreadyConnected is returned by Connect while a link is open or opening.
	ErrAlreadyConnected = transport.ErrAlreadyConnected

	// ErrAlreadyDisconnected is returned by Disconnect when no link is open.
	ErrAlreadyDisconnected = transport.ErrAlreadyDisconnected

	// ErrNotConnected indicates the link to the relay is not open.
	ErrNotConnected = transport.ErrNotConnected

	// ErrLinkClosed fails every request that was outstanding when the link closed.
	ErrLinkClosed = errors.New("opcua: link closed")

	// ErrSequencing indicates a handshake operation was invoked out of order.
	ErrSequencing = errors.New("opcua: handshake sequencing violation")

	// ErrUnknownTransportProfile indicates the endpoint URL scheme maps to no
	// known transport profile.
	ErrUnknownTransportProfile = errors.New("opcua: unknown transport profile")

	// ErrTimeout indicates no response arrived before the request deadline.
	ErrTimeout = errors.New("opcua: timeout")

	// ErrProtocolViolation indicates the relay sent a frame that could not be parsed.
	ErrProtocolViolation = errors.New("opcua: protocol violation")

	// ErrInvalidNodeID indicates an invalid NodeID was specified.
	ErrInvalidNodeID = errors.New("opcua: invalid node ID")

	// ErrClientClosed indicates the client was shut down.
	ErrClientClosed = errors.New("opcua: client closed")

	// ErrNoTokenPolicy indicates no advertised endpoint accepts the credential.
	ErrNoTokenPolicy = errors.New("opcua: no matching user token policy")
)

// SequenceError reports a handshake operation invoked from the wrong state,
// or while another transition was still in flight.
type SequenceError struct {
	Op       Operation
	State    HandshakeState
	Want     []HandshakeState
	InFlight Operation
}

// Error implements the error interface.
func (e *SequenceError) Error() string {
	if e.InFlight != "" {
		return fmt.Sprintf("opcua: %s rejected: %s still in flight", e.Op, e.InFlight)
	}
	want := make([]string, len(e.Want))
	for i, s := range e.Want {
		want[i] = s.String()
	}
	return fmt.Sprintf("opcua: %s not allowed in state %s (want %s)", e.Op, e.State, strings.Join(want, " or "))
}

// Is reports whether target is ErrSequencing.
func (e *SequenceError) Is(target error) bool {
	return target == ErrSequencing
}

// RequestError wraps a failure of one correlated request that was detected
// locally: timeout, link loss or caller cancellation.
type RequestError struct {
	Op  Operation
	ID  uint64
	Err error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return fmt.Sprintf("opcua: %s request %d: %v", e.Op, e.ID, e.Err)
}

// Unwrap returns the underlying error.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// RelayError is a failure reported by the relay or by the OPC UA server
// behind it. It is passed through verbatim.
type RelayError struct {
	Op         Operation
	StatusCode StatusCode
	Message    string
}

// Error implements the error interface.
func (e *RelayError) Error() string {
	switch {
	case e.Message != "" && e.StatusCode != StatusBad:
		return fmt.Sprintf("opcua: %s: %s: %s", e.Op, e.StatusCode.String(), e.Message)
	case e.Message != "":
		return fmt.Sprintf("opcua: %s: %s", e.Op, e.Message)
	default:
		return fmt.Sprintf("opcua: %s: %s", e.Op, e.StatusCode.Error())
	}
}

// Is matches another *RelayError carrying the same status code.
func (e *RelayError) Is(target error) bool {
	t, ok := target.(*RelayError)
	if !ok {
		return false
	}
	return e.StatusCode == t.StatusCode
}

// Unwrap exposes the status code so errors.Is(err, StatusBadUserAccessDenied)
// works.
func (e *RelayError) Unwrap() error {
	return e.StatusCode
}

// NewRelayError creates a new relay error.
func NewRelayError(op Operation, sc StatusCode, msg string) *RelayError {
	return &RelayError{
		Op:         op,
		StatusCode: sc,
		Message:    msg,
	}
}

// decodeRelayError interprets the error member of a reply. Relays send a
// status number, a numeric or symbolic string, free text, or an object.
func decodeRelayError(op Operation, raw json.RawMessage) *RelayError {
	raw = bytes.TrimSpace(raw)
	e := &RelayError{Op: op, StatusCode: StatusBad}
	if len(raw) == 0 {
		return e
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			e.Message = string(raw)
			return e
		}
		if code, ok := ParseStatusCode(s); ok {
			e.StatusCode = code
			return e
		}
		e.Message = s

	case '{':
		var obj struct {
			StatusCode  *StatusCode `json:"StatusCode"`
			Code        *StatusCode `json:"Code"`
			Message     string      `json:"Message"`
			Description string      `json:"Description"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			e.Message = string(raw)
			return e
		}
		switch {
		case obj.StatusCode != nil:
			e.StatusCode = *obj.StatusCode
		case obj.Code != nil:
			e.StatusCode = *obj.Code
		}
		e.Message = obj.Message
		if e.Message == "" {
			e.Message = obj.Description
		}

	default:
		var code StatusCode
		if err := json.Unmarshal(raw, &code); err != nil {
			e.Message = string(raw)
			return e
		}
		e.StatusCode = code
	}
	return e
}

// IsRelayStatus checks if an error is a relay error with a specific status code.
func IsRelayStatus(err error, code StatusCode) bool {
	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr.StatusCode == code
	}
	return false
}

// IsTimeout checks if the error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || IsRelayStatus(err, StatusBadTimeout) || IsRelayStatus(err, StatusBadRequestTimeout)
}

// IsLinkClosed checks if the error was caused by the relay link closing.
func IsLinkClosed(err error) bool {
	return errors.Is(err, ErrLinkClosed)
}

// IsSequencing checks if the error is a handshake sequencing violation.
func IsSequencing(err error) bool {
	return errors.Is(err, ErrSequencing)
}

// IsUserAccessDenied checks if the error indicates access denied.
func IsUserAccessDenied(err error) bool {
	return IsRelayStatus(err, StatusBadUserAccessDenied)
}

// IsIdentityTokenInvalid checks if the server rejected the identity token,
// which is how a bad certificate usually surfaces.
func IsIdentityTokenInvalid(err error) bool {
	return IsRelayStatus(err, StatusBadIdentityTokenInvalid) || IsRelayStatus(err, StatusBadIdentityTokenRejected)
}
