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
	"strconv"
	"strings"
)

// StatusCode represents an OPC UA StatusCode.
type StatusCode uint32

// StatusCode severity levels.
const (
	StatusSeverityGood      uint32 = 0x00000000
	StatusSeverityUncertain uint32 = 0x40000000
	StatusSeverityBad       uint32 = 0x80000000
	StatusSeverityMask      uint32 = 0xC0000000
)

// Status codes the relay reports for the services this client issues.
const (
	StatusGood                            StatusCode = 0x00000000
	StatusUncertain                       StatusCode = 0x40000000
	StatusBad                             StatusCode = 0x80000000
	StatusBadUnexpectedError              StatusCode = 0x80010000
	StatusBadInternalError                StatusCode = 0x80020000
	StatusBadCommunicationError           StatusCode = 0x80050000
	StatusBadEncodingError                StatusCode = 0x80060000
	StatusBadDecodingError                StatusCode = 0x80070000
	StatusBadUnknownResponse              StatusCode = 0x80090000
	StatusBadTimeout                      StatusCode = 0x800A0000
	StatusBadServiceUnsupported           StatusCode = 0x800B0000
	StatusBadShutdown                     StatusCode = 0x800C0000
	StatusBadServerNotConnected           StatusCode = 0x800D0000
	StatusBadNothingToDo                  StatusCode = 0x800F0000
	StatusBadTooManyOperations            StatusCode = 0x80100000
	StatusBadCertificateInvalid           StatusCode = 0x80120000
	StatusBadSecurityChecksFailed         StatusCode = 0x80130000
	StatusBadCertificateTimeInvalid       StatusCode = 0x80140000
	StatusBadCertificateHostNameInvalid   StatusCode = 0x80160000
	StatusBadCertificateUriInvalid        StatusCode = 0x80170000
	StatusBadCertificateUntrusted         StatusCode = 0x801A0000
	StatusBadCertificateRevoked           StatusCode = 0x801D0000
	StatusBadUserAccessDenied             StatusCode = 0x801F0000
	StatusBadIdentityTokenInvalid         StatusCode = 0x80200000
	StatusBadIdentityTokenRejected        StatusCode = 0x80210000
	StatusBadSecureChannelIdInvalid       StatusCode = 0x80220000
	StatusBadNonceInvalid                 StatusCode = 0x80240000
	StatusBadSessionIdInvalid             StatusCode = 0x80250000
	StatusBadSessionClosed                StatusCode = 0x80260000
	StatusBadSessionNotActivated          StatusCode = 0x80270000
	StatusBadRequestHeaderInvalid         StatusCode = 0x802A0000
	StatusBadNodeIdInvalid                StatusCode = 0x80330000
	StatusBadNodeIdUnknown                StatusCode = 0x80340000
	StatusBadAttributeIdInvalid           StatusCode = 0x80350000
	StatusBadNotReadable                  StatusCode = 0x803A0000
	StatusBadNotSupported                 StatusCode = 0x803D0000
	StatusBadNotFound                     StatusCode = 0x803E0000
	StatusBadNotImplemented               StatusCode = 0x80400000
	StatusBadContinuationPointInvalid     StatusCode = 0x804A0000
	StatusBadNoContinuationPoints         StatusCode = 0x804B0000
	StatusBadReferenceTypeIdInvalid       StatusCode = 0x804C0000
	StatusBadBrowseDirectionInvalid       StatusCode = 0x804D0000
	StatusBadServerUriInvalid             StatusCode = 0x804F0000
	StatusBadSecurityModeRejected         StatusCode = 0x80540000
	StatusBadSecurityPolicyRejected       StatusCode = 0x80550000
	StatusBadTooManySessions              StatusCode = 0x80560000
	StatusBadUserSignatureInvalid         StatusCode = 0x80570000
	StatusBadApplicationSignatureInvalid  StatusCode = 0x80580000
	StatusBadNoValidCertificates          StatusCode = 0x80590000
	StatusBadTcpServerTooBusy             StatusCode = 0x807D0000
	StatusBadTcpSecureChannelUnknown      StatusCode = 0x807F0000
	StatusBadTcpEndpointUrlInvalid        StatusCode = 0x80830000
	StatusBadRequestInterrupted           StatusCode = 0x80840000
	StatusBadRequestTimeout               StatusCode = 0x80850000
	StatusBadSecureChannelClosed          StatusCode = 0x80860000
	StatusBadSecureChannelTokenUnknown    StatusCode = 0x80870000
	StatusBadProtocolVersionUnsupported   StatusCode = 0x80BE0000
	StatusBadNotConnected                 StatusCode = 0x808A0000
	StatusBadInvalidArgument              StatusCode = 0x80AB0000
	StatusBadConnectionRejected           StatusCode = 0x80AC0000
	StatusBadDisconnect                   StatusCode = 0x80AD0000
	StatusBadConnectionClosed             StatusCode = 0x80AE0000
	StatusBadInvalidState                 StatusCode = 0x80AF0000
	StatusBadMaxConnectionsReached        StatusCode = 0x80B70000
	StatusBadSecurityModeInsufficient     StatusCode = 0x80E60000
	StatusUncertainNotAllNodesAvailable   StatusCode = 0x40C00000
	StatusGoodResultsMayBeIncomplete      StatusCode = 0x00BA0000
)

type statusCodeInfo struct {
	name        string
	description string
}

var statusCodeMap = map[StatusCode]statusCodeInfo{
	StatusGood:                           {"Good", "The operation completed successfully"},
	StatusUncertain:                      {"Uncertain", "The operation completed with uncertain result"},
	StatusBad:                            {"Bad", "The operation failed"},
	StatusBadUnexpectedError:             {"BadUnexpectedError", "An unexpected error occurred"},
	StatusBadInternalError:               {"BadInternalError", "An internal error occurred"},
	StatusBadCommunicationError:          {"BadCommunicationError", "A low level communication error occurred"},
	StatusBadEncodingError:               {"BadEncodingError", "Encoding halted because of invalid data"},
	StatusBadDecodingError:               {"BadDecodingError", "Decoding halted because of invalid data"},
	StatusBadUnknownResponse:             {"BadUnknownResponse", "An unrecognized response was received from the server"},
	StatusBadTimeout:                     {"BadTimeout", "The operation timed out"},
	StatusBadServiceUnsupported:          {"BadServiceUnsupported", "The server does not support the requested service"},
	StatusBadShutdown:                    {"BadShutdown", "The operation was cancelled because the application is shutting down"},
	StatusBadServerNotConnected:          {"BadServerNotConnected", "The operation could not complete because the client is not connected to the server"},
	StatusBadNothingToDo:                 {"BadNothingToDo", "No processing could be done because there was nothing to do"},
	StatusBadTooManyOperations:           {"BadTooManyOperations", "The request specified too many operations"},
	StatusBadCertificateInvalid:          {"BadCertificateInvalid", "The certificate provided is not valid"},
	StatusBadSecurityChecksFailed:        {"BadSecurityChecksFailed", "An error occurred verifying security"},
	StatusBadCertificateTimeInvalid:      {"BadCertificateTimeInvalid", "The certificate has expired or is not yet valid"},
	StatusBadCertificateHostNameInvalid:  {"BadCertificateHostNameInvalid", "The hostname used to connect does not match a hostname in the certificate"},
	StatusBadCertificateUriInvalid:       {"BadCertificateUriInvalid", "The URI in the certificate does not match the application URI"},
	StatusBadCertificateUntrusted:        {"BadCertificateUntrusted", "The certificate is not trusted"},
	StatusBadCertificateRevoked:          {"BadCertificateRevoked", "The certificate has been revoked"},
	StatusBadUserAccessDenied:            {"BadUserAccessDenied", "User access denied"},
	StatusBadIdentityTokenInvalid:        {"BadIdentityTokenInvalid", "The user identity token is not valid"},
	StatusBadIdentityTokenRejected:       {"BadIdentityTokenRejected", "The user identity token is rejected by the server"},
	StatusBadSecureChannelIdInvalid:      {"BadSecureChannelIdInvalid", "The specified secure channel is no longer valid"},
	StatusBadNonceInvalid:                {"BadNonceInvalid", "The nonce does not appear to be a valid nonce"},
	StatusBadSessionIdInvalid:            {"BadSessionIdInvalid", "The session ID is not valid"},
	StatusBadSessionClosed:               {"BadSessionClosed", "The session was closed by the client"},
	StatusBadSessionNotActivated:         {"BadSessionNotActivated", "The session cannot be used because it has not been activated"},
	StatusBadRequestHeaderInvalid:        {"BadRequestHeaderInvalid", "The header for the request is missing or invalid"},
	StatusBadNodeIdInvalid:               {"BadNodeIdInvalid", "The node ID format is not valid"},
	StatusBadNodeIdUnknown:               {"BadNodeIdUnknown", "The node ID refers to a node that does not exist"},
	StatusBadAttributeIdInvalid:          {"BadAttributeIdInvalid", "The attribute ID is not valid for this node"},
	StatusBadNotReadable:                 {"BadNotReadable", "The access level does not allow reading the value"},
	StatusBadNotSupported:                {"BadNotSupported", "The requested operation is not supported"},
	StatusBadNotFound:                    {"BadNotFound", "A requested item was not found"},
	StatusBadNotImplemented:              {"BadNotImplemented", "Requested operation is not implemented"},
	StatusBadContinuationPointInvalid:    {"BadContinuationPointInvalid", "The continuation point is not valid"},
	StatusBadNoContinuationPoints:        {"BadNoContinuationPoints", "The server has no continuation points available"},
	StatusBadReferenceTypeIdInvalid:      {"BadReferenceTypeIdInvalid", "The reference type ID is not valid"},
	StatusBadBrowseDirectionInvalid:      {"BadBrowseDirectionInvalid", "The browse direction is not valid"},
	StatusBadServerUriInvalid:            {"BadServerUriInvalid", "The server URI is not valid"},
	StatusBadSecurityModeRejected:        {"BadSecurityModeRejected", "The security mode does not meet the security policy requirements"},
	StatusBadSecurityPolicyRejected:      {"BadSecurityPolicyRejected", "The security policy does not meet the security policy requirements"},
	StatusBadTooManySessions:             {"BadTooManySessions", "The server has reached its maximum number of sessions"},
	StatusBadUserSignatureInvalid:        {"BadUserSignatureInvalid", "The user token signature is not valid"},
	StatusBadApplicationSignatureInvalid: {"BadApplicationSignatureInvalid", "The signature generated with the client certificate is not valid"},
	StatusBadNoValidCertificates:         {"BadNoValidCertificates", "The client did not provide a valid certificate"},
	StatusBadTcpServerTooBusy:            {"BadTcpServerTooBusy", "The server cannot process the request because it is too busy"},
	StatusBadTcpSecureChannelUnknown:     {"BadTcpSecureChannelUnknown", "The secure channel is not known"},
	StatusBadTcpEndpointUrlInvalid:       {"BadTcpEndpointUrlInvalid", "The endpoint URL is not valid"},
	StatusBadRequestInterrupted:          {"BadRequestInterrupted", "The request was interrupted by a network error"},
	StatusBadRequestTimeout:              {"BadRequestTimeout", "The request timed out"},
	StatusBadSecureChannelClosed:         {"BadSecureChannelClosed", "The secure channel has been closed"},
	StatusBadSecureChannelTokenUnknown:   {"BadSecureChannelTokenUnknown", "The token has expired or is not recognized"},
	StatusBadProtocolVersionUnsupported:  {"BadProtocolVersionUnsupported", "The protocol version is not supported"},
	StatusBadNotConnected:                {"BadNotConnected", "The variable has never been configured to receive a value"},
	StatusBadInvalidArgument:             {"BadInvalidArgument", "One or more arguments are invalid"},
	StatusBadConnectionRejected:          {"BadConnectionRejected", "The server rejected the connection"},
	StatusBadDisconnect:                  {"BadDisconnect", "The connection was disconnected"},
	StatusBadConnectionClosed:            {"BadConnectionClosed", "The connection was closed"},
	StatusBadInvalidState:                {"BadInvalidState", "The object is closed or in an invalid state"},
	StatusBadMaxConnectionsReached:       {"BadMaxConnectionsReached", "The server has reached the maximum number of connections it supports"},
	StatusBadSecurityModeInsufficient:    {"BadSecurityModeInsufficient", "The security mode is not acceptable for the operation"},
	StatusUncertainNotAllNodesAvailable:  {"UncertainNotAllNodesAvailable", "The list of references may not be complete"},
	StatusGoodResultsMayBeIncomplete:     {"GoodResultsMayBeIncomplete", "The processing will complete asynchronously"},
}

// String returns the string representation of the status code.
func (s StatusCode) String() string {
	if info, ok := statusCodeMap[s]; ok {
		return info.name
	}
	return fmt.Sprintf("StatusCode(0x%08X)", uint32(s))
}

// Description returns a human-readable description of the status code.
func (s StatusCode) Description() string {
	if info, ok := statusCodeMap[s]; ok {
		return info.description
	}
	switch {
	case s.IsGood():
		return "The operation completed successfully"
	case s.IsUncertain():
		return "The operation completed with uncertain result"
	default:
		return "The operation failed"
	}
}

// Error returns a formatted error string with code, name, and description.
func (s StatusCode) Error() string {
	if info, ok := statusCodeMap[s]; ok {
		return fmt.Sprintf("%s (0x%08X): %s", info.name, uint32(s), info.description)
	}
	return fmt.Sprintf("StatusCode 0x%08X", uint32(s))
}

// IsGood returns true if the status code indicates success.
func (s StatusCode) IsGood() bool {
	return (uint32(s) & StatusSeverityMask) == StatusSeverityGood
}

// IsUncertain returns true if the status code indicates uncertainty.
func (s StatusCode) IsUncertain() bool {
	return (uint32(s) & StatusSeverityMask) == StatusSeverityUncertain
}

// IsBad returns true if the status code indicates failure.
func (s StatusCode) IsBad() bool {
	return (uint32(s) & StatusSeverityMask) == StatusSeverityBad
}

// ParseStatusCode accepts a decimal or 0x-prefixed hexadecimal value, or a
// symbolic name such as "BadUserAccessDenied".
func ParseStatusCode(s string) (StatusCode, bool) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseUint(s, 0, 32); err == nil {
		return StatusCode(v), true
	}
	for code, info := range statusCodeMap {
		if strings.EqualFold(info.name, s) {
			return code, true
		}
	}
	return 0, false
}

// UnmarshalJSON accepts the status forms relays emit: a number, a numeric
// or symbolic string, or an object with a "Code" member.
func (s *StatusCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		code, ok := ParseStatusCode(str)
		if !ok {
			return fmt.Errorf("opcua: unknown status code %q", str)
		}
		*s = code
		return nil
	case '{':
		var obj struct {
			Code *StatusCode `json:"Code"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		if obj.Code != nil {
			*s = *obj.Code
		}
		return nil
	}
	var v uint32
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("opcua: invalid status code %s", data)
	}
	*s = StatusCode(v)
	return nil
}
