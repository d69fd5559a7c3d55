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

// Package opcua provides an OPC UA client that reaches servers through a
// WebSocket relay. The relay performs the binary protocol work; this package
// multiplexes requests over the socket and sequences the session handshake.
package opcua

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AttributeID represents an OPC UA attribute identifier.
type AttributeID uint32

// OPC UA Attribute IDs.
const (
	AttributeNodeID                  AttributeID = 1
	AttributeNodeClass               AttributeID = 2
	AttributeBrowseName              AttributeID = 3
	AttributeDisplayName             AttributeID = 4
	AttributeDescription             AttributeID = 5
	AttributeWriteMask               AttributeID = 6
	AttributeUserWriteMask           AttributeID = 7
	AttributeIsAbstract              AttributeID = 8
	AttributeSymmetric               AttributeID = 9
	AttributeInverseName             AttributeID = 10
	AttributeContainsNoLoops         AttributeID = 11
	AttributeEventNotifier           AttributeID = 12
	AttributeValue                   AttributeID = 13
	AttributeDataType                AttributeID = 14
	AttributeValueRank               AttributeID = 15
	AttributeArrayDimensions         AttributeID = 16
	AttributeAccessLevel             AttributeID = 17
	AttributeUserAccessLevel         AttributeID = 18
	AttributeMinimumSamplingInterval AttributeID = 19
	AttributeHistorizing             AttributeID = 20
	AttributeExecutable              AttributeID = 21
	AttributeUserExecutable          AttributeID = 22
	AttributeDataTypeDefinition      AttributeID = 23
	AttributeRolePermissions         AttributeID = 24
	AttributeUserRolePermissions     AttributeID = 25
	AttributeAccessRestrictions      AttributeID = 26
	AttributeAccessLevelEx           AttributeID = 27
)

var attributeNames = [...]string{
	AttributeNodeID:                  "NodeId",
	AttributeNodeClass:               "NodeClass",
	AttributeBrowseName:              "BrowseName",
	AttributeDisplayName:             "DisplayName",
	AttributeDescription:             "Description",
	AttributeWriteMask:               "WriteMask",
	AttributeUserWriteMask:           "UserWriteMask",
	AttributeIsAbstract:              "IsAbstract",
	AttributeSymmetric:               "Symmetric",
	AttributeInverseName:             "InverseName",
	AttributeContainsNoLoops:         "ContainsNoLoops",
	AttributeEventNotifier:           "EventNotifier",
	AttributeValue:                   "Value",
	AttributeDataType:                "DataType",
	AttributeValueRank:               "ValueRank",
	AttributeArrayDimensions:         "ArrayDimensions",
	AttributeAccessLevel:             "AccessLevel",
	AttributeUserAccessLevel:         "UserAccessLevel",
	AttributeMinimumSamplingInterval: "MinimumSamplingInterval",
	AttributeHistorizing:             "Historizing",
	AttributeExecutable:              "Executable",
	AttributeUserExecutable:          "UserExecutable",
	AttributeDataTypeDefinition:      "DataTypeDefinition",
	AttributeRolePermissions:         "RolePermissions",
	AttributeUserRolePermissions:     "UserRolePermissions",
	AttributeAccessRestrictions:      "AccessRestrictions",
	AttributeAccessLevelEx:           "AccessLevelEx",
}

// String returns the standard name of the attribute.
func (a AttributeID) String() string {
	if int(a) < len(attributeNames) && attributeNames[a] != "" {
		return attributeNames[a]
	}
	return "Attribute(" + strconv.FormatUint(uint64(a), 10) + ")"
}

// NodeClass represents the class of a node.
type NodeClass uint32

// Node classes.
const (
	NodeClassUnspecified   NodeClass = 0
	NodeClassObject        NodeClass = 1
	NodeClassVariable      NodeClass = 2
	NodeClassMethod        NodeClass = 4
	NodeClassObjectType    NodeClass = 8
	NodeClassVariableType  NodeClass = 16
	NodeClassReferenceType NodeClass = 32
	NodeClassDataType      NodeClass = 64
	NodeClassView          NodeClass = 128
)

// String returns the string representation of a NodeClass.
func (n NodeClass) String() string {
	switch n {
	case NodeClassUnspecified:
		return "Unspecified"
	case NodeClassObject:
		return "Object"
	case NodeClassVariable:
		return "Variable"
	case NodeClassMethod:
		return "Method"
	case NodeClassObjectType:
		return "ObjectType"
	case NodeClassVariableType:
		return "VariableType"
	case NodeClassReferenceType:
		return "ReferenceType"
	case NodeClassDataType:
		return "DataType"
	case NodeClassView:
		return "View"
	default:
		return "Unknown"
	}
}

// MessageSecurityMode represents the security mode for messages.
type MessageSecurityMode uint32

// Message security modes.
const (
	MessageSecurityModeInvalid        MessageSecurityMode = 0
	MessageSecurityModeNone           MessageSecurityMode = 1
	MessageSecurityModeSign           MessageSecurityMode = 2
	MessageSecurityModeSignAndEncrypt MessageSecurityMode = 3
)

// String returns the string representation of a MessageSecurityMode.
func (m MessageSecurityMode) String() string {
	switch m {
	case MessageSecurityModeNone:
		return "None"
	case MessageSecurityModeSign:
		return "Sign"
	case MessageSecurityModeSignAndEncrypt:
		return "SignAndEncrypt"
	default:
		return "Invalid"
	}
}

// ParseMessageSecurityMode parses a mode name (case-insensitive) or its
// numeric value.
func ParseMessageSecurityMode(s string) (MessageSecurityMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "1":
		return MessageSecurityModeNone, nil
	case "sign", "2":
		return MessageSecurityModeSign, nil
	case "signandencrypt", "sign-and-encrypt", "3":
		return MessageSecurityModeSignAndEncrypt, nil
	}
	return MessageSecurityModeInvalid, fmt.Errorf("opcua: unknown security mode %q", s)
}

// SecurityPolicy represents an OPC UA security policy URI.
type SecurityPolicy string

// Security policies.
const (
	SecurityPolicyNone           SecurityPolicy = "http://opcfoundation.org/UA/SecurityPolicy#None"
	SecurityPolicyBasic128Rsa15  SecurityPolicy = "http://opcfoundation.org/UA/SecurityPolicy#Basic128Rsa15"
	SecurityPolicyBasic256       SecurityPolicy = "http://opcfoundation.org/UA/SecurityPolicy#Basic256"
	SecurityPolicyBasic256Sha256 SecurityPolicy = "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256"
	SecurityPolicyAes128Sha256   SecurityPolicy = "http://opcfoundation.org/UA/SecurityPolicy#Aes128_Sha256_RsaOaep"
	SecurityPolicyAes256Sha256   SecurityPolicy = "http://opcfoundation.org/UA/SecurityPolicy#Aes256_Sha256_RsaPss"
)

const securityPolicyPrefix = "http://opcfoundation.org/UA/SecurityPolicy#"

var knownPolicies = []SecurityPolicy{
	SecurityPolicyNone,
	SecurityPolicyBasic128Rsa15,
	SecurityPolicyBasic256,
	SecurityPolicyBasic256Sha256,
	SecurityPolicyAes128Sha256,
	SecurityPolicyAes256Sha256,
}

// Name returns the short policy name ("Basic256Sha256"). Policy URIs outside
// the OPC Foundation namespace are returned unchanged.
func (p SecurityPolicy) Name() string {
	if name, ok := strings.CutPrefix(string(p), securityPolicyPrefix); ok {
		return name
	}
	return string(p)
}

// ParseSecurityPolicy accepts a short policy name (case-insensitive) or a
// full policy URI.
func ParseSecurityPolicy(s string) (SecurityPolicy, error) {
	s = strings.TrimSpace(s)
	for _, p := range knownPolicies {
		if s == string(p) || strings.EqualFold(s, p.Name()) {
			return p, nil
		}
	}
	return "", fmt.Errorf("opcua: invalid security policy name %q", s)
}

// Transport profile URIs advertised to the relay in ConnectEndpoint.
const (
	TransportProfileTCPBinary   = "http://opcfoundation.org/UA-Profile/Transport/uatcp-uasc-uabinary"
	TransportProfileHTTPSBinary = "http://opcfoundation.org/UA-Profile/Transport/https-uabinary"
)

// InferTransportProfile derives the transport profile from the scheme of an
// endpoint URL.
func InferTransportProfile(endpointURL string) (string, error) {
	scheme, _, ok := strings.Cut(endpointURL, "://")
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTransportProfile, endpointURL)
	}
	switch strings.ToLower(scheme) {
	case "opc.tcp":
		return TransportProfileTCPBinary, nil
	case "http", "https", "opc.http", "opc.https":
		return TransportProfileHTTPSBinary, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTransportProfile, endpointURL)
}

// UserTokenType represents the type of user identity token.
type UserTokenType uint32

// User token types.
const (
	UserTokenTypeAnonymous   UserTokenType = 0
	UserTokenTypeUserName    UserTokenType = 1
	UserTokenTypeCertificate UserTokenType = 2
	UserTokenTypeIssuedToken UserTokenType = 3
)

// String returns the string representation of a UserTokenType.
func (t UserTokenType) String() string {
	switch t {
	case UserTokenTypeAnonymous:
		return "Anonymous"
	case UserTokenTypeUserName:
		return "UserName"
	case UserTokenTypeCertificate:
		return "Certificate"
	case UserTokenTypeIssuedToken:
		return "IssuedToken"
	default:
		return "Unknown"
	}
}

// UserTokenPolicy describes a user identity token policy.
type UserTokenPolicy struct {
	PolicyID          string        `json:"PolicyId"`
	TokenType         UserTokenType `json:"TokenType"`
	IssuedTokenType   string        `json:"IssuedTokenType,omitempty"`
	IssuerEndpointURL string        `json:"IssuerEndpointUrl,omitempty"`
	SecurityPolicyURI string        `json:"SecurityPolicyUri,omitempty"`
}

// ApplicationType represents the type of an OPC UA application.
type ApplicationType uint32

// Application types.
const (
	ApplicationTypeServer          ApplicationType = 0
	ApplicationTypeClient          ApplicationType = 1
	ApplicationTypeClientAndServer ApplicationType = 2
	ApplicationTypeDiscoveryServer ApplicationType = 3
)

// ApplicationDescription describes an OPC UA application.
type ApplicationDescription struct {
	ApplicationURI      string          `json:"ApplicationUri"`
	ProductURI          string          `json:"ProductUri,omitempty"`
	ApplicationName     LocalizedText   `json:"ApplicationName"`
	ApplicationType     ApplicationType `json:"ApplicationType"`
	GatewayServerURI    string          `json:"GatewayServerUri,omitempty"`
	DiscoveryProfileURI string          `json:"DiscoveryProfileUri,omitempty"`
	DiscoveryURLs       []string        `json:"DiscoveryUrls,omitempty"`
}

// EndpointDescription describes an OPC UA endpoint advertised by a server.
// The server certificate is kept in whatever form the relay sent it.
type EndpointDescription struct {
	EndpointURL         string                 `json:"EndpointUrl"`
	Server              ApplicationDescription `json:"Server"`
	ServerCertificate   json.RawMessage        `json:"ServerCertificate,omitempty"`
	SecurityMode        MessageSecurityMode    `json:"SecurityMode"`
	SecurityPolicyURI   SecurityPolicy         `json:"SecurityPolicyUri"`
	UserIdentityTokens  []UserTokenPolicy      `json:"UserIdentityTokens"`
	TransportProfileURI string                 `json:"TransportProfileUri,omitempty"`
	SecurityLevel       uint8                  `json:"SecurityLevel"`
}

// FindTokenPolicy returns the first token policy of the given type.
func (e *EndpointDescription) FindTokenPolicy(t UserTokenType) (UserTokenPolicy, bool) {
	for _, p := range e.UserIdentityTokens {
		if p.TokenType == t {
			return p, true
		}
	}
	return UserTokenPolicy{}, false
}

// SelectEndpoint returns the first endpoint matching policy and mode. An
// empty policy or an invalid mode matches anything.
func SelectEndpoint(endpoints []EndpointDescription, policy SecurityPolicy, mode MessageSecurityMode) (*EndpointDescription, bool) {
	for i := range endpoints {
		ep := &endpoints[i]
		if policy != "" && ep.SecurityPolicyURI != policy {
			continue
		}
		if mode != MessageSecurityModeInvalid && ep.SecurityMode != mode {
			continue
		}
		return ep, true
	}
	return nil, false
}

// SecurityContext is produced by OpenSecureChannel and read by the
// session operations that follow.
type SecurityContext struct {
	PolicyURI         SecurityPolicy
	Mode              MessageSecurityMode
	ServerCertificate []byte
	Lifetime          time.Duration
}

// Session is the result of CreateSession.
type Session struct {
	Name            string                `json:"-"`
	Timeout         time.Duration         `json:"-"`
	SessionID       string                `json:"SessionId,omitempty"`
	ServerEndpoints []EndpointDescription `json:"ServerEndpoints"`
}

// QualifiedName represents an OPC UA QualifiedName.
type QualifiedName struct {
	NamespaceIndex uint16 `json:"NamespaceIndex,omitempty"`
	Name           string `json:"Name"`
}

// LocalizedText represents an OPC UA LocalizedText.
type LocalizedText struct {
	Locale string `json:"Locale,omitempty"`
	Text   string `json:"Text"`
}

// ReferenceDescription describes a reference returned from a browse.
type ReferenceDescription struct {
	ReferenceTypeID *NodeID       `json:"ReferenceTypeId,omitempty"`
	IsForward       bool          `json:"IsForward"`
	NodeID          NodeID        `json:"NodeId"`
	BrowseName      QualifiedName `json:"BrowseName"`
	DisplayName     LocalizedText `json:"DisplayName"`
	NodeClass       NodeClass     `json:"NodeClass"`
	TypeDefinition  *NodeID       `json:"TypeDefinition,omitempty"`
}

// Label returns the text a tree view shows for the reference target.
func (r ReferenceDescription) Label() string {
	if r.DisplayName.Text != "" {
		return r.DisplayName.Text
	}
	if r.BrowseName.Name != "" {
		return r.BrowseName.Name
	}
	return r.NodeID.String()
}

// BrowseResult contains the result of browsing one node.
type BrowseResult struct {
	NodeID     NodeID                 `json:"-"`
	StatusCode StatusCode             `json:"StatusCode"`
	References []ReferenceDescription `json:"References"`
}

// DataValue represents an OPC UA DataValue as relayed in JSON. Value holds
// the decoded JSON payload of the variant.
type DataValue struct {
	Value           any        `json:"Value,omitempty"`
	StatusCode      StatusCode `json:"StatusCode"`
	SourceTimestamp *time.Time `json:"SourceTimestamp,omitempty"`
	ServerTimestamp *time.Time `json:"ServerTimestamp,omitempty"`
}

// NodeAttribute is one attribute of one node returned by Read.
type NodeAttribute struct {
	NodeID      NodeID
	AttributeID AttributeID
	DataValue
}

// Present reports whether the server holds the attribute. A bad status
// means the node does not carry it.
func (v NodeAttribute) Present() bool {
	return !v.StatusCode.IsBad()
}

// Name returns the attribute name.
func (v NodeAttribute) Name() string {
	return v.AttributeID.String()
}
