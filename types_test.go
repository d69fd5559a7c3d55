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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferTransportProfile(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"opc.tcp://localhost:4841", TransportProfileTCPBinary},
		{"OPC.TCP://plc:4840/path", TransportProfileTCPBinary},
		{"http://server/ua", TransportProfileHTTPSBinary},
		{"https://server/ua", TransportProfileHTTPSBinary},
		{"opc.http://server", TransportProfileHTTPSBinary},
		{"opc.https://server", TransportProfileHTTPSBinary},
	}
	for _, tt := range tests {
		got, err := InferTransportProfile(tt.url)
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.want, got, tt.url)
	}

	for _, bad := range []string{"ftp://server", "localhost:4841", "", "opc.ws://x"} {
		_, err := InferTransportProfile(bad)
		assert.ErrorIs(t, err, ErrUnknownTransportProfile, bad)
	}
}

func TestAttributeIDString(t *testing.T) {
	assert.Equal(t, "NodeId", AttributeNodeID.String())
	assert.Equal(t, "Value", AttributeValue.String())
	assert.Equal(t, "AccessLevelEx", AttributeAccessLevelEx.String())
	assert.Equal(t, "Attribute(0)", AttributeID(0).String())
	assert.Equal(t, "Attribute(99)", AttributeID(99).String())
}

func TestSecurityPolicyNames(t *testing.T) {
	assert.Equal(t, "Basic256Sha256", SecurityPolicyBasic256Sha256.Name())
	assert.Equal(t, "Aes128_Sha256_RsaOaep", SecurityPolicyAes128Sha256.Name())
	assert.Equal(t, "urn:custom", SecurityPolicy("urn:custom").Name())

	p, err := ParseSecurityPolicy("basic256sha256")
	require.NoError(t, err)
	assert.Equal(t, SecurityPolicyBasic256Sha256, p)

	p, err = ParseSecurityPolicy(string(SecurityPolicyNone))
	require.NoError(t, err)
	assert.Equal(t, SecurityPolicyNone, p)

	_, err = ParseSecurityPolicy("Rot13")
	assert.Error(t, err)
}

func TestParseMessageSecurityMode(t *testing.T) {
	for in, want := range map[string]MessageSecurityMode{
		"None":           MessageSecurityModeNone,
		"sign":           MessageSecurityModeSign,
		"SignAndEncrypt": MessageSecurityModeSignAndEncrypt,
		"3":              MessageSecurityModeSignAndEncrypt,
	} {
		got, err := ParseMessageSecurityMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMessageSecurityMode("encrypt")
	assert.Error(t, err)
	assert.Equal(t, "Invalid", MessageSecurityModeInvalid.String())
}

func TestEndpointDescriptionDecode(t *testing.T) {
	raw := `{
		"EndpointUrl": "opc.tcp://plc:4840",
		"Server": {"ApplicationUri": "urn:plc", "ApplicationName": {"Text": "PLC"}},
		"ServerCertificate": "AQID",
		"SecurityMode": 3,
		"SecurityPolicyUri": "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256",
		"UserIdentityTokens": [
			{"PolicyId": "anon", "TokenType": 0},
			{"PolicyId": "user", "TokenType": 1}
		],
		"SecurityLevel": 3
	}`
	var ep EndpointDescription
	require.NoError(t, json.Unmarshal([]byte(raw), &ep))
	assert.Equal(t, MessageSecurityModeSignAndEncrypt, ep.SecurityMode)
	assert.Equal(t, SecurityPolicyBasic256Sha256, ep.SecurityPolicyURI)
	assert.Equal(t, "PLC", ep.Server.ApplicationName.Text)
	assert.JSONEq(t, `"AQID"`, string(ep.ServerCertificate))

	p, ok := ep.FindTokenPolicy(UserTokenTypeUserName)
	require.True(t, ok)
	assert.Equal(t, "user", p.PolicyID)
	_, ok = ep.FindTokenPolicy(UserTokenTypeCertificate)
	assert.False(t, ok)
}

func TestSelectEndpoint(t *testing.T) {
	endpoints := []EndpointDescription{
		{EndpointURL: "a", SecurityPolicyURI: SecurityPolicyNone, SecurityMode: MessageSecurityModeNone},
		{EndpointURL: "b", SecurityPolicyURI: SecurityPolicyBasic256Sha256, SecurityMode: MessageSecurityModeSign},
		{EndpointURL: "c", SecurityPolicyURI: SecurityPolicyBasic256Sha256, SecurityMode: MessageSecurityModeSignAndEncrypt},
	}

	ep, ok := SelectEndpoint(endpoints, SecurityPolicyBasic256Sha256, MessageSecurityModeSignAndEncrypt)
	require.True(t, ok)
	assert.Equal(t, "c", ep.EndpointURL)

	ep, ok = SelectEndpoint(endpoints, SecurityPolicyBasic256Sha256, MessageSecurityModeInvalid)
	require.True(t, ok)
	assert.Equal(t, "b", ep.EndpointURL)

	_, ok = SelectEndpoint(endpoints, SecurityPolicyAes256Sha256, MessageSecurityModeNone)
	assert.False(t, ok)
}

func TestReferenceLabel(t *testing.T) {
	ref := ReferenceDescription{NodeID: NewNumericNodeID(0, 85)}
	assert.Equal(t, "i=85", ref.Label())
	ref.BrowseName = QualifiedName{Name: "Objects"}
	assert.Equal(t, "Objects", ref.Label())
	ref.DisplayName = LocalizedText{Text: "Objects folder"}
	assert.Equal(t, "Objects folder", ref.Label())
}

func TestNodeAttributePresent(t *testing.T) {
	v := NodeAttribute{AttributeID: AttributeValue}
	assert.True(t, v.Present())
	assert.Equal(t, "Value", v.Name())

	v.StatusCode = StatusUncertain
	assert.True(t, v.Present())

	v.StatusCode = StatusBadAttributeIdInvalid
	assert.False(t, v.Present())
}
