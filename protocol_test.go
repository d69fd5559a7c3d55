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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDGenerator(t *testing.T) {
	var g RequestIDGenerator
	assert.Equal(t, uint64(0), g.Last())
	assert.Equal(t, uint64(1), g.Next())
	assert.Equal(t, uint64(2), g.Next())

	var wg sync.WaitGroup
	seen := make(chan uint64, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- g.Next()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint64]bool)
	for id := range seen {
		assert.False(t, unique[id], "id %d issued twice", id)
		unique[id] = true
	}
	assert.Equal(t, uint64(102), g.Last())
}

func TestEncodeRequest(t *testing.T) {
	frame, err := encodeRequest(OpConnectEndpoint, 1, connectEndpointParams{
		EndpointURL:         "opc.tcp://localhost:4841",
		TransportProfileURI: TransportProfileTCPBinary,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"ConnectEndpoint": {
			"EndpointUrl": "opc.tcp://localhost:4841",
			"TransportProfileUri": "http://opcfoundation.org/UA-Profile/Transport/uatcp-uasc-uabinary"
		},
		"id": 1
	}`, string(frame))

	frame, err = encodeRequest(OpCloseSession, 42, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"CloseSession": {}, "id": 42}`, string(frame))
}

func TestEncodeHandshakeParams(t *testing.T) {
	frame, err := encodeRequest(OpOpenSecureChannel, 2, openSecureChannelParams{
		TimeoutMs:         3600000,
		SecurityPolicyURI: SecurityPolicyNone,
		SecurityMode:      MessageSecurityModeNone,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"OpenSecureChannel": {
			"TimeoutMs": 3600000,
			"SecurityPolicyUri": "http://opcfoundation.org/UA/SecurityPolicy#None",
			"SecurityMode": 1,
			"ServerCertificate": null
		},
		"id": 2
	}`, string(frame))

	frame, err = encodeRequest(OpActivateSession, 4, activateSessionParams{
		TokenType: UserTokenTypeAnonymous,
		PolicyID:  "anonymous",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ActivateSession": {"TokenType": 0, "PolicyId": "anonymous"}, "id": 4}`, string(frame))
}

func TestNodeIDParam(t *testing.T) {
	b, err := json.Marshal(nodeParams{NodeID: nodeIDParam([]NodeID{ObjectsFolder})})
	require.NoError(t, err)
	assert.JSONEq(t, `{"NodeId": "i=85"}`, string(b))

	b, err = json.Marshal(nodeParams{NodeID: nodeIDParam([]NodeID{RootFolder, NewStringNodeID(2, "Pump")})})
	require.NoError(t, err)
	assert.JSONEq(t, `{"NodeId": ["i=84", "ns=2;s=Pump"]}`, string(b))
}

func TestDecodeReply(t *testing.T) {
	r, err := decodeReply([]byte(`{"id": 3, "data": {"x": 1}}`))
	require.NoError(t, err)
	require.NotNil(t, r.ID)
	assert.Equal(t, uint64(3), *r.ID)
	assert.False(t, r.failed())

	r, err = decodeReply([]byte(`{"id": 4, "Error": "2149515264"}`))
	require.NoError(t, err)
	assert.True(t, r.failed())

	r, err = decodeReply([]byte(`{"id": 5, "data": null, "error": null}`))
	require.NoError(t, err)
	assert.False(t, r.failed())

	r, err = decodeReply([]byte(`{"data": 1}`))
	require.NoError(t, err)
	assert.Nil(t, r.ID)

	_, err = decodeReply([]byte(`not json`))
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestDecodeList(t *testing.T) {
	var out []int

	require.NoError(t, decodeList(json.RawMessage(`[1,2]`), "Results", &out))
	assert.Equal(t, []int{1, 2}, out)

	out = nil
	require.NoError(t, decodeList(json.RawMessage(`{"results": [3]}`), "Results", &out))
	assert.Equal(t, []int{3}, out)

	out = nil
	require.NoError(t, decodeList(json.RawMessage(`{"Other": [3]}`), "Results", &out))
	assert.Nil(t, out)

	require.NoError(t, decodeList(json.RawMessage(`null`), "Results", &out))
	assert.Nil(t, out)

	assert.Error(t, decodeList(json.RawMessage(`"text"`), "Results", &out))
}
