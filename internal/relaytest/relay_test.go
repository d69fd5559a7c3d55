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
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest(t *testing.T) {
	req, err := decodeRequest([]byte(`{"Browse": {"NodeId": "i=84"}, "id": 7}`))
	require.NoError(t, err)
	assert.Equal(t, "Browse", req.Op)
	assert.Equal(t, uint64(7), req.ID)
	assert.JSONEq(t, `{"NodeId": "i=84"}`, string(req.Params))

	_, err = decodeRequest([]byte(`{"id": 1}`))
	assert.Error(t, err)
	_, err = decodeRequest([]byte(`{"Read": {}, "Browse": {}, "id": 1}`))
	assert.Error(t, err)
	_, err = decodeRequest([]byte(`{"Read": {}, "id": "x"}`))
	assert.Error(t, err)
	_, err = decodeRequest([]byte(`not json`))
	assert.Error(t, err)
}

func TestMountedRelayAnswersHello(t *testing.T) {
	relay := New(nil, nil)
	hs := httptest.NewServer(relay)
	defer hs.Close()
	defer relay.Close()
	assert.Empty(t, relay.URL())

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(`{"ConnectEndpoint": {"EndpointUrl": "opc.tcp://plc:4840"}, "id": 1}`)))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var reply struct {
		ID    uint64 `json:"id"`
		Error any    `json:"error"`
	}
	require.NoError(t, ws.ReadJSON(&reply))
	assert.Equal(t, uint64(1), reply.ID)
	assert.Nil(t, reply.Error)
	assert.Equal(t, 1, relay.Accepted())
	assert.Len(t, relay.RequestsFor("ConnectEndpoint"), 1)
}
