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

func TestStatusCodeSeverity(t *testing.T) {
	assert.True(t, StatusGood.IsGood())
	assert.True(t, StatusGoodResultsMayBeIncomplete.IsGood())
	assert.True(t, StatusUncertainNotAllNodesAvailable.IsUncertain())
	assert.True(t, StatusBadUserAccessDenied.IsBad())
	assert.False(t, StatusBadUserAccessDenied.IsGood())
}

func TestStatusCodeString(t *testing.T) {
	assert.Equal(t, "BadUserAccessDenied", StatusBadUserAccessDenied.String())
	assert.Equal(t, "StatusCode(0x80FF0000)", StatusCode(0x80FF0000).String())
	assert.Equal(t, "The operation failed", StatusCode(0x80FF0000).Description())
	assert.Contains(t, StatusBadTimeout.Error(), "0x800A0000")
}

func TestParseStatusCode(t *testing.T) {
	tests := []struct {
		in   string
		want StatusCode
	}{
		{"2149515264", StatusBadUserAccessDenied},
		{"0x80210000", StatusBadIdentityTokenRejected},
		{"BadNodeIdUnknown", StatusBadNodeIdUnknown},
		{"badtimeout", StatusBadTimeout},
		{" 0 ", StatusGood},
	}
	for _, tt := range tests {
		got, ok := ParseStatusCode(tt.in)
		require.True(t, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, ok := ParseStatusCode("access denied")
	assert.False(t, ok)
}

func TestStatusCodeUnmarshalJSON(t *testing.T) {
	tests := []struct {
		in   string
		want StatusCode
	}{
		{`0`, StatusGood},
		{`2150891520`, StatusBadNodeIdUnknown},
		{`"BadNotReadable"`, StatusBadNotReadable},
		{`"2149515264"`, StatusBadUserAccessDenied},
		{`{"Code": 2147483648, "Symbol": "Bad"}`, StatusBad},
		{`null`, StatusGood},
	}
	for _, tt := range tests {
		var sc StatusCode
		require.NoError(t, json.Unmarshal([]byte(tt.in), &sc), tt.in)
		assert.Equal(t, tt.want, sc, tt.in)
	}

	var sc StatusCode
	assert.Error(t, json.Unmarshal([]byte(`"no such status"`), &sc))
	assert.Error(t, json.Unmarshal([]byte(`-1`), &sc))
}
