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
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NodeIDType represents the type of a NodeID.
type NodeIDType uint8

// NodeID types.
const (
	NodeIDTypeNumeric NodeIDType = iota
	NodeIDTypeString
	NodeIDTypeGUID
	NodeIDTypeOpaque
)

// NodeID represents an OPC UA NodeID. On the relay wire it travels in its
// textual form ("i=84", "ns=2;s=Temperature", ...).
type NodeID struct {
	Type      NodeIDType
	Namespace uint16
	Numeric   uint32
	StringID  string
	GUID      [16]byte
	Opaque    []byte
}

// Well-known nodes of namespace 0.
var (
	RootFolder    = NewNumericNodeID(0, 84)
	ObjectsFolder = NewNumericNodeID(0, 85)
	TypesFolder   = NewNumericNodeID(0, 86)
	ViewsFolder   = NewNumericNodeID(0, 87)
	ServerNode    = NewNumericNodeID(0, 2253)
)

// NewNumericNodeID creates a new numeric NodeID.
func NewNumericNodeID(namespace uint16, id uint32) NodeID {
	return NodeID{
		Type:      NodeIDTypeNumeric,
		Namespace: namespace,
		Numeric:   id,
	}
}

// NewStringNodeID creates a new string NodeID.
func NewStringNodeID(namespace uint16, id string) NodeID {
	return NodeID{
		Type:      NodeIDTypeString,
		Namespace: namespace,
		StringID:  id,
	}
}

// ParseNodeID parses the textual form of a NodeID. An identifier without a
// type prefix is numeric when it parses as a number and a string otherwise.
func ParseNodeID(s string) (NodeID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NodeID{}, fmt.Errorf("%w: empty", ErrInvalidNodeID)
	}

	ns := uint16(0)
	identifier := s

	if strings.HasPrefix(s, "ns=") {
		nsPart, rest, ok := strings.Cut(s, ";")
		if !ok {
			return NodeID{}, fmt.Errorf("%w: %q", ErrInvalidNodeID, s)
		}
		nsVal, err := strconv.ParseUint(strings.TrimPrefix(nsPart, "ns="), 10, 16)
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: bad namespace in %q", ErrInvalidNodeID, s)
		}
		ns = uint16(nsVal)
		identifier = rest
	}

	switch {
	case strings.HasPrefix(identifier, "i="):
		id, err := strconv.ParseUint(identifier[2:], 10, 32)
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: bad numeric id in %q", ErrInvalidNodeID, s)
		}
		return NewNumericNodeID(ns, uint32(id)), nil

	case strings.HasPrefix(identifier, "s="):
		return NewStringNodeID(ns, identifier[2:]), nil

	case strings.HasPrefix(identifier, "g="):
		g, err := uuid.Parse(identifier[2:])
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: bad guid in %q", ErrInvalidNodeID, s)
		}
		return NodeID{Type: NodeIDTypeGUID, Namespace: ns, GUID: g}, nil

	case strings.HasPrefix(identifier, "b="):
		b, err := base64.StdEncoding.DecodeString(identifier[2:])
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: bad opaque id in %q", ErrInvalidNodeID, s)
		}
		return NodeID{Type: NodeIDTypeOpaque, Namespace: ns, Opaque: b}, nil
	}

	if id, err := strconv.ParseUint(identifier, 10, 32); err == nil {
		return NewNumericNodeID(ns, uint32(id)), nil
	}
	return NewStringNodeID(ns, identifier), nil
}

// MustParseNodeID is like ParseNodeID but panics on error. Intended for
// constants and tests.
func MustParseNodeID(s string) NodeID {
	n, err := ParseNodeID(s)
	if err != nil {
		panic(err)
	}
	return n
}

// String returns the textual form of the NodeID.
func (n NodeID) String() string {
	var id string
	switch n.Type {
	case NodeIDTypeNumeric:
		id = "i=" + strconv.FormatUint(uint64(n.Numeric), 10)
	case NodeIDTypeString:
		id = "s=" + n.StringID
	case NodeIDTypeGUID:
		id = "g=" + uuid.UUID(n.GUID).String()
	case NodeIDTypeOpaque:
		id = "b=" + base64.StdEncoding.EncodeToString(n.Opaque)
	default:
		return fmt.Sprintf("<unknown node id type %d>", n.Type)
	}
	if n.Namespace == 0 {
		return id
	}
	return "ns=" + strconv.FormatUint(uint64(n.Namespace), 10) + ";" + id
}

// Equal reports whether two NodeIDs identify the same node.
func (n NodeID) Equal(o NodeID) bool {
	return n.String() == o.String()
}

// MarshalText implements encoding.TextMarshaler.
func (n NodeID) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *NodeID) UnmarshalText(text []byte) error {
	parsed, err := ParseNodeID(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
