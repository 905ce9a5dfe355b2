/*
Copyright (c) The acip Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package netref

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Verbose gates the gopacket-based STUN dissection below. It is off by
// default; cmd/acipd flips it on for --verbose runs.
var Verbose bool

// LayerTypeSTUN registers a gopacket layer for the minimal binding
// request/response format that stun.go builds, so --verbose runs can dump a
// structured view of what crossed the wire instead of a hex blob.
var LayerTypeSTUN = gopacket.RegisterLayerType(
	0x2112, // stunMagicCookie's high 16 bits, chosen to avoid colliding with registered layers
	gopacket.LayerTypeMetadata{
		Name:    "STUN",
		Decoder: gopacket.DecodeFunc(decodeSTUNLayer),
	},
)

// stunLayer wraps a decoded STUN message for gopacket dissection.
type stunLayer struct {
	layers.BaseLayer

	MessageType uint16
	TxID        []byte
	AttrCount   int
}

func (l *stunLayer) LayerType() gopacket.LayerType { return LayerTypeSTUN }

func decodeSTUNLayer(data []byte, p gopacket.PacketBuilder) error {
	if len(data) < stunHeaderLen {
		return fmt.Errorf("netref: stun layer too short: %d bytes", len(data))
	}
	l := &stunLayer{
		MessageType: uint16(data[0])<<8 | uint16(data[1]),
		TxID:        append([]byte(nil), data[8:20]...),
		AttrCount:   countSTUNAttrs(data[stunHeaderLen:]),
	}
	l.BaseLayer = layers.BaseLayer{Contents: data[:stunHeaderLen], Payload: data[stunHeaderLen:]}
	p.AddLayer(l)
	return p.NextDecoder(gopacket.LayerTypePayload)
}

func countSTUNAttrs(attrs []byte) int {
	n := 0
	for len(attrs) >= 4 {
		attrLen := int(attrs[2])<<8 | int(attrs[3])
		advance := 4 + attrLen
		if pad := attrLen % 4; pad != 0 {
			advance += 4 - pad
		}
		if advance > len(attrs) {
			break
		}
		attrs = attrs[advance:]
		n++
	}
	return n
}

// dissectSTUN renders data as a gopacket dump when Verbose is set, for
// debug logging only — never on the request path itself.
func dissectSTUN(data []byte) string {
	if !Verbose {
		return ""
	}
	packet := gopacket.NewPacket(data, LayerTypeSTUN, gopacket.Default)
	return packet.Dump()
}
