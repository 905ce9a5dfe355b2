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
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

// stunMagicCookie is the fixed STUN magic cookie, RFC 5389 §6.
const stunMagicCookie = 0x2112A442

const (
	// stunBindingRequestType is the full 14-bit message type for a Binding
	// Request: method 0x001, class "request" (both class bits zero).
	stunBindingRequestType = 0x0001
	stunAttrXorMapped      = 0x0020
	stunAttrMapped         = 0x0001
	stunHeaderLen          = 20
)

// UDPStun implements bootstrap.Stun with a minimal RFC 5389 binding
// request/response exchange: enough to recover the caller's reflexive
// (server-observed) address and port, which is all C1's sub-probes need.
type UDPStun struct{}

// BindingRequest implements bootstrap.Stun.
func (UDPStun) BindingRequest(ctx context.Context, server string) (string, uint16, uint16, error) {
	raddr, err := net.ResolveUDPAddr("udp4", server)
	if err != nil {
		return "", 0, 0, fmt.Errorf("netref: resolving stun server %q: %w", server, err)
	}
	if err := pingIPv4(ctx, raddr.IP.String()); err != nil {
		// best-effort only: unprivileged ICMP sockets aren't available on
		// every host, and a missed ping shouldn't stop the STUN exchange
		// that's actually authoritative here.
		log.WithError(err).Debug("icmp reachability pre-check failed, trying stun anyway")
	}
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return "", 0, 0, fmt.Errorf("netref: binding local socket: %w", err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	} else {
		_ = conn.SetDeadline(time.Now().Add(3 * time.Second))
	}

	txID := make([]byte, 12)
	if _, err := rand.Read(txID); err != nil {
		return "", 0, 0, fmt.Errorf("netref: generating stun transaction id: %w", err)
	}
	req := buildBindingRequest(txID)

	start := time.Now()
	if _, err := conn.WriteToUDP(req, raddr); err != nil {
		return "", 0, 0, fmt.Errorf("netref: sending stun request: %w", err)
	}

	buf := make([]byte, 1024)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return "", 0, 0, fmt.Errorf("netref: reading stun response: %w", err)
	}
	rttMs := uint16(time.Since(start).Milliseconds())

	if Verbose {
		log.WithField("server", server).Debug(dissectSTUN(buf[:n]))
	}

	addr, port, err := parseBindingResponse(buf[:n], txID)
	if err != nil {
		return "", 0, 0, err
	}
	return addr, port, rttMs, nil
}

func buildBindingRequest(txID []byte) []byte {
	buf := make([]byte, stunHeaderLen)
	binary.BigEndian.PutUint16(buf[0:], stunBindingRequestType)
	binary.BigEndian.PutUint16(buf[2:], 0) // no attributes
	binary.BigEndian.PutUint32(buf[4:], stunMagicCookie)
	copy(buf[8:20], txID)
	return buf
}

// parseBindingResponse extracts the reflexive address from either
// XOR-MAPPED-ADDRESS or the legacy MAPPED-ADDRESS attribute.
func parseBindingResponse(b []byte, txID []byte) (string, uint16, error) {
	if len(b) < stunHeaderLen {
		return "", 0, fmt.Errorf("netref: stun response too short: %d bytes", len(b))
	}
	if binary.BigEndian.Uint32(b[4:8]) != stunMagicCookie {
		return "", 0, fmt.Errorf("netref: stun response missing magic cookie")
	}
	if !bytes.Equal(b[8:20], txID) {
		return "", 0, fmt.Errorf("netref: stun response transaction id mismatch")
	}
	msgLen := int(binary.BigEndian.Uint16(b[2:4]))
	attrs := b[stunHeaderLen:]
	if len(attrs) < msgLen {
		return "", 0, fmt.Errorf("netref: stun response truncated")
	}
	attrs = attrs[:msgLen]

	var fallbackAddr string
	var fallbackPort uint16
	for len(attrs) >= 4 {
		attrType := binary.BigEndian.Uint16(attrs[0:2])
		attrLen := int(binary.BigEndian.Uint16(attrs[2:4]))
		if 4+attrLen > len(attrs) {
			break
		}
		val := attrs[4 : 4+attrLen]

		switch attrType {
		case stunAttrXorMapped:
			if addr, port, ok := parseXorMappedAddress(val, b[4:8]); ok {
				return addr, port, nil
			}
		case stunAttrMapped:
			if addr, port, ok := parseMappedAddress(val); ok {
				fallbackAddr, fallbackPort = addr, port
			}
		}

		// attributes are padded to a multiple of 4 bytes.
		advance := 4 + attrLen
		if pad := attrLen % 4; pad != 0 {
			advance += 4 - pad
		}
		attrs = attrs[advance:]
	}
	if fallbackAddr != "" {
		return fallbackAddr, fallbackPort, nil
	}
	return "", 0, fmt.Errorf("netref: stun response carried no mapped address")
}

func parseMappedAddress(val []byte) (string, uint16, bool) {
	if len(val) < 8 || val[1] != 0x01 {
		return "", 0, false
	}
	port := binary.BigEndian.Uint16(val[2:4])
	ip := net.IP(val[4:8])
	return ip.String(), port, true
}

func parseXorMappedAddress(val []byte, cookie []byte) (string, uint16, bool) {
	if len(val) < 8 || val[1] != 0x01 {
		return "", 0, false
	}
	port := binary.BigEndian.Uint16(val[2:4]) ^ uint16(stunMagicCookie>>16)
	var ip [4]byte
	for i := 0; i < 4; i++ {
		ip[i] = val[4+i] ^ cookie[i]
	}
	return net.IP(ip[:]).String(), port, true
}
