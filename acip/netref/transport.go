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
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/acip-chat/acip/acip/protocol"
)

// UDPTransport implements bootstrap.Transport over a single UDP socket,
// keyed by participant address. Peer addresses arrive out of band (from
// the discovery service, out of scope per spec §1) via AddPeer.
type UDPTransport struct {
	conn *net.UDPConn

	mu    sync.RWMutex
	peers map[protocol.ParticipantID]*net.UDPAddr
	byKey map[string]protocol.ParticipantID
}

// NewUDPTransport binds conn for sending and receiving framed control
// messages.
func NewUDPTransport(conn *net.UDPConn) *UDPTransport {
	return &UDPTransport{
		conn:  conn,
		peers: make(map[protocol.ParticipantID]*net.UDPAddr),
		byKey: make(map[string]protocol.ParticipantID),
	}
}

// ListenUDPTransport binds a new UDP socket on port with net.ListenUDP
// and then sets SO_REUSEPORT on it. The option is set after the bind, so
// it does not apply to this bind itself; it lets later sockets that also
// set it share the port.
func ListenUDPTransport(port int) (*UDPTransport, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("netref: listening on port %d: %w", port, err)
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("netref: getting raw conn: %w", err)
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("netref: setting SO_REUSEPORT: %w", err)
	}
	if sockErr != nil {
		conn.Close()
		return nil, fmt.Errorf("netref: setting SO_REUSEPORT: %w", sockErr)
	}
	return NewUDPTransport(conn), nil
}

// AddPeer registers where a participant's control messages should be
// sent, and how its replies should be recognised.
func (t *UDPTransport) AddPeer(id protocol.ParticipantID, addr *net.UDPAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[id] = addr
	t.byKey[addr.String()] = id
}

// Send implements bootstrap.Transport.
func (t *UDPTransport) Send(ctx context.Context, peer protocol.ParticipantID, b []byte) error {
	t.mu.RLock()
	addr, ok := t.peers[peer]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("netref: unknown peer %s", peer)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
	}
	_, err := t.conn.WriteToUDP(b, addr)
	return err
}

// Recv implements bootstrap.Transport.
func (t *UDPTransport) Recv(ctx context.Context) (protocol.ParticipantID, []byte, error) {
	buf := make([]byte, 2048)
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(dl)
	} else {
		_ = t.conn.SetReadDeadline(time.Time{})
	}
	n, addr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		var zero protocol.ParticipantID
		return zero, nil, err
	}

	t.mu.RLock()
	id, known := t.byKey[addr.String()]
	t.mu.RUnlock()
	if !known {
		var zero protocol.ParticipantID
		return zero, nil, fmt.Errorf("netref: message from unregistered peer %s", addr)
	}
	return id, buf[:n], nil
}

// Close releases the underlying socket.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}
