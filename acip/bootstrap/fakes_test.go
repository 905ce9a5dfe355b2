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

package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/acip-chat/acip/acip/protocol"
)

// fakeClock is a manually-advanced Clock for deterministic tests.
type fakeClock struct {
	mu  sync.Mutex
	nowMs uint64
}

func newFakeClock(startMs uint64) *fakeClock {
	return &fakeClock{nowMs: startMs}
}

func (c *fakeClock) NowMs() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowMs
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowMs += uint64(d.Milliseconds())
}

func (c *fakeClock) SleepUntil(ctx context.Context, absMs uint64) error {
	for c.NowMs() < absMs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

// fakeStun returns a fixed (addr, port, rtt) for every server, or an
// error when told to fail.
type fakeStun struct {
	mu      sync.Mutex
	addr    string
	port    uint16
	rttMs   uint16
	fail    bool
	calls   int
}

func (s *fakeStun) BindingRequest(ctx context.Context, server string) (string, uint16, uint16, error) {
	s.mu.Lock()
	s.calls++
	fail := s.fail
	addr, port, rtt := s.addr, s.port, s.rttMs
	s.mu.Unlock()
	if fail {
		return "", 0, 0, context.DeadlineExceeded
	}
	return addr, port, rtt, nil
}

// fakeUpnp reports no gateway by default.
type fakeUpnp struct {
	gateway *UpnpGateway
}

func (u *fakeUpnp) Probe(ctx context.Context) (*UpnpGateway, error) {
	if u.gateway == nil {
		return nil, context.DeadlineExceeded
	}
	return u.gateway, nil
}

func (u *fakeUpnp) MapPort(ctx context.Context, internal, external uint16, ttl time.Duration) error {
	return nil
}

// fakeTransport routes Send calls into per-peer inboxes so two
// participants' Bootstraps can be wired directly together in-process.
type fakeTransport struct {
	self protocol.ParticipantID

	mu     sync.Mutex
	inbox  chan struct {
		from protocol.ParticipantID
		b    []byte
	}
	peers map[protocol.ParticipantID]*fakeTransport
}

func newFakeTransport(self protocol.ParticipantID) *fakeTransport {
	return &fakeTransport{
		self: self,
		inbox: make(chan struct {
			from protocol.ParticipantID
			b    []byte
		}, 64),
		peers: map[protocol.ParticipantID]*fakeTransport{},
	}
}

func linkFakeTransports(ts ...*fakeTransport) {
	for _, a := range ts {
		for _, b := range ts {
			if a != b {
				a.peers[b.self] = b
			}
		}
	}
}

func (t *fakeTransport) Send(ctx context.Context, peer protocol.ParticipantID, b []byte) error {
	dst, ok := t.peers[peer]
	if !ok {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case dst.inbox <- struct {
		from protocol.ParticipantID
		b    []byte
	}{from: t.self, b: cp}:
	default:
	}
	return nil
}

func (t *fakeTransport) Recv(ctx context.Context) (protocol.ParticipantID, []byte, error) {
	select {
	case <-ctx.Done():
		var zero protocol.ParticipantID
		return zero, nil, ctx.Err()
	case m := <-t.inbox:
		return m.from, m.b, nil
	}
}
