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

// Package bootstrap implements the session bootstrap subsystem: quality
// probing (C1), the pairwise negotiator (C3), the ring builder (C4), the
// stats collector (C5), the result disseminator (C7), and the session
// controller (C8) that picks between them. See SPEC_FULL.md §4.
package bootstrap

import (
	"context"
	"time"

	"github.com/acip-chat/acip/acip/protocol"
)

// Transport is the collaborator that sends and receives opaque control
// messages between participants, §6. Framing and reliability are its
// concern, not ours.
type Transport interface {
	Send(ctx context.Context, peer protocol.ParticipantID, b []byte) error
	Recv(ctx context.Context) (protocol.ParticipantID, []byte, error)
}

// Stun is the collaborator that performs STUN binding requests, §6.
type Stun interface {
	BindingRequest(ctx context.Context, server string) (addr string, port uint16, rttMs uint16, err error)
}

// UpnpGateway describes a discovered Internet Gateway Device.
type UpnpGateway struct {
	ExternalAddress string
}

// Upnp is the collaborator that speaks SSDP/IGD, §6.
type Upnp interface {
	Probe(ctx context.Context) (*UpnpGateway, error)
	MapPort(ctx context.Context, internal, external uint16, ttl time.Duration) error
}

// Clock is the collaborator that supplies wall-clock time and the
// deadline-based sleep primitive the core's scheduling model requires
// (§5: "timeouts are expressed as absolute deadlines, not relative
// sleeps").
type Clock interface {
	NowMs() uint64
	SleepUntil(ctx context.Context, absMs uint64) error
}

// Rng is the collaborator that supplies cryptographically secure random
// bytes, §6.
type Rng interface {
	Fill(buf []byte) error
}
