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
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// pingIPv4 sends one ICMP echo and waits for its reply, as a cheap
// reachability pre-check ahead of the STUN exchange itself. The check is
// best-effort: BindingRequest logs a failure and goes on with STUN anyway.
func pingIPv4(ctx context.Context, host string) error {
	ip, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return fmt.Errorf("netref: resolving %q: %w", host, err)
	}

	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		// unprivileged ICMP sockets aren't available on every host; this
		// pre-check is best-effort, never a hard requirement for BindingRequest.
		return fmt.Errorf("netref: icmp unavailable: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	msg := &icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: os.Getpid() & 0xffff, Seq: 1, Data: []byte("acip")},
	}
	b, err := msg.Marshal(nil)
	if err != nil {
		return err
	}
	if _, err := conn.WriteTo(b, &net.UDPAddr{IP: ip.IP}); err != nil {
		return fmt.Errorf("netref: sending icmp echo to %s: %w", ip.IP, err)
	}

	reply := make([]byte, 512)
	n, _, err := conn.ReadFrom(reply)
	if err != nil {
		return fmt.Errorf("netref: no icmp echo reply from %s: %w", ip.IP, err)
	}
	r, err := icmp.ParseMessage(ipv4.ICMPTypeEcho.Protocol(), reply[:n])
	if err != nil {
		return err
	}
	if r.Type != ipv4.ICMPTypeEchoReply {
		return fmt.Errorf("netref: unexpected icmp response type %v from %s", r.Type, ip.IP)
	}
	return nil
}
