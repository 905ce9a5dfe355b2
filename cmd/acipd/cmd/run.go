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

package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/acip-chat/acip/acip/bootstrap"
	"github.com/acip-chat/acip/acip/metrics"
	"github.com/acip-chat/acip/acip/netref"
	"github.com/acip-chat/acip/acip/protocol"
)

var (
	runConfigFlag      string
	runSessionFlag     string
	runSelfFlag        string
	runMembersFlag     []string
	runPeerFlag        []string
	runListenPortFlag  int
	runStunServersFlag []string
	runMetricsPortFlag int
)

func init() {
	RootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runConfigFlag, "config", "", "path to acipd.yaml, defaults applied first")
	runCmd.Flags().StringVar(&runSessionFlag, "session", "", "hex-encoded 16-byte session id (required)")
	runCmd.Flags().StringVar(&runSelfFlag, "self", "", "hex-encoded 16-byte participant id for this process (required)")
	runCmd.Flags().StringSliceVar(&runMembersFlag, "members", nil, "hex-encoded participant ids of every session member, including --self (required)")
	runCmd.Flags().StringSliceVar(&runPeerFlag, "peer", nil, "id@host:port of a reachable member, repeatable; out-of-band address discovery is outside this subsystem's scope")
	runCmd.Flags().IntVar(&runListenPortFlag, "listen-port", int(bootstrap.ACIPHostDefaultPort), "UDP port to receive control messages on")
	runCmd.Flags().StringSliceVar(&runStunServersFlag, "stun-server", nil, "STUN server host:port, repeatable, overrides config")
	runCmd.Flags().IntVar(&runMetricsPortFlag, "metrics-port", 9091, "port to serve /metrics and /status on")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Bootstrap a session and report the elected host",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := doRun(); err != nil {
			log.Fatal(err)
		}
	},
}

func parsePeers(specs []string) (map[protocol.ParticipantID]*net.UDPAddr, error) {
	out := make(map[protocol.ParticipantID]*net.UDPAddr, len(specs))
	for _, spec := range specs {
		idPart, addrPart, ok := strings.Cut(spec, "@")
		if !ok {
			return nil, fmt.Errorf("invalid --peer %q, want id@host:port", spec)
		}
		id, err := protocol.ParseParticipantID(idPart)
		if err != nil {
			return nil, err
		}
		addr, err := net.ResolveUDPAddr("udp4", addrPart)
		if err != nil {
			return nil, fmt.Errorf("resolving peer address %q: %w", addrPart, err)
		}
		out[id] = addr
	}
	return out, nil
}

func doRun() error {
	if runSessionFlag == "" || runSelfFlag == "" || len(runMembersFlag) == 0 {
		return fmt.Errorf("--session, --self and --members are all required")
	}
	sessionID, err := protocol.ParseSessionID(runSessionFlag)
	if err != nil {
		return err
	}
	selfID, err := protocol.ParseParticipantID(runSelfFlag)
	if err != nil {
		return err
	}
	members := make([]protocol.ParticipantID, 0, len(runMembersFlag))
	for _, m := range runMembersFlag {
		id, err := protocol.ParseParticipantID(m)
		if err != nil {
			return err
		}
		members = append(members, id)
	}

	cfg := bootstrap.DefaultConfig()
	if runConfigFlag != "" {
		cfg, err = bootstrap.ReadConfig(runConfigFlag)
		if err != nil {
			return fmt.Errorf("reading config from %q: %w", runConfigFlag, err)
		}
	}
	if len(runStunServersFlag) > 0 {
		cfg.StunServers = runStunServersFlag
	}

	transport, err := netref.ListenUDPTransport(runListenPortFlag)
	if err != nil {
		return fmt.Errorf("binding listen port %d: %w", runListenPortFlag, err)
	}
	defer transport.Close()

	peers, err := parsePeers(runPeerFlag)
	if err != nil {
		return err
	}
	for id, addr := range peers {
		transport.AddPeer(id, addr)
	}

	reg := metrics.NewRegistry()
	sysStats, err := metrics.NewSysStats(reg)
	if err != nil {
		return fmt.Errorf("starting sysstats collector: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sysStats.Run(ctx, 10*time.Second)

	b := &bootstrap.Bootstrap{
		Transport:   transport,
		Stun:        netref.UDPStun{},
		Upnp:        netref.UDPUpnp{},
		Clock:       netref.SystemClock{},
		Rng:         netref.CryptoRng{},
		Config:      cfg,
		StunServers: cfg.StunServers,
		LocalPort:   uint16(runListenPortFlag),
	}

	started := time.Now()
	h := b.Start(ctx, sessionID, selfID, members)

	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		status, decision, errv := h.Status()
		writeStatusJSON(w, status, decision, errv)
	})
	srv := &http.Server{Addr: ":" + strconv.Itoa(runMetricsPortFlag), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
	defer srv.Close()

	h.Wait()
	status, decision, errv := h.Status()
	reg.ObserveBootstrapTerminal(status == protocol.StatusComplete, time.Since(started))

	if status != protocol.StatusComplete {
		return fmt.Errorf("bootstrap failed: %v", errv)
	}

	if supported, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.WithError(err).Debug("sd_notify failed")
	} else if !supported {
		log.Debug("sd_notify not supported")
	}

	printDecision(decision)
	return nil
}

func printDecision(decision protocol.HostDecision) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"role", "participant", "address", "port"})
	table.Append([]string{"host", decision.HostID.String(), decision.HostAddress, fmt.Sprintf("%d", decision.HostPort)})
	table.Append([]string{"backup", decision.BackupID.String(), decision.BackupAddress, fmt.Sprintf("%d", decision.BackupPort)})
	table.Render()
}
