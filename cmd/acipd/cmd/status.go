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
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/acip-chat/acip/acip/protocol"
)

// statusResponse is the JSON shape served on /status by `acipd run` and
// consumed by `acipd status`.
type statusResponse struct {
	Status   string            `json:"status"`
	Error    string            `json:"error,omitempty"`
	Decision *hostDecisionView `json:"decision,omitempty"`
}

// hostDecisionView is protocol.HostDecision rendered for JSON/table
// display: participant ids as hex strings instead of raw byte arrays.
type hostDecisionView struct {
	HostID        string `json:"host_id"`
	HostAddress   string `json:"host_address"`
	HostPort      uint16 `json:"host_port"`
	BackupID      string `json:"backup_id"`
	BackupAddress string `json:"backup_address"`
	BackupPort    uint16 `json:"backup_port"`
	Generation    uint32 `json:"generation"`
}

func writeStatusJSON(w http.ResponseWriter, status protocol.Status, decision protocol.HostDecision, errv *protocol.Error) {
	resp := statusResponse{Status: status.String()}
	if errv != nil {
		resp.Error = errv.Error()
	}
	if status == protocol.StatusComplete {
		resp.Decision = &hostDecisionView{
			HostID:        decision.HostID.String(),
			HostAddress:   decision.HostAddress,
			HostPort:      decision.HostPort,
			BackupID:      decision.BackupID.String(),
			BackupAddress: decision.BackupAddress,
			BackupPort:    decision.BackupPort,
			Generation:    decision.Generation,
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

var statusAddrFlag string

func init() {
	RootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusAddrFlag, "addr", "http://127.0.0.1:9091", "base address of a running acipd's metrics/status server")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running acipd instance's bootstrap status",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := doStatus(); err != nil {
			log.Fatal(err)
		}
	},
}

func doStatus() error {
	client := http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(statusAddrFlag + "/status")
	if err != nil {
		return fmt.Errorf("querying %s: %w", statusAddrFlag, err)
	}
	defer resp.Body.Close()

	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return fmt.Errorf("decoding status response: %w", err)
	}

	statusLine := s.Status
	if term.IsTerminal(int(os.Stdout.Fd())) {
		switch s.Status {
		case "COMPLETE":
			statusLine = color.GreenString(s.Status)
		case "FAILED":
			statusLine = color.RedString(s.Status)
		default:
			statusLine = color.YellowString(s.Status)
		}
	}
	fmt.Printf("status: %s\n", statusLine)
	if s.Error != "" {
		fmt.Printf("error: %s\n", s.Error)
	}
	if s.Decision != nil {
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"role", "participant", "address", "port", "generation"})
		table.Append([]string{"host", s.Decision.HostID, s.Decision.HostAddress, fmt.Sprintf("%d", s.Decision.HostPort), fmt.Sprintf("%d", s.Decision.Generation)})
		table.Append([]string{"backup", s.Decision.BackupID, s.Decision.BackupAddress, fmt.Sprintf("%d", s.Decision.BackupPort), ""})
		table.Render()
	}
	return nil
}
