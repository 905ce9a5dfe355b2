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
	"fmt"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"

	"github.com/acip-chat/acip/acip/protocol"
)

// logSent/logReceived mirror ptp/sptp/client.Client's logSent/logReceive:
// Debug-level, color-coded by direction so a --verbose trace is readable
// when several participants' logs are interleaved.
func logSent(peer protocol.ParticipantID, kind string, msg string, v ...interface{}) {
	log.Debug(color.GreenString("[%s] acip -> %s (%s)", peer, kind, fmt.Sprintf(msg, v...)))
}

func logReceived(peer protocol.ParticipantID, kind string, msg string, v ...interface{}) {
	log.Debug(color.BlueString("[%s] acip <- %s (%s)", peer, kind, fmt.Sprintf(msg, v...)))
}
