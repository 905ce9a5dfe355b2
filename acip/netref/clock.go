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

// Package netref provides reference implementations of the acip/bootstrap
// collaborator interfaces (Transport, Stun, Upnp, Clock, Rng) over real
// sockets, for use outside of tests.
package netref

import (
	"context"
	"crypto/rand"
	"time"
)

// SystemClock implements bootstrap.Clock using the wall clock.
type SystemClock struct{}

// NowMs returns the current time as Unix milliseconds.
func (SystemClock) NowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

// SleepUntil blocks until absMs or ctx is cancelled.
func (SystemClock) SleepUntil(ctx context.Context, absMs uint64) error {
	d := time.Until(time.UnixMilli(int64(absMs)))
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CryptoRng implements bootstrap.Rng using crypto/rand.
type CryptoRng struct{}

// Fill writes cryptographically secure random bytes into buf.
func (CryptoRng) Fill(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}
