// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// Address protocol markers. A host ending in one of these pins the
// connection to a single IP family.
const (
	v4Suffix = "@@v4"
	v6Suffix = "@@v6"
)

// ResolveHost splits a configured host string into a dial network and
// address host part. Supports:
//   - unix:/path/to/socket
//   - host@@v4 (IPv4 only)
//   - host@@v6 (IPv6 only)
//   - plain host names and addresses
func ResolveHost(host string) (network, addr string) {
	switch {
	case strings.HasPrefix(host, "unix:"):
		return "unix", strings.TrimPrefix(host, "unix:")
	case strings.HasSuffix(host, v4Suffix):
		return "tcp4", strings.TrimSuffix(host, v4Suffix)
	case strings.HasSuffix(host, v6Suffix):
		return "tcp6", strings.TrimSuffix(host, v6Suffix)
	default:
		return "tcp", host
	}
}

// Dial connects to the debug server at host:port. For unix hosts the
// port is ignored.
func Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	network, addr := ResolveHost(host)
	if network != "unix" {
		addr = net.JoinHostPort(addr, fmt.Sprintf("%d", port))
	}

	d := net.Dialer{Timeout: 10 * time.Second}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to debug server: %w", err)
	}
	return conn, nil
}
