// Package netutil picks listen addresses for the bridge's local servers.
package netutil

import (
	"errors"
	"fmt"
	"net"
)

// ErrNoAddr is returned when every candidate address is taken.
var ErrNoAddr = errors.New("no available bind addresses")

// Listen opens a TCP listener on preferred, or on the first free candidate
// when preferred is taken and autoFallback is set. Listening directly avoids
// a window between probing an address and binding it.
func Listen(preferred string, candidates []string, autoFallback bool) (net.Listener, error) {
	if preferred != "" {
		ln, err := net.Listen("tcp", preferred)
		if err == nil {
			return ln, nil
		}
		if !autoFallback {
			return nil, fmt.Errorf("preferred bind address in use: %s: %w", preferred, err)
		}
	}

	for _, addr := range candidates {
		if addr == preferred {
			continue
		}
		if ln, err := net.Listen("tcp", addr); err == nil {
			return ln, nil
		}
	}
	return nil, ErrNoAddr
}

// RequireLoopback rejects addresses that would expose a server beyond the
// local host.
func RequireLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("address %q is not a loopback address", addr)
	}
	return nil
}
