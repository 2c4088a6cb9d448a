package netout

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// AddressError reports a server address that cannot be used: unparseable,
// or a transport other than tcp. Configuration-time only, never retried.
type AddressError struct {
	Address string
	Reason  string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("bad network address %q: %s", e.Address, e.Reason)
}

// ParseAddress validates a scheme://host:port server address and returns
// the bind address for net.Listen. Only the tcp scheme is accepted. A
// missing port requests an ephemeral one.
func ParseAddress(address string) (string, error) {
	scheme, rest, found := strings.Cut(address, "://")
	if !found {
		return "", &AddressError{Address: address, Reason: "missing scheme"}
	}
	if scheme != "tcp" {
		return "", &AddressError{Address: address, Reason: "unrecognised network protocol " + scheme}
	}
	if rest == "" {
		return "", &AddressError{Address: address, Reason: "missing host"}
	}

	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		// No port at all: bind an ephemeral one.
		var addrErr *net.AddrError
		if errors.As(err, &addrErr) && strings.Contains(addrErr.Err, "missing port") {
			return net.JoinHostPort(rest, "0"), nil
		}
		return "", &AddressError{Address: address, Reason: err.Error()}
	}
	if portStr == "" {
		portStr = "0"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", &AddressError{Address: address, Reason: "invalid port " + portStr}
	}
	return net.JoinHostPort(host, portStr), nil
}
