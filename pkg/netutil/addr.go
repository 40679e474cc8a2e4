// Package netutil provides the address-handling primitives the relay needs
// to bind dual-stack UDP sockets and resolve tunnel destinations: parsing a
// bare IP or IP:port, creating a socket that accepts both IPv4 and v4-mapped
// IPv6 traffic, collapsing v4-mapped addresses back to plain IPv4, picking a
// sane default bind address, and resolving a destination hostname.
package netutil

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ParseSocketAddr accepts "IP:port" and returns that address, or a bare "IP"
// and returns (IP, 0) so the OS assigns a port. Anything else fails.
func ParseSocketAddr(s string) (*net.UDPAddr, error) {
	if host, portStr, err := net.SplitHostPort(s); err == nil {
		ip := net.ParseIP(host)
		if ip == nil {
			return nil, fmt.Errorf("%w: invalid IP %q in %q", errInvalidInput, host, s)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid port %q in %q", errInvalidInput, portStr, s)
		}
		return &net.UDPAddr{IP: ip, Port: port}, nil
	}

	if ip := net.ParseIP(s); ip != nil {
		return &net.UDPAddr{IP: ip, Port: 0}, nil
	}

	return nil, fmt.Errorf("%w: %q is neither \"IP\" nor \"IP:port\"", errInvalidInput, s)
}

var errInvalidInput = fmt.Errorf("invalid input")

// IsInvalidInput reports whether err came from a malformed address string.
func IsInvalidInput(err error) bool {
	return err != nil && strings.Contains(err.Error(), errInvalidInput.Error())
}

// CreateDualStackUDP binds a non-blocking UDP socket at addr. IPv4 addresses
// bind directly on the "udp4" network. IPv6 addresses bind on the
// unsuffixed "udp" network instead of "udp6" — per net.Dial's documented
// address-family selection, a specific (non-"udp6") network with an IPv6
// laddr yields a dual-stack socket (IPV6_V6ONLY disabled), so v4-mapped
// traffic is accepted without reaching for raw socket options.
func CreateDualStackUDP(addr *net.UDPAddr) (*net.UDPConn, error) {
	if addr.IP == nil || addr.IP.To4() != nil {
		return net.ListenUDP("udp4", addr)
	}
	return net.ListenUDP("udp", addr)
}

// Canonicalize collapses an IPv4-mapped IPv6 address (::ffff:a.b.c.d) to the
// embedded IPv4 address. Any other address is returned unchanged.
func Canonicalize(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil && ip.To16() != nil {
		return v4
	}
	return ip
}

// DefaultBindAddress returns the first non-loopback, non-link-local IPv4
// address of the first "up" interface that has one, formatted as "ip:0".
// It falls back to "0.0.0.0:0" when no such address exists. It only returns
// an error if enumerating interfaces itself fails.
func DefaultBindAddress() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("netutil: enumerate interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP.To4()
			if ip == nil || ip.IsLinkLocalUnicast() {
				continue
			}
			return fmt.Sprintf("%s:0", ip.String()), nil
		}
	}

	return "0.0.0.0:0", nil
}

// ResolveHost resolves a DNS name or IP literal to a single IP address,
// preferring an IPv4 answer when both families are available.
func ResolveHost(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("netutil: resolve %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("netutil: no addresses for %q", host)
	}

	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	return addrs[0].IP, nil
}
