package transport

import (
	"encoding/binary"
	"net"
	"strconv"

	"github.com/pkg/errors"

	"github.com/DrC0ns0le/cyclicping/internal/config"
)

// Arg returns args[i], or def when it is missing or empty.
func Arg(args []string, i int, def string) string {
	if i < len(args) && args[i] != "" {
		return args[i]
	}
	return def
}

// ParsePort parses a UDP/TCP port, defaulting to config.DefaultPort when s is empty.
func ParsePort(s string) (int, error) {
	if s == "" {
		return config.DefaultPort, nil
	}
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return 0, errors.Errorf("invalid port %q", s)
	}
	return port, nil
}

// ParseHardwareAddr parses an Ethernet address. Inside a selection string it
// is written with hyphens since colons separate the tokens.
func ParseHardwareAddr(s string) (net.HardwareAddr, error) {
	mac, err := net.ParseMAC(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid hardware address %q", s)
	}
	if len(mac) != 6 {
		return nil, errors.Errorf("invalid hardware address %q: not an Ethernet address", s)
	}
	return mac, nil
}

// ParseIPv4 parses a dotted IPv4 address.
func ParseIPv4(s string) (net.IP, error) {
	ip := net.ParseIP(s).To4()
	if ip == nil {
		return nil, errors.Errorf("invalid IPv4 address %q", s)
	}
	return ip, nil
}

// Htons converts v to network byte order for use in packet socket fields.
func Htons(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.NativeEndian.Uint16(b[:])
}
