package netctl

import (
	"errors"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

var ErrNoIPv4Address = errors.New("interface has no IPv4 address")

// Link describes a local interface a packet transport sends on.
type Link struct {
	Name         string
	Index        int
	MTU          int
	HardwareAddr net.HardwareAddr
	// IPv4 is the first IPv4 address of the interface, nil if it has none.
	IPv4 net.IP
}

// LookupLink resolves name over netlink.
func LookupLink(name string) (Link, error) {
	l, err := netlink.LinkByName(name)
	if err != nil {
		return Link{}, fmt.Errorf("failed to find interface %s: %w", name, err)
	}
	attrs := l.Attrs()

	link := Link{
		Name:         attrs.Name,
		Index:        attrs.Index,
		MTU:          attrs.MTU,
		HardwareAddr: attrs.HardwareAddr,
	}

	addrs, err := netlink.AddrList(l, netlink.FAMILY_V4)
	if err != nil {
		return Link{}, fmt.Errorf("failed to list addresses of %s: %w", name, err)
	}
	for _, a := range addrs {
		if ip := a.IP.To4(); ip != nil {
			link.IPv4 = ip
			break
		}
	}

	return link, nil
}

// RequireIPv4 returns the interface address or ErrNoIPv4Address.
func (l Link) RequireIPv4() (net.IP, error) {
	if l.IPv4 == nil {
		return nil, fmt.Errorf("%s: %w", l.Name, ErrNoIPv4Address)
	}
	return l.IPv4, nil
}
