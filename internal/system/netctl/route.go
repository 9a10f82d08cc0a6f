package netctl

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// Path is the kernel's routing decision towards a destination.
type Path struct {
	LinkIndex int
	Gateway   net.IP
	Src       net.IP
}

// Direct reports whether dst is reached on link index without a gateway.
func (p Path) Direct(index int) bool {
	return p.LinkIndex == index && p.Gateway == nil
}

// RouteTo asks the kernel how it would reach dst.
func RouteTo(dst net.IP) (Path, error) {
	routes, err := netlink.RouteGet(dst)
	if err != nil {
		return Path{}, fmt.Errorf("failed to get route to %s: %w", dst, err)
	}
	if len(routes) == 0 {
		return Path{}, fmt.Errorf("no route to %s", dst)
	}

	r := routes[0]
	return Path{LinkIndex: r.LinkIndex, Gateway: r.Gw, Src: r.Src}, nil
}
