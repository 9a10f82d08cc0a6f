package measure

import (
	"context"
	"fmt"
	"net"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/DrC0ns0le/cyclicping/internal/session"
	"github.com/DrC0ns0le/cyclicping/internal/transport"
)

type ProbeResult struct {
	Sent      int
	Received  int
	Loss      float64
	AvgRtt    time.Duration
	StdDevRtt time.Duration
}

// Prober checks that peer answers before measuring against it.
type Prober func(ctx context.Context, peer net.IP) (ProbeResult, error)

// ProbeICMP sends a short burst of echo requests to peer.
func ProbeICMP(ctx context.Context, peer net.IP) (ProbeResult, error) {
	pinger, err := probing.NewPinger(peer.String())
	if err != nil {
		return ProbeResult{}, err
	}
	pinger.SetPrivileged(true)
	pinger.Interval = 200 * time.Millisecond
	pinger.Timeout = 2 * time.Second
	pinger.Count = 5
	if err := pinger.RunWithContext(ctx); err != nil { // Blocks until finished.
		return ProbeResult{}, err
	}

	st := pinger.Statistics()
	res := ProbeResult{
		Sent:      st.PacketsSent,
		Received:  st.PacketsRecv,
		Loss:      st.PacketLoss,
		AvgRtt:    st.AvgRtt,
		StdDevRtt: st.StdDevRtt,
	}
	if res.Received == 0 {
		return res, fmt.Errorf("no echo reply from %s", peer)
	}
	return res, nil
}

func (r *Runner) preflight(ctx context.Context, s *session.Session, t transport.Transport) {
	p, ok := t.(transport.Peer)
	if !ok || p.PeerIP() == nil {
		s.Logger.Debugf("%s has no IP peer, skipping preflight", t.Name())
		return
	}
	probe := r.Probe
	if probe == nil {
		probe = ProbeICMP
	}

	peer := p.PeerIP()
	res, err := probe(ctx, peer)
	if err != nil {
		s.Logger.Warnf("preflight: %s unreachable: %v", peer, err)
		return
	}
	s.Logger.Infof("preflight: %s answered %d/%d, avg %v, jitter %v",
		peer, res.Received, res.Sent, res.AvgRtt, res.StdDevRtt)
}
