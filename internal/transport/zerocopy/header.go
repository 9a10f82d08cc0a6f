package zerocopy

import (
	"encoding/binary"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

const (
	ethLen = 14
	ipLen  = 20
	udpLen = 8

	// HeaderLen is the size of the Ethernet, IPv4 and UDP headers in front of
	// every payload.
	HeaderLen = ethLen + ipLen + udpLen

	etherTypeIPv4 = 0x0800
	ipProtoUDP    = 17
	tosLowDelay   = 0x10
	defaultTTL    = 64
	ipDontFrag    = 0x4000

	ipOffset      = ethLen
	udpOffset     = ethLen + ipLen
	ipCsumOffset  = ipOffset + 10
	udpDportField = udpOffset + 2
)

// Header is the addressing of one measurement frame.
type Header struct {
	SrcMAC  net.HardwareAddr
	DstMAC  net.HardwareAddr
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort uint16
	DstPort uint16
	// PayloadLen is the number of bytes following the UDP header.
	PayloadLen int
}

// MarshalTo writes the Ethernet, IPv4 and UDP headers into b[:HeaderLen]
// with the IPv4 checksum filled in. The UDP checksum is left zero.
func (h Header) MarshalTo(b []byte) {
	_ = b[HeaderLen-1]

	copy(b[0:6], h.DstMAC)
	copy(b[6:12], h.SrcMAC)
	binary.BigEndian.PutUint16(b[12:14], etherTypeIPv4)

	ip := b[ipOffset:udpOffset]
	ip[0] = 0x45 // version 4, 5 words
	ip[1] = tosLowDelay
	binary.BigEndian.PutUint16(ip[2:4], uint16(ipLen+udpLen+h.PayloadLen))
	binary.BigEndian.PutUint16(ip[4:6], 0)
	binary.BigEndian.PutUint16(ip[6:8], ipDontFrag)
	ip[8] = defaultTTL
	ip[9] = ipProtoUDP
	binary.BigEndian.PutUint16(ip[10:12], 0)
	copy(ip[12:16], h.SrcIP.To4())
	copy(ip[16:20], h.DstIP.To4())
	binary.BigEndian.PutUint16(ip[10:12], Checksum(ip))

	udp := b[udpOffset:HeaderLen]
	binary.BigEndian.PutUint16(udp[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(udp[2:4], h.DstPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpLen+h.PayloadLen))
	binary.BigEndian.PutUint16(udp[6:8], 0)
}

// BuildReplyHeader addresses a reply to the sender of received, keeping the
// local addresses of tmpl.
func BuildReplyHeader(tmpl, received Header) Header {
	return Header{
		SrcMAC:     tmpl.SrcMAC,
		DstMAC:     received.SrcMAC,
		SrcIP:      tmpl.SrcIP,
		DstIP:      received.SrcIP,
		SrcPort:    received.DstPort,
		DstPort:    received.SrcPort,
		PayloadLen: tmpl.PayloadLen,
	}
}

// Checksum is the Internet checksum of b: the complement of the one's
// complement sum of its 16-bit big-endian words, an odd trailing byte taken
// as the high byte of a final word. Summing a header that already holds its
// checksum yields zero.
func Checksum(b []byte) uint16 {
	var sum uint32
	n := len(b) &^ 1
	for i := 0; i < n; i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if len(b)&1 != 0 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum > 0xffff {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}

// headerParser decodes received headers without allocating per frame.
type headerParser struct {
	eth     layers.Ethernet
	ip      layers.IPv4
	udp     layers.UDP
	payload gopacket.Payload

	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

func newHeaderParser() *headerParser {
	p := &headerParser{decoded: make([]gopacket.LayerType, 0, 4)}
	p.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &p.eth, &p.ip, &p.udp, &p.payload)
	p.parser.IgnoreUnsupported = true
	return p
}

// Parse decodes the addressing of frame.
func (p *headerParser) Parse(frame []byte) (Header, error) {
	if err := p.parser.DecodeLayers(frame, &p.decoded); err != nil {
		return Header{}, errors.Wrap(err, "decoding frame")
	}
	var haveIP, haveUDP bool
	for _, lt := range p.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			haveIP = true
		case layers.LayerTypeUDP:
			haveUDP = true
		}
	}
	if !haveIP || !haveUDP {
		return Header{}, errors.New("frame is not IPv4/UDP")
	}

	return Header{
		SrcMAC:     append(net.HardwareAddr(nil), p.eth.SrcMAC...),
		DstMAC:     append(net.HardwareAddr(nil), p.eth.DstMAC...),
		SrcIP:      append(net.IP(nil), p.ip.SrcIP.To4()...),
		DstIP:      append(net.IP(nil), p.ip.DstIP.To4()...),
		SrcPort:    uint16(p.udp.SrcPort),
		DstPort:    uint16(p.udp.DstPort),
		PayloadLen: int(p.udp.Length) - udpLen,
	}, nil
}
