// Package wiretest builds and parses full Ethernet/IPv4/UDP frames
// carrying an RTPS datagram, for integration tests that want to exercise
// the wire path at the packet level rather than handing raw bytes
// straight to a decoder.
package wiretest

import (
	"fmt"
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// Endpoint is one side of a UDP frame: a MAC/IP/port triple.
type Endpoint struct {
	MAC  net.HardwareAddr
	IP   net.IP
	Port uint16
}

// BuildDatagram serializes an Ethernet/IPv4/UDP frame carrying payload
// (a full RTPS datagram: 20-byte header plus submessages) as its UDP
// payload.
func BuildDatagram(src, dst Endpoint, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       src.MAC,
		DstMAC:       dst.MAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src.IP,
		DstIP:    dst.IP,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port),
		DstPort: layers.UDPPort(dst.Port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("wiretest: set checksum layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("wiretest: serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseDatagram parses an Ethernet/IPv4/UDP frame built by BuildDatagram
// (or captured off the wire) and returns its UDP payload, the RTPS
// datagram bytes.
func ParseDatagram(frame []byte) ([]byte, error) {
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	if errLayer := packet.ErrorLayer(); errLayer != nil {
		return nil, fmt.Errorf("wiretest: parse frame: %v", errLayer.Error())
	}
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, fmt.Errorf("wiretest: frame carries no UDP layer")
	}
	udp := udpLayer.(*layers.UDP)
	return udp.Payload, nil
}
