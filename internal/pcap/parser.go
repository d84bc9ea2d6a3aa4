package pcap

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"

	"aeron-analyzer/internal/aeron"
	"aeron-analyzer/pkg/types"
)

// pcapng section header block type, in either byte order.
var ngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

// Parser reads capture files and extracts Aeron UDP datagrams.
type Parser struct {
	ports map[uint16]bool
}

// NewParser creates a parser keeping datagrams to or from any of ports.
// An empty port list keeps every UDP datagram.
func NewParser(ports []int) *Parser {
	p := &Parser{ports: make(map[uint16]bool, len(ports))}
	for _, port := range ports {
		p.ports[uint16(port)] = true
	}
	return p
}

type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// openCapture opens a classic pcap or pcapng file, chosen by magic number.
func openCapture(filename string) (packetReader, io.Closer, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open pcap file %s: %w", filename, err)
	}
	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to read pcap header of %s: %w", filename, err)
	}

	if bytes.Equal(magic, ngMagic) {
		r, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("failed to read pcapng file %s: %w", filename, err)
		}
		return r, f, nil
	}

	r, err := pcapgo.NewReader(br)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to read pcap file %s: %w", filename, err)
	}
	return r, f, nil
}

func (p *Parser) wanted(udp *layers.UDP) bool {
	if len(p.ports) == 0 {
		return true
	}
	return p.ports[uint16(udp.SrcPort)] || p.ports[uint16(udp.DstPort)]
}

// Parse reads a capture file and returns every matching UDP datagram in
// capture order. RecordID is the 1-based packet number in the file.
func (p *Parser) Parse(filename string) ([]types.RawDatagram, error) {
	reader, closer, err := openCapture(filename)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	linkType := reader.LinkType()
	log.WithField("link_type", linkType.String()).Debug("PCAP link type detected")

	packetSource := gopacket.NewPacketSource(reader, linkType)
	packetSource.DecodeOptions.Lazy = true
	packetSource.DecodeOptions.NoCopy = true

	var datagrams []types.RawDatagram
	totalPackets := 0

	for packet := range packetSource.Packets() {
		totalPackets++

		// Works for both Ethernet and Linux cooked captures
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || !p.wanted(udp) || len(udp.Payload) == 0 {
			continue
		}

		var srcIP, dstIP net.IP
		if ipv4Layer := packet.Layer(layers.LayerTypeIPv4); ipv4Layer != nil {
			ipv4, _ := ipv4Layer.(*layers.IPv4)
			srcIP = ipv4.SrcIP
			dstIP = ipv4.DstIP
		} else if ipv6Layer := packet.Layer(layers.LayerTypeIPv6); ipv6Layer != nil {
			ipv6, _ := ipv6Layer.(*layers.IPv6)
			srcIP = ipv6.SrcIP
			dstIP = ipv6.DstIP
		}

		// Copy payload since we're using NoCopy
		data := make([]byte, len(udp.Payload))
		copy(data, udp.Payload)

		dg := types.RawDatagram{
			RecordID:  uint32(totalPackets),
			Data:      data,
			Timestamp: packet.Metadata().Timestamp,
			SrcIP:     append(net.IP(nil), srcIP...),
			DstIP:     append(net.IP(nil), dstIP...),
			SrcPort:   uint16(udp.SrcPort),
			DstPort:   uint16(udp.DstPort),
		}
		dg.Conversation = ConversationKey(dg.SrcIP, dg.SrcPort, dg.DstIP, dg.DstPort)
		datagrams = append(datagrams, dg)

		log.WithFields(log.Fields{
			"packet": totalPackets,
			"src":    net.JoinHostPort(srcIP.String(), strconv.Itoa(int(udp.SrcPort))),
			"dst":    net.JoinHostPort(dstIP.String(), strconv.Itoa(int(udp.DstPort))),
			"bytes":  len(data),
		}).Debug("Extracted UDP datagram")
	}

	log.WithFields(log.Fields{
		"total_packets": totalPackets,
		"datagrams":     len(datagrams),
	}).Info("PCAP parsing complete")

	return datagrams, nil
}

// CountFrames returns a summary of Aeron frame types found in a capture file.
// Datagrams that fail to decode are counted under "undecodable".
func (p *Parser) CountFrames(filename string) (map[string]int, error) {
	datagrams, err := p.Parse(filename)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, dg := range datagrams {
		headers, err := aeron.Decode(dg.Data)
		for _, h := range headers {
			counts[aeron.TypeName(h.Type)]++
		}
		if err != nil {
			counts["undecodable"]++
		}
	}
	return counts, nil
}

// ConversationKey groups the datagrams of one Aeron channel. Multicast data
// and control groups (odd data address, control address one above) share a
// key; unicast endpoints are ordered so both directions share a key.
func ConversationKey(srcIP net.IP, srcPort uint16, dstIP net.IP, dstPort uint16) string {
	if dstIP.IsMulticast() {
		group := append(net.IP(nil), dstIP...)
		if v4 := group.To4(); v4 != nil {
			group = v4
		}
		if last := len(group) - 1; last >= 0 && group[last]&1 == 0 && group[last] > 0 {
			group[last]--
		}
		return "mc:" + net.JoinHostPort(group.String(), strconv.Itoa(int(dstPort)))
	}

	a := net.JoinHostPort(srcIP.String(), strconv.Itoa(int(srcPort)))
	b := net.JoinHostPort(dstIP.String(), strconv.Itoa(int(dstPort)))
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}
