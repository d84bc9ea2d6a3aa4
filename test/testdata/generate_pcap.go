//go:build ignore

// This program generates a sample Aeron pcap file for testing.
package main

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"aeron-analyzer/internal/aeron"
)

const (
	sessionID  = 0x5a5a
	streamID   = 1001
	termID     = 7
	termLength = 64 * 1024
	mtu        = 1408
	port       = 40123
	receiverID = 0xfeedface
)

func main() {
	filename := "test/testdata/sample.pcap"
	if len(os.Args) > 1 {
		filename = os.Args[1]
	}

	f, err := os.Create(filename)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		panic(err)
	}

	senderIP := net.ParseIP("192.168.1.10")
	receiverIP := net.ParseIP("192.168.1.20")
	senderMAC, _ := net.ParseMAC("00:11:22:33:44:55")
	receiverMAC, _ := net.ParseMAC("66:77:88:99:aa:bb")
	ts := time.Now()

	// Helper to write one Aeron datagram as an Ethernet/IP/UDP frame
	writePacket := func(srcIP, dstIP net.IP, srcMAC, dstMAC net.HardwareAddr, frames ...aeron.Header) {
		data, err := aeron.EncodeDatagram(frames...)
		if err != nil {
			panic(fmt.Sprintf("failed to encode: %v", err))
		}

		eth := &layers.Ethernet{
			SrcMAC:       srcMAC,
			DstMAC:       dstMAC,
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    srcIP,
			DstIP:    dstIP,
		}
		udp := &layers.UDP{
			SrcPort: port,
			DstPort: port,
		}
		udp.SetNetworkLayerForChecksum(ip)

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(data)); err != nil {
			panic(fmt.Sprintf("failed to serialize: %v", err))
		}

		ci := gopacket.CaptureInfo{
			Timestamp:     ts,
			CaptureLength: len(buf.Bytes()),
			Length:        len(buf.Bytes()),
		}
		if err := w.WritePacket(ci, buf.Bytes()); err != nil {
			panic(fmt.Sprintf("failed to write packet: %v", err))
		}
		ts = ts.Add(time.Millisecond)
	}
	toReceiver := func(frames ...aeron.Header) {
		writePacket(senderIP, receiverIP, senderMAC, receiverMAC, frames...)
	}
	toSender := func(frames ...aeron.Header) {
		writePacket(receiverIP, senderIP, receiverMAC, senderMAC, frames...)
	}
	data := func(termOffset uint32, flags uint8, size int, fill byte) aeron.Header {
		return aeron.DataFrame(sessionID, streamID, termID, termOffset, flags, bytes.Repeat([]byte{fill}, size))
	}
	unfragmented := aeron.FlagBegin | aeron.FlagEnd

	// === 1. Setup handshake ===
	toReceiver(aeron.SetupFrame(sessionID, streamID, termID, termLength, mtu))
	toSender(aeron.StatusFrame(sessionID, streamID, termID, 0, 128*1024, receiverID))

	// === 2. Two unfragmented messages batched in one datagram ===
	toReceiver(data(0, unfragmented, 100, 'a'), data(160, unfragmented, 100, 'b'))

	// === 3. Frame at 320 is lost, 480 arrives and leaves a gap ===
	toReceiver(data(480, unfragmented, 100, 'd'))
	toSender(aeron.NakFrame(sessionID, streamID, termID, 320, 160))

	// === 4. Retransmission recovers the NAK ===
	toReceiver(data(320, unfragmented, 100, 'c'))
	toSender(aeron.StatusFrame(sessionID, streamID, termID, 640, 128*1024, receiverID))

	// === 5. Message fragmented over three datagrams, END arrives first ===
	toReceiver(data(1280, aeron.FlagEnd, 64, 'g'))
	toReceiver(data(640, aeron.FlagBegin, 288, 'e'))
	toReceiver(data(960, 0, 288, 'f'))

	// === 6. Heartbeat at the new high-water mark, then a replayed frame ===
	toReceiver(aeron.DataFrame(sessionID, streamID, termID, 1376, 0, nil))
	toReceiver(data(0, unfragmented, 100, 'a'))
	toSender(aeron.StatusFrame(sessionID, streamID, termID, 1376, 128*1024, receiverID))

	fmt.Printf("Generated %s\n", filename)
}
