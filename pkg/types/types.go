package types

import (
	"net"
	"time"
)

// RawDatagram represents one UDP datagram extracted from a capture file.
type RawDatagram struct {
	RecordID     uint32 // 1-based packet number within the capture
	Data         []byte
	Timestamp    time.Time
	SrcIP        net.IP
	DstIP        net.IP
	SrcPort      uint16
	DstPort      uint16
	Conversation string
}

// StreamSummary aggregates the analysis results of one stream.
type StreamSummary struct {
	Conversation string `json:"conversation"`
	SessionID    uint32 `json:"session_id"`
	StreamID     uint32 `json:"stream_id"`
	TermLength   uint32 `json:"term_length"`
	MTU          uint32 `json:"mtu"`
	High         string `json:"high,omitempty"`

	Frames              uint64 `json:"frames"`
	DataFrames          uint64 `json:"data_frames"`
	DataBytes           uint64 `json:"data_bytes"`
	Retransmissions     uint64 `json:"retransmissions"`
	Keepalives          uint64 `json:"keepalives"`
	OutOfOrder          uint64 `json:"out_of_order"`
	Gaps                uint64 `json:"gaps"`
	WindowFull          uint64 `json:"window_full"`
	StatusMessages      uint64 `json:"status_messages"`
	Naks                uint64 `json:"naks"`
	UnrecoveredNakBytes uint64 `json:"unrecovered_nak_bytes"`
	MessagesReassembled uint64 `json:"messages_reassembled"`
	OverflowFrames      uint64 `json:"overflow_frames"`
	OutstandingBytes    uint32 `json:"outstanding_bytes"`
	Receivers           int    `json:"receivers"`
}
