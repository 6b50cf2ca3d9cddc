package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnframed is returned by DecodeFrame when a datagram carries no usable
// transport header. Such datagrams are delivered as-is.
var ErrUnframed = errors.New("protocol: datagram has no transport header")

// FrameKind distinguishes reliable data from acknowledgements.
type FrameKind uint8

const (
	FrameData FrameKind = iota + 1
	FrameAck
)

func (k FrameKind) String() string {
	switch k {
	case FrameData:
		return "DATA"
	case FrameAck:
		return "ACK"
	default:
		return fmt.Sprintf("FrameKind(%d)", uint8(k))
	}
}

// Frame is the transport header of a datagram.
type Frame struct {
	Kind FrameKind
	Seq  uint32
}

var headerSep = []byte("\n\n")

// EncodeData frames a payload as reliable data:
//
//	SEQ:<n>
//	TYPE:DATA
//
//	<payload>
func EncodeData(seq uint32, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(payload) + 32)
	fmt.Fprintf(&buf, "SEQ:%d\nTYPE:DATA\n\n", seq)
	buf.Write(payload)
	return buf.Bytes()
}

// EncodeAck builds the acknowledgement datagram for seq.
func EncodeAck(seq uint32) []byte {
	return []byte(fmt.Sprintf("TYPE:ACK\nACK:%d\n\n", seq))
}

// DecodeFrame splits a datagram into its header and payload. It returns
// ErrUnframed when the header is missing or cannot be parsed.
func DecodeFrame(raw []byte) (Frame, []byte, error) {
	idx := bytes.Index(raw, headerSep)
	if idx < 0 {
		return Frame{}, nil, ErrUnframed
	}

	var (
		kind   string
		seqRaw string
		ackRaw string
	)
	for _, line := range strings.Split(string(raw[:idx]), "\n") {
		key, value, ok := strings.Cut(strings.TrimRight(line, "\r"), ":")
		if !ok {
			return Frame{}, nil, ErrUnframed
		}
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "TYPE":
			kind = strings.ToUpper(strings.TrimSpace(value))
		case "SEQ":
			seqRaw = strings.TrimSpace(value)
		case "ACK":
			ackRaw = strings.TrimSpace(value)
		default:
			return Frame{}, nil, ErrUnframed
		}
	}

	switch kind {
	case "DATA":
		seq, err := parseSeq(seqRaw)
		if err != nil {
			return Frame{}, nil, ErrUnframed
		}
		return Frame{Kind: FrameData, Seq: seq}, raw[idx+len(headerSep):], nil
	case "ACK":
		seq, err := parseSeq(ackRaw)
		if err != nil {
			return Frame{}, nil, ErrUnframed
		}
		return Frame{Kind: FrameAck, Seq: seq}, nil, nil
	default:
		return Frame{}, nil, ErrUnframed
	}
}

func parseSeq(raw string) (uint32, error) {
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, errors.New("sequence numbers start at 1")
	}
	return uint32(v), nil
}
