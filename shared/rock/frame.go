// Package rock implements the Rock RPC transport: a length-framed,
// correlated request/response/notify protocol over TCP (spec §4.1).
//
// Every message is prefixed by a four-byte big-endian total length
// covering everything that follows (the type tag, the type-specific
// header fields, and the body). There is no other envelope — no magic
// number, no version byte — so framing is bit-exact and intentionally
// minimal.
package rock

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Type is the Rock frame type tag, the first byte after the length prefix.
type Type byte

const (
	TypeRequest  Type = 0x01
	TypeResponse Type = 0x02
	TypeNotify   Type = 0x03
)

func (t Type) String() string {
	switch t {
	case TypeRequest:
		return "request"
	case TypeResponse:
		return "response"
	case TypeNotify:
		return "notify"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// DefaultMaxFrameSize is the cap on a single frame's declared length
// (spec §4.1: "configurable cap (default 16 MiB)").
const DefaultMaxFrameSize = 16 * 1024 * 1024

const (
	lengthPrefixSize   = 4
	requestHeaderSize  = 1 + 4 + 4      // type + sn + cmd
	responseHeaderSize = 1 + 4 + 4 + 2  // type + sn + result + result_str_len
	notifyHeaderSize   = 1 + 4          // type + cmd
)

// Message is the union of the three Rock frame variants (spec §3). Only
// the fields relevant to Type are meaningful; Encode/Decode enforce this.
type Message struct {
	Type      Type
	Sn        uint32
	Cmd       uint32
	Result    int32
	ResultStr string
	Body      []byte
}

// Request builds a request frame.
func Request(sn, cmd uint32, body []byte) Message {
	return Message{Type: TypeRequest, Sn: sn, Cmd: cmd, Body: body}
}

// Response builds a response frame.
func Response(sn uint32, result int32, resultStr string, body []byte) Message {
	return Message{Type: TypeResponse, Sn: sn, Result: result, ResultStr: resultStr, Body: body}
}

// Notify builds a notify frame.
func Notify(cmd uint32, body []byte) Message {
	return Message{Type: TypeNotify, Cmd: cmd, Body: body}
}

// Encode serialises m into a complete wire frame, including the length
// prefix.
func Encode(m Message) ([]byte, error) {
	var header []byte

	switch m.Type {
	case TypeRequest:
		header = make([]byte, requestHeaderSize)
		header[0] = byte(TypeRequest)
		binary.BigEndian.PutUint32(header[1:5], m.Sn)
		binary.BigEndian.PutUint32(header[5:9], m.Cmd)

	case TypeResponse:
		resultStr := []byte(m.ResultStr)
		if len(resultStr) > 0xFFFF {
			return nil, fmt.Errorf("rock: result_str too long (%d bytes)", len(resultStr))
		}
		header = make([]byte, responseHeaderSize+len(resultStr))
		header[0] = byte(TypeResponse)
		binary.BigEndian.PutUint32(header[1:5], m.Sn)
		binary.BigEndian.PutUint32(header[5:9], uint32(m.Result))
		binary.BigEndian.PutUint16(header[9:11], uint16(len(resultStr)))
		copy(header[11:], resultStr)

	case TypeNotify:
		header = make([]byte, notifyHeaderSize)
		header[0] = byte(TypeNotify)
		binary.BigEndian.PutUint32(header[1:5], m.Cmd)

	default:
		return nil, fmt.Errorf("rock: %w: unknown type 0x%02x", ErrProtocolViolation, byte(m.Type))
	}

	total := len(header) + len(m.Body)
	frame := make([]byte, lengthPrefixSize+total)
	binary.BigEndian.PutUint32(frame[:lengthPrefixSize], uint32(total))
	n := copy(frame[lengthPrefixSize:], header)
	copy(frame[lengthPrefixSize+n:], m.Body)
	return frame, nil
}

// ReadFrame reads one complete Rock frame from r, enforcing maxFrameSize
// on the declared length. maxFrameSize of 0 uses DefaultMaxFrameSize.
func ReadFrame(r io.Reader, maxFrameSize uint32) (Message, error) {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}

	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])

	if length < 1 {
		return Message{}, fmt.Errorf("%w: declared length %d shorter than type tag", ErrProtocolViolation, length)
	}
	if length > maxFrameSize {
		return Message{}, fmt.Errorf("%w: declared length %d exceeds cap %d", ErrFrameTooLarge, length, maxFrameSize)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Message{}, err
	}

	return decodeBody(Type(buf[0]), buf)
}

func decodeBody(typ Type, buf []byte) (Message, error) {
	switch typ {
	case TypeRequest:
		if len(buf) < requestHeaderSize {
			return Message{}, fmt.Errorf("%w: request frame too short (%d bytes)", ErrProtocolViolation, len(buf))
		}
		return Message{
			Type: TypeRequest,
			Sn:   binary.BigEndian.Uint32(buf[1:5]),
			Cmd:  binary.BigEndian.Uint32(buf[5:9]),
			Body: cloneTail(buf, requestHeaderSize),
		}, nil

	case TypeResponse:
		if len(buf) < responseHeaderSize {
			return Message{}, fmt.Errorf("%w: response frame too short (%d bytes)", ErrProtocolViolation, len(buf))
		}
		strLen := int(binary.BigEndian.Uint16(buf[9:11]))
		if len(buf) < responseHeaderSize+strLen {
			return Message{}, fmt.Errorf("%w: response result_str truncated", ErrProtocolViolation)
		}
		return Message{
			Type:      TypeResponse,
			Sn:        binary.BigEndian.Uint32(buf[1:5]),
			Result:    int32(binary.BigEndian.Uint32(buf[5:9])),
			ResultStr: string(buf[responseHeaderSize : responseHeaderSize+strLen]),
			Body:      cloneTail(buf, responseHeaderSize+strLen),
		}, nil

	case TypeNotify:
		if len(buf) < notifyHeaderSize {
			return Message{}, fmt.Errorf("%w: notify frame too short (%d bytes)", ErrProtocolViolation, len(buf))
		}
		return Message{
			Type: TypeNotify,
			Cmd:  binary.BigEndian.Uint32(buf[1:5]),
			Body: cloneTail(buf, notifyHeaderSize),
		}, nil

	default:
		return Message{}, fmt.Errorf("%w: unknown type tag 0x%02x", ErrProtocolViolation, byte(typ))
	}
}

func cloneTail(buf []byte, from int) []byte {
	if from >= len(buf) {
		return nil
	}
	tail := make([]byte, len(buf)-from)
	copy(tail, buf[from:])
	return tail
}
