package rock

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
	}{
		{"request", Request(42, 101, []byte(`{"uid":7}`))},
		{"request empty body", Request(1, 201, nil)},
		{"response ok", Response(42, 200, "", []byte(`{}`))},
		{"response with reason", Response(42, 503, "presence unavailable", nil)},
		{"notify", Notify(203, []byte(`{"uid":7,"ttl_sec":120}`))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := Encode(tc.msg)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := ReadFrame(bytes.NewReader(frame), 0)
			if err != nil {
				t.Fatalf("ReadFrame: %v", err)
			}
			if got.Type != tc.msg.Type || got.Sn != tc.msg.Sn || got.Cmd != tc.msg.Cmd ||
				got.Result != tc.msg.Result || got.ResultStr != tc.msg.ResultStr ||
				!bytes.Equal(got.Body, tc.msg.Body) {
				t.Fatalf("round-trip mismatch: got %+v, want %+v", got, tc.msg)
			}
		})
	}
}

func TestReadFrameRejectsOversizedFrame(t *testing.T) {
	frame, err := Encode(Notify(1, bytes.Repeat([]byte{'x'}, 100)))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, err = ReadFrame(bytes.NewReader(frame), 10)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("want ErrFrameTooLarge, got %v", err)
	}
}

func TestReadFrameRejectsShortHeader(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 3})       // length = 3, too short for a request header
	buf.Write([]byte{byte(TypeRequest), 0, 0})
	_, err := ReadFrame(&buf, 0)
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("want ErrProtocolViolation, got %v", err)
	}
}

func TestReadFrameUnknownType(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 1})
	buf.Write([]byte{0x7f})
	_, err := ReadFrame(&buf, 0)
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("want ErrProtocolViolation, got %v", err)
	}
}
