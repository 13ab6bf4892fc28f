package device

import (
	"github.com/pkg/errors"
)

// Command codes. A successful reply carries the request code with the top bit
// set; plain acknowledgements use ack/nack.
const (
	codePing            = 0x00
	codeProtocolVersion = 0x02
	codeSerialNumber    = 0x03

	codeCPUReboot = 0x10
	codeGPSReset  = 0x11
	codeClockPdn  = 0x12

	codeClockWrite  = 0x60
	codeClockRead   = 0x61
	codeClockStatus = 0x68

	ack  = 0x80
	nack = 0x81
)

var magic = [2]byte{0xce, 0x93}

// frameOverhead is magic + code + length + CRC.
const frameOverhead = 6

// maxFrame bounds a whole frame; the firmware's buffers are this size.
const maxFrame = 64

// MaxPayload is the largest payload one frame carries.
const MaxPayload = maxFrame - frameOverhead

const crcPoly = 0x1021

var crcTab [256]uint16

func init() {
	for i := range crcTab {
		c := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if c&0x8000 != 0 {
				c = c<<1 ^ crcPoly
			} else {
				c <<= 1
			}
		}
		crcTab[i] = c
	}
}

// crc16 is CRC-16/CCITT over the whole frame including the magic. A frame
// with its trailing CRC included sums to zero.
func crc16(bb []byte) uint16 {
	var c uint16
	for _, b := range bb {
		c = c<<8 ^ crcTab[byte(c>>8)^b]
	}
	return c
}

// Message is one deframed protocol message.
type Message struct {
	Code    byte
	Payload []byte
}

// appendFrame appends the framed encoding of (code, payload) to dst.
func appendFrame(dst []byte, code byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return dst, errors.Errorf("device: payload of %d exceeds frame limit", len(payload))
	}
	start := len(dst)
	dst = append(dst, magic[0], magic[1], code, byte(len(payload)))
	dst = append(dst, payload...)
	c := crc16(dst[start:])
	return append(dst, byte(c>>8), byte(c)), nil
}

// deframe parses one complete frame.
func deframe(b []byte) (Message, error) {
	if len(b) < frameOverhead {
		return Message{}, errors.New("device: under-length frame")
	}
	if b[0] != magic[0] || b[1] != magic[1] {
		return Message{}, errors.New("device: bad frame magic")
	}
	if int(b[3])+frameOverhead != len(b) {
		return Message{}, errors.New("device: frame length mismatch")
	}
	if crc16(b) != 0 {
		return Message{}, errors.New("device: bad frame CRC")
	}
	return Message{Code: b[2], Payload: append([]byte(nil), b[4:len(b)-2]...)}, nil
}
