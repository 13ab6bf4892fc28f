package device

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"gpsfreak/internal/chip"
)

// RegisterIO is single-register access to the synthesizer.
type RegisterIO interface {
	ReadRegister(addr uint16) (byte, error)
	WriteRegister(addr uint16, value byte) error
}

// Conn is the device capability surface the planning commands use.
type Conn interface {
	RegisterIO
	// Snapshot reads the synthesizer's whole register window.
	Snapshot() ([]byte, error)
	// Push applies an ordered register write sequence.
	Push(writes []chip.RegisterWrite) error
}

// RequestFailed reports a reply that was not the expected success code.
type RequestFailed struct {
	Request byte
	Reply   byte
	Payload []byte
}

func (e *RequestFailed) Error() string {
	if e.Reply == nack {
		return fmt.Sprintf("device: request %#02x refused (nack % x)", e.Request, e.Payload)
	}
	return fmt.Sprintf("device: request %#02x got unexpected reply %#02x", e.Request, e.Reply)
}

// Read/write chunk sizes for bulk register access. Reads echo nothing, writes
// carry a 2-byte address, both must leave the reply inside one frame.
const (
	readChunk  = 48
	writeChunk = 32
)

// Session is a command/response conversation with the board. It is not safe
// for concurrent use; the protocol has one outstanding request at a time.
type Session struct {
	w  io.Writer
	br *bufio.Reader
}

func NewSession(rw io.ReadWriter) *Session {
	return &Session{w: rw, br: bufio.NewReader(rw)}
}

// readFrame scans to the next magic sequence and reads one frame. Garbage
// between frames (boot noise, a half frame from a previous run) is skipped.
func (s *Session) readFrame() (Message, error) {
	for {
		b, err := s.br.ReadByte()
		if err != nil {
			return Message{}, errors.Wrap(err, "device: read")
		}
		if b != magic[0] {
			continue
		}
		b, err = s.br.ReadByte()
		if err != nil {
			return Message{}, errors.Wrap(err, "device: read")
		}
		if b != magic[1] {
			if b == magic[0] {
				_ = s.br.UnreadByte()
			}
			continue
		}
		head := make([]byte, 2)
		if _, err := io.ReadFull(s.br, head); err != nil {
			return Message{}, errors.Wrap(err, "device: read header")
		}
		rest := make([]byte, int(head[1])+2)
		if _, err := io.ReadFull(s.br, rest); err != nil {
			return Message{}, errors.Wrap(err, "device: read body")
		}
		frame := append([]byte{magic[0], magic[1]}, head...)
		return deframe(append(frame, rest...))
	}
}

// roundTrip sends one command and reads the reply, which must carry expect.
func (s *Session) roundTrip(code byte, payload []byte, expect byte) (Message, error) {
	frame, err := appendFrame(nil, code, payload)
	if err != nil {
		return Message{}, err
	}
	if _, err := s.w.Write(frame); err != nil {
		return Message{}, errors.Wrap(err, "device: write")
	}
	m, err := s.readFrame()
	if err != nil {
		return Message{}, err
	}
	if m.Code != expect {
		return Message{}, &RequestFailed{Request: code, Reply: m.Code, Payload: m.Payload}
	}
	return m, nil
}

// command sends a request answered by a plain acknowledgement.
func (s *Session) command(code byte, payload []byte) error {
	_, err := s.roundTrip(code, payload, ack)
	return err
}

// retrieve sends a request answered with data under code|0x80.
func (s *Session) retrieve(code byte, payload []byte) (Message, error) {
	return s.roundTrip(code, payload, code|0x80)
}

// Ping echoes payload through the board.
func (s *Session) Ping(payload []byte) error {
	m, err := s.retrieve(codePing, payload)
	if err != nil {
		return err
	}
	if string(m.Payload) != string(payload) {
		return errors.New("device: ping reply does not echo the payload")
	}
	return nil
}

// ProtocolVersion returns the firmware's protocol version.
func (s *Session) ProtocolVersion() (uint32, error) {
	m, err := s.retrieve(codeProtocolVersion, nil)
	if err != nil {
		return 0, err
	}
	if len(m.Payload) != 4 {
		return 0, errors.Errorf("device: protocol version reply of %d bytes", len(m.Payload))
	}
	return binary.LittleEndian.Uint32(m.Payload), nil
}

// SerialNumber returns the board's unique serial number.
func (s *Session) SerialNumber() ([]byte, error) {
	m, err := s.retrieve(codeSerialNumber, nil)
	if err != nil {
		return nil, err
	}
	return m.Payload, nil
}

// resetPulse asks a reset-line command to pulse the line for one millisecond
// (0x00 and 0x01 would hold it asserted or released instead).
const resetPulse = 0x02

// ResetGPS pulses the GPS receiver's reset line.
func (s *Session) ResetGPS() error {
	return s.command(codeGPSReset, []byte{resetPulse})
}

// ResetClock pulses the synthesizer's power-down/reset line. The register
// window is undefined afterwards until the chip is reprogrammed.
func (s *Session) ResetClock() error {
	return s.command(codeClockPdn, []byte{resetPulse})
}

// RebootCPU restarts the control firmware. The board re-enumerates, so the
// session is unusable afterwards and the caller must reconnect.
func (s *Session) RebootCPU() error {
	return s.command(codeCPUReboot, nil)
}

// RefreshStatus asks the firmware to poll and latch the synthesizer's status
// flags, which then appear in the register window.
func (s *Session) RefreshStatus() error {
	return s.command(codeClockStatus, nil)
}

// ReadRegisters fills buf from the synthesizer register space starting at
// addr, in frame-sized chunks.
func (s *Session) ReadRegisters(addr uint16, buf []byte) error {
	for done := 0; done < len(buf); {
		todo := len(buf) - done
		if todo > readChunk {
			todo = readChunk
		}
		req := []byte{byte(todo), 0, 0}
		binary.BigEndian.PutUint16(req[1:], addr+uint16(done))
		m, err := s.retrieve(codeClockRead, req)
		if err != nil {
			return err
		}
		if len(m.Payload) != todo {
			return errors.Errorf("device: register read returned %d of %d bytes", len(m.Payload), todo)
		}
		copy(buf[done:], m.Payload)
		done += todo
	}
	return nil
}

// WriteRegisters writes data to the synthesizer register space starting at
// addr, in frame-sized chunks.
func (s *Session) WriteRegisters(addr uint16, data []byte) error {
	for done := 0; done < len(data); {
		todo := len(data) - done
		if todo > writeChunk {
			todo = writeChunk
		}
		req := make([]byte, 2, 2+todo)
		binary.BigEndian.PutUint16(req, addr+uint16(done))
		req = append(req, data[done:done+todo]...)
		if err := s.command(codeClockWrite, req); err != nil {
			return err
		}
		done += todo
	}
	return nil
}

func (s *Session) ReadRegister(addr uint16) (byte, error) {
	var b [1]byte
	if err := s.ReadRegisters(addr, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (s *Session) WriteRegister(addr uint16, value byte) error {
	return s.WriteRegisters(addr, []byte{value})
}

// Snapshot reads the synthesizer's whole register window.
func (s *Session) Snapshot() ([]byte, error) {
	buf := make([]byte, chip.DataSize)
	if err := s.ReadRegisters(0, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Push applies writes in order. Runs of consecutive addresses collapse into
// bulk writes; ordering across runs is preserved, which keeps update strobes
// after the values they latch.
func (s *Session) Push(writes []chip.RegisterWrite) error {
	for i := 0; i < len(writes); {
		j := i + 1
		for j < len(writes) && writes[j].Addr == writes[j-1].Addr+1 {
			j++
		}
		data := make([]byte, 0, j-i)
		for _, w := range writes[i:j] {
			data = append(data, w.Value)
		}
		if err := s.WriteRegisters(writes[i].Addr, data); err != nil {
			return err
		}
		i = j
	}
	return nil
}
