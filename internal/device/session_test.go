package device

import (
	"bytes"
	"encoding/binary"
	"testing"

	"gpsfreak/internal/chip"
	"gpsfreak/internal/planner"
	"gpsfreak/internal/rational"
)

// fakeBoard emulates the control firmware behind an io.ReadWriter: every
// complete frame written to it is answered into an internal read buffer.
type fakeBoard struct {
	in, out bytes.Buffer
	regs    [chip.DataSize]byte

	// noise is prepended to the first reply to exercise resynchronization.
	noise []byte
	// refuseWrites makes register writes answer with a nack.
	refuseWrites bool
	writeCmds    int
	readCmds     int
	resetCmds    []byte
}

func (f *fakeBoard) Write(p []byte) (int, error) {
	f.in.Write(p)
	for f.handleFrame() {
	}
	return len(p), nil
}

func (f *fakeBoard) Read(p []byte) (int, error) {
	return f.out.Read(p)
}

func (f *fakeBoard) handleFrame() bool {
	b := f.in.Bytes()
	if len(b) < frameOverhead || int(b[3])+frameOverhead > len(b) {
		return false
	}
	n := int(b[3]) + frameOverhead
	m, err := deframe(b[:n])
	f.in.Next(n)
	if err != nil {
		return true // firmware drops bad frames silently
	}
	f.reply(m)
	return true
}

func (f *fakeBoard) send(code byte, payload []byte) {
	if f.noise != nil {
		f.out.Write(f.noise)
		f.noise = nil
	}
	frame, err := appendFrame(nil, code, payload)
	if err != nil {
		panic(err)
	}
	f.out.Write(frame)
}

func (f *fakeBoard) reply(m Message) {
	switch m.Code {
	case codePing:
		f.send(codePing|0x80, m.Payload)
	case codeProtocolVersion:
		v := make([]byte, 4)
		binary.LittleEndian.PutUint32(v, 7)
		f.send(codeProtocolVersion|0x80, v)
	case codeSerialNumber:
		f.send(codeSerialNumber|0x80, []byte{0xde, 0xad, 0xbe, 0xef})
	case codeGPSReset, codeClockPdn, codeCPUReboot, codeClockStatus:
		f.resetCmds = append(f.resetCmds, m.Code)
		f.send(ack, nil)
	case codeClockRead:
		f.readCmds++
		n := int(m.Payload[0])
		addr := binary.BigEndian.Uint16(m.Payload[1:3])
		f.send(codeClockRead|0x80, f.regs[addr:int(addr)+n])
	case codeClockWrite:
		f.writeCmds++
		if f.refuseWrites {
			f.send(nack, []byte{m.Code})
			return
		}
		addr := binary.BigEndian.Uint16(m.Payload[:2])
		copy(f.regs[addr:], m.Payload[2:])
		f.send(ack, nil)
	default:
		f.send(nack, []byte{m.Code})
	}
}

func TestSessionPing(t *testing.T) {
	s := NewSession(&fakeBoard{})
	if err := s.Ping([]byte("anyone home")); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestSessionIdentity(t *testing.T) {
	s := NewSession(&fakeBoard{})
	v, err := s.ProtocolVersion()
	if err != nil || v != 7 {
		t.Fatalf("ProtocolVersion = %d, %v", v, err)
	}
	sn, err := s.SerialNumber()
	if err != nil || !bytes.Equal(sn, []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Fatalf("SerialNumber = % x, %v", sn, err)
	}
}

func TestSessionResync(t *testing.T) {
	// Boot chatter before the first reply, including a stray magic prefix.
	b := &fakeBoard{noise: []byte{0x00, 'b', 'o', 'o', 't', magic[0], 0x55, magic[0]}}
	s := NewSession(b)
	if err := s.Ping([]byte("x")); err != nil {
		t.Fatalf("Ping through noise: %v", err)
	}
}

func TestSessionResetCommands(t *testing.T) {
	b := &fakeBoard{}
	s := NewSession(b)
	if err := s.ResetGPS(); err != nil {
		t.Fatalf("ResetGPS: %v", err)
	}
	if err := s.ResetClock(); err != nil {
		t.Fatalf("ResetClock: %v", err)
	}
	if err := s.RebootCPU(); err != nil {
		t.Fatalf("RebootCPU: %v", err)
	}
	want := []byte{codeGPSReset, codeClockPdn, codeCPUReboot}
	if !bytes.Equal(b.resetCmds, want) {
		t.Fatalf("board saw % x, want % x", b.resetCmds, want)
	}
}

func TestSessionRegisterChunking(t *testing.T) {
	b := &fakeBoard{}
	s := NewSession(b)

	data := make([]byte, chip.DataSize)
	for i := range data {
		data[i] = byte(i * 7)
	}
	if err := s.WriteRegisters(0, data); err != nil {
		t.Fatalf("WriteRegisters: %v", err)
	}
	if !bytes.Equal(b.regs[:], data) {
		t.Fatalf("register window differs after bulk write")
	}
	if want := (chip.DataSize + writeChunk - 1) / writeChunk; b.writeCmds != want {
		t.Fatalf("bulk write used %d commands, want %d", b.writeCmds, want)
	}

	got, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("snapshot differs from written window")
	}
	if want := (chip.DataSize + readChunk - 1) / readChunk; b.readCmds != want {
		t.Fatalf("snapshot used %d commands, want %d", b.readCmds, want)
	}
}

func TestSessionSingleRegister(t *testing.T) {
	b := &fakeBoard{}
	s := NewSession(b)
	if err := s.WriteRegister(42, 0xa5); err != nil {
		t.Fatalf("WriteRegister: %v", err)
	}
	v, err := s.ReadRegister(42)
	if err != nil || v != 0xa5 {
		t.Fatalf("ReadRegister = %#02x, %v", v, err)
	}
}

func TestSessionNack(t *testing.T) {
	b := &fakeBoard{refuseWrites: true}
	s := NewSession(b)
	err := s.WriteRegister(0, 1)
	rf, ok := err.(*RequestFailed)
	if !ok {
		t.Fatalf("want *RequestFailed, got %v", err)
	}
	if rf.Reply != nack {
		t.Fatalf("reply code %#02x, want nack", rf.Reply)
	}
}

func TestSessionPushPreservesOrder(t *testing.T) {
	b := &fakeBoard{}
	s := NewSession(b)
	writes := []chip.RegisterWrite{
		{Addr: 10, Value: 1, Index: 0},
		{Addr: 11, Value: 2, Index: 1},
		{Addr: 12, Value: 3, Index: 2},
		{Addr: 20, Value: 4, Index: 3},
	}
	if err := s.Push(writes); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if b.regs[10] != 1 || b.regs[11] != 2 || b.regs[12] != 3 || b.regs[20] != 4 {
		t.Fatalf("registers not applied: % x", b.regs[8:24])
	}
	if b.writeCmds != 2 {
		t.Fatalf("contiguous run not coalesced: %d commands", b.writeCmds)
	}
}

// TestApplyRoundTrip drives the full path: plan, encode, push to the fake
// board, snapshot it back and verify the decoded frequencies.
func TestApplyRoundTrip(t *testing.T) {
	c := chip.Default()
	ref := rational.FromInt(8_844_582)
	var req planner.Request
	req.Targets[0].Freq = rational.FromInt(10_000_000)
	req.Targets[2].Freq = rational.FromInt(1)
	p, err := planner.Plan(c, ref, req, nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	writes, err := chip.Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	s := NewSession(&fakeBoard{})
	if err := s.Push(writes); err != nil {
		t.Fatalf("Push: %v", err)
	}
	window, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	back, err := chip.Decode(window, ref)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := p.Frequencies()
	got := back.Frequencies()
	for i := range want {
		if !want[i].Equal(got[i]) {
			t.Fatalf("out%d reads back %s, planned %s", i+1, got[i].FormatHz(), want[i].FormatHz())
		}
	}
}
