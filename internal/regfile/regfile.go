// Package regfile reads and writes flat register tables in the vendor tool's
// export format: one "R<n> 0x<hex>" line per register, where the hex value is
// the address in the upper bits and the register byte in the low 8.
package regfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"gpsfreak/internal/chip"
)

// Table is a sparse register image: only addresses that appeared in the
// source (file or device window) are considered set.
type Table struct {
	data [chip.DataSize]byte
	mask [chip.DataSize]bool
}

// New returns an empty table.
func New() *Table { return &Table{} }

// FromWindow builds a fully populated table from a device register window.
func FromWindow(window []byte) (*Table, error) {
	if len(window) < chip.DataSize {
		return nil, errors.Errorf("regfile: window of %d bytes, need %d", len(window), chip.DataSize)
	}
	t := New()
	for i := 0; i < chip.DataSize; i++ {
		t.data[i] = window[i]
		t.mask[i] = true
	}
	return t, nil
}

// Set records a register value.
func (t *Table) Set(addr uint16, value byte) {
	t.data[addr] = value
	t.mask[addr] = true
}

// Get returns the value at addr and whether it is set.
func (t *Table) Get(addr uint16) (byte, bool) {
	return t.data[addr], t.mask[addr]
}

// Writes returns the table's registers as an ordered write sequence, skipping
// addresses the device does not accept bulk writes to.
func (t *Table) Writes() []chip.RegisterWrite {
	var ws []chip.RegisterWrite
	for addr := uint16(0); addr < chip.DataSize; addr++ {
		if !t.mask[addr] || !chip.Writable(addr) {
			continue
		}
		ws = append(ws, chip.RegisterWrite{Addr: addr, Value: t.data[addr], Index: len(ws)})
	}
	return ws
}

// Window renders the table as a full register window; unset registers read
// as zero.
func (t *Table) Window() []byte {
	w := make([]byte, chip.DataSize)
	copy(w, t.data[:])
	return w
}

// Read parses the "R<n> 0x<hex>" line format.
func Read(r io.Reader) (*Table, error) {
	t := New()
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 || !strings.HasPrefix(fields[0], "R") {
			return nil, errors.Errorf("regfile: line %d: want \"R<n> 0x<hex>\"", line)
		}
		addr, err := strconv.ParseUint(fields[0][1:], 10, 16)
		if err != nil {
			return nil, errors.Wrapf(err, "regfile: line %d: register number", line)
		}
		value, err := strconv.ParseUint(fields[1], 0, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "regfile: line %d: register value", line)
		}
		// The value embeds its own address; a mismatch means a corrupt or
		// misaligned file.
		if value>>8 != addr {
			return nil, errors.Errorf("regfile: line %d: value %#x does not belong to R%d", line, value, addr)
		}
		if addr >= chip.DataSize {
			return nil, errors.Errorf("regfile: line %d: R%d outside the register window", line, addr)
		}
		t.Set(uint16(addr), byte(value))
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "regfile: read")
	}
	return t, nil
}

// Write emits the table in the same line format, ascending by address.
func (t *Table) Write(w io.Writer) error {
	for addr := 0; addr < chip.DataSize; addr++ {
		if !t.mask[addr] {
			continue
		}
		v := uint32(addr)<<8 | uint32(t.data[addr])
		if _, err := fmt.Fprintf(w, "R%d\t0x%06X\n", addr, v); err != nil {
			return errors.Wrap(err, "regfile: write")
		}
	}
	return nil
}

// Load reads a register file from disk.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "regfile: open")
	}
	defer f.Close()
	return Read(f)
}

// Save writes the table to disk.
func (t *Table) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "regfile: create")
	}
	if err := t.Write(f); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "regfile: close")
}
