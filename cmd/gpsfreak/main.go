// gpsfreak is the control tool for the GPS Freak clock synthesizer board:
// it plans output frequencies, pushes them to the hardware, and provides
// bring-up helpers (register access, register file upload/download, GPS
// time-pulse checks).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"gpsfreak/internal/chip"
	"gpsfreak/internal/config"
	"gpsfreak/internal/device"
	"gpsfreak/internal/planner"
	"gpsfreak/internal/ppsmon"
	"gpsfreak/internal/rational"
	"gpsfreak/internal/regfile"
)

// board is what the device-facing commands need from the hardware.
type board interface {
	device.Conn
	Ping(payload []byte) error
	ProtocolVersion() (uint32, error)
	SerialNumber() ([]byte, error)
	ResetGPS() error
	ResetClock() error
	RebootCPU() error
	RefreshStatus() error
}

var dialBoard = func(cfg config.Config) (board, io.Closer, error) {
	f, err := device.Open(cfg.Device.Path, cfg.Device.Baud)
	if err != nil {
		return nil, nil, err
	}
	return device.NewSession(f), f, nil
}

const usageText = `usage: gpsfreak [-config FILE] COMMAND [ARGS]

Frequency commands (FREQ is e.g. 10MHz, 100/3MHz, 8844582Hz; plain numbers
are MHz; "-" keeps an output unchanged, 0 turns it off; trailing outputs
default to unchanged):
  plan [-best-effort] [-baseline FILE] FREQ...   compute a plan, no device I/O
  apply [-best-effort] FREQ...                   plan against the device and push
  freq                                           report achieved frequencies
  refdiv                                         choose the GPS time-pulse divisor

Register commands:
  get ADDR            read one register
  set ADDR VALUE      write one register
  upload FILE         push a register file to the device
  save FILE           save the device's registers to a file

Housekeeping:
  ping                check the control link
  status              report board identity and clock state
  reset-gps           pulse the GPS receiver's reset line
  reset-clock         pulse the synthesizer's power-down/reset line
  reboot              restart the control firmware
  pps                 measure the time pulse on the configured GPIO line
`

func main() {
	log.SetFlags(0)
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("gpsfreak", flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", "", "Path to YAML config (optional; built-in defaults otherwise)")
	fs.Usage = func() { fmt.Fprint(out, usageText) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no command given")
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return fmt.Errorf("config load failed: %v", err)
		}
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "plan":
		return cmdPlan(cfg, rest, out)
	case "apply":
		return cmdApply(cfg, rest, out)
	case "freq", "frequencies":
		return cmdFreq(cfg, out)
	case "refdiv":
		return cmdRefDiv(cfg, out)
	case "get":
		return cmdGet(cfg, rest, out)
	case "set":
		return cmdSet(cfg, rest)
	case "upload":
		return cmdUpload(cfg, rest)
	case "save":
		return cmdSave(cfg, rest)
	case "ping":
		return cmdPing(cfg, out)
	case "status":
		return cmdStatus(cfg, out)
	case "reset-gps":
		return cmdResetGPS(cfg)
	case "reset-clock":
		return cmdResetClock(cfg)
	case "reboot":
		return cmdReboot(cfg)
	case "pps":
		return cmdPPS(cfg, out)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// parseTargets maps FREQ arguments onto the four outputs. Unspecified
// trailing outputs stay unchanged.
func parseTargets(args []string) (planner.Request, error) {
	var req planner.Request
	if len(args) == 0 {
		return req, errors.New("no frequencies given")
	}
	if len(args) > chip.NumOutputs {
		return req, fmt.Errorf("at most %d outputs, got %d", chip.NumOutputs, len(args))
	}
	for i := range req.Targets {
		if i >= len(args) || args[i] == "-" {
			req.Targets[i].Unchanged = true
			continue
		}
		f, err := rational.Parse(args[i])
		if err != nil {
			return req, fmt.Errorf("out%d: %v", i+1, err)
		}
		req.Targets[i].Freq = f
	}
	return req, nil
}

func cmdPlan(cfg config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	fs.SetOutput(out)
	bestEffort := fs.Bool("best-effort", false, "accept the closest achievable frequencies")
	baseline := fs.String("baseline", "", "register file giving the current state for unchanged outputs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req, err := parseTargets(fs.Args())
	if err != nil {
		return err
	}
	req.BestEffort = *bestEffort

	ref, err := cfg.ReferenceFreq()
	if err != nil {
		return err
	}
	var snapshot *chip.Plan
	if *baseline != "" {
		tab, err := regfile.Load(*baseline)
		if err != nil {
			return err
		}
		if snapshot, err = chip.Decode(tab.Window(), ref); err != nil {
			return fmt.Errorf("baseline: %v", err)
		}
	}

	p, err := planner.Plan(chip.Default(), ref, req, snapshot)
	if err != nil {
		return err
	}
	fmt.Fprint(out, p)
	return nil
}

func cmdApply(cfg config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("apply", flag.ContinueOnError)
	fs.SetOutput(out)
	bestEffort := fs.Bool("best-effort", false, "accept the closest achievable frequencies")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req, err := parseTargets(fs.Args())
	if err != nil {
		return err
	}
	req.BestEffort = *bestEffort

	ref, err := cfg.ReferenceFreq()
	if err != nil {
		return err
	}
	b, closer, err := dialBoard(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	window, err := b.Snapshot()
	if err != nil {
		return err
	}
	snapshot, err := chip.Decode(window, ref)
	if err != nil {
		return fmt.Errorf("current device state: %v", err)
	}
	p, err := planner.Plan(chip.Default(), ref, req, snapshot)
	if err != nil {
		return err
	}
	writes, err := chip.Encode(p)
	if err != nil {
		return err
	}
	if err := b.Push(writes); err != nil {
		return err
	}
	fmt.Fprint(out, p)
	return nil
}

func cmdFreq(cfg config.Config, out io.Writer) error {
	ref, err := cfg.ReferenceFreq()
	if err != nil {
		return err
	}
	b, closer, err := dialBoard(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	window, err := b.Snapshot()
	if err != nil {
		return err
	}
	p, err := chip.Decode(window, ref)
	if err != nil {
		return err
	}
	for i, f := range p.Frequencies() {
		fmt.Fprintf(out, "out%d: %s\n", i+1, f.FormatHz())
	}
	return nil
}

func cmdRefDiv(cfg config.Config, out io.Writer) error {
	p, err := cfg.RefDivParams()
	if err != nil {
		return err
	}
	d, err := planner.ChooseReferenceDivisor(p.Base, p.Lo, p.Hi, p.Avoid, p.Margin)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "divisor: %s\nfrequency: %s\naliasing distance: %s cycles\n",
		d.Divisor, d.Freq.FormatHz(), d.Distance)
	return nil
}

func parseAddr(s string) (uint16, error) {
	a, err := strconv.ParseUint(strings.TrimPrefix(s, "R"), 0, 16)
	if err != nil || a >= chip.DataSize {
		return 0, fmt.Errorf("bad register address %q", s)
	}
	return uint16(a), nil
}

func cmdGet(cfg config.Config, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: get ADDR")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	b, closer, err := dialBoard(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()
	v, err := b.ReadRegister(addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "R%d = 0x%02X\n", addr, v)
	return nil
}

func cmdSet(cfg config.Config, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: set ADDR VALUE")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	v, err := strconv.ParseUint(args[1], 0, 8)
	if err != nil {
		return fmt.Errorf("bad register value %q", args[1])
	}
	b, closer, err := dialBoard(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()
	return b.WriteRegister(addr, byte(v))
}

func cmdUpload(cfg config.Config, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: upload FILE")
	}
	tab, err := regfile.Load(args[0])
	if err != nil {
		return err
	}
	b, closer, err := dialBoard(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()
	return b.Push(tab.Writes())
}

func cmdSave(cfg config.Config, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: save FILE")
	}
	b, closer, err := dialBoard(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()
	window, err := b.Snapshot()
	if err != nil {
		return err
	}
	tab, err := regfile.FromWindow(window)
	if err != nil {
		return err
	}
	return tab.Save(args[0])
}

func cmdPing(cfg config.Config, out io.Writer) error {
	b, closer, err := dialBoard(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()
	if err := b.Ping([]byte("gpsfreak")); err != nil {
		return err
	}
	fmt.Fprintln(out, "ok")
	return nil
}

func cmdStatus(cfg config.Config, out io.Writer) error {
	ref, err := cfg.ReferenceFreq()
	if err != nil {
		return err
	}
	b, closer, err := dialBoard(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	v, err := b.ProtocolVersion()
	if err != nil {
		return err
	}
	sn, err := b.SerialNumber()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "protocol: %d\nserial: %x\n", v, sn)

	if err := b.RefreshStatus(); err != nil {
		return err
	}
	window, err := b.Snapshot()
	if err != nil {
		return err
	}
	p, err := chip.Decode(window, ref)
	if err != nil {
		return err
	}
	fmt.Fprint(out, p)
	return nil
}

func cmdResetGPS(cfg config.Config) error {
	b, closer, err := dialBoard(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()
	return b.ResetGPS()
}

func cmdResetClock(cfg config.Config) error {
	b, closer, err := dialBoard(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()
	return b.ResetClock()
}

func cmdReboot(cfg config.Config) error {
	b, closer, err := dialBoard(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()
	return b.RebootCPU()
}

func cmdPPS(cfg config.Config, out io.Writer) error {
	r, err := ppsmon.Monitor(context.Background(), ppsmon.Config{
		Chip:    cfg.PPS.Chip,
		Line:    cfg.PPS.Line,
		Edges:   cfg.PPS.Edges,
		Timeout: cfg.PPS.Timeout,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "edges: %d\nmean interval: %s (min %s, max %s)\nrate: %.6f Hz\n",
		r.Edges, r.Mean, r.Min, r.Max, r.Freq)
	return nil
}
