package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"eload/core"
	"eload/host/panel"
	"eload/host/trace"
	"eload/protocol"
)

// shell is the interactive command loop.
type shell struct {
	rl    *readline.Instance
	panel *panel.Panel
	trace *trace.Recorder
	log   *slog.Logger
}

func newShell() (*shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "eload> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &shell{rl: rl}, nil
}

// Stderr returns a writer that does not corrupt the prompt.
func (s *shell) Stderr() io.Writer {
	return s.rl.Stderr()
}

func (s *shell) Close() {
	s.rl.Close()
}

func (s *shell) out() io.Writer {
	return s.rl.Stdout()
}

// Run reads commands until quit or EOF.
func (s *shell) Run() {
	defer s.rl.Close()

	s.printHelp()
	for {
		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			return
		}

		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) == 0 {
			continue
		}
		cmd := strings.ToLower(parts[0])
		if cmd == "quit" || cmd == "exit" || cmd == "q" {
			s.disable()
			return
		}
		if err := s.exec(cmd, parts[1:]); err != nil {
			fmt.Fprintf(s.out(), "Error: %v\n", err)
		}
	}
}

func (s *shell) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}

func (s *shell) exec(cmd string, args []string) error {
	ctx, cancel := s.ctx()
	defer cancel()

	switch cmd {
	case "help", "?":
		s.printHelp()

	case "regs":
		for _, r := range protocol.Registers() {
			access := "R "
			if r.Writable {
				access = "RW"
			}
			fmt.Fprintf(s.out(), "  0x%02x  %s  %s\n", r.Address, access, r.Name)
		}

	case "read", "r":
		if len(args) != 1 {
			return fmt.Errorf("usage: read <register>")
		}
		v, err := s.panel.Read(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out(), "%s = %d (0x%04x)\n", args[0], v, v)

	case "write", "w":
		if len(args) != 2 {
			return fmt.Errorf("usage: write <register> <value>")
		}
		v, err := parseUint(args[1], 16)
		if err != nil {
			return err
		}
		return s.panel.Write(args[0], uint16(v))

	case "status", "s":
		st, err := s.panel.Status(ctx)
		if err != nil {
			return err
		}
		faults, err := s.panel.Faults(ctx)
		if err != nil {
			return err
		}
		mask, err := s.panel.FaultMask(ctx)
		if err != nil {
			return err
		}
		mode, src, err := s.panel.Mode(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out(), "status %s, mode %s, sense %s\nfaults %s, mask %s\n",
			st, mode, senseName(src), faults, mask)

	case "telemetry", "tel", "t":
		tel, err := s.panel.Telemetry(ctx)
		if err != nil {
			return err
		}
		fmt.Fprint(s.out(), tel)

	case "enable", "on":
		if err := s.panel.Enable(ctx); err != nil {
			return err
		}
		fmt.Fprintln(s.out(), "Load enabled")

	case "disable", "off":
		return s.panel.Disable(ctx)

	case "mode":
		return s.cmdMode(args)

	case "cc", "cv", "cr", "cp", "disch":
		return s.cmdLevel(cmd, args)

	case "fan":
		if len(args) != 1 {
			return fmt.Errorf("usage: fan <pwm 0-255>")
		}
		v, err := parseUint(args[0], 8)
		if err != nil {
			return err
		}
		return s.panel.SetFanOverride(uint8(v))

	case "clear":
		f := core.FaultAll
		if len(args) == 1 {
			v, err := parseUint(args[0], 16)
			if err != nil {
				return err
			}
			f = core.Fault(v)
		}
		return s.panel.ClearFaults(f)

	case "mask":
		if len(args) != 1 {
			return fmt.Errorf("usage: mask <bits>")
		}
		v, err := parseUint(args[0], 16)
		if err != nil {
			return err
		}
		return s.panel.SetFaultMask(core.Fault(v))

	case "trace":
		if s.trace == nil {
			fmt.Fprintln(s.out(), "Tracing is off (start with -trace <file>)")
			return nil
		}
		fmt.Fprintf(s.out(), "session %s, %d exchanges recorded\n", s.trace.Session(), s.trace.Count())
		return s.trace.Err()

	default:
		fmt.Fprintf(s.out(), "Unknown command: %s (type 'help' for available commands)\n", cmd)
	}
	return nil
}

func (s *shell) cmdMode(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: mode <cc|cv|cr|cp> [internal|remote|auto]")
	}
	modes := map[string]core.Mode{"cc": core.ModeCC, "cv": core.ModeCV, "cr": core.ModeCR, "cp": core.ModeCP}
	mode, ok := modes[strings.ToLower(args[0])]
	if !ok {
		return fmt.Errorf("unknown mode %q", args[0])
	}
	src := core.SenseInternal
	if len(args) == 2 {
		switch strings.ToLower(args[1]) {
		case "internal":
		case "remote":
			src = core.SenseRemote
		case "auto":
			src = core.SenseAuto
		default:
			return fmt.Errorf("unknown sense source %q", args[1])
		}
	}
	return s.panel.SetMode(mode, src)
}

// cmdLevel sets a setpoint given in base units (mA, mV, mOhm, mW).
func (s *shell) cmdLevel(cmd string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s <value>", cmd)
	}
	v, err := parseUint(args[0], 32)
	if err != nil {
		return err
	}
	value := uint32(v)
	switch cmd {
	case "cc":
		return s.panel.SetCurrent(value)
	case "cv":
		return s.panel.SetVoltage(value)
	case "cr":
		return s.panel.SetResistance(value)
	case "cp":
		return s.panel.SetPower(value)
	default:
		return s.panel.SetDischarge(value)
	}
}

func (s *shell) disable() {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.panel.Disable(ctx); err != nil {
		s.log.Warn("disable on exit failed", "err", err)
	}
}

func parseUint(arg string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(arg, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", arg, err)
	}
	return v, nil
}

func senseName(src core.SenseSource) string {
	switch src {
	case core.SenseRemote:
		return "remote"
	case core.SenseAuto:
		return "auto"
	default:
		return "internal"
	}
}

func (s *shell) printHelp() {
	w := s.out()
	fmt.Fprintln(w, "\nAvailable commands:")
	fmt.Fprintln(w, "  help                 - Show this help message")
	fmt.Fprintln(w, "  regs                 - List the register map")
	fmt.Fprintln(w, "  read <reg>           - Read a register by name")
	fmt.Fprintln(w, "  write <reg> <value>  - Write a register by name")
	fmt.Fprintln(w, "  status               - Show status, mode and faults")
	fmt.Fprintln(w, "  telemetry            - Show measurements and totals")
	fmt.Fprintln(w, "  enable / disable     - Switch the load on or off")
	fmt.Fprintln(w, "  mode <m> [sense]     - Select cc/cv/cr/cp and internal/remote/auto sense")
	fmt.Fprintln(w, "  cc|cv|cr|cp <value>  - Set a level in mA, mV, mOhm or mW")
	fmt.Fprintln(w, "  disch <mV>           - Set the discharge cut-off, 0 disables")
	fmt.Fprintln(w, "  fan <pwm>            - Request a minimum fan PWM")
	fmt.Fprintln(w, "  clear [bits]         - Clear faults (default all)")
	fmt.Fprintln(w, "  mask <bits>          - Set the fault mask")
	fmt.Fprintln(w, "  trace                - Show trace recorder state")
	fmt.Fprintln(w, "  quit/exit/q          - Disable the load and exit")
	fmt.Fprintln(w)
}
