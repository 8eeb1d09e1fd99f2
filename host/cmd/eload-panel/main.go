// Command eload-panel is an interactive control panel for the load.
//
// Usage:
//
//	eload-panel [flags]
//
// Flags:
//
//	-device string     Serial device path (default "/dev/ttyUSB0")
//	-baud int          Baud rate (default 115200)
//	-tcp string        Dial a simulator at host:port instead of a serial device
//	-trace string      Record every register exchange to this CBOR file
//	-keepalive dur     Watchdog reload interval (default 250ms)
//	-log-level string  Log level: debug, info, warn, error (default "info")
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"eload/host/panel"
	"eload/host/serial"
	"eload/host/trace"
)

var (
	device    = flag.String("device", "/dev/ttyUSB0", "Serial device path")
	baud      = flag.Int("baud", 115200, "Baud rate")
	tcpAddr   = flag.String("tcp", "", "Dial a simulator at host:port instead of a serial device")
	tracePath = flag.String("trace", "", "Record register exchanges to this CBOR file")
	keepalive = flag.Duration("keepalive", panel.DefaultKeepalive, "Watchdog reload interval")
	logLevel  = flag.String("log-level", "info", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q\n", *logLevel)
		os.Exit(2)
	}

	if err := run(level); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(level slog.Level) error {
	sh, err := newShell()
	if err != nil {
		return err
	}
	log := slog.New(slog.NewTextHandler(sh.Stderr(), &slog.HandlerOptions{Level: level}))

	port, err := openPort()
	if err != nil {
		sh.Close()
		return err
	}

	opts := []panel.Option{panel.WithLogger(log), panel.WithKeepalive(*keepalive)}
	var rec *trace.Recorder
	if *tracePath != "" {
		f, err := os.Create(*tracePath)
		if err != nil {
			port.Close()
			sh.Close()
			return fmt.Errorf("failed to create trace file: %w", err)
		}
		rec = trace.NewRecorder(f)
		defer rec.Close()
		opts = append(opts, panel.WithObserver(rec))
		log.Info("tracing", "file", *tracePath, "session", rec.Session())
	}

	p := panel.New(port, opts...)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	err = p.Identify(ctx)
	cancel()
	if err != nil {
		sh.Close()
		return err
	}
	log.Info("connected", "link", linkName())

	p.StartKeepalive()
	sh.panel, sh.trace, sh.log = p, rec, log
	sh.Run()
	return nil
}

func linkName() string {
	if *tcpAddr != "" {
		return "tcp://" + *tcpAddr
	}
	return *device
}

func openPort() (io.ReadWriteCloser, error) {
	if *tcpAddr != "" {
		conn, err := net.DialTimeout("tcp", *tcpAddr, 2*time.Second)
		if err != nil {
			return nil, fmt.Errorf("failed to dial simulator: %w", err)
		}
		return conn, nil
	}
	cfg := serial.DefaultConfig(*device)
	cfg.Baud = *baud
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return port, nil
}
