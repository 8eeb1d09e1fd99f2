// Command sim runs the load controller against a simulated power stage
// and exposes the register link on a serial device or a TCP port.
//
// Usage:
//
//	sim [flags]
//
// Flags:
//
//	-config string     YAML configuration file
//	-device string     Serial device for the slave link (overrides the config)
//	-listen string     Serve the link on a TCP address instead, e.g. :7070
//	-log-level string  Log level: debug, info, warn, error (default "info")
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"eload/config"
	"eload/core"
	"eload/host/serial"
	"eload/protocol"
	"eload/sim"
)

var (
	configPath = flag.String("config", "", "YAML configuration file")
	device     = flag.String("device", "", "Serial device for the slave link (overrides the config)")
	listen     = flag.String("listen", "", "Serve the link on a TCP address instead of a serial device")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q\n", *logLevel)
		os.Exit(2)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	core.SetDebugWriter(func(s string) { log.Debug(s) })

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("simulator stopped", "err", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if *configPath == "" {
		return config.Default(), nil
	}
	return config.LoadFile(*configPath)
}

func run(ctx context.Context, log *slog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	plant := sim.NewPlant(cfg.PlantConfig())
	hw, sampler := plant.Hardware(sim.NewClock())
	ctl := core.NewController(cfg.Settings(), hw)
	ctl.Start()
	defer ctl.DumpEvents()

	log.Info("simulated load started",
		"source_mv", cfg.Sim.SourceVoltageMV,
		"source_mohm", cfg.Sim.SourceResistanceMR,
		"fan_test", cfg.Settings().FanTest)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctl.Run(ctx) })
	g.Go(func() error { return sampler.Run(ctx) })
	g.Go(func() error {
		return plant.Run(ctx, time.Duration(cfg.Sim.StepMs)*time.Millisecond)
	})
	g.Go(func() error {
		if *listen != "" {
			return serveTCP(ctx, log, ctl.Engine(), *listen)
		}
		return serveSerial(ctx, log, ctl.Engine(), cfg.Serial)
	})
	return g.Wait()
}

func serveSerial(ctx context.Context, log *slog.Logger, engine *protocol.Engine, sc config.SerialConfig) error {
	dev := sc.Device
	if *device != "" {
		dev = *device
	}
	if dev == "" {
		return errors.New("no serial device configured (use -device or -listen)")
	}
	pcfg := serial.DefaultConfig(dev)
	pcfg.Baud = sc.Baud
	port, err := serial.Open(pcfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	go func() {
		<-ctx.Done()
		port.Close()
	}()

	log.Info("serving link", "device", dev, "baud", sc.Baud)
	link := protocol.NewLink(engine, port)
	link.RetryEOF = true
	err = link.Serve(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// serveTCP serves one panel connection at a time; the engine holds a
// single frame in progress.
func serveTCP(ctx context.Context, log *slog.Logger, engine *protocol.Engine, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	log.Info("serving link", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept: %w", err)
		}
		log.Info("panel connected", "remote", conn.RemoteAddr().String())

		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-done:
			}
		}()
		err = protocol.NewLink(engine, conn).Serve(ctx)
		close(done)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Info("panel disconnected", "err", err)
	}
}
