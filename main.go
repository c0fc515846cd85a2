// Package main wires the on-air routing controller: the SymNet device
// client, the studios and the dispatcher state machine.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/MatusOllah/slogcolor"
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/pflag"

	"github.com/studiokoppel/onair/dispatcher"
	"github.com/studiokoppel/onair/studio"
	"github.com/studiokoppel/onair/symnet"
)

var isVerbose = pflag.Bool("verbose", false, "Enable display of DEBUG log messages")
var configPath = pflag.String("config", "config.yaml", "Path to the configuration file")
var useDummy = pflag.Bool("dummy", false, "Run without a device, against a local dummy selector")

func main() {
	// Command line arguments
	pflag.Parse()

	// Logging
	opts := slogcolor.DefaultOptions
	switch *isVerbose {
	case true:
		opts.Level = slog.LevelDebug
	case false:
		opts.Level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slogcolor.NewHandler(os.Stderr, opts)))
	slog.Debug("Debug messages look like this")

	// Config
	conf, err := loadConfig(*configPath)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			slog.Error("Configuration file does not exist.", "fn", *configPath)
		default:
			slog.Error("Unable to load configuration file", "fn", *configPath, "err", err)
		}
		os.Exit(1)
	}

	// Device / selector
	var (
		sel dispatcher.Selector
		dev *symnet.Device
	)
	if *useDummy {
		slog.Info("Running against a dummy selector, no device traffic")
		sel, err = symnet.NewDummySelector(conf.Selector.Controller, conf.Selector.Positions, slog.Default())
	} else {
		dev, err = symnet.NewDevice(conf.Local.Addr(), conf.Remote.Addr(), slog.Default())
		if err == nil {
			defer dev.Close()
			sel, err = dev.DefineSelector(conf.Selector.Controller, conf.Selector.Positions)
		}
	}
	if err != nil {
		slog.Error("Unable to set up the source selector", "err", err)
		os.Exit(1)
	}

	// Studios with their lamps and buttons
	defs := make([]dispatcher.StudioDefinition, 0, len(conf.Studios))
	for _, sc := range conf.Studios {
		st := studio.New(sc.Name,
			studio.NewDummyLamp(sc.Name+"/green"),
			studio.NewDummyLamp(sc.Name+"/yellow"),
			studio.NewDummyLamp(sc.Name+"/red"),
		)
		st.AttachButton(studio.ButtonTakeover, studio.NewDummyButton(sc.Name+"/takeover"))
		st.AttachButton(studio.ButtonRelease, studio.NewDummyButton(sc.Name+"/release"))
		st.AttachButton(studio.ButtonImmediate, studio.NewDummyButton(sc.Name+"/immediate"))
		defs = append(defs, dispatcher.StudioDefinition{Studio: st, SelectorValue: sc.Selector})
	}

	disp, err := dispatcher.New(sel, conf.Automat, defs, dispatcher.Options{
		ImmediateStateTime:   time.Duration(conf.ImmediateStateSeconds) * time.Second,
		ImmediateReleaseTime: time.Duration(conf.ImmediateReleaseSeconds) * time.Second,
		StateFile:            conf.StateFile,
		Audit:                slog.New(slog.NewTextHandler(os.Stdout, nil)),
	})
	if err != nil {
		slog.Error("Unable to set up the dispatcher", "err", err)
		os.Exit(1)
	}

	disp.Load()
	disp.Start()

	// Signal handling
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	slog.Info("Starting main loop", "on_air", disp.OnAirStudioName())
loop:
	for {
		select {
		case <-time.After(10 * time.Second):
			slog.Debug("Status", "dispatcher", spew.Sdump(disp.Status()))
			if dev != nil {
				slog.Debug("Protocol stats", "stats", dev.Stats())
			}
		case <-ctx.Done():
			slog.Info("Exiting due to signal")
			break loop
		}
	}

	disp.Stop()
}
