package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ericogr/pulsestim/pkg/config"
	"github.com/ericogr/pulsestim/pkg/control"
	"github.com/ericogr/pulsestim/pkg/output"
	"github.com/ericogr/pulsestim/pkg/output/console"
	"github.com/ericogr/pulsestim/pkg/output/mqtt"
	"github.com/ericogr/pulsestim/pkg/output/serial"
)

func main() {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	fmt.Printf("starting (hardware=%s, tick=%dms)...\n", cfg.HardwareType, cfg.TickMs)

	dev, err := openHardware(cfg)
	if err != nil {
		log.Fatalf("hardware: %v", err)
	}
	defer func() {
		if err := dev.Close(); err != nil {
			log.Printf("hardware close: %v", err)
		}
	}()

	entries, err := initOutputs(&cfg, cfg.IntervalMs)
	if err != nil {
		log.Fatalf("outputs: %v", err)
	}
	disp := output.NewDispatcher(entries)
	defer func() {
		if err := disp.Close(); err != nil {
			log.Printf("outputs close: %v", err)
		}
	}()

	loop := control.New(dev.Hardware, disp, control.Options{
		Period:   time.Duration(cfg.TickMs) * time.Millisecond,
		Channels: channels(cfg),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(ctx) })
	g.Go(func() error { return disp.Run(ctx) })
	if err := g.Wait(); err != nil {
		log.Printf("stopped: %v", err)
	}
	fmt.Println("stopped")
}

func channels(cfg config.Config) control.Channels {
	return control.Channels{
		Delay:     cfg.Channels.Delay,
		OnTime:    cfg.Channels.OnTime,
		Amplitude: cfg.Channels.Amplitude,
	}
}

// initOutputs creates the configured outputs. Outputs without an interval get
// defaultInterval, written back to cfg.
func initOutputs(cfg *config.Config, defaultInterval int) ([]output.Entry, error) {
	entries := make([]output.Entry, 0, len(cfg.Outputs))
	for i := range cfg.Outputs {
		oc := &cfg.Outputs[i]
		if oc.IntervalMs <= 0 {
			oc.IntervalMs = defaultInterval
		}
		var (
			o   output.Output
			err error
		)
		switch strings.ToLower(oc.Type) {
		case "console":
			o = console.NewConsole()
		case "mqtt":
			if oc.MQTT == nil {
				err = fmt.Errorf("mqtt output requires mqtt settings")
				break
			}
			m := *oc.MQTT
			if m.Server == "" {
				m.Server = mqtt.DefaultServer
			}
			if m.ClientID == "" {
				m.ClientID = mqtt.DefaultClientID
			}
			o, err = mqtt.NewMQTT(m)
		case "serial":
			if oc.Serial == nil {
				err = fmt.Errorf("serial output requires serial settings")
				break
			}
			o, err = serial.NewSerial(*oc.Serial)
		default:
			err = fmt.Errorf("unknown output type %q", oc.Type)
		}
		if err != nil {
			for _, e := range entries {
				_ = e.Output.Close()
			}
			return nil, err
		}
		entries = append(entries, output.Entry{Type: oc.Type, Output: o, IntervalMs: oc.IntervalMs})
	}
	return entries, nil
}
