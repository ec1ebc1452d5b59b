package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"epdpi/internal/battery"
	"epdpi/internal/bus"
	"epdpi/internal/button"
	"epdpi/internal/compose"
	"epdpi/internal/config"
	"epdpi/internal/dispatch"
	"epdpi/internal/epd"
	"epdpi/internal/gate"
	"epdpi/internal/layout"
	appLog "epdpi/internal/log"
	"epdpi/internal/palette"
	"epdpi/internal/protocol"
	"epdpi/internal/schedule"
	"epdpi/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	renderOnly bool
	standalone bool
	onceDraw   string
}

func main() {
	os.Exit(run())
}

func run() int {
	appLog.Info("epdpi starting", "version", version)

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		if conf == nil {
			appLog.Error("failed to load config", err, "config_path", flags.configPath)
			return 1
		}
		appLog.Warn("could not write default config, continuing with defaults", "config_path", flags.configPath, "err", err.Error())
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Web.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"device_id", conf.DeviceID,
		"redis", conf.Redis.Addr,
		"subscribe", conf.Redis.SubscribeChannel,
		"publish", conf.Redis.PublishChannel,
		"driver", conf.EPD.Driver,
		"canvas", fmt.Sprintf("%dx%d", conf.Canvas.Width, conf.Canvas.Height),
		"listen", conf.Web.Listen,
		"clock", conf.Clock.Enabled,
		"button", conf.Button.Enabled,
		"render_only", flags.renderOnly,
		"standalone", flags.standalone,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	fonts, err := compose.LoadFonts(conf.Font.Path)
	if err != nil {
		appLog.Error("failed to load font", err, "path", conf.Font.Path)
		return 1
	}
	comp := compose.New(conf.Canvas.Width, conf.Canvas.Height, fonts)

	driverKind := conf.EPD.Driver
	if flags.renderOnly {
		driverKind = "noop"
	}
	if err := epd.CheckCanvas(driverKind, conf.Canvas.Width, conf.Canvas.Height); err != nil {
		appLog.Error("canvas does not fit the panel driver", err, "driver", driverKind)
		return 1
	}
	drv, err := epd.New(epd.Options{
		Kind:    driverKind,
		SPIPort: conf.EPD.SPIPort,
		SpeedHz: conf.EPD.SpeedHz,
		Pins:    epd.Pins(conf.EPD.Pins),
	})
	if err != nil {
		appLog.Error("failed to create panel driver", err)
		return 1
	}

	var (
		busyFlag gate.Flag
		pub      dispatch.Publisher
		rdb      *bus.Redis
	)
	if flags.standalone {
		busyFlag = &gate.MemoryFlag{}
		pub = logPublisher{id: conf.DeviceID}
	} else {
		rdb, err = bus.Dial(ctx, bus.Options{
			Addr:             conf.Redis.Addr,
			Password:         conf.Redis.Password,
			DB:               conf.Redis.DB,
			SubscribeChannel: conf.Redis.SubscribeChannel,
			PublishChannel:   conf.Redis.PublishChannel,
			DeviceID:         conf.DeviceID,
		})
		if err != nil {
			appLog.Error("failed to connect to redis", err, "addr", conf.Redis.Addr)
			return 1
		}
		defer rdb.Close()
		busyFlag = gate.NewRedisFlag(rdb.Client(), conf.Redis.BusyKey)
		pub = rdb
	}

	g := gate.New(busyFlag, gate.EnvAuthorizer{Var: conf.Machine.EnvVar}, pub)
	if err := g.Reset(ctx); err != nil {
		appLog.Error("failed to reset busy flag", err)
		return 1
	}

	d := dispatch.New(g, comp, drv, pub, dispatch.Options{
		Channel:   conf.Redis.SubscribeChannel,
		Width:     conf.Canvas.Width,
		Height:    conf.Canvas.Height,
		Dither:    conf.Dither,
		OpTimeout: conf.OpTimeout,
	})

	if flags.onceDraw != "" {
		d.Handle(ctx, conf.Redis.SubscribeChannel, flags.onceDraw)
		res, _, ok := d.LastResult()
		if !ok || res.Code != protocol.Success {
			return 1
		}
		return 0
	}

	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	var clock *schedule.Clock
	if conf.Clock.Enabled || (conf.Button.Enabled && conf.Button.Action == "draw") {
		clock, err = newClock(conf.Clock, d)
		if err != nil {
			appLog.Error("invalid clock config", err)
			return 1
		}
	}
	if conf.Clock.Enabled {
		goRun(func() { clock.Run(ctx) })
	}

	if conf.Button.Enabled {
		btn, err := button.Open(conf.Button.Pin)
		if err != nil {
			appLog.Error("failed to open button", err, "pin", conf.Button.Pin)
			return 1
		}
		action := func(ctx context.Context) { d.Clear(ctx) }
		if conf.Button.Action == "draw" {
			action = func(ctx context.Context) { clock.Tick(ctx) }
		}
		goRun(func() { btn.Run(ctx, action) })
	}

	if conf.Web.Listen != "" {
		var bat battery.Reader
		if conf.Battery.Enabled {
			bat = battery.NewCached(battery.NewI2C(conf.Battery.Bus, conf.Battery.Addr), 30*time.Second)
		}
		srv := web.NewServer(conf.Web, conf.DeviceID, d, bat)
		goRun(func() {
			if err := srv.Run(ctx); err != nil {
				appLog.Error("HTTP server stopped", err)
			}
		})
	}

	code := 0
	if rdb != nil {
		if err := rdb.Listen(ctx, d.Handle); err != nil {
			appLog.Error("command listener failed", err)
			code = 1
		}
	} else {
		<-ctx.Done()
	}

	cancel()
	wg.Wait()
	appLog.Info("epdpi exiting", "code", code)
	return code
}

func newClock(c config.ClockConfig, d schedule.Drawer) (*schedule.Clock, error) {
	mode := layout.Mode(c.Mode)
	if !mode.Valid() {
		return nil, fmt.Errorf("clock mode %d out of range", c.Mode)
	}
	fg, shadow := palette.Color(c.Color), palette.Color(c.Shadow)
	if !fg.Valid() || !shadow.Valid() {
		return nil, fmt.Errorf("clock colors %d/%d out of range", c.Color, c.Shadow)
	}
	return schedule.NewClock(c.Cron, c.Format, compose.Request{
		ImagePath: c.Image,
		Mode:      mode,
		Color:     fg,
		Shadow:    shadow,
		Grid:      c.Grid,
	}, d)
}

// logPublisher stands in for the broker in standalone mode.
type logPublisher struct {
	id string
}

func (p logPublisher) Publish(_ context.Context, msg string) error {
	appLog.Info("publish", "msg", protocol.WithID(p.id, msg))
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", config.DefaultPath, "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.renderOnly, "render-only", false, "Compose and encode only; do not touch display hardware")
	flag.BoolVar(&cfg.standalone, "standalone", false, "Run without Redis: in-memory busy flag, results logged")
	flag.StringVar(&cfg.onceDraw, "once-draw", "", "Handle one command payload (e.g. 'draw^^12:30^22^2^0^0') and exit")

	flag.Parse()

	return cfg
}
