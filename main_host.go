//go:build !tinygo

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"nanokern/app"
	"nanokern/hal"
)

func main() {
	var cfg hal.HeadlessConfig
	var configPath, logLevel string
	var console bool
	flag.BoolVar(&cfg.Enabled, "headless", false, "Run without a window.")
	flag.IntVar(&cfg.Hz, "hz", 60, "Frame rate in headless mode.")
	flag.Uint64Var(&cfg.Ticks, "ticks", 0, "Stop after N frames in headless mode (0 = run forever).")
	flag.StringVar(&configPath, "config", "", "JSON boot configuration.")
	flag.StringVar(&logLevel, "log-level", "", "Log level (DEBUG, INFO, WARNING, ...).")
	flag.BoolVar(&console, "console", false, "Mirror the log on the display.")
	flag.Parse()

	bootCfg, err := app.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if logLevel != "" {
		bootCfg.LogLevel = logLevel
	}
	if console {
		bootCfg.Console = true
	}

	newApp := func(h hal.HAL) (func() error, func(), error) {
		s, err := app.New(h, bootCfg)
		if err != nil {
			return nil, nil, err
		}
		s.Start()
		return s.Step, func() {
			if err := s.Shutdown(); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		}, nil
	}

	if cfg.Enabled {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := hal.RunHeadless(ctx, newApp, cfg); err != nil {
			if err == context.Canceled {
				return
			}
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := hal.RunWindow(newApp); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
