// Command mkboot writes a boot configuration for the host runner.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"nanokern/app"
)

func main() {
	cfg := app.DefaultConfig()
	var boot []string
	var (
		outPath = flag.String("out", "", "Output file (default stdout).")
		hz      = flag.Int("hz", cfg.TimerFrequency, "Timer interrupts per second (at most 1000).")
		slice   = flag.Uint64("slice", cfg.TimeSliceMs, "Time slice in milliseconds.")
		threads = flag.Int("threads", cfg.MaxThreads, "Thread table capacity.")
		procs   = flag.Int("procs", cfg.MaxProcs, "Process table capacity.")
		files   = flag.Int("files", cfg.MaxFiles, "Open file table capacity.")
		frames  = flag.Int("frames", cfg.Frames, "Physical page frames.")
		heap    = flag.Int("heap", cfg.HeapBytes, "Kernel heap limit in bytes (0 = unlimited).")
		level   = flag.String("log-level", cfg.LogLevel, "Log level.")
		console = flag.Bool("console", cfg.Console, "Mirror the log on the display.")
	)
	flag.Func("boot", "Boot command line; repeat for more programs (default \"echo echo\" \"ping echo 3\").", func(s string) error {
		boot = append(boot, s)
		return nil
	})
	flag.Parse()

	cfg.TimerFrequency = *hz
	cfg.TimeSliceMs = *slice
	cfg.MaxThreads = *threads
	cfg.MaxProcs = *procs
	cfg.MaxFiles = *files
	cfg.Frames = *frames
	cfg.HeapBytes = *heap
	cfg.LogLevel = *level
	cfg.Console = *console
	if len(boot) > 0 {
		cfg.Boot = boot
	}

	if cfg.TimerFrequency <= 0 || cfg.TimerFrequency > 1000 {
		fatalf("hz out of range: %d", cfg.TimerFrequency)
	}
	if _, err := cfg.BootCommands(); err != nil {
		fatalf("%v", err)
	}

	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		fatalf("encode: %v", err)
	}
	b = append(b, '\n')
	if *outPath == "" {
		os.Stdout.Write(b)
		return
	}
	if err := os.WriteFile(*outPath, b, 0o644); err != nil {
		fatalf("write: %v", err)
	}
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(2)
}
