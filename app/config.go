package app

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/shlex"

	"nanokern/kernel/task"
	"nanokern/kernel/vfs"
)

// Config is the boot configuration. Zero values fall back to the defaults.
type Config struct {
	TimerFrequency int    `json:"timer_frequency"`
	TimeSliceMs    uint64 `json:"time_slice_ms"`
	MaxThreads     int    `json:"max_threads"`
	MaxProcs       int    `json:"max_procs"`
	MaxFiles       int    `json:"max_files"`
	// Frames is the number of physical page frames.
	Frames int `json:"frames"`
	// HeapBytes limits the kernel heap; zero means unlimited.
	HeapBytes int `json:"heap_bytes"`

	// Boot lists the command lines of the programs init starts.
	Boot []string `json:"boot"`

	LogLevel string `json:"log_level"`
	// Console mirrors the log on the display.
	Console bool `json:"console"`
}

// DefaultConfig boots an echo driver and a client pinging it.
func DefaultConfig() Config {
	return Config{
		TimerFrequency: task.TimerFrequency,
		TimeSliceMs:    task.TimeSlice,
		MaxThreads:     task.MaxThreadCount,
		MaxProcs:       task.MaxProcCount,
		MaxFiles:       vfs.DefaultMaxFiles,
		Frames:         4096,
		Boot:           []string{"echo echo", "ping echo 3"},
		LogLevel:       "INFO",
	}
}

// LoadConfig reads a JSON configuration from path on top of DefaultConfig.
// An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if _, err := cfg.BootCommands(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// BootCommands splits the boot command lines into arguments.
func (c Config) BootCommands() ([][]string, error) {
	out := make([][]string, 0, len(c.Boot))
	for _, line := range c.Boot {
		args, err := shlex.Split(line)
		if err != nil {
			return nil, fmt.Errorf("boot command %q: %w", line, err)
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("empty boot command")
		}
		if _, ok := programs[args[0]]; !ok {
			return nil, fmt.Errorf("boot command %q: unknown program %q", line, args[0])
		}
		out = append(out, args)
	}
	return out, nil
}

func (c Config) taskConfig() task.Config {
	return task.Config{
		MaxThreads:     c.MaxThreads,
		MaxProcs:       c.MaxProcs,
		TimerFrequency: c.TimerFrequency,
		TimeSliceMs:    c.TimeSliceMs,
	}
}
