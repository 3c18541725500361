package main

import (
	"flag"
	"fmt"
)

type appConfig struct {
	host   string
	port   int
	width  int
	height int

	fps         int
	cbr         int
	lazy        int
	outputPath  string
	verbose     bool
	logFormat   string
	logLevel    string
	metricsAddr string
}

func parseFlags(args []string) (*appConfig, error) {
	fs := flag.NewFlagSet("vp9receiver", flag.ContinueOnError)
	fps := fs.Int("fps", 30, "frame rate to request from the sender")
	cbr := fs.Int("cbr", 0, "target bitrate in kbps to request (0 lets the sender pick its own default)")
	lazy := fs.Int("lazy", 0, "0: decode and display, 1: decode only, 2: neither")
	output := fs.String("o", "", "file to write per-frame CSV stats to")
	verbose := fs.Bool("v", false, "enable verbose per-datagram logging")
	logFormat := fs.String("log-format", "text", "log format: text|json")
	logLevel := fs.String("log-level", "info", "log level: debug|info|warn|error")
	metricsAddr := fs.String("metrics-addr", "", "Prometheus metrics HTTP listen address (empty disables)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	rest := fs.Args()
	if len(rest) != 4 {
		return nil, fmt.Errorf("usage: vp9receiver [options] host port width height")
	}
	port, err := parsePositiveInt(rest[1], 65535)
	if err != nil {
		return nil, fmt.Errorf("invalid port: %w", err)
	}
	width, err := parsePositiveInt(rest[2], 1<<16-1)
	if err != nil {
		return nil, fmt.Errorf("invalid width: %w", err)
	}
	height, err := parsePositiveInt(rest[3], 1<<16-1)
	if err != nil {
		return nil, fmt.Errorf("invalid height: %w", err)
	}

	cfg := &appConfig{
		host: rest[0], port: port, width: width, height: height,
		fps: *fps, cbr: *cbr, lazy: *lazy, outputPath: *output, verbose: *verbose,
		logFormat: *logFormat, logLevel: *logLevel, metricsAddr: *metricsAddr,
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parsePositiveInt(s string, max int) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n <= 0 || n > max {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	return n, nil
}

func (c *appConfig) validate() error {
	if c.lazy < 0 || c.lazy > 2 {
		return fmt.Errorf("invalid lazy level: %d", c.lazy)
	}
	if c.fps <= 0 {
		return fmt.Errorf("fps must be > 0")
	}
	if c.cbr < 0 {
		return fmt.Errorf("cbr must be >= 0")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	return nil
}
