package main

import (
	"flag"
	"fmt"
)

type appConfig struct {
	port         int
	y4mPath      string
	cameraDevice string
	mtu          int
	outputPath   string
	verbose      bool
	logFormat    string
	logLevel     string
	metricsAddr  string
}

func parseFlags(args []string) (*appConfig, error) {
	fs := flag.NewFlagSet("vp9sender", flag.ContinueOnError)
	mtu := fs.Int("mtu", 1500, "MTU in bytes, bounds the UDP payload size [512, 1500]")
	output := fs.String("o", "", "file to write per-frame CSV stats to")
	verbose := fs.Bool("v", false, "enable verbose per-datagram logging")
	camera := fs.String("camera", "", "V4L2 device path (e.g. /dev/video0); overrides the positional y4m path")
	logFormat := fs.String("log-format", "text", "log format: text|json")
	logLevel := fs.String("log-level", "info", "log level: debug|info|warn|error")
	metricsAddr := fs.String("metrics-addr", "", "Prometheus metrics HTTP listen address (empty disables)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	rest := fs.Args()
	cfg := &appConfig{
		mtu: *mtu, outputPath: *output, verbose: *verbose, cameraDevice: *camera,
		logFormat: *logFormat, logLevel: *logLevel, metricsAddr: *metricsAddr,
	}

	switch {
	case *camera != "" && (len(rest) == 1 || len(rest) == 2):
		port, err := parsePort(rest[0])
		if err != nil {
			return nil, err
		}
		cfg.port = port
	case *camera == "" && len(rest) == 2:
		port, err := parsePort(rest[0])
		if err != nil {
			return nil, err
		}
		cfg.port = port
		cfg.y4mPath = rest[1]
	default:
		return nil, fmt.Errorf("usage: vp9sender [options] port [y4m_path] (y4m_path required unless --camera is set)")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parsePort(s string) (int, error) {
	var port int
	if _, err := fmt.Sscanf(s, "%d", &port); err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return port, nil
}

func (c *appConfig) validate() error {
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
