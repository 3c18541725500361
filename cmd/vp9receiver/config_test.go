package main

import "testing"

func TestParseFlags_PositionalArgs(t *testing.T) {
	cfg, err := parseFlags([]string{"10.0.0.2", "9000", "1280", "720"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.host != "10.0.0.2" || cfg.port != 9000 || cfg.width != 1280 || cfg.height != 720 {
		t.Errorf("got %+v", cfg)
	}
	if cfg.fps != 30 {
		t.Errorf("fps = %d, want default 30", cfg.fps)
	}
	if cfg.lazy != 0 {
		t.Errorf("lazy = %d, want default 0", cfg.lazy)
	}
}

func TestParseFlags_RejectsWrongArgCount(t *testing.T) {
	if _, err := parseFlags([]string{"10.0.0.2", "9000", "1280"}); err == nil {
		t.Fatal("expected an error with too few positional args")
	}
	if _, err := parseFlags([]string{"10.0.0.2", "9000", "1280", "720", "extra"}); err == nil {
		t.Fatal("expected an error with too many positional args")
	}
}

func TestParseFlags_RejectsInvalidLazyLevel(t *testing.T) {
	if _, err := parseFlags([]string{"--lazy", "3", "10.0.0.2", "9000", "1280", "720"}); err == nil {
		t.Fatal("expected an error for an out-of-range --lazy level")
	}
}

func TestParseFlags_RejectsNonPositiveDimensions(t *testing.T) {
	if _, err := parseFlags([]string{"10.0.0.2", "9000", "0", "720"}); err == nil {
		t.Fatal("expected an error for a zero width")
	}
}

func TestParseFlags_RejectsNegativeCBR(t *testing.T) {
	if _, err := parseFlags([]string{"--cbr", "-1", "10.0.0.2", "9000", "1280", "720"}); err == nil {
		t.Fatal("expected an error for a negative --cbr")
	}
}
