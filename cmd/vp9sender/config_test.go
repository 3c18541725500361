package main

import "testing"

func TestParseFlags_RequiresY4MPathWithoutCamera(t *testing.T) {
	if _, err := parseFlags([]string{"9000"}); err == nil {
		t.Fatal("expected an error when neither y4m_path nor --camera is given")
	}
}

func TestParseFlags_PortAndY4MPath(t *testing.T) {
	cfg, err := parseFlags([]string{"9000", "clip.y4m"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.port)
	}
	if cfg.y4mPath != "clip.y4m" {
		t.Errorf("y4mPath = %q, want clip.y4m", cfg.y4mPath)
	}
	if cfg.cameraDevice != "" {
		t.Errorf("cameraDevice = %q, want empty", cfg.cameraDevice)
	}
	if cfg.mtu != 1500 {
		t.Errorf("mtu = %d, want default 1500", cfg.mtu)
	}
}

func TestParseFlags_CameraDropsPositionalY4MPath(t *testing.T) {
	cfg, err := parseFlags([]string{"--camera", "/dev/video0", "9000"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.cameraDevice != "/dev/video0" {
		t.Errorf("cameraDevice = %q, want /dev/video0", cfg.cameraDevice)
	}
	if cfg.y4mPath != "" {
		t.Errorf("y4mPath = %q, want empty when --camera is set", cfg.y4mPath)
	}
}

func TestParseFlags_RejectsInvalidPort(t *testing.T) {
	if _, err := parseFlags([]string{"not-a-port", "clip.y4m"}); err == nil {
		t.Fatal("expected an error for a non-numeric port")
	}
	if _, err := parseFlags([]string{"70000", "clip.y4m"}); err == nil {
		t.Fatal("expected an error for an out-of-range port")
	}
}

func TestParseFlags_RejectsUnknownLogFormat(t *testing.T) {
	if _, err := parseFlags([]string{"--log-format", "xml", "9000", "clip.y4m"}); err == nil {
		t.Fatal("expected an error for an unknown --log-format")
	}
}
