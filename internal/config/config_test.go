package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadDefaults(t *testing.T) {
	got, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
	if got.HTTPPort != Default().HTTPPort {
		t.Errorf("HTTPPort = %q, want default %q", got.HTTPPort, Default().HTTPPort)
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clockd.yaml")
	data := []byte("http_port: \"9090\"\nbackend_url: http://api.internal/api\nbackend_timeout_sec: 3\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.HTTPPort != "9090" {
		t.Errorf("HTTPPort = %q, want 9090", got.HTTPPort)
	}
	if got.BackendURL != "http://api.internal/api" {
		t.Errorf("BackendURL = %q", got.BackendURL)
	}
	if got.BackendTimeout() != 3*time.Second {
		t.Errorf("BackendTimeout = %v, want 3s", got.BackendTimeout())
	}
	// Keys absent from the file keep their defaults.
	if got.ControlStream != Default().ControlStream {
		t.Errorf("ControlStream = %q, want default", got.ControlStream)
	}
}

func TestLoadEnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clockd.yaml")
	if err := os.WriteFile(path, []byte("http_port: \"9090\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PORT", "7070")
	t.Setenv("NATS_URL", "nats://broker:4222")
	t.Setenv("TOURNAMENT_API_TIMEOUT_SEC", "42")

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.HTTPPort != "7070" {
		t.Errorf("HTTPPort = %q, want env override 7070", got.HTTPPort)
	}
	if got.NATSURL != "nats://broker:4222" {
		t.Errorf("NATSURL = %q", got.NATSURL)
	}
	if got.BackendTimeoutSec != 42 {
		t.Errorf("BackendTimeoutSec = %d, want 42", got.BackendTimeoutSec)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clockd.yaml")
	if err := os.WriteFile(path, []byte("http_port: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted malformed YAML")
	}
}

func TestLoadIgnoresUnparseableEnvInt(t *testing.T) {
	t.Setenv("TOURNAMENT_API_TIMEOUT_SEC", "soon")
	got, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.BackendTimeoutSec != Default().BackendTimeoutSec {
		t.Errorf("BackendTimeoutSec = %d, want default", got.BackendTimeoutSec)
	}
}
