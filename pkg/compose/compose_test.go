package compose_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/compose-farm/compose-farm/pkg/compose"
)

func TestParse_HostVolumes(t *testing.T) {
	doc := `
services:
  app:
    volumes:
      - /mnt/data:/data
      - ./config:/config:ro
      - ../shared:/shared
      - named:/var/lib/app
      - /anonymous
      - type: bind
        source: /mnt/media
        target: /media
      - type: volume
        source: cache
        target: /cache
  worker:
    volumes:
      - /mnt/data:/data
`
	req, err := compose.Parse([]byte(doc), "/opt/compose/app", compose.Env{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"/mnt/data", "/opt/compose/app/config", "/opt/compose/shared", "/mnt/media"}
	if !reflect.DeepEqual(req.HostVolumes, want) {
		t.Errorf("HostVolumes = %v, want %v", req.HostVolumes, want)
	}
}

func TestParse_ExternalNetworks(t *testing.T) {
	doc := `
services:
  app:
    networks: [edge, internal]
  sidecar:
    networks:
      legacy: {}
  host:
    network_mode: host
networks:
  edge:
    external: true
  internal: {}
  legacy:
    external:
      name: old-proxy
  unused:
    external: true
  renamed:
    external: true
    name: other
`
	req, err := compose.Parse([]byte(doc), "/opt/compose/app", compose.Env{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"edge", "old-proxy"}
	if !reflect.DeepEqual(req.ExternalNetworks, want) {
		t.Errorf("ExternalNetworks = %v, want %v", req.ExternalNetworks, want)
	}
}

func TestParse_DefaultNetworkExternal(t *testing.T) {
	doc := `
services:
  app:
    image: nginx
networks:
  default:
    name: proxy
    external: true
`
	req, err := compose.Parse([]byte(doc), "/opt/compose/app", compose.Env{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(req.ExternalNetworks, []string{"proxy"}) {
		t.Errorf("ExternalNetworks = %v", req.ExternalNetworks)
	}
}

func TestParse_Devices(t *testing.T) {
	doc := `
services:
  jellyfin:
    devices:
      - /dev/dri:/dev/dri
      - /dev/ttyUSB0
      - nvidia.com/gpu=all
`
	req, err := compose.Parse([]byte(doc), "/opt/compose/jellyfin", compose.Env{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"/dev/dri", "/dev/ttyUSB0"}
	if !reflect.DeepEqual(req.Devices, want) {
		t.Errorf("Devices = %v, want %v", req.Devices, want)
	}
}

func TestParse_Interpolation(t *testing.T) {
	doc := `
services:
  app:
    volumes:
      - ${DATA_DIR}/app:/data
      - ${MEDIA:-/mnt/media}:/media
      - $BACKUP:/backup
    devices:
      - ${GPU:-/dev/dri}:/dev/dri
networks:
  default:
    external: true
    name: ${NET}
`
	env := compose.Env{"DATA_DIR": "/srv", "BACKUP": "/mnt/backup", "NET": "edge"}
	req, err := compose.Parse([]byte(doc), "/opt/compose/app", env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantVolumes := []string{"/srv/app", "/mnt/media", "/mnt/backup"}
	if !reflect.DeepEqual(req.HostVolumes, wantVolumes) {
		t.Errorf("HostVolumes = %v, want %v", req.HostVolumes, wantVolumes)
	}
	if !reflect.DeepEqual(req.Devices, []string{"/dev/dri"}) {
		t.Errorf("Devices = %v", req.Devices)
	}
	if !reflect.DeepEqual(req.ExternalNetworks, []string{"edge"}) {
		t.Errorf("ExternalNetworks = %v", req.ExternalNetworks)
	}
}

func TestEnv_Interpolate(t *testing.T) {
	env := compose.Env{"SET": "value", "EMPTY": ""}
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"${SET}", "value"},
		{"${EMPTY:-fallback}", "fallback"},
		{"${EMPTY-fallback}", ""},
		{"${UNSET-fallback}", "fallback"},
		{"${REQUIRED:?must be set}", ""},
		{"${SET:?must be set}", "value"},
		{"${UNSET:-a?b}", "a?b"},
		{"${UNSET-/srv/a-b}", "/srv/a-b"},
		{"${SET:+on}", "on"},
		{"${EMPTY:+on}", ""},
		{"${EMPTY+on}", "on"},
		{"/data/${SET}/sub", "/data/value/sub"},
		{"cost $$5", "cost $5"},
	}
	for _, tt := range tests {
		if got := env.Interpolate(tt.in); got != tt.want {
			t.Errorf("Interpolate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReadRequirements_DotEnv(t *testing.T) {
	dir := t.TempDir()
	compose_ := "services:\n  app:\n    volumes:\n      - ${CF_TEST_ROOT}/data:/data\n"
	if err := os.WriteFile(filepath.Join(dir, "compose.yaml"), []byte(compose_), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("CF_TEST_ROOT=/tank\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	req, err := compose.ReadRequirements(filepath.Join(dir, "compose.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(req.HostVolumes, []string{"/tank/data"}) {
		t.Errorf("HostVolumes = %v", req.HostVolumes)
	}
}

func TestReadRequirements_MissingFile(t *testing.T) {
	req, err := compose.ReadRequirements(filepath.Join(t.TempDir(), "compose.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Total() != 0 {
		t.Errorf("expected no requirements, got %+v", req)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := compose.Parse([]byte("services: [oops"), "/tmp", compose.Env{}); err == nil {
		t.Error("expected parse error")
	}
}
