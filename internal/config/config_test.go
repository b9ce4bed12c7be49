package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/xpol2mom/internal/atmos"
	"github.com/banshee-data/xpol2mom/internal/moments"
	"github.com/banshee-data/xpol2mom/internal/xpol"
)

func TestDefaultsFileMatchesGetters(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	empty := EmptyAppConfig()

	if cfg.GetServerAddr() != empty.GetServerAddr() {
		t.Errorf("GetServerAddr() = %s, want %s", cfg.GetServerAddr(), empty.GetServerAddr())
	}
	if cfg.GetCommTimeout() != empty.GetCommTimeout() {
		t.Errorf("GetCommTimeout() = %v, want %v", cfg.GetCommTimeout(), empty.GetCommTimeout())
	}
	if cfg.GetDataTimeout() != empty.GetDataTimeout() {
		t.Errorf("GetDataTimeout() = %v, want %v", cfg.GetDataTimeout(), empty.GetDataTimeout())
	}
	if cfg.GetProduct() != empty.GetProduct() {
		t.Errorf("GetProduct() = %v, want %v", cfg.GetProduct(), empty.GetProduct())
	}
	if cfg.GetAttenuation() != empty.GetAttenuation() {
		t.Errorf("GetAttenuation() = %s, want %s", cfg.GetAttenuation(), empty.GetAttenuation())
	}
	if cfg.GetDBPath() != empty.GetDBPath() {
		t.Errorf("GetDBPath() = %s, want %s", cfg.GetDBPath(), empty.GetDBPath())
	}
	if cfg.GetListenAddr() != empty.GetListenAddr() {
		t.Errorf("GetListenAddr() = %s, want %s", cfg.GetListenAddr(), empty.GetListenAddr())
	}
	if diff := cmp.Diff(empty.EngineParams(), cfg.EngineParams()); diff != "" {
		t.Errorf("EngineParams() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(empty.ClientOptions(), cfg.ClientOptions(), cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".Dial"
	}, cmp.Ignore())); diff != "" {
		t.Errorf("ClientOptions() mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyAppConfig()

	if got := cfg.GetServerAddr(); got != "localhost:3000" {
		t.Errorf("GetServerAddr() = %s, want localhost:3000", got)
	}
	if got := cfg.GetConnectTimeout(); got != xpol.DefaultConnectTimeout {
		t.Errorf("GetConnectTimeout() = %v, want %v", got, xpol.DefaultConnectTimeout)
	}
	if got := cfg.GetProduct(); got != xpol.FusedProductsProcData {
		t.Errorf("GetProduct() = %v, want FUSED_PRODUCTS_PROC_DATA", got)
	}
	if got := cfg.GetMQTTBroker(); got != "" {
		t.Errorf("GetMQTTBroker() = %q, want empty", got)
	}
	if got := cfg.GetMQTTTopicPrefix(); got != "xpol2mom" {
		t.Errorf("GetMQTTTopicPrefix() = %q, want xpol2mom", got)
	}
	if got := cfg.GetVelocityUnits(); got != "mps" {
		t.Errorf("GetVelocityUnits() = %q, want mps", got)
	}
	if diff := cmp.Diff(moments.DefaultParams(), cfg.EngineParams()); diff != "" {
		t.Errorf("EngineParams() mismatch (-want +got):\n%s", diff)
	}
	if cfg.ClientOptions().OverrideAzOffset {
		t.Error("ClientOptions().OverrideAzOffset should be false without az_offset_deg")
	}
}

func TestLoadAppConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "site.json")

	testJSON := `{
  "server_host": "10.0.0.5",
  "server_port": 3100,
  "data_timeout": "20s",
  "az_offset_deg": 45.5,
  "product": "pulse_pair_av_h0_h1",
  "vel_sign": 1,
  "start_range_km": 0.25,
  "attenuation": "none",
  "velocity_units": "kts",
  "mqtt_broker": "tcp://broker:1883",
  "mqtt_qos": 1,
  "db_path": ""
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadAppConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if got := cfg.GetServerAddr(); got != "10.0.0.5:3100" {
		t.Errorf("GetServerAddr() = %s, want 10.0.0.5:3100", got)
	}
	if got := cfg.GetDataTimeout(); got != 20*time.Second {
		t.Errorf("GetDataTimeout() = %v, want 20s", got)
	}
	if got := cfg.GetProduct(); got != xpol.PulsePairAvH0H1 {
		t.Errorf("GetProduct() = %v, want PULSE_PAIR_AV_H0_H1", got)
	}
	if got := cfg.GetAttenuation(); got != AttenNone {
		t.Errorf("GetAttenuation() = %s, want none", got)
	}
	if got := cfg.GetMQTTQoS(); got != 1 {
		t.Errorf("GetMQTTQoS() = %d, want 1", got)
	}
	if got := cfg.GetDBPath(); got != "" {
		t.Errorf("GetDBPath() = %q, want empty (disabled)", got)
	}

	opts := cfg.ClientOptions()
	if !opts.OverrideAzOffset || opts.AzOffsetDeg != 45.5 {
		t.Errorf("ClientOptions() az override = %v %f, want true 45.5", opts.OverrideAzOffset, opts.AzOffsetDeg)
	}

	p := cfg.EngineParams()
	if p.VelSign != 1 {
		t.Errorf("EngineParams().VelSign = %f, want 1", p.VelSign)
	}
	if p.StartRangeKm == nil || *p.StartRangeKm != 0.25 {
		t.Errorf("EngineParams().StartRangeKm = %v, want 0.25", p.StartRangeKm)
	}
	if p.MinSnr != 0.01 {
		t.Errorf("EngineParams().MinSnr = %f, want default 0.01", p.MinSnr)
	}
}

func TestLoadAppConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()

	write := func(name, body string) string {
		path := filepath.Join(tmpDir, name)
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatalf("Failed to write test config: %v", err)
		}
		return path
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(tmpDir, "nope.json")},
		{"wrong extension", write("config.yaml", `{}`)},
		{"invalid json", write("bad.json", `{"server_port": "x"`)},
		{"invalid value", write("port.json", `{"server_port": 0}`)},
		{"too large", write("big.json", `{"server_host": "`+string(make([]byte, 1<<20))+`"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadAppConfig(tt.path); err == nil {
				t.Errorf("LoadAppConfig(%s) expected error, got nil", tt.path)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *AppConfig
		wantErr bool
	}{
		{"empty config is valid", &AppConfig{}, false},
		{"defaults file is valid", MustLoadDefaultConfig(), false},
		{"port too high", &AppConfig{ServerPort: ptrInt(70000)}, true},
		{"bad comm timeout", &AppConfig{CommTimeout: ptrString("soon")}, true},
		{"negative backoff", &AppConfig{RetryBackoff: ptrString("-1s")}, true},
		{"empty duration uses default", &AppConfig{DataTimeout: ptrString("")}, false},
		{"az offset out of range", &AppConfig{AzOffsetDeg: ptrFloat64(400)}, true},
		{"az offset at limit", &AppConfig{AzOffsetDeg: ptrFloat64(-360)}, false},
		{"unknown product", &AppConfig{Product: ptrString("REFLECTIVITY")}, true},
		{"vel sign zero", &AppConfig{VelSign: ptrFloat64(0)}, true},
		{"phidp sign two", &AppConfig{PhidpSign: ptrFloat64(2)}, true},
		{"negative min snr", &AppConfig{MinSnr: ptrFloat64(-0.5)}, true},
		{"unknown attenuation", &AppConfig{Attenuation: ptrString("itu")}, true},
		{"unknown units", &AppConfig{VelocityUnits: ptrString("furlongs")}, true},
		{"qos three", &AppConfig{MQTTQoS: ptrInt(3)}, true},
		{"listen addr without port", &AppConfig{ListenAddr: ptrString("localhost")}, true},
		{"listen addr disabled", &AppConfig{ListenAddr: ptrString("")}, false},
		{"phidp correction off", &AppConfig{CorrectSystemPhidp: ptrBool(false)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDurationFallback(t *testing.T) {
	tests := []struct {
		name string
		cfg  *AppConfig
		want time.Duration
	}{
		{"nil pointer returns default", &AppConfig{}, 1 * time.Second},
		{"empty string returns default", &AppConfig{RetryBackoff: ptrString("")}, 1 * time.Second},
		{"parse error returns default", &AppConfig{RetryBackoff: ptrString("later")}, 1 * time.Second},
		{"explicit value", &AppConfig{RetryBackoff: ptrString("250ms")}, 250 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetRetryBackoff(); got != tt.want {
				t.Errorf("GetRetryBackoff() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAttenuator(t *testing.T) {
	cfg := EmptyAppConfig()
	if _, ok := cfg.Attenuator().(*atmos.DoviakZrnic); !ok {
		t.Errorf("default Attenuator() = %T, want *atmos.DoviakZrnic", cfg.Attenuator())
	}

	cfg.Attenuation = ptrString(AttenNone)
	if got := cfg.Attenuator().AttenuationDb(1, 50); got != 0 {
		t.Errorf("none Attenuator().AttenuationDb() = %v, want 0", got)
	}
}
