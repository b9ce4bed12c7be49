package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banshee-data/xpol2mom/internal/atmos"
	"github.com/banshee-data/xpol2mom/internal/moments"
	"github.com/banshee-data/xpol2mom/internal/units"
	"github.com/banshee-data/xpol2mom/internal/xpol"
)

// DefaultConfigPath is the path to the canonical defaults file.
// This is the single source of truth for all default run settings.
const DefaultConfigPath = "config/xpol2mom.defaults.json"

// Attenuation model names.
const (
	AttenNone        = "none"
	AttenDoviakZrnic = "doviak_zrnic"
)

// AppConfig is the run configuration for xpol2mom. Every field is
// optional; the Get* methods supply defaults for fields a file omits.
type AppConfig struct {
	// xpol server
	ServerHost     *string  `json:"server_host,omitempty"`
	ServerPort     *int     `json:"server_port,omitempty"`
	ConnectTimeout *string  `json:"connect_timeout,omitempty"` // duration string like "1s"
	CommTimeout    *string  `json:"comm_timeout,omitempty"`
	DataTimeout    *string  `json:"data_timeout,omitempty"`
	AzOffsetDeg    *float64 `json:"az_offset_deg,omitempty"` // set to override the server's offset
	Product        *string  `json:"product,omitempty"`       // field id name
	RetryBackoff   *string  `json:"retry_backoff,omitempty"`
	MaxBackoff     *string  `json:"max_backoff,omitempty"`
	Verbose        *bool    `json:"verbose,omitempty"`

	// Moments
	VelSign            *float64 `json:"vel_sign,omitempty"`
	PhidpSign          *float64 `json:"phidp_sign,omitempty"`
	MinSnr             *float64 `json:"min_snr,omitempty"` // linear
	CorrectSystemPhidp *bool    `json:"correct_system_phidp,omitempty"`
	StartRangeKm       *float64 `json:"start_range_km,omitempty"`
	Attenuation        *string  `json:"attenuation,omitempty"`
	VelocityUnits      *string  `json:"velocity_units,omitempty"`
	CalibrationPath    *string  `json:"calibration_path,omitempty"`

	// Sinks
	MQTTBroker      *string `json:"mqtt_broker,omitempty"` // empty disables MQTT
	MQTTTopicPrefix *string `json:"mqtt_topic_prefix,omitempty"`
	MQTTClientID    *string `json:"mqtt_client_id,omitempty"`
	MQTTQoS         *int    `json:"mqtt_qos,omitempty"`
	DBPath          *string `json:"db_path,omitempty"` // empty disables the archive

	// HTTP
	ListenAddr *string `json:"listen_addr,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyAppConfig returns an AppConfig with all fields set to nil.
func EmptyAppConfig() *AppConfig {
	return &AppConfig{}
}

// LoadAppConfig loads an AppConfig from a JSON file.
// The file must have a .json extension and be under the max file size.
// Fields omitted from the JSON file fall back to the Get* defaults, so
// partial configs are safe.
func LoadAppConfig(path string) (*AppConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyAppConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *AppConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/xpol-sim/
	}
	for _, path := range candidates {
		if cfg, err := LoadAppConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *AppConfig) Validate() error {
	if c.ServerPort != nil && (*c.ServerPort <= 0 || *c.ServerPort > 65535) {
		return fmt.Errorf("server_port must be between 1 and 65535, got %d", *c.ServerPort)
	}

	for name, v := range map[string]*string{
		"connect_timeout": c.ConnectTimeout,
		"comm_timeout":    c.CommTimeout,
		"data_timeout":    c.DataTimeout,
		"retry_backoff":   c.RetryBackoff,
		"max_backoff":     c.MaxBackoff,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	if c.AzOffsetDeg != nil && (*c.AzOffsetDeg < -360 || *c.AzOffsetDeg > 360) {
		return fmt.Errorf("az_offset_deg must be within ±360, got %f", *c.AzOffsetDeg)
	}
	if c.Product != nil {
		if _, err := xpol.ParseFieldID(*c.Product); err != nil {
			return err
		}
	}

	if c.VelSign != nil && *c.VelSign != 1 && *c.VelSign != -1 {
		return fmt.Errorf("vel_sign must be 1 or -1, got %f", *c.VelSign)
	}
	if c.PhidpSign != nil && *c.PhidpSign != 1 && *c.PhidpSign != -1 {
		return fmt.Errorf("phidp_sign must be 1 or -1, got %f", *c.PhidpSign)
	}
	if c.MinSnr != nil && *c.MinSnr < 0 {
		return fmt.Errorf("min_snr must be non-negative, got %f", *c.MinSnr)
	}
	if c.Attenuation != nil {
		switch *c.Attenuation {
		case AttenNone, AttenDoviakZrnic:
		default:
			return fmt.Errorf("attenuation must be %q or %q, got %q", AttenNone, AttenDoviakZrnic, *c.Attenuation)
		}
	}
	if c.VelocityUnits != nil && !units.IsValid(*c.VelocityUnits) {
		return fmt.Errorf("velocity_units must be one of: %s", units.GetValidUnitsString())
	}

	if c.MQTTQoS != nil && (*c.MQTTQoS < 0 || *c.MQTTQoS > 2) {
		return fmt.Errorf("mqtt_qos must be 0, 1 or 2, got %d", *c.MQTTQoS)
	}
	if c.ListenAddr != nil && *c.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(*c.ListenAddr); err != nil {
			return fmt.Errorf("invalid listen_addr '%s': %w", *c.ListenAddr, err)
		}
	}

	return nil
}

func duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetServerHost returns the server_host value or the default.
func (c *AppConfig) GetServerHost() string {
	if c.ServerHost == nil || *c.ServerHost == "" {
		return "localhost"
	}
	return *c.ServerHost
}

// GetServerPort returns the server_port value or the default.
func (c *AppConfig) GetServerPort() int {
	if c.ServerPort == nil {
		return 3000
	}
	return *c.ServerPort
}

// GetServerAddr joins the server host and port.
func (c *AppConfig) GetServerAddr() string {
	return net.JoinHostPort(c.GetServerHost(), strconv.Itoa(c.GetServerPort()))
}

// GetConnectTimeout returns the connect_timeout as a time.Duration.
func (c *AppConfig) GetConnectTimeout() time.Duration {
	return duration(c.ConnectTimeout, xpol.DefaultConnectTimeout)
}

// GetCommTimeout returns the comm_timeout as a time.Duration.
func (c *AppConfig) GetCommTimeout() time.Duration {
	return duration(c.CommTimeout, xpol.DefaultCommTimeout)
}

// GetDataTimeout returns the data_timeout as a time.Duration.
func (c *AppConfig) GetDataTimeout() time.Duration {
	return duration(c.DataTimeout, xpol.DefaultDataTimeout)
}

// GetRetryBackoff returns the initial retry delay after a failed read.
func (c *AppConfig) GetRetryBackoff() time.Duration {
	return duration(c.RetryBackoff, 1*time.Second)
}

// GetMaxBackoff returns the cap on the retry delay.
func (c *AppConfig) GetMaxBackoff() time.Duration {
	return duration(c.MaxBackoff, 30*time.Second)
}

// GetProduct returns the field id to stream.
func (c *AppConfig) GetProduct() xpol.FieldID {
	if c.Product == nil {
		return xpol.FusedProductsProcData
	}
	id, err := xpol.ParseFieldID(*c.Product)
	if err != nil {
		return xpol.FusedProductsProcData
	}
	return id
}

// GetVerbose returns the verbose value or the default.
func (c *AppConfig) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}

// GetAttenuation returns the attenuation model name or the default.
func (c *AppConfig) GetAttenuation() string {
	if c.Attenuation == nil {
		return AttenDoviakZrnic
	}
	return *c.Attenuation
}

// GetVelocityUnits returns the units velocity fields are published in.
func (c *AppConfig) GetVelocityUnits() string {
	if c.VelocityUnits == nil {
		return units.MPS
	}
	return *c.VelocityUnits
}

// GetCalibrationPath returns the calibration file path, or "" for none.
func (c *AppConfig) GetCalibrationPath() string {
	if c.CalibrationPath == nil {
		return ""
	}
	return *c.CalibrationPath
}

// GetMQTTBroker returns the broker URL, or "" when MQTT is disabled.
func (c *AppConfig) GetMQTTBroker() string {
	if c.MQTTBroker == nil {
		return ""
	}
	return *c.MQTTBroker
}

// GetMQTTTopicPrefix returns the mqtt_topic_prefix value or the default.
func (c *AppConfig) GetMQTTTopicPrefix() string {
	if c.MQTTTopicPrefix == nil || *c.MQTTTopicPrefix == "" {
		return "xpol2mom"
	}
	return *c.MQTTTopicPrefix
}

// GetMQTTClientID returns the mqtt_client_id value or the default.
func (c *AppConfig) GetMQTTClientID() string {
	if c.MQTTClientID == nil || *c.MQTTClientID == "" {
		return "xpol2mom"
	}
	return *c.MQTTClientID
}

// GetMQTTQoS returns the mqtt_qos value or the default.
func (c *AppConfig) GetMQTTQoS() byte {
	if c.MQTTQoS == nil {
		return 0
	}
	return byte(*c.MQTTQoS)
}

// GetDBPath returns the archive database path, or "" when disabled.
func (c *AppConfig) GetDBPath() string {
	if c.DBPath == nil {
		return "xpol2mom.db"
	}
	return *c.DBPath
}

// GetListenAddr returns the HTTP listen address, or "" when disabled.
func (c *AppConfig) GetListenAddr() string {
	if c.ListenAddr == nil {
		return "localhost:8080"
	}
	return *c.ListenAddr
}

// ClientOptions returns the protocol client options.
func (c *AppConfig) ClientOptions() xpol.Options {
	o := xpol.Options{
		Addr:           c.GetServerAddr(),
		ConnectTimeout: c.GetConnectTimeout(),
		CommTimeout:    c.GetCommTimeout(),
		DataTimeout:    c.GetDataTimeout(),
		Verbose:        c.GetVerbose(),
	}
	if c.AzOffsetDeg != nil {
		o.OverrideAzOffset = true
		o.AzOffsetDeg = *c.AzOffsetDeg
	}
	return o
}

// EngineParams returns the moments parameters.
func (c *AppConfig) EngineParams() moments.Params {
	p := moments.DefaultParams()
	if c.VelSign != nil {
		p.VelSign = *c.VelSign
	}
	if c.PhidpSign != nil {
		p.PhidpSign = *c.PhidpSign
	}
	if c.MinSnr != nil {
		p.MinSnr = *c.MinSnr
	}
	if c.CorrectSystemPhidp != nil {
		p.CorrectSystemPhidp = *c.CorrectSystemPhidp
	}
	if c.StartRangeKm != nil {
		v := *c.StartRangeKm
		p.StartRangeKm = &v
	}
	return p
}

// Attenuator returns the configured atmospheric attenuation model.
func (c *AppConfig) Attenuator() moments.Attenuator {
	if c.GetAttenuation() == AttenNone {
		return atmos.None{}
	}
	return atmos.NewDoviakZrnic()
}
