// Package calib loads receiver calibration for the moments engine.
package calib

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/banshee-data/xpol2mom/internal/moments"
	"github.com/banshee-data/xpol2mom/internal/xpol"
)

// File is the on-disk calibration. Omitted fields keep their defaults,
// and the two noise levels fall back to the values the server reports
// in its configuration.
type File struct {
	RadarName        *string  `json:"radar_name,omitempty"`
	WavelengthM      *float64 `json:"wavelength_m,omitempty"`
	NoiseDbmHc       *float64 `json:"noise_dbm_hc,omitempty"`
	NoiseDbmVc       *float64 `json:"noise_dbm_vc,omitempty"`
	ReceiverGainDbHc *float64 `json:"receiver_gain_db_hc,omitempty"`
	ReceiverGainDbVc *float64 `json:"receiver_gain_db_vc,omitempty"`
	BaseDbz1kmHc     *float64 `json:"base_dbz_1km_hc,omitempty"`
	BaseDbz1kmVc     *float64 `json:"base_dbz_1km_vc,omitempty"`
	ZdrCorrectionDb  *float64 `json:"zdr_correction_db,omitempty"`
	SystemPhidpDeg   *float64 `json:"system_phidp_deg,omitempty"`
	DbzCorrection    *float64 `json:"dbz_correction,omitempty"`
}

// Default returns the calibration used for fields the file omits. The
// values describe a typical X-band dual-polarisation system.
func Default() moments.Calibration {
	return moments.Calibration{
		WavelengthM:      0.0319,
		NoiseDbmHc:       -80,
		NoiseDbmVc:       -80,
		ReceiverGainDbHc: 0,
		ReceiverGainDbVc: 0,
		BaseDbz1kmHc:     -20,
		BaseDbz1kmVc:     -20,
		SystemPhidpDeg:   moments.PhidpReferenceDeg,
	}
}

// Load reads a calibration file. The file must have a .json extension
// and be at most 1 MB.
func Load(path string) (*File, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("calibration file must have .json extension, got %q", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat calibration file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("calibration file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}
	f := &File{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse calibration JSON: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid calibration: %w", err)
	}
	return f, nil
}

// Validate checks the values that are set.
func (f *File) Validate() error {
	if f.WavelengthM != nil && (*f.WavelengthM <= 0 || *f.WavelengthM > 1) {
		return fmt.Errorf("wavelength_m must be in (0, 1], got %g", *f.WavelengthM)
	}
	for name, v := range map[string]*float64{
		"noise_dbm_hc":        f.NoiseDbmHc,
		"noise_dbm_vc":        f.NoiseDbmVc,
		"receiver_gain_db_hc": f.ReceiverGainDbHc,
		"receiver_gain_db_vc": f.ReceiverGainDbVc,
		"base_dbz_1km_hc":     f.BaseDbz1kmHc,
		"base_dbz_1km_vc":     f.BaseDbz1kmVc,
		"zdr_correction_db":   f.ZdrCorrectionDb,
		"system_phidp_deg":    f.SystemPhidpDeg,
		"dbz_correction":      f.DbzCorrection,
	} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return fmt.Errorf("%s must be finite", name)
		}
	}
	if f.SystemPhidpDeg != nil && math.Abs(*f.SystemPhidpDeg) > 180 {
		return fmt.Errorf("system_phidp_deg must be within ±180, got %g", *f.SystemPhidpDeg)
	}
	return nil
}

// Resolve merges the file over the defaults. Noise levels the file does
// not set come from conf when it reports them.
func (f *File) Resolve(conf *xpol.Conf) moments.Calibration {
	c := Default()
	if conf != nil {
		if conf.HNoisePowerDbm != 0 {
			c.NoiseDbmHc = conf.HNoisePowerDbm
		}
		if conf.VNoisePowerDbm != 0 {
			c.NoiseDbmVc = conf.VNoisePowerDbm
		}
	}
	if f == nil {
		return c
	}
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&c.WavelengthM, f.WavelengthM)
	set(&c.NoiseDbmHc, f.NoiseDbmHc)
	set(&c.NoiseDbmVc, f.NoiseDbmVc)
	set(&c.ReceiverGainDbHc, f.ReceiverGainDbHc)
	set(&c.ReceiverGainDbVc, f.ReceiverGainDbVc)
	set(&c.BaseDbz1kmHc, f.BaseDbz1kmHc)
	set(&c.BaseDbz1kmVc, f.BaseDbz1kmVc)
	set(&c.ZdrCorrectionDb, f.ZdrCorrectionDb)
	set(&c.SystemPhidpDeg, f.SystemPhidpDeg)
	set(&c.DbzCorrection, f.DbzCorrection)
	return c
}

// Name returns the radar name, or "" if unset.
func (f *File) Name() string {
	if f == nil || f.RadarName == nil {
		return ""
	}
	return *f.RadarName
}
