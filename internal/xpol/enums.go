package xpol

import (
	"fmt"
	"strings"
)

// ServerMode is the processing mode reported in Conf.ServerMode.
type ServerMode int32

const (
	ServerModePP ServerMode = iota
	ServerModeDualPP
	ServerModeFFT
	ServerModeFFT2
	ServerModeFFT2I
	ServerModeUnknown
)

func (m ServerMode) String() string {
	switch m {
	case ServerModePP:
		return "SERVER_MODE_PP"
	case ServerModeDualPP:
		return "SERVER_MODE_DUAL_PP"
	case ServerModeFFT:
		return "SERVER_MODE_FFT"
	case ServerModeFFT2:
		return "SERVER_MODE_FFT2"
	case ServerModeFFT2I:
		return "SERVER_MODE_FFT2I"
	case ServerModeUnknown:
		return "SERVER_MODE_UNKNOWN"
	default:
		return "SERVER_MODE_UNDEFINED"
	}
}

// ScanMode is the antenna scan mode reported in Status.
type ScanMode int32

const (
	ScanModeNone ScanMode = iota
	ScanModeCustom
	ScanModeSoftStop
	ScanModePoint
	ScanModeSlew
	ScanModePPI
	ScanModeRHI
	ScanModeAzRaster
	ScanModeElRaster
	ScanModeVolume
	ScanModePaused
)

var scanModeNames = [...]string{
	"SCAN_MODE_NONE", "SCAN_MODE_CUSTOM", "SCAN_MODE_SOFT_STOP", "SCAN_MODE_POINT",
	"SCAN_MODE_SLEW", "SCAN_MODE_PPI", "SCAN_MODE_RHI", "SCAN_MODE_AZ_RASTER",
	"SCAN_MODE_EL_RASTER", "SCAN_MODE_VOLUME", "SCAN_MODE_PAUSED",
}

func (m ScanMode) String() string {
	if m >= 0 && int(m) < len(scanModeNames) {
		return scanModeNames[m]
	}
	return "SCAN_MODE_UNKNOWN"
}

// FieldID selects the product requested from the server.
type FieldID int32

const (
	IQV FieldID = iota
	IQCoheredClutFiltV
	IQH
	IQCoheredClutFiltH
	RxPowerUnavV0
	RxPowerUnavV1
	RxPowerUnavV2
	RxPowerUnavH0
	RxPowerUnavH1
	RxPowerUnavH2
	TotSummedPowerUnavV
	TotSummedPowerUnavH
	PulsePairUnavV0V1
	PulsePairUnavV1V2
	PulsePairUnavH0H1
	PulsePairUnavH1H2
	XCorrUnavVH
	PowerSpecUnavV0
	PowerSpecUnavV1
	PowerSpecUnavH0
	PowerSpecUnavH1
	XSpecUnavV0H0
	XSpecUnavV1H1
	RxPowerAvV0
	RxPowerAvV1
	RxPowerAvV2
	RxPowerAvH0
	RxPowerAvH1
	RxPowerAvH2
	TotSummedPowerAvV
	TotSummedPowerAvH
	PulsePairAvV0V1
	PulsePairAvV1V2
	PulsePairAvH0H1
	PulsePairAvH1H2
	XCorrAvVH
	PowerSpecAvV0
	PowerSpecAvV1
	PowerSpecAvH0
	PowerSpecAvH1
	XSpecAvV0H0
	XSpecAvV1H1
	IFPhasorEstimate
	FusedProductsDrxData
	FusedProductsProcData
)

var fieldIDNames = [...]string{
	"IQ_V", "IQ_COHERED_CLUTFILT_V", "IQ_H", "IQ_COHERED_CLUTFILT_H",
	"RX_POWER_UNAV_V0", "RX_POWER_UNAV_V1", "RX_POWER_UNAV_V2",
	"RX_POWER_UNAV_H0", "RX_POWER_UNAV_H1", "RX_POWER_UNAV_H2",
	"TOT_SUMMED_POWER_UNAV_V", "TOT_SUMMED_POWER_UNAV_H",
	"PULSE_PAIR_UNAV_V0_V1", "PULSE_PAIR_UNAV_V1_V2",
	"PULSE_PAIR_UNAV_H0_H1", "PULSE_PAIR_UNAV_H1_H2",
	"X_CORR_UNAV_V_H",
	"POWER_SPEC_UNAV_V0", "POWER_SPEC_UNAV_V1", "POWER_SPEC_UNAV_H0", "POWER_SPEC_UNAV_H1",
	"X_SPEC_UNAV_V0_H0", "X_SPEC_UNAV_V1_H1",
	"RX_POWER_AV_V0", "RX_POWER_AV_V1", "RX_POWER_AV_V2",
	"RX_POWER_AV_H0", "RX_POWER_AV_H1", "RX_POWER_AV_H2",
	"TOT_SUMMED_POWER_AV_V", "TOT_SUMMED_POWER_AV_H",
	"PULSE_PAIR_AV_V0_V1", "PULSE_PAIR_AV_V1_V2",
	"PULSE_PAIR_AV_H0_H1", "PULSE_PAIR_AV_H1_H2",
	"X_CORR_AV_V_H",
	"POWER_SPEC_AV_V0", "POWER_SPEC_AV_V1", "POWER_SPEC_AV_H0", "POWER_SPEC_AV_H1",
	"X_SPEC_AV_V0_H0", "X_SPEC_AV_V1_H1",
	"IF_PHASOR_ESTIMATE", "FUSED_PRODUCTS_DRX_DATA", "FUSED_PRODUCTS_PROC_DATA",
}

func (f FieldID) String() string {
	if f >= 0 && int(f) < len(fieldIDNames) {
		return fieldIDNames[f]
	}
	return "XPOL_ID_UNKNOWN"
}

// ParseFieldID maps a product name such as "FUSED_PRODUCTS_PROC_DATA"
// back to its FieldID. Matching is case-insensitive.
func ParseFieldID(name string) (FieldID, error) {
	for i, n := range fieldIDNames {
		if strings.EqualFold(n, name) {
			return FieldID(i), nil
		}
	}
	return 0, fmt.Errorf("unknown field id %q", name)
}

// DataDomain of a server product.
type DataDomain int32

const (
	DataDomainTime DataDomain = iota
	DataDomainFreq
)

func (d DataDomain) String() string {
	switch d {
	case DataDomainTime:
		return "TIME"
	case DataDomainFreq:
		return "FREQUENCY"
	default:
		return "DATA_DOMAIN_UNDEFINED"
	}
}

// DataUnits of a server product.
type DataUnits int32

const (
	DataUnitsDigCounts DataUnits = iota
	DataUnitsDigCountsSquared
	DataUnitsVoltage
	DataUnitsVoltageSquared
	DataUnitsMWatt
	DataUnitsDBm
	DataUnitsDBZ
)

func (u DataUnits) String() string {
	switch u {
	case DataUnitsDigCounts:
		return "DIG_COUNTS"
	case DataUnitsDigCountsSquared:
		return "DIG_COUNTS_SQUARED"
	case DataUnitsVoltage:
		return "Volts"
	case DataUnitsVoltageSquared:
		return "VoltsSq"
	case DataUnitsMWatt:
		return "mWatt"
	case DataUnitsDBm:
		return "dBm"
	case DataUnitsDBZ:
		return "dBZ"
	default:
		return "DATA_UNITS_UNDEFINED"
	}
}

// DrxMode is the digital receiver acquisition mode.
type DrxMode int32

const (
	DrxModeBurst DrxMode = iota
	DrxModeGated
	DrxModePRI
)

func (m DrxMode) String() string {
	switch m {
	case DrxModeBurst:
		return "BURST"
	case DrxModeGated:
		return "GATED"
	case DrxModePRI:
		return "PRI"
	default:
		return "DRX_MODE_UNDEFINED"
	}
}

// DrxTrig is the digital receiver trigger source.
type DrxTrig int32

const (
	DrxTrigInternal DrxTrig = iota
	DrxTrigExternal
)

func (t DrxTrig) String() string {
	switch t {
	case DrxTrigInternal:
		return "INTERNAL"
	case DrxTrigExternal:
		return "EXTERNAL"
	default:
		return "DRX_TRIG_UNDEFINED"
	}
}

// DrxState of one receiver channel.
type DrxState int32

const (
	DrxStateIdle DrxState = iota
	DrxStateRun
)

func (s DrxState) String() string {
	switch s {
	case DrxStateIdle:
		return "IDLE"
	case DrxStateRun:
		return "RUN"
	default:
		return "DRX_STATE_UNDEFINED"
	}
}

// DrxSource of one receiver channel.
type DrxSource int32

const (
	DrxSourceRawA2D DrxSource = iota
	DrxSourceRamp
	DrxSourceDigitalTuner
)

func (s DrxSource) String() string {
	switch s {
	case DrxSourceRawA2D:
		return "RAW_A2D"
	case DrxSourceRamp:
		return "RAMP"
	case DrxSourceDigitalTuner:
		return "DIGITAL_TUNER"
	default:
		return "DRX_SOURCE_UNDEFINED"
	}
}

// ProcMode is the covariance layout inferred from bytes per gate.
type ProcMode int

const (
	ProcModeUnknown ProcMode = iota
	ProcModePP
	ProcModePPSum
	ProcModeDualPP
	ProcModeDualPPSum
	ProcModeFFT
)

func (m ProcMode) String() string {
	switch m {
	case ProcModePP:
		return "PROC_MODE_PP"
	case ProcModePPSum:
		return "PROC_MODE_PP_SUM"
	case ProcModeDualPP:
		return "PROC_MODE_DUAL_PP"
	case ProcModeDualPPSum:
		return "PROC_MODE_DUAL_PP_SUM"
	case ProcModeFFT:
		return "PROC_MODE_FFT"
	default:
		return "PROC_MODE_UNKNOWN"
	}
}

// ProcModeForBytesPerGate maps the per-gate payload size to a layout.
func ProcModeForBytesPerGate(n int) ProcMode {
	switch n {
	case 40:
		return ProcModePP
	case 32:
		return ProcModePPSum
	case 64:
		return ProcModeDualPP
	case 48:
		return ProcModeDualPPSum
	case 1024:
		return ProcModeFFT
	default:
		return ProcModeUnknown
	}
}
