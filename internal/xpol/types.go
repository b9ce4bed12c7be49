package xpol

import (
	"math"
	"time"
)

// Conf is the server configuration returned by get-configuration.
// Fields are listed in wire order, preceded on the wire by the two
// time words.
type Conf struct {
	UnixTimeSecs  int32 `json:"unix_time_secs"`
	TimeMicroSecs int32 `json:"time_micro_secs"`

	SiteInfo                     string  `json:"site_info"`
	AzOffset                     float64 `json:"az_offset"`
	Spare1                       int32   `json:"-"`
	ClutFilterWidthMPerSec       float64 `json:"clut_filter_width_m_per_sec"`
	ClutAvInterval               int32   `json:"clut_av_interval"`
	ProductsPerSec               float64 `json:"products_per_sec"`
	FFTLength                    int32   `json:"fft_length"`
	FFTWindowType                int32   `json:"fft_window_type"`
	Reserved1                    int32   `json:"-"`
	AutoFileRollNRecords         int32   `json:"auto_file_roll_n_records"`
	AutoFileRollNScans           int32   `json:"auto_file_roll_n_scans"`
	AutoFileRollFileSizeMb       int32   `json:"auto_file_roll_file_size_mb"`
	AutoFileRollElapsedTimeSec   int32   `json:"auto_file_roll_elapsed_time_sec"`
	AutoFileRollTypeBitFlags     int32   `json:"auto_file_roll_type_bit_flags"`
	Reserved2                    int32   `json:"-"`
	FilterBandwidthMhz           float64 `json:"filter_bandwidth_mhz"`
	FreqTrackAdjThreshPerc       float64 `json:"freq_track_adj_thresh_perc"`
	FreqTrackMode                int32   `json:"freq_track_mode"`
	Reserved3                    int32   `json:"-"`
	GroupIntervalUsec            int32   `json:"group_interval_usec"`
	HDbzPerDbmOffset             float64 `json:"h_dbz_per_dbm_offset"`
	HNoisePowerDbm               float64 `json:"h_noise_power_dbm"`
	LoFreqErrorMhz               float64 `json:"lo_freq_error_mhz"`
	LoFreqMhz                    float64 `json:"lo_freq_mhz"`
	MaxSampledRangeM             float64 `json:"max_sampled_range_m"`
	NGates                       int32   `json:"n_gates"`
	NGroupPulses                 int32   `json:"n_group_pulses"`
	PostDecimationLevel          int32   `json:"post_decimation_level"`
	PostAveragingInterval        int32   `json:"post_averaging_interval"`
	PriUsecUnit1                 int32   `json:"pri_usec_unit1"`
	PriUsecUnit2                 int32   `json:"pri_usec_unit2"`
	PriUsecUnitTotal             int32   `json:"pri_usec_unit_total"`
	PrimOnBoardDecLevel          int32   `json:"prim_on_board_dec_level"`
	PulseLenM                    float64 `json:"pulse_len_m"`
	Reserved4                    int32   `json:"-"`
	GateSpacingM                 float64 `json:"gate_spacing_m"`
	Reserved5                    int32   `json:"-"`
	RangeResMPerGate             float64 `json:"range_res_m_per_gate"`
	RecordMoments                int32   `json:"record_moments"`
	RecordRaw                    int32   `json:"record_raw"`
	RecordingEnabled             int32   `json:"recording_enabled"`
	ServerMode                   int32   `json:"server_mode"`
	Reserved6                    int32   `json:"-"`
	ServerState                  int32   `json:"server_state"`
	Reserved7                    int32   `json:"-"`
	SoftwareDecLevel             int32   `json:"software_dec_level"`
	SumPowers                    int32   `json:"sum_powers"`
	TotAveragingInterval         int32   `json:"tot_averaging_interval"`
	TxDelayNanoSec               int32   `json:"tx_delay_nano_sec"`
	TxDelayPulseWidthMult        int32   `json:"tx_delay_pulse_width_mult"`
	TxPulseCenterNanoSec         int32   `json:"tx_pulse_center_nano_sec"`
	TxPulseCenterOffsetNanoSec   int32   `json:"tx_pulse_center_offset_nano_sec"`
	TxSampleSwitchDelayNanoSec   int32   `json:"tx_sample_switch_delay_nano_sec"`
	TxSampleSwitchHoldoffNanoSec int32   `json:"tx_sample_switch_holdoff_nano_sec"`
	UseClutFilter                int32   `json:"use_clut_filter"`
	VDbzPerDbmOffset             float64 `json:"v_dbz_per_dbm_offset"`
	VNoisePowerDbm               float64 `json:"v_noise_power_dbm"`
	ZeroRangeGateIndex           float64 `json:"zero_range_gate_index"`
}

// Mode returns ServerMode as its enum type.
func (c *Conf) Mode() ServerMode { return ServerMode(c.ServerMode) }

// PowersSummed reports whether the server sums per-pulse powers.
func (c *Conf) PowersSummed() bool { return c.SumPowers != 0 }

// GateSpacingKm returns the gate spacing in kilometres.
func (c *Conf) GateSpacingKm() float64 { return c.GateSpacingM / 1000.0 }

// StartRangeKm returns the range to the centre of gate 0, derived from
// the zero-range gate index.
func (c *Conf) StartRangeKm() float64 {
	return -c.ZeroRangeGateIndex * c.GateSpacingKm()
}

// PrtSecs returns the short and long pulse repetition times in seconds.
// In uniform-PRT modes both are the unit-1 PRI.
func (c *Conf) PrtSecs() (short, long float64) {
	u1 := float64(c.PriUsecUnit1) * 1.0e-6
	u2 := float64(c.PriUsecUnit2) * 1.0e-6
	if c.Mode() != ServerModeDualPP || u2 <= 0 {
		return u1, u1
	}
	return math.Min(u1, u2), math.Max(u1, u2)
}

// Status is the informational status record.
type Status struct {
	UnixTimeSecs      int32    `json:"unix_time_secs"`
	TimeMicroSecs     int32    `json:"time_micro_secs"`
	RadarTemps        [4]int32 `json:"radar_temps"`
	InclinometerRoll  int32    `json:"inclinometer_roll"`
	InclinometerPitch int32    `json:"inclinometer_pitch"`
	Fuel              int32    `json:"fuel"`
	CPUTempC          float32  `json:"cpu_temp_c"`
	ScanMode          ScanMode `json:"scan_mode"`
	TxPowerMw         float32  `json:"tx_power_mw"`
}

// DrxSpec describes the digital receiver's capabilities.
type DrxSpec struct {
	NumInputChannels        int32   `json:"num_input_channels"`
	MinSampleClockFreqHz    int32   `json:"min_sample_clock_freq_hz"`
	MaxSampleClockFreqHz    int32   `json:"max_sample_clock_freq_hz"`
	MinCenterFreqHz         int32   `json:"min_center_freq_hz"`
	MaxCenterFreqHz         int32   `json:"max_center_freq_hz"`
	MinNumDmaDescriptors    int32   `json:"min_num_dma_descriptors"`
	MaxNumDmaDescriptors    int32   `json:"max_num_dma_descriptors"`
	MinNumDmaDescripPackets int32   `json:"min_num_dma_descrip_packets"`
	MaxNumDmaDescripPackets int32   `json:"max_num_dma_descrip_packets"`
	MinDmaPacketSizeBytes   int32   `json:"min_dma_packet_size_bytes"`
	MaxDmaPacketSizeBytes   int32   `json:"max_dma_packet_size_bytes"`
	DnaPacketSizeGranBytes  int32   `json:"dna_packet_size_gran_bytes"`
	MinBurstSizeBytes       int32   `json:"min_burst_size_bytes"`
	MaxBurstSizeBytes       int32   `json:"max_burst_size_bytes"`
	BurstSizeGranBytes      int32   `json:"burst_size_gran_bytes"`
	MinNumBurstsPerPciIntr  float64 `json:"min_num_bursts_per_pci_intr"`
	MaxNumBurstsPerPciIntr  float64 `json:"max_num_bursts_per_pci_intr"`
	MinSkipCountSamples     int32   `json:"min_skip_count_samples"`
	MaxSkipCountSamples     int32   `json:"max_skip_count_samples"`
	MinCicDecLevel          int32   `json:"min_cic_dec_level"`
	MaxCicDecLevel          int32   `json:"max_cic_dec_level"`
	MinFirDecLevel          int32   `json:"min_fir_dec_level"`
	MaxFirDecLevel          int32   `json:"max_fir_dec_level"`
	MinPostDecLevel         int32   `json:"min_post_dec_level"`
	MaxPostDecLevel         int32   `json:"max_post_dec_level"`
	MaxFirFilterLen         int32   `json:"max_fir_filter_len"`
	MinFirGain              float64 `json:"min_fir_gain"`
	MaxFirGain              float64 `json:"max_fir_gain"`
	FullScaleFirGainLevel   float64 `json:"full_scale_fir_gain_level"`
	MinAnalogVoltageInputV  float64 `json:"min_analog_voltage_input_v"`
	MaxAnalogVoltageInputV  float64 `json:"max_analog_voltage_input_v"`
	AnalogImpedanceOhms     float64 `json:"analog_impedance_ohms"`
	MinDigitizedCountValue  int32   `json:"min_digitized_count_value"`
	MaxDigitizedCountValue  int32   `json:"max_digitized_count_value"`
	AdResBitsPerSample      int32   `json:"ad_res_bits_per_sample"`
	DigitizedCountSizeBits  int32   `json:"digitized_count_size_bits"`
}

// DrxInfo identifies the digital receiver.
type DrxInfo struct {
	ManufacturerCode int32   `json:"manufacturer_code"`
	ManufacturerName string  `json:"manufacturer_name"`
	ModelCode        int32   `json:"model_code"`
	ModelName        string  `json:"model_name"`
	Spec             DrxSpec `json:"spec"`
}

// DataProdInfo describes one product the server can deliver.
type DataProdInfo struct {
	TypeCode           int32      `json:"type_code"`
	ShortName          string     `json:"short_name"`
	LongName           string     `json:"long_name"`
	DrxChannel         int32      `json:"drx_channel"`
	PosDeviceIndex     int32      `json:"pos_device_index"`
	GpsDeviceIndex     int32      `json:"gps_device_index"`
	DataDomain         DataDomain `json:"data_domain"`
	DataUnits          DataUnits  `json:"data_units"`
	NInterleavedTracks int32      `json:"n_interleaved_tracks"`
	MatrixDim          int32      `json:"matrix_dim"`
}

// ServerInfo is the static product catalogue.
type ServerInfo struct {
	ProjectName string         `json:"project_name"`
	Drx         DrxInfo        `json:"drx"`
	Products    []DataProdInfo `json:"products"`
}

// DrxConf is the receiver configuration attached to each data block.
type DrxConf struct {
	Mode                 DrxMode      `json:"mode"`
	Trig                 DrxTrig      `json:"trig"`
	PciBusFreqMhz        int32        `json:"pci_bus_freq_mhz"`
	A2dSampleFreqHz      int32        `json:"a2d_sample_freq_hz"`
	NumDmaDescriptors    int32        `json:"num_dma_descriptors"`
	NumDmaPacketsPerDesc int32        `json:"num_dma_packets_per_desc"`
	DmaPacketSize        int32        `json:"dma_packet_size"`
	BlockSize            int32        `json:"block_size"`
	Reserved1            int32        `json:"-"`
	NumBlocksPerPciIntr  float64      `json:"num_blocks_per_pci_intr"`
	Reserved2            int32        `json:"-"`
	Reserved3            int32        `json:"-"`
	State                [2]DrxState  `json:"state"`
	Source               [2]DrxSource `json:"source"`
	SkipCount            [2]int32     `json:"skip_count"`
	CicDecimation        [2]int32     `json:"cic_decimation"`
	FirDecimation        [2]int32     `json:"fir_decimation"`
	PostDecimation       [2]int32     `json:"post_decimation"`
	NcoFreqHz            [2]int32     `json:"nco_freq_hz"`
}

// Pedestal is the antenna position at the time of the block.
type Pedestal struct {
	AzPosDeg       float64 `json:"az_pos_deg"`
	ElPosDeg       float64 `json:"el_pos_deg"`
	AzVelDegPerSec float64 `json:"az_vel_deg_per_sec"`
	ElVelDegPerSec float64 `json:"el_vel_deg_per_sec"`
	AzCurrentAmps  float64 `json:"az_current_amps"`
	ElCurrentAmps  float64 `json:"el_current_amps"`
}

// Georef is the platform location. Southern latitudes and western
// longitudes are negative.
type Georef struct {
	LatDeg          float64 `json:"lat_deg"`
	LonDeg          float64 `json:"lon_deg"`
	AltMeters       float64 `json:"alt_meters"`
	HeadingMagnetic bool    `json:"heading_magnetic"`
	HeadingDeg      float64 `json:"heading_deg"`
	SpeedKmh        float64 `json:"speed_kmh"`
}

// DataRequest is the fixed 60-byte get-data request record.
type DataRequest struct {
	ProductTypeCode      int32
	BlockOffset          int32
	BlockStepLength      int32
	BlockSeenStepLength  int32
	MaxNumBlocks         int32
	MatrixExtent1        [4]int32
	MatrixExtent2        [4]int32
	ExpectedArchiveIndex int32
	FormatFlags          int32
}

// NewDataRequest returns the request used for streaming the latest block
// of one product.
func NewDataRequest(id FieldID) DataRequest {
	return DataRequest{
		ProductTypeCode:      int32(id),
		BlockOffset:          -1,
		BlockStepLength:      1,
		BlockSeenStepLength:  1,
		MaxNumBlocks:         1,
		MatrixExtent2:        [4]int32{-1, -1, -1, -1},
		ExpectedArchiveIndex: -1,
		FormatFlags:          FormatFlags,
	}
}

// DataResponse is the per-ray metadata preceding each data block.
type DataResponse struct {
	ProductTypeCode      int32    `json:"product_type_code"`
	UnixTimeSecs         int32    `json:"unix_time_secs"`
	TimeNanoSecs         int32    `json:"time_nano_secs"`
	Drx                  DrxConf  `json:"drx"`
	DrxFirFilterGain     float64  `json:"drx_fir_filter_gain"`
	AveragingIntervalLen int32    `json:"averaging_interval_len"`
	ArchiveIndex         int32    `json:"archive_index"`
	BlockIndex           int64    `json:"block_index"`
	NBlocks              int32    `json:"n_blocks"`
	BlockSize            int32    `json:"block_size"`
	NumBlockDim          int32    `json:"num_block_dim"`
	BlockDims            [4]int32 `json:"block_dims"`
	Pedestal             Pedestal `json:"pedestal"`
	Georef               Georef   `json:"georef"`
}

// Time returns the block time in UTC.
func (r *DataResponse) Time() time.Time {
	return time.Unix(int64(r.UnixTimeSecs), int64(r.TimeNanoSecs)).UTC()
}

// DataLen returns the number of data bytes following the record.
func (r *DataResponse) DataLen() int {
	return int(r.NBlocks) * int(r.BlockSize)
}
