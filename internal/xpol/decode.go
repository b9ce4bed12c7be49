package xpol

import (
	"github.com/banshee-data/xpol2mom/internal/wire"
)

// reader wraps a wire.Buffer and keeps the first decode error so record
// decoders can read field after field and check once at the end.
type reader struct {
	b   *wire.Buffer
	err error
}

func (r *reader) i32() int32 {
	if r.err != nil {
		return 0
	}
	v, err := r.b.I32()
	r.err = err
	return v
}

func (r *reader) i64() int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.b.I64()
	r.err = err
	return v
}

func (r *reader) f32() float32 {
	if r.err != nil {
		return 0
	}
	v, err := r.b.F32()
	r.err = err
	return v
}

func (r *reader) f64() float64 {
	if r.err != nil {
		return 0
	}
	v, err := r.b.F64()
	r.err = err
	return v
}

func (r *reader) str(n int) string {
	if r.err != nil {
		return ""
	}
	v, err := r.b.String(n)
	r.err = err
	return v
}

// DecodeStatus reads a Status record.
func DecodeStatus(b *wire.Buffer, s *Status) error {
	r := &reader{b: b}
	s.UnixTimeSecs = r.i32()
	s.TimeMicroSecs = r.i32()
	for i := range s.RadarTemps {
		s.RadarTemps[i] = r.i32()
	}
	s.InclinometerRoll = r.i32()
	s.InclinometerPitch = r.i32()
	s.Fuel = r.i32()
	s.CPUTempC = r.f32()
	s.ScanMode = ScanMode(r.i32())
	s.TxPowerMw = r.f32()
	return r.err
}

// DecodeConf reads the configuration payload: the two time words
// followed by the Conf fields in wire order.
func DecodeConf(b *wire.Buffer, c *Conf) error {
	r := &reader{b: b}
	c.UnixTimeSecs = r.i32()
	c.TimeMicroSecs = r.i32()
	c.SiteInfo = r.str(siteInfoLen)
	c.AzOffset = r.f64()
	c.Spare1 = r.i32()
	c.ClutFilterWidthMPerSec = r.f64()
	c.ClutAvInterval = r.i32()
	c.ProductsPerSec = r.f64()
	c.FFTLength = r.i32()
	c.FFTWindowType = r.i32()
	c.Reserved1 = r.i32()
	c.AutoFileRollNRecords = r.i32()
	c.AutoFileRollNScans = r.i32()
	c.AutoFileRollFileSizeMb = r.i32()
	c.AutoFileRollElapsedTimeSec = r.i32()
	c.AutoFileRollTypeBitFlags = r.i32()
	c.Reserved2 = r.i32()
	c.FilterBandwidthMhz = r.f64()
	c.FreqTrackAdjThreshPerc = r.f64()
	c.FreqTrackMode = r.i32()
	c.Reserved3 = r.i32()
	c.GroupIntervalUsec = r.i32()
	c.HDbzPerDbmOffset = r.f64()
	c.HNoisePowerDbm = r.f64()
	c.LoFreqErrorMhz = r.f64()
	c.LoFreqMhz = r.f64()
	c.MaxSampledRangeM = r.f64()
	c.NGates = r.i32()
	c.NGroupPulses = r.i32()
	c.PostDecimationLevel = r.i32()
	c.PostAveragingInterval = r.i32()
	c.PriUsecUnit1 = r.i32()
	c.PriUsecUnit2 = r.i32()
	c.PriUsecUnitTotal = r.i32()
	c.PrimOnBoardDecLevel = r.i32()
	c.PulseLenM = r.f64()
	c.Reserved4 = r.i32()
	c.GateSpacingM = r.f64()
	c.Reserved5 = r.i32()
	c.RangeResMPerGate = r.f64()
	c.RecordMoments = r.i32()
	c.RecordRaw = r.i32()
	c.RecordingEnabled = r.i32()
	c.ServerMode = r.i32()
	c.Reserved6 = r.i32()
	c.ServerState = r.i32()
	c.Reserved7 = r.i32()
	c.SoftwareDecLevel = r.i32()
	c.SumPowers = r.i32()
	c.TotAveragingInterval = r.i32()
	c.TxDelayNanoSec = r.i32()
	c.TxDelayPulseWidthMult = r.i32()
	c.TxPulseCenterNanoSec = r.i32()
	c.TxPulseCenterOffsetNanoSec = r.i32()
	c.TxSampleSwitchDelayNanoSec = r.i32()
	c.TxSampleSwitchHoldoffNanoSec = r.i32()
	c.UseClutFilter = r.i32()
	c.VDbzPerDbmOffset = r.f64()
	c.VNoisePowerDbm = r.f64()
	c.ZeroRangeGateIndex = r.f64()
	return r.err
}

func decodeDrxSpec(r *reader, s *DrxSpec) {
	s.NumInputChannels = r.i32()
	s.MinSampleClockFreqHz = r.i32()
	s.MaxSampleClockFreqHz = r.i32()
	s.MinCenterFreqHz = r.i32()
	s.MaxCenterFreqHz = r.i32()
	s.MinNumDmaDescriptors = r.i32()
	s.MaxNumDmaDescriptors = r.i32()
	s.MinNumDmaDescripPackets = r.i32()
	s.MaxNumDmaDescripPackets = r.i32()
	s.MinDmaPacketSizeBytes = r.i32()
	s.MaxDmaPacketSizeBytes = r.i32()
	s.DnaPacketSizeGranBytes = r.i32()
	s.MinBurstSizeBytes = r.i32()
	s.MaxBurstSizeBytes = r.i32()
	s.BurstSizeGranBytes = r.i32()
	s.MinNumBurstsPerPciIntr = r.f64()
	s.MaxNumBurstsPerPciIntr = r.f64()
	s.MinSkipCountSamples = r.i32()
	s.MaxSkipCountSamples = r.i32()
	s.MinCicDecLevel = r.i32()
	s.MaxCicDecLevel = r.i32()
	s.MinFirDecLevel = r.i32()
	s.MaxFirDecLevel = r.i32()
	s.MinPostDecLevel = r.i32()
	s.MaxPostDecLevel = r.i32()
	s.MaxFirFilterLen = r.i32()
	s.MinFirGain = r.f64()
	s.MaxFirGain = r.f64()
	s.FullScaleFirGainLevel = r.f64()
	s.MinAnalogVoltageInputV = r.f64()
	s.MaxAnalogVoltageInputV = r.f64()
	s.AnalogImpedanceOhms = r.f64()
	s.MinDigitizedCountValue = r.i32()
	s.MaxDigitizedCountValue = r.i32()
	s.AdResBitsPerSample = r.i32()
	s.DigitizedCountSizeBits = r.i32()
}

func decodeDataProdInfo(r *reader, p *DataProdInfo) {
	p.TypeCode = r.i32()
	p.ShortName = r.str(prodShortLen)
	p.LongName = r.str(prodLongLen)
	p.DrxChannel = r.i32()
	p.PosDeviceIndex = r.i32()
	p.GpsDeviceIndex = r.i32()
	p.DataDomain = DataDomain(r.i32())
	p.DataUnits = DataUnits(r.i32())
	p.NInterleavedTracks = r.i32()
	p.MatrixDim = r.i32()
}

// maxProducts bounds the product count so a corrupt header cannot force
// a huge allocation.
const maxProducts = 1024

// DecodeServerInfo reads a ServerInfo record and its product list.
func DecodeServerInfo(b *wire.Buffer, info *ServerInfo) error {
	r := &reader{b: b}
	info.ProjectName = r.str(projectNameLen)
	info.Drx.ManufacturerCode = r.i32()
	info.Drx.ManufacturerName = r.str(drxNameLen)
	info.Drx.ModelCode = r.i32()
	info.Drx.ModelName = r.str(drxNameLen)
	decodeDrxSpec(r, &info.Drx.Spec)
	n := r.i32()
	if r.err != nil {
		return r.err
	}
	if n < 0 || n > maxProducts {
		return wireSizeError("product count", int(n))
	}
	info.Products = make([]DataProdInfo, n)
	for i := range info.Products {
		decodeDataProdInfo(r, &info.Products[i])
	}
	return r.err
}

func decodeDrxConf(r *reader, c *DrxConf) {
	c.Mode = DrxMode(r.i32())
	c.Trig = DrxTrig(r.i32())
	c.PciBusFreqMhz = r.i32()
	c.A2dSampleFreqHz = r.i32()
	c.NumDmaDescriptors = r.i32()
	c.NumDmaPacketsPerDesc = r.i32()
	c.DmaPacketSize = r.i32()
	c.BlockSize = r.i32()
	c.Reserved1 = r.i32()
	c.NumBlocksPerPciIntr = r.f64()
	c.Reserved2 = r.i32()
	c.Reserved3 = r.i32()
	for i := range c.State {
		c.State[i] = DrxState(r.i32())
	}
	for i := range c.Source {
		c.Source[i] = DrxSource(r.i32())
	}
	for i := range c.SkipCount {
		c.SkipCount[i] = r.i32()
	}
	for i := range c.CicDecimation {
		c.CicDecimation[i] = r.i32()
	}
	for i := range c.FirDecimation {
		c.FirDecimation[i] = r.i32()
	}
	for i := range c.PostDecimation {
		c.PostDecimation[i] = r.i32()
	}
	for i := range c.NcoFreqHz {
		c.NcoFreqHz[i] = r.i32()
	}
}

func decodePedestal(r *reader, p *Pedestal) {
	p.AzPosDeg = r.f64()
	p.ElPosDeg = r.f64()
	p.AzVelDegPerSec = r.f64()
	p.ElVelDegPerSec = r.f64()
	p.AzCurrentAmps = r.f64()
	p.ElCurrentAmps = r.f64()
}

func decodeGeoref(r *reader, g *Georef) {
	latHemi := r.i32()
	g.LatDeg = r.f64()
	if latHemi == 'S' && g.LatDeg > 0 {
		g.LatDeg = -g.LatDeg
	}
	lonHemi := r.i32()
	g.LonDeg = r.f64()
	if lonHemi == 'W' && g.LonDeg > 0 {
		g.LonDeg = -g.LonDeg
	}
	g.AltMeters = r.f64()
	g.HeadingMagnetic = r.i32() == 'M'
	g.HeadingDeg = r.f64()
	g.SpeedKmh = r.f64()
}

// DecodeDataResponse reads the DataResponse record that precedes the
// data bytes of a get-data reply.
func DecodeDataResponse(b *wire.Buffer, d *DataResponse) error {
	r := &reader{b: b}
	d.ProductTypeCode = r.i32()
	d.UnixTimeSecs = r.i32()
	d.TimeNanoSecs = r.i32()
	decodeDrxConf(r, &d.Drx)
	d.DrxFirFilterGain = r.f64()
	d.AveragingIntervalLen = r.i32()
	d.ArchiveIndex = r.i32()
	d.BlockIndex = r.i64()
	d.NBlocks = r.i32()
	d.BlockSize = r.i32()
	d.NumBlockDim = r.i32()
	for i := range d.BlockDims {
		d.BlockDims[i] = r.i32()
	}
	decodePedestal(r, &d.Pedestal)
	decodeGeoref(r, &d.Georef)
	return r.err
}

// PutDataRequest appends the 15-word request record to b.
func PutDataRequest(b *wire.Buffer, req DataRequest) {
	b.PutI32(req.ProductTypeCode)
	b.PutI32(req.BlockOffset)
	b.PutI32(req.BlockStepLength)
	b.PutI32(req.BlockSeenStepLength)
	b.PutI32(req.MaxNumBlocks)
	for _, v := range req.MatrixExtent1 {
		b.PutI32(v)
	}
	for _, v := range req.MatrixExtent2 {
		b.PutI32(v)
	}
	b.PutI32(req.ExpectedArchiveIndex)
	b.PutI32(req.FormatFlags)
}
