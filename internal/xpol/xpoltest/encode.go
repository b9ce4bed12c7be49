// Package xpoltest provides an in-process xpol server and the
// server-side record encoders it needs.
package xpoltest

import (
	"github.com/banshee-data/xpol2mom/internal/wire"
	"github.com/banshee-data/xpol2mom/internal/xpol"
)

// PutStatus appends a Status record.
func PutStatus(b *wire.Buffer, s *xpol.Status) {
	b.PutI32(s.UnixTimeSecs)
	b.PutI32(s.TimeMicroSecs)
	for _, t := range s.RadarTemps {
		b.PutI32(t)
	}
	b.PutI32(s.InclinometerRoll)
	b.PutI32(s.InclinometerPitch)
	b.PutI32(s.Fuel)
	b.PutF32(s.CPUTempC)
	b.PutI32(int32(s.ScanMode))
	b.PutF32(s.TxPowerMw)
}

// PutConf appends the configuration payload including the time words.
func PutConf(b *wire.Buffer, c *xpol.Conf) {
	b.PutI32(c.UnixTimeSecs)
	b.PutI32(c.TimeMicroSecs)
	b.PutString(c.SiteInfo, 1024)
	b.PutF64(c.AzOffset)
	b.PutI32(c.Spare1)
	b.PutF64(c.ClutFilterWidthMPerSec)
	b.PutI32(c.ClutAvInterval)
	b.PutF64(c.ProductsPerSec)
	b.PutI32(c.FFTLength)
	b.PutI32(c.FFTWindowType)
	b.PutI32(c.Reserved1)
	b.PutI32(c.AutoFileRollNRecords)
	b.PutI32(c.AutoFileRollNScans)
	b.PutI32(c.AutoFileRollFileSizeMb)
	b.PutI32(c.AutoFileRollElapsedTimeSec)
	b.PutI32(c.AutoFileRollTypeBitFlags)
	b.PutI32(c.Reserved2)
	b.PutF64(c.FilterBandwidthMhz)
	b.PutF64(c.FreqTrackAdjThreshPerc)
	b.PutI32(c.FreqTrackMode)
	b.PutI32(c.Reserved3)
	b.PutI32(c.GroupIntervalUsec)
	b.PutF64(c.HDbzPerDbmOffset)
	b.PutF64(c.HNoisePowerDbm)
	b.PutF64(c.LoFreqErrorMhz)
	b.PutF64(c.LoFreqMhz)
	b.PutF64(c.MaxSampledRangeM)
	b.PutI32(c.NGates)
	b.PutI32(c.NGroupPulses)
	b.PutI32(c.PostDecimationLevel)
	b.PutI32(c.PostAveragingInterval)
	b.PutI32(c.PriUsecUnit1)
	b.PutI32(c.PriUsecUnit2)
	b.PutI32(c.PriUsecUnitTotal)
	b.PutI32(c.PrimOnBoardDecLevel)
	b.PutF64(c.PulseLenM)
	b.PutI32(c.Reserved4)
	b.PutF64(c.GateSpacingM)
	b.PutI32(c.Reserved5)
	b.PutF64(c.RangeResMPerGate)
	b.PutI32(c.RecordMoments)
	b.PutI32(c.RecordRaw)
	b.PutI32(c.RecordingEnabled)
	b.PutI32(c.ServerMode)
	b.PutI32(c.Reserved6)
	b.PutI32(c.ServerState)
	b.PutI32(c.Reserved7)
	b.PutI32(c.SoftwareDecLevel)
	b.PutI32(c.SumPowers)
	b.PutI32(c.TotAveragingInterval)
	b.PutI32(c.TxDelayNanoSec)
	b.PutI32(c.TxDelayPulseWidthMult)
	b.PutI32(c.TxPulseCenterNanoSec)
	b.PutI32(c.TxPulseCenterOffsetNanoSec)
	b.PutI32(c.TxSampleSwitchDelayNanoSec)
	b.PutI32(c.TxSampleSwitchHoldoffNanoSec)
	b.PutI32(c.UseClutFilter)
	b.PutF64(c.VDbzPerDbmOffset)
	b.PutF64(c.VNoisePowerDbm)
	b.PutF64(c.ZeroRangeGateIndex)
}

func putDrxSpec(b *wire.Buffer, s *xpol.DrxSpec) {
	for _, v := range []int32{
		s.NumInputChannels,
		s.MinSampleClockFreqHz, s.MaxSampleClockFreqHz,
		s.MinCenterFreqHz, s.MaxCenterFreqHz,
		s.MinNumDmaDescriptors, s.MaxNumDmaDescriptors,
		s.MinNumDmaDescripPackets, s.MaxNumDmaDescripPackets,
		s.MinDmaPacketSizeBytes, s.MaxDmaPacketSizeBytes,
		s.DnaPacketSizeGranBytes,
		s.MinBurstSizeBytes, s.MaxBurstSizeBytes,
		s.BurstSizeGranBytes,
	} {
		b.PutI32(v)
	}
	b.PutF64(s.MinNumBurstsPerPciIntr)
	b.PutF64(s.MaxNumBurstsPerPciIntr)
	for _, v := range []int32{
		s.MinSkipCountSamples, s.MaxSkipCountSamples,
		s.MinCicDecLevel, s.MaxCicDecLevel,
		s.MinFirDecLevel, s.MaxFirDecLevel,
		s.MinPostDecLevel, s.MaxPostDecLevel,
		s.MaxFirFilterLen,
	} {
		b.PutI32(v)
	}
	for _, v := range []float64{
		s.MinFirGain, s.MaxFirGain, s.FullScaleFirGainLevel,
		s.MinAnalogVoltageInputV, s.MaxAnalogVoltageInputV, s.AnalogImpedanceOhms,
	} {
		b.PutF64(v)
	}
	b.PutI32(s.MinDigitizedCountValue)
	b.PutI32(s.MaxDigitizedCountValue)
	b.PutI32(s.AdResBitsPerSample)
	b.PutI32(s.DigitizedCountSizeBits)
}

// PutServerInfo appends a ServerInfo record and its product list.
func PutServerInfo(b *wire.Buffer, info *xpol.ServerInfo) {
	b.PutString(info.ProjectName, 128)
	b.PutI32(info.Drx.ManufacturerCode)
	b.PutString(info.Drx.ManufacturerName, 32)
	b.PutI32(info.Drx.ModelCode)
	b.PutString(info.Drx.ModelName, 32)
	putDrxSpec(b, &info.Drx.Spec)
	b.PutI32(int32(len(info.Products)))
	for _, p := range info.Products {
		b.PutI32(p.TypeCode)
		b.PutString(p.ShortName, 32)
		b.PutString(p.LongName, 64)
		b.PutI32(p.DrxChannel)
		b.PutI32(p.PosDeviceIndex)
		b.PutI32(p.GpsDeviceIndex)
		b.PutI32(int32(p.DataDomain))
		b.PutI32(int32(p.DataUnits))
		b.PutI32(p.NInterleavedTracks)
		b.PutI32(p.MatrixDim)
	}
}

func putDrxConf(b *wire.Buffer, c *xpol.DrxConf) {
	b.PutI32(int32(c.Mode))
	b.PutI32(int32(c.Trig))
	b.PutI32(c.PciBusFreqMhz)
	b.PutI32(c.A2dSampleFreqHz)
	b.PutI32(c.NumDmaDescriptors)
	b.PutI32(c.NumDmaPacketsPerDesc)
	b.PutI32(c.DmaPacketSize)
	b.PutI32(c.BlockSize)
	b.PutI32(c.Reserved1)
	b.PutF64(c.NumBlocksPerPciIntr)
	b.PutI32(c.Reserved2)
	b.PutI32(c.Reserved3)
	for _, v := range c.State {
		b.PutI32(int32(v))
	}
	for _, v := range c.Source {
		b.PutI32(int32(v))
	}
	for _, arr := range [][2]int32{c.SkipCount, c.CicDecimation, c.FirDecimation, c.PostDecimation, c.NcoFreqHz} {
		b.PutI32(arr[0])
		b.PutI32(arr[1])
	}
}

// PutDataResponse appends a DataResponse record. Negative latitudes and
// longitudes are written as positive values with 'S' or 'W' flags.
func PutDataResponse(b *wire.Buffer, r *xpol.DataResponse) {
	b.PutI32(r.ProductTypeCode)
	b.PutI32(r.UnixTimeSecs)
	b.PutI32(r.TimeNanoSecs)
	putDrxConf(b, &r.Drx)
	b.PutF64(r.DrxFirFilterGain)
	b.PutI32(r.AveragingIntervalLen)
	b.PutI32(r.ArchiveIndex)
	b.PutI64(r.BlockIndex)
	b.PutI32(r.NBlocks)
	b.PutI32(r.BlockSize)
	b.PutI32(r.NumBlockDim)
	for _, d := range r.BlockDims {
		b.PutI32(d)
	}

	p := &r.Pedestal
	for _, v := range []float64{p.AzPosDeg, p.ElPosDeg, p.AzVelDegPerSec, p.ElVelDegPerSec, p.AzCurrentAmps, p.ElCurrentAmps} {
		b.PutF64(v)
	}

	g := &r.Georef
	lat, latHemi := g.LatDeg, int32('N')
	if lat < 0 {
		lat, latHemi = -lat, 'S'
	}
	lon, lonHemi := g.LonDeg, int32('E')
	if lon < 0 {
		lon, lonHemi = -lon, 'W'
	}
	headRef := int32('T')
	if g.HeadingMagnetic {
		headRef = 'M'
	}
	b.PutI32(latHemi)
	b.PutF64(lat)
	b.PutI32(lonHemi)
	b.PutF64(lon)
	b.PutF64(g.AltMeters)
	b.PutI32(headRef)
	b.PutF64(g.HeadingDeg)
	b.PutF64(g.SpeedKmh)
}

// DecodeDataRequest reads the 15-word request record.
func DecodeDataRequest(b *wire.Buffer) (xpol.DataRequest, error) {
	var req xpol.DataRequest
	words := make([]int32, 15)
	for i := range words {
		v, err := b.I32()
		if err != nil {
			return req, err
		}
		words[i] = v
	}
	req.ProductTypeCode = words[0]
	req.BlockOffset = words[1]
	req.BlockStepLength = words[2]
	req.BlockSeenStepLength = words[3]
	req.MaxNumBlocks = words[4]
	copy(req.MatrixExtent1[:], words[5:9])
	copy(req.MatrixExtent2[:], words[9:13])
	req.ExpectedArchiveIndex = words[13]
	req.FormatFlags = words[14]
	return req, nil
}
