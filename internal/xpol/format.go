package xpol

import (
	"fmt"
	"strings"
	"time"
)

func unixString(secs int32) string {
	return time.Unix(int64(secs), 0).UTC().Format("2006-01-02T15:04:05Z")
}

// FormatStatus renders a Status for logs and the info tool.
func FormatStatus(s *Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "XPOL STATUS:\n")
	fmt.Fprintf(&b, "  unixTime: %s\n", unixString(s.UnixTimeSecs))
	fmt.Fprintf(&b, "  microSecs: %d\n", s.TimeMicroSecs)
	for i, t := range s.RadarTemps {
		fmt.Fprintf(&b, "  radarTemp[%d]: %d\n", i, t)
	}
	fmt.Fprintf(&b, "  inclinometerRoll: %d\n", s.InclinometerRoll)
	fmt.Fprintf(&b, "  inclinometerPitch: %d\n", s.InclinometerPitch)
	fmt.Fprintf(&b, "  fuel: %d\n", s.Fuel)
	fmt.Fprintf(&b, "  cpuTempC: %g\n", s.CPUTempC)
	fmt.Fprintf(&b, "  scanMode: %s\n", s.ScanMode)
	fmt.Fprintf(&b, "  txPowerMw: %g\n", s.TxPowerMw)
	return b.String()
}

// FormatConf renders the fields of a Conf that matter for processing.
func FormatConf(c *Conf) string {
	var b strings.Builder
	fmt.Fprintf(&b, "XPOL CONF:\n")
	fmt.Fprintf(&b, "  siteInfo: %s\n", c.SiteInfo)
	fmt.Fprintf(&b, "  azOffset: %g\n", c.AzOffset)
	fmt.Fprintf(&b, "  serverMode: %s\n", c.Mode())
	fmt.Fprintf(&b, "  serverState: %d\n", c.ServerState)
	fmt.Fprintf(&b, "  sumPowers: %d\n", c.SumPowers)
	fmt.Fprintf(&b, "  nGates: %d\n", c.NGates)
	fmt.Fprintf(&b, "  gateSpacingM: %g\n", c.GateSpacingM)
	fmt.Fprintf(&b, "  zeroRangeGateIndex: %g\n", c.ZeroRangeGateIndex)
	fmt.Fprintf(&b, "  rangeResMPerGate: %g\n", c.RangeResMPerGate)
	fmt.Fprintf(&b, "  maxSampledRangeM: %g\n", c.MaxSampledRangeM)
	fmt.Fprintf(&b, "  priUsecUnit1: %d\n", c.PriUsecUnit1)
	fmt.Fprintf(&b, "  priUsecUnit2: %d\n", c.PriUsecUnit2)
	fmt.Fprintf(&b, "  priUsecUnitTotal: %d\n", c.PriUsecUnitTotal)
	fmt.Fprintf(&b, "  nGroupPulses: %d\n", c.NGroupPulses)
	fmt.Fprintf(&b, "  totAveragingInterval: %d\n", c.TotAveragingInterval)
	fmt.Fprintf(&b, "  pulseLenM: %g\n", c.PulseLenM)
	fmt.Fprintf(&b, "  loFreqMhz: %g\n", c.LoFreqMhz)
	fmt.Fprintf(&b, "  hNoisePowerDbm: %g\n", c.HNoisePowerDbm)
	fmt.Fprintf(&b, "  vNoisePowerDbm: %g\n", c.VNoisePowerDbm)
	fmt.Fprintf(&b, "  hDbzPerDbmOffset: %g\n", c.HDbzPerDbmOffset)
	fmt.Fprintf(&b, "  vDbzPerDbmOffset: %g\n", c.VDbzPerDbmOffset)
	fmt.Fprintf(&b, "  useClutFilter: %d\n", c.UseClutFilter)
	fmt.Fprintf(&b, "  clutFilterWidthMPerSec: %g\n", c.ClutFilterWidthMPerSec)
	fmt.Fprintf(&b, "  recordingEnabled: %d\n", c.RecordingEnabled)
	return b.String()
}

// FormatServerInfo renders the receiver description and product list.
func FormatServerInfo(info *ServerInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "XPOL SERVER INFO:\n")
	fmt.Fprintf(&b, "  projectName: %s\n", info.ProjectName)
	fmt.Fprintf(&b, "  manufacturer: %s (%d)\n", info.Drx.ManufacturerName, info.Drx.ManufacturerCode)
	fmt.Fprintf(&b, "  model: %s (%d)\n", info.Drx.ModelName, info.Drx.ModelCode)
	s := &info.Drx.Spec
	fmt.Fprintf(&b, "  numInputChannels: %d\n", s.NumInputChannels)
	fmt.Fprintf(&b, "  sampleClockFreqHz: %d - %d\n", s.MinSampleClockFreqHz, s.MaxSampleClockFreqHz)
	fmt.Fprintf(&b, "  adResBitsPerSample: %d\n", s.AdResBitsPerSample)
	fmt.Fprintf(&b, "  productCount: %d\n", len(info.Products))
	for _, p := range info.Products {
		fmt.Fprintf(&b, "    [%d] %-28s %s %s/%s tracks=%d dim=%d\n",
			p.TypeCode, p.ShortName, p.LongName, p.DataDomain, p.DataUnits,
			p.NInterleavedTracks, p.MatrixDim)
	}
	return b.String()
}

// FormatDataResponse renders the per-ray metadata.
func FormatDataResponse(r *DataResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "XPOL DATA RESPONSE:\n")
	fmt.Fprintf(&b, "  productTypeCode: %s\n", FieldID(r.ProductTypeCode))
	fmt.Fprintf(&b, "  time: %s\n", r.Time().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "  drx: mode %s trig %s blockSize %d\n", r.Drx.Mode, r.Drx.Trig, r.Drx.BlockSize)
	fmt.Fprintf(&b, "  drxFirFilterGain: %g\n", r.DrxFirFilterGain)
	fmt.Fprintf(&b, "  averagingIntervalLen: %d\n", r.AveragingIntervalLen)
	fmt.Fprintf(&b, "  archiveIndex: %d\n", r.ArchiveIndex)
	fmt.Fprintf(&b, "  blockIndex: %d\n", r.BlockIndex)
	fmt.Fprintf(&b, "  nBlocks: %d blockSize: %d\n", r.NBlocks, r.BlockSize)
	fmt.Fprintf(&b, "  blockDims: %v (%d used)\n", r.BlockDims, r.NumBlockDim)
	b.WriteString(FormatPedestal(&r.Pedestal))
	b.WriteString(FormatGeoref(&r.Georef))
	return b.String()
}

// FormatPedestal renders antenna position and rates.
func FormatPedestal(p *Pedestal) string {
	return fmt.Sprintf("  pedestal: az %.3f el %.3f azVel %.3f elVel %.3f azAmps %.3f elAmps %.3f\n",
		p.AzPosDeg, p.ElPosDeg, p.AzVelDegPerSec, p.ElVelDegPerSec, p.AzCurrentAmps, p.ElCurrentAmps)
}

// FormatGeoref renders the platform location.
func FormatGeoref(g *Georef) string {
	ref := "true"
	if g.HeadingMagnetic {
		ref = "magnetic"
	}
	return fmt.Sprintf("  georef: lat %.5f lon %.5f alt %.1fm heading %.2f (%s) speed %.1fkm/h\n",
		g.LatDeg, g.LonDeg, g.AltMeters, g.HeadingDeg, ref, g.SpeedKmh)
}
