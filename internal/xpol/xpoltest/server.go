package xpoltest

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/xpol2mom/internal/wire"
	"github.com/banshee-data/xpol2mom/internal/xpol"
)

// Server speaks the xpol protocol on a local TCP port. It serves one
// data block per get-data request, generated from the current scene.
// Faults are armed per command and fire once.
type Server struct {
	ln   net.Listener
	wg   sync.WaitGroup
	done chan struct{}

	mu       sync.Mutex
	conf     xpol.Conf
	status   xpol.Status
	info     xpol.ServerInfo
	scene    Scene
	pedestal xpol.Pedestal
	georef   xpol.Georef
	archive  int32
	block    int64
	now      func() time.Time

	initFault  map[xpol.Command]xpol.StatusCode
	finalFault map[xpol.Command]xpol.StatusCode
	stall      map[xpol.Command]time.Duration
	bodyStall  map[xpol.Command]time.Duration
	drop       map[xpol.Command]bool
	skip       int64
	empty      bool
	interval   time.Duration

	requests []xpol.DataRequest
	commands []xpol.Command
	conns    int
	open     map[net.Conn]struct{}
}

// DefaultConf returns a uniform-PRT pulse-pair configuration with 100
// gates of 150 m.
func DefaultConf() xpol.Conf {
	return xpol.Conf{
		UnixTimeSecs:         1700000000,
		SiteInfo:             "test site",
		AzOffset:             12.5,
		GroupIntervalUsec:    1000,
		HDbzPerDbmOffset:     -60,
		HNoisePowerDbm:       -80,
		LoFreqMhz:            9410,
		MaxSampledRangeM:     15000,
		NGates:               100,
		NGroupPulses:         64,
		PriUsecUnit1:         500,
		PriUsecUnit2:         500,
		PriUsecUnitTotal:     500,
		PulseLenM:            150,
		GateSpacingM:         150,
		RangeResMPerGate:     150,
		ServerMode:           int32(xpol.ServerModePP),
		TotAveragingInterval: 64,
		VDbzPerDbmOffset:     -60,
		VNoisePowerDbm:       -80,
		ZeroRangeGateIndex:   -1,
	}
}

// DefaultServerInfo returns a catalogue listing the pulse-pair product.
func DefaultServerInfo() xpol.ServerInfo {
	return xpol.ServerInfo{
		ProjectName: "xpoltest",
		Drx: xpol.DrxInfo{
			ManufacturerCode: 1,
			ManufacturerName: "ProSensing",
			ModelCode:        2,
			ModelName:        "DRX",
			Spec:             xpol.DrxSpec{NumInputChannels: 2, AdResBitsPerSample: 14},
		},
		Products: []xpol.DataProdInfo{{
			TypeCode:           int32(xpol.FusedProductsProcData),
			ShortName:          "PP",
			LongName:           "pulse pair covariances",
			DataDomain:         xpol.DataDomainTime,
			DataUnits:          xpol.DataUnitsMWatt,
			NInterleavedTracks: 1,
			MatrixDim:          1,
		}},
	}
}

// NewServer listens on addr, or an ephemeral loopback port if addr is
// empty, and starts accepting connections.
func NewServer(addr string) (*Server, error) {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:         ln,
		done:       make(chan struct{}),
		conf:       DefaultConf(),
		info:       DefaultServerInfo(),
		scene:      func(int) Gate { return Gate{} },
		archive:    1,
		now:        time.Now,
		initFault:  map[xpol.Command]xpol.StatusCode{},
		finalFault: map[xpol.Command]xpol.StatusCode{},
		stall:      map[xpol.Command]time.Duration{},
		bodyStall:  map[xpol.Command]time.Duration{},
		drop:       map[xpol.Command]bool{},
		open:       map[net.Conn]struct{}{},
	}
	s.status = xpol.Status{UnixTimeSecs: s.conf.UnixTimeSecs, CPUTempC: 41.5, ScanMode: xpol.ScanModePPI, TxPowerMw: 25}
	s.wg.Add(1)
	go s.accept()
	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Close stops the listener and all open connections.
func (s *Server) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	err := s.ln.Close()
	s.mu.Lock()
	for c := range s.open {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

// SetConf replaces the configuration and advances the archive index.
func (s *Server) SetConf(c xpol.Conf) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conf = c
	s.archive++
}

// Conf returns the current configuration.
func (s *Server) Conf() xpol.Conf {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conf
}

// SetStatus replaces the status record.
func (s *Server) SetStatus(st xpol.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

// SetServerInfo replaces the product catalogue.
func (s *Server) SetServerInfo(info xpol.ServerInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
}

// SetScene sets the covariance generator for data blocks.
func (s *Server) SetScene(sc Scene) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scene = sc
}

// SetPointing sets the pedestal and georeference sent with each block.
func (s *Server) SetPointing(p xpol.Pedestal, g xpol.Georef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pedestal = p
	s.georef = g
}

// SetClock replaces the time source for block timestamps.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetBlockInterval delays every get-data response by d, pacing the
// block stream the way a live server's averaging interval does.
func (s *Server) SetBlockInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
}

// FailInitial makes the next cmd respond with st as its initial status.
func (s *Server) FailInitial(cmd xpol.Command, st xpol.StatusCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initFault[cmd] = st
}

// FailFinal makes the next cmd respond with st as its final status.
func (s *Server) FailFinal(cmd xpol.Command, st xpol.StatusCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalFault[cmd] = st
}

// Stall delays the next response to cmd by d.
func (s *Server) Stall(cmd xpol.Command, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stall[cmd] = d
}

// StallAfterHeader makes the next cmd send its header and then wait d
// before sending the payload and final status.
func (s *Server) StallAfterHeader(cmd xpol.Command, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodyStall[cmd] = d
}

// DropAfterHeader makes the next cmd send its header and then close the
// connection.
func (s *Server) DropAfterHeader(cmd xpol.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop[cmd] = true
}

// SkipBlocks advances the block index by n extra before the next block.
func (s *Server) SkipBlocks(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skip += n
}

// EmptyData makes the next get-data respond with no payload.
func (s *Server) EmptyData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.empty = true
}

// Requests returns the get-data requests received so far.
func (s *Server) Requests() []xpol.DataRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]xpol.DataRequest(nil), s.requests...)
}

// Commands returns every command word received so far.
func (s *Server) Commands() []xpol.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]xpol.Command(nil), s.commands...)
}

// Connections returns the number of connections accepted.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns++
		s.open[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.open, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	in := wire.NewBuffer(64)
	for {
		if err := in.ReadFrom(conn, 4); err != nil {
			return
		}
		w, _ := in.I32()
		cmd := xpol.Command(w)

		var req xpol.DataRequest
		if cmd == xpol.CmdGetData {
			if err := in.ReadFrom(conn, 4); err != nil {
				return
			}
			n, _ := in.I32()
			if n != xpol.DataRequestLen {
				return
			}
			if err := in.ReadFrom(conn, int(n)); err != nil {
				return
			}
			var err error
			if req, err = DecodeDataRequest(in); err != nil {
				return
			}
		}

		r := s.arm(cmd, req)
		if r.stall > 0 {
			select {
			case <-time.After(r.stall):
			case <-s.done:
				return
			}
		}
		if err := s.respond(conn, cmd, r); err != nil {
			return
		}
	}
}

// armed is the per-request snapshot of server state and faults.
type armed struct {
	init, final xpol.StatusCode
	stall       time.Duration
	bodyStall   time.Duration
	drop        bool
	empty       bool

	conf     xpol.Conf
	status   xpol.Status
	info     xpol.ServerInfo
	scene    Scene
	pedestal xpol.Pedestal
	georef   xpol.Georef
	archive  int32
	block    int64
	now      time.Time
}

func (s *Server) arm(cmd xpol.Command, req xpol.DataRequest) armed {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = appendHistory(s.commands, cmd)

	r := armed{init: xpol.StatusOK, final: xpol.StatusOK}
	if st, ok := s.initFault[cmd]; ok {
		r.init = st
		delete(s.initFault, cmd)
	}
	if st, ok := s.finalFault[cmd]; ok {
		r.final = st
		delete(s.finalFault, cmd)
	}
	if d, ok := s.stall[cmd]; ok {
		r.stall = d
		delete(s.stall, cmd)
	}
	if d, ok := s.bodyStall[cmd]; ok {
		r.bodyStall = d
		delete(s.bodyStall, cmd)
	}
	if s.drop[cmd] {
		r.drop = true
		delete(s.drop, cmd)
	}
	if cmd == xpol.CmdGetData {
		s.requests = appendHistory(s.requests, req)
		s.block += 1 + s.skip
		s.skip = 0
		r.empty = s.empty
		s.empty = false
		r.stall += s.interval
	}
	r.conf = s.conf
	r.status = s.status
	r.info = s.info
	r.scene = s.scene
	r.pedestal = s.pedestal
	r.georef = s.georef
	r.archive = s.archive
	r.block = s.block
	r.now = s.now()
	return r
}

// maxHistory bounds the recorded commands and requests so a long-running
// simulator does not grow without limit.
const maxHistory = 4096

func appendHistory[T any](h []T, v T) []T {
	if len(h) >= maxHistory {
		h = append(h[:0], h[len(h)-maxHistory/2:]...)
	}
	return append(h, v)
}

var errDropped = errors.New("connection dropped")

func (s *Server) respond(w io.Writer, cmd xpol.Command, r armed) error {
	out := wire.NewBuffer(1024)
	send := func() error {
		_, err := w.Write(out.Bytes())
		out.Reset()
		return err
	}
	// header writes the envelope header, returning errDropped when the
	// connection should be closed after it.
	header := func(words ...int32) error {
		for _, v := range words {
			out.PutI32(v)
		}
		if err := send(); err != nil {
			return err
		}
		if r.drop {
			return errDropped
		}
		if r.bodyStall > 0 {
			select {
			case <-time.After(r.bodyStall):
			case <-s.done:
				return errDropped
			}
		}
		return nil
	}
	finish := func() error {
		out.PutI32(int32(r.final))
		return send()
	}

	switch cmd {
	case xpol.CmdPingServer:
		out.PutI32(int32(r.init))
		return send()

	case xpol.CmdGetConf, xpol.CmdGetConfAndStatus:
		cb := wire.NewBuffer(1536)
		PutConf(cb, &r.conf)
		var sb *wire.Buffer
		statusSize := int32(0)
		if cmd == xpol.CmdGetConfAndStatus {
			sb = wire.NewBuffer(64)
			PutStatus(sb, &r.status)
			statusSize = int32(sb.Len())
		}
		confSize := int32(cb.Len())
		if err := header(int32(r.init), confSize+statusSize, r.archive, confSize, statusSize); err != nil {
			return err
		}
		if !r.init.InitialOK() {
			return nil
		}
		out.PutBytes(cb.Bytes())
		if sb != nil {
			out.PutBytes(sb.Bytes())
		}
		return finish()

	case xpol.CmdGetStatus:
		sb := wire.NewBuffer(64)
		PutStatus(sb, &r.status)
		n := int32(sb.Len())
		if err := header(int32(r.init), n, n); err != nil {
			return err
		}
		if !r.init.InitialOK() {
			return nil
		}
		out.PutBytes(sb.Bytes())
		return finish()

	case xpol.CmdGetServerInfo:
		ib := wire.NewBuffer(512)
		PutServerInfo(ib, &r.info)
		if err := header(int32(r.init), int32(ib.Len())); err != nil {
			return err
		}
		if !r.init.InitialOK() {
			return nil
		}
		out.PutBytes(ib.Bytes())
		return finish()

	case xpol.CmdGetData:
		if r.empty {
			if err := header(int32(r.init), 0); err != nil {
				return err
			}
			return finish()
		}
		data, err := Block(&r.conf, r.scene)
		if err != nil {
			// modes without a covariance layout get a zero-filled
			// block sized for the FFT product
			data = make([]byte, int(r.conf.NGates)*1024)
		}
		t := r.now
		resp := xpol.DataResponse{
			ProductTypeCode:      int32(xpol.FusedProductsProcData),
			UnixTimeSecs:         int32(t.Unix()),
			TimeNanoSecs:         int32(t.Nanosecond()),
			Drx:                  xpol.DrxConf{BlockSize: int32(len(data))},
			AveragingIntervalLen: r.conf.TotAveragingInterval,
			ArchiveIndex:         r.archive,
			BlockIndex:           r.block,
			NBlocks:              1,
			BlockSize:            int32(len(data)),
			NumBlockDim:          1,
			BlockDims:            [4]int32{r.conf.NGates},
			Pedestal:             r.pedestal,
			Georef:               r.georef,
		}
		rb := wire.NewBuffer(512 + len(data))
		PutDataResponse(rb, &resp)
		rb.PutBytes(data)
		if err := header(int32(r.init), int32(rb.Len())); err != nil {
			return err
		}
		if !r.init.InitialOK() {
			return nil
		}
		out.PutBytes(rb.Bytes())
		return finish()

	case xpol.CmdSetConf, xpol.CmdLoadPacsiPedDisabled, xpol.CmdLoadPacsiPedEnabled:
		out.PutI32(int32(xpol.StatusLackControl))
		return send()

	default:
		out.PutI32(int32(xpol.StatusUnknownCmd))
		return send()
	}
}
