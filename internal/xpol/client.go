package xpol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"time"

	"github.com/banshee-data/xpol2mom/internal/monitoring"
	"github.com/banshee-data/xpol2mom/internal/wire"
)

// Default timeouts for talking to the server.
const (
	DefaultConnectTimeout = 1 * time.Second
	DefaultCommTimeout    = 1 * time.Second
	DefaultDataTimeout    = 10 * time.Second

	// maxPayload bounds any single size field read from the server.
	maxPayload = 64 * 1024 * 1024
)

// Options configures a Client.
type Options struct {
	Addr           string
	ConnectTimeout time.Duration
	CommTimeout    time.Duration
	DataTimeout    time.Duration

	// OverrideAzOffset forces Conf.AzOffset to AzOffsetDeg. The value is
	// also substituted when the server reports an offset beyond 360.
	OverrideAzOffset bool
	AzOffsetDeg      float64

	// Verbose logs every decoded record.
	Verbose bool

	// Dial replaces the default TCP dialer, mainly for tests.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func (o *Options) setDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.CommTimeout <= 0 {
		o.CommTimeout = DefaultCommTimeout
	}
	if o.DataTimeout <= 0 {
		o.DataTimeout = DefaultDataTimeout
	}
	if o.Dial == nil {
		d := &net.Dialer{}
		o.Dial = d.DialContext
	}
}

// Client is a session with an xpol server. The connection is opened
// lazily, closed on any I/O failure and reopened by the next call.
// A Client is owned by a single goroutine.
type Client struct {
	opts Options
	conn net.Conn

	send *wire.Buffer
	recv *wire.Buffer
	data []byte

	conf       Conf
	haveConf   bool
	status     Status
	serverInfo ServerInfo
	resp       DataResponse
	procMode   ProcMode

	archiveIndex   int32
	haveArchive    bool
	metaChanged    bool
	prevBlockIndex int64
	haveBlock      bool
	droppedBlocks  int64
}

// NewClient returns a disconnected client.
func NewClient(opts Options) *Client {
	opts.setDefaults()
	return &Client{
		opts: opts,
		send: wire.NewBuffer(128),
		recv: wire.NewBuffer(4096),
	}
}

// Addr returns the server address.
func (c *Client) Addr() string { return c.opts.Addr }

// Connected reports whether a socket is open.
func (c *Client) Connected() bool { return c.conn != nil }

// Close closes the socket if open. The client may be used again.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Conf returns the last configuration read, and whether one has been read.
func (c *Client) Conf() (Conf, bool) { return c.conf, c.haveConf }

// Status returns the last status read.
func (c *Client) Status() Status { return c.status }

// ServerInfo returns the last server info read.
func (c *Client) ServerInfo() ServerInfo { return c.serverInfo }

// ProcMode returns the layout inferred from the last data block.
func (c *Client) ProcMode() ProcMode { return c.procMode }

// Data returns the raw bytes of the last data block. The slice is
// overwritten by the next ReadData.
func (c *Client) Data() []byte { return c.data }

// MetaDataChanged reports whether the last ReadData refreshed metadata
// because the archive index changed.
func (c *Client) MetaDataChanged() bool { return c.metaChanged }

// DroppedBlocks returns the running count of skipped block indices.
func (c *Client) DroppedBlocks() int64 { return c.droppedBlocks }

func (c *Client) connect(ctx context.Context, op string) error {
	if c.conn != nil {
		return nil
	}
	dctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()
	conn, err := c.opts.Dial(dctx, "tcp", c.opts.Addr)
	if err != nil {
		e := newError(op, KindConnectFailed, 0, fmt.Errorf("dial %s: %w", c.opts.Addr, err))
		e.Closed = true
		return e
	}
	monitoring.Logf("xpol: connected to %s", c.opts.Addr)
	c.conn = conn
	return nil
}

// fail closes the session and returns a fatal error.
func (c *Client) fail(op string, kind Kind, status StatusCode, err error) *Error {
	_ = c.Close()
	e := newError(op, kind, status, err)
	e.Closed = true
	return e
}

// ioFail classifies an I/O error and closes the session.
func (c *Client) ioFail(ctx context.Context, op string, writing bool, err error) *Error {
	var ne net.Error
	switch {
	case ctx.Err() != nil:
		return c.fail(op, KindTimeout, 0, ctx.Err())
	case errors.Is(err, os.ErrDeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return c.fail(op, KindTimeout, 0, err)
	case writing:
		return c.fail(op, KindShortWrite, 0, err)
	default:
		return c.fail(op, KindShortRead, 0, err)
	}
}

// deadline sets the socket deadline from timeout and ctx, and arranges
// for cancellation of ctx to unblock pending I/O. The returned func
// must be called when the I/O is done.
func (c *Client) deadline(ctx context.Context, timeout time.Duration) func() bool {
	d := time.Now().Add(timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		d = cd
	}
	conn := c.conn
	_ = conn.SetDeadline(d)
	return context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
}

func (c *Client) write(ctx context.Context, op string) error {
	if err := c.connect(ctx, op); err != nil {
		return err
	}
	stop := c.deadline(ctx, c.opts.CommTimeout)
	defer stop()
	p := c.send.Bytes()
	n, err := c.conn.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return c.ioFail(ctx, op, true, err)
	}
	return nil
}

// read fills the receive buffer with exactly n bytes.
func (c *Client) read(ctx context.Context, op string, n int, timeout time.Duration) error {
	if c.conn == nil {
		return c.fail(op, KindShortRead, 0, errors.New("socket not open"))
	}
	stop := c.deadline(ctx, timeout)
	defer stop()
	if err := c.recv.ReadFrom(c.conn, n); err != nil {
		return c.ioFail(ctx, op, false, err)
	}
	return nil
}

// words decodes n header words from a receive buffer that is known to
// hold them.
func (c *Client) words(n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i], _ = c.recv.I32()
	}
	return out
}

func (c *Client) command(ctx context.Context, op string, cmd Command) error {
	c.send.Reset()
	c.send.PutI32(int32(cmd))
	return c.write(ctx, op)
}

// payload reads a size-prefixed payload within timeout, closing the
// session if the size is not plausible.
func (c *Client) payload(ctx context.Context, op string, size int32, timeout time.Duration) error {
	if size < 0 || size > maxPayload {
		return c.fail(op, KindBufferTooSmall, 0, wireSizeError("payload size", int(size)))
	}
	return c.read(ctx, op, int(size), timeout)
}

func (c *Client) finalStatus(ctx context.Context, op string, timeout time.Duration) error {
	if err := c.read(ctx, op, statusWordLen, timeout); err != nil {
		return err
	}
	st := StatusCode(c.words(1)[0])
	if c.opts.Verbose {
		monitoring.Logf("xpol %s: final status %s", op, st)
	}
	if st != StatusOK {
		return c.fail(op, KindProtocolStatus, st, nil)
	}
	return nil
}

func decodeFail(op string, err error) *Error {
	return newError(op, KindBufferTooSmall, 0, err)
}

// Ping checks that the server answers with STATUS_OK.
func (c *Client) Ping(ctx context.Context) error {
	const op = "ping"
	if err := c.command(ctx, op, CmdPingServer); err != nil {
		return err
	}
	if err := c.read(ctx, op, statusWordLen, c.opts.CommTimeout); err != nil {
		return err
	}
	if st := StatusCode(c.words(1)[0]); st != StatusOK {
		return newError(op, KindProtocolStatus, st, nil)
	}
	return nil
}

// ReadConf requests the configuration, optionally with the status
// record embedded, and stores both on success.
func (c *Client) ReadConf(ctx context.Context, withStatus bool) (*Conf, error) {
	op := "read conf"
	cmd := CmdGetConf
	if withStatus {
		op = "read conf and status"
		cmd = CmdGetConfAndStatus
	}
	if err := c.command(ctx, op, cmd); err != nil {
		return nil, err
	}
	if err := c.read(ctx, op, confHeaderLen, c.opts.CommTimeout); err != nil {
		return nil, err
	}
	h := c.words(5)
	initStatus, totalSize, archiveIndex, confSize, statusSize := StatusCode(h[0]), h[1], h[2], h[3], h[4]
	if !initStatus.InitialOK() {
		return nil, c.fail(op, KindProtocolStatus, initStatus, nil)
	}
	if c.opts.Verbose {
		monitoring.Logf("xpol %s: init %s total %d archive %d conf %d status %d",
			op, initStatus, totalSize, archiveIndex, confSize, statusSize)
	}

	var conf Conf
	var status Status
	var decodeErr error
	haveConf, haveStatus := false, false
	if confSize > 0 {
		if err := c.payload(ctx, op, confSize, c.opts.CommTimeout); err != nil {
			return nil, err
		}
		decodeErr = DecodeConf(c.recv, &conf)
		haveConf = decodeErr == nil
	}
	if statusSize > 0 {
		if err := c.payload(ctx, op, statusSize, c.opts.CommTimeout); err != nil {
			return nil, err
		}
		if err := DecodeStatus(c.recv, &status); err != nil && decodeErr == nil {
			decodeErr = err
		}
		haveStatus = decodeErr == nil
	}
	if err := c.finalStatus(ctx, op, c.opts.CommTimeout); err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeFail(op, decodeErr)
	}

	if haveConf {
		if c.opts.OverrideAzOffset || math.Abs(conf.AzOffset) > 360 {
			conf.AzOffset = c.opts.AzOffsetDeg
		}
		c.conf = conf
		c.haveConf = true
		if c.opts.Verbose {
			monitoring.Logf("%s", FormatConf(&c.conf))
		}
	}
	if haveStatus {
		c.status = status
	}
	out := c.conf
	return &out, nil
}

// ReadStatus requests the status record.
func (c *Client) ReadStatus(ctx context.Context) (*Status, error) {
	const op = "read status"
	if err := c.command(ctx, op, CmdGetStatus); err != nil {
		return nil, err
	}
	if err := c.read(ctx, op, statusHeaderLen, c.opts.CommTimeout); err != nil {
		return nil, err
	}
	h := c.words(3)
	initStatus, statusSize := StatusCode(h[0]), h[2]
	if !initStatus.InitialOK() {
		return nil, c.fail(op, KindProtocolStatus, initStatus, nil)
	}
	var status Status
	var decodeErr error
	if statusSize > 0 {
		if err := c.payload(ctx, op, statusSize, c.opts.CommTimeout); err != nil {
			return nil, err
		}
		decodeErr = DecodeStatus(c.recv, &status)
	}
	if err := c.finalStatus(ctx, op, c.opts.CommTimeout); err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeFail(op, decodeErr)
	}
	if statusSize > 0 {
		c.status = status
		if c.opts.Verbose {
			monitoring.Logf("%s", FormatStatus(&c.status))
		}
	}
	out := c.status
	return &out, nil
}

// ReadServerInfo requests the product catalogue.
func (c *Client) ReadServerInfo(ctx context.Context) (*ServerInfo, error) {
	const op = "read server info"
	if err := c.command(ctx, op, CmdGetServerInfo); err != nil {
		return nil, err
	}
	if err := c.read(ctx, op, infoHeaderLen, c.opts.CommTimeout); err != nil {
		return nil, err
	}
	h := c.words(2)
	initStatus, infoSize := StatusCode(h[0]), h[1]
	if !initStatus.InitialOK() {
		return nil, c.fail(op, KindProtocolStatus, initStatus, nil)
	}
	var info ServerInfo
	var decodeErr error
	if infoSize > 0 {
		if err := c.payload(ctx, op, infoSize, c.opts.CommTimeout); err != nil {
			return nil, err
		}
		decodeErr = DecodeServerInfo(c.recv, &info)
	}
	if err := c.finalStatus(ctx, op, c.opts.CommTimeout); err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeFail(op, decodeErr)
	}
	if infoSize > 0 {
		c.serverInfo = info
		if c.opts.Verbose {
			monitoring.Logf("%s", FormatServerInfo(&c.serverInfo))
		}
	}
	out := c.serverInfo
	return &out, nil
}

// ReadMetaData refreshes status, configuration and server info.
func (c *Client) ReadMetaData(ctx context.Context) error {
	if _, err := c.ReadStatus(ctx); err != nil {
		return err
	}
	if _, err := c.ReadConf(ctx, true); err != nil {
		return err
	}
	if _, err := c.ReadServerInfo(ctx); err != nil {
		return err
	}
	return nil
}

// ReadData requests the latest block of one product. When the archive
// index differs from the previous block the metadata is re-read before
// returning, so Conf reflects the geometry of the returned data.
func (c *Client) ReadData(ctx context.Context, id FieldID) (*DataResponse, error) {
	const op = "read data"
	c.metaChanged = false

	c.send.Reset()
	c.send.PutI32(int32(CmdGetData))
	c.send.PutI32(DataRequestLen)
	PutDataRequest(c.send, NewDataRequest(id))
	if err := c.write(ctx, op); err != nil {
		return nil, err
	}

	if err := c.read(ctx, op, dataHeaderLen, c.opts.DataTimeout); err != nil {
		return nil, err
	}
	h := c.words(2)
	initStatus, responseSize := StatusCode(h[0]), h[1]
	if !initStatus.InitialOK() {
		return nil, c.fail(op, KindProtocolStatus, initStatus, nil)
	}

	var resp DataResponse
	var decodeErr error
	if responseSize > 0 {
		if err := c.payload(ctx, op, responseSize, c.opts.DataTimeout); err != nil {
			return nil, err
		}
		decodeErr = c.loadDataResponse(&resp)
	}
	if err := c.finalStatus(ctx, op, c.opts.DataTimeout); err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeFail(op, decodeErr)
	}
	if responseSize <= 0 {
		return nil, newError(op, KindProtocolStatus, StatusNoData, errors.New("empty data response"))
	}

	c.trackBlockIndex(resp.BlockIndex)

	if !c.haveArchive || resp.ArchiveIndex != c.archiveIndex {
		monitoring.Logf("xpol: archive index %d -> %d, reading metadata", c.archiveIndex, resp.ArchiveIndex)
		if err := c.ReadMetaData(ctx); err != nil {
			return nil, err
		}
		c.archiveIndex = resp.ArchiveIndex
		c.haveArchive = true
		c.metaChanged = true
	}

	c.procMode = ProcModeUnknown
	if c.conf.NGates > 0 {
		c.procMode = ProcModeForBytesPerGate(len(c.data) / int(c.conf.NGates))
	}
	c.resp = resp
	if c.opts.Verbose {
		monitoring.Logf("%s", FormatDataResponse(&c.resp))
	}
	out := c.resp
	return &out, nil
}

// loadDataResponse decodes the response record and copies the trailing
// data bytes into the reusable data buffer.
func (c *Client) loadDataResponse(resp *DataResponse) error {
	if err := DecodeDataResponse(c.recv, resp); err != nil {
		return err
	}
	if resp.NBlocks < 0 || resp.BlockSize < 0 {
		return wireSizeError("block geometry", int(resp.NBlocks)*int(resp.BlockSize))
	}
	raw, err := c.recv.Raw(resp.DataLen())
	if err != nil {
		return err
	}
	if cap(c.data) < len(raw) {
		c.data = make([]byte, len(raw))
	}
	c.data = c.data[:len(raw)]
	copy(c.data, raw)
	return nil
}

func (c *Client) trackBlockIndex(idx int64) {
	if c.haveBlock {
		if skipped := idx - c.prevBlockIndex - 1; skipped > 0 {
			c.droppedBlocks += skipped
			monitoring.Logf("xpol: skipped %d blocks (index %d -> %d)", skipped, c.prevBlockIndex, idx)
		}
	}
	c.prevBlockIndex = idx
	c.haveBlock = true
}
