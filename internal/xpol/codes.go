package xpol

import "fmt"

// Command is the leading 4-byte word of every request.
type Command int32

const (
	CmdPingServer           Command = 0x01
	CmdGetConf              Command = 0x02
	CmdSetConf              Command = 0x03
	CmdGetStatus            Command = 0x04
	CmdGetServerInfo        Command = 0x05
	CmdGetData              Command = 0x07
	CmdGetConfAndStatus     Command = 0x08
	CmdLoadPacsiPedDisabled Command = 0x09
	CmdLoadPacsiPedEnabled  Command = 0x0A
)

func (c Command) String() string {
	switch c {
	case CmdPingServer:
		return "PING_SERVER"
	case CmdGetConf:
		return "GET_CONF"
	case CmdSetConf:
		return "SET_CONF"
	case CmdGetStatus:
		return "GET_STATUS"
	case CmdGetServerInfo:
		return "GET_SERVER_INFO"
	case CmdGetData:
		return "GET_DATA"
	case CmdGetConfAndStatus:
		return "GET_CONF_AND_STATUS"
	case CmdLoadPacsiPedDisabled:
		return "LOAD_PACSI_PED_DISABLED"
	case CmdLoadPacsiPedEnabled:
		return "LOAD_PACSI_PED_ENABLED"
	default:
		return fmt.Sprintf("COMMAND_CODE_UNKNOWN(%d)", int32(c))
	}
}

// StatusCode is a 4-byte status word returned by the server.
type StatusCode int32

const (
	StatusSrvErr          StatusCode = 65
	StatusOK              StatusCode = 66
	StatusCfgTransition   StatusCode = 67
	StatusLackControl     StatusCode = 68
	StatusUnknownCmd      StatusCode = 69
	StatusUnknownDataType StatusCode = 70
	StatusWrongDataSize   StatusCode = 71
	StatusNoData          StatusCode = 72
	StatusWrongArchive    StatusCode = 73
	StatusInvalidIndex    StatusCode = 74
	StatusInvalidParam    StatusCode = 75
	StatusInvalidText     StatusCode = 76
	StatusNetcmdBusy      StatusCode = 77
)

func (s StatusCode) String() string {
	switch s {
	case StatusSrvErr:
		return "STATUS_SRV_ERR"
	case StatusOK:
		return "STATUS_OK"
	case StatusCfgTransition:
		return "STATUS_CFG_TRANSITION"
	case StatusLackControl:
		return "STATUS_LACK_CONTROL"
	case StatusUnknownCmd:
		return "STATUS_UNKNOWN_CMD"
	case StatusUnknownDataType:
		return "STATUS_UNKNOWN_DATA_TYPE"
	case StatusWrongDataSize:
		return "STATUS_WRONG_DATA_SIZE"
	case StatusNoData:
		return "STATUS_NO_DATA"
	case StatusWrongArchive:
		return "STATUS_WRONG_ARCHIVE"
	case StatusInvalidIndex:
		return "STATUS_INVALID_INDEX"
	case StatusInvalidParam:
		return "STATUS_INVALID_PARAM"
	case StatusInvalidText:
		return "STATUS_INVALID_TEXT"
	case StatusNetcmdBusy:
		return "STATUS_NETCMD_BUSY"
	default:
		return fmt.Sprintf("STATUS_CODE_UNKNOWN(%d)", int32(s))
	}
}

// InitialOK reports whether an initial status lets the envelope continue.
func (s StatusCode) InitialOK() bool {
	return s == StatusOK || s == StatusCfgTransition
}

// Request layout constants.
const (
	// DataRequestLen is the byte length of the get-data request record.
	DataRequestLen = 60

	// FormatFlags requested on every get-data call.
	FormatFlags = 0x01 | 0x10000

	siteInfoLen     = 1024
	projectNameLen  = 128
	drxNameLen      = 32
	prodShortLen    = 32
	prodLongLen     = 64
	confHeaderLen   = 20
	statusHeaderLen = 12
	infoHeaderLen   = 8
	dataHeaderLen   = 8
	statusWordLen   = 4
)
