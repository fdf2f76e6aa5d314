package at

import "errors"

const (
	// Terminal Control
	CRLF   = "\r\n"
	Prompt = ">"

	// Response Codes
	OK       = "OK"
	ERROR    = "ERROR"
	FAIL     = "FAIL"
	SendOK   = "SEND OK"
	SendFail = "SEND FAIL"
	Ready    = "ready"

	// Notifications
	IPD = "+IPD,"

	// Active reports (ESP-AT "Active Message Reports")
	ReportWifiConnected    = "WIFI CONNECTED"
	ReportWifiGotIP        = "WIFI GOT IP"
	ReportWifiDisconnected = "WIFI DISCONNECT"
	ReportClosed           = "CLOSED"
	ReportConnect          = "CONNECT"
	ReportBusy             = "busy "

	// Intermediate data prefixes
	StatusPrefix  = "STATUS:"
	JoinAPPrefix  = "+CWJAP:"
	AlreadyLinked = "ALREADY CONNECTED"
)

const (
	// MaxCommandLen is the module's command line buffer, CRLF included.
	MaxCommandLen = 256
	// MaxPayloadLen is the largest payload a single AT+CIPSEND accepts.
	MaxPayloadLen = 2048
	// MaxNotificationLen bounds the length announced by a +IPD header.
	MaxNotificationLen = 8192
)

// ErrEncoding is returned when command parameters violate the length or
// format rules of the module. Calls failing with it should not be retried
// verbatim.
var ErrEncoding = errors.New("encoding error")

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK, ERROR, FAIL, SEND OK, ready
	TypeReport                     // Active message reports
	TypeData                       // Intermediate command output (STATUS:2)
	TypePrompt                     // CIPSEND input prompt
)

func (t ResponseType) String() string {
	switch t {
	case TypeFinal:
		return "final"
	case TypeReport:
		return "report"
	case TypeData:
		return "data"
	case TypePrompt:
		return "prompt"
	default:
		return "unknown"
	}
}
