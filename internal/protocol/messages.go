// Package protocol implements the wire format for the robot navigation
// protocol: an ASCII, terminator-delimited command/response exchange over
// TCP. Every frame in either direction ends with Suffix.
package protocol

import "errors"

// Suffix is the two-byte terminator that ends every framed message.
var Suffix = [2]byte{0x07, 0x08}

// MaxKind selects which per-phase length limit a Framer read should enforce.
type MaxKind int

const (
	MaxUsername MaxKind = iota
	MaxKeyID
	MaxConfirmation
	MaxOK
	MaxMessage
)

// limits holds the per-phase maximum frame length, terminator included.
// RECHARGING and FULL POWER are both framed at 12 bytes and must be
// tolerable in every phase (see Framer.limitFor).
var limits = map[MaxKind]int{
	MaxUsername:     20,
	MaxKeyID:        5,
	MaxConfirmation: 7,
	MaxOK:           12,
	MaxMessage:      100,
}

const rechargingFrameLen = 12

// Server → client command frames, pre-encoded with Suffix attached.
var (
	FrameMove        = frame("102 MOVE")
	FrameTurnLeft    = frame("103 TURN LEFT")
	FrameTurnRight   = frame("104 TURN RIGHT")
	FrameGetMessage  = frame("105 GET MESSAGE")
	FrameLogout      = frame("106 LOGOUT")
	FrameKeyRequest  = frame("107 KEY REQUEST")
	FrameOK          = frame("200 OK")
	FrameLoginFailed = frame("300 LOGIN FAILED")
	FrameSyntaxError = frame("301 SYNTAX ERROR")
	FrameLogicError  = frame("302 LOGIC ERROR")
	FrameKeyOutRange = frame("303 KEY OUT OF RANGE")
)

// Client-initiated recharge interlude frames.
var (
	frameRecharging = frame("RECHARGING")
	frameFullPower  = frame("FULL POWER")
)

func frame(s string) []byte {
	b := make([]byte, 0, len(s)+2)
	b = append(b, s...)
	b = append(b, Suffix[0], Suffix[1])
	return b
}

// Key is one (server_key, client_key) pair from the handshake key table.
type Key struct {
	ServerKey uint16
	ClientKey uint16
}

// KeyTable is the bit-exact key table from spec.md §3, indexed 0..4.
var KeyTable = [5]Key{
	{23019, 32037},
	{32037, 29295},
	{18789, 13603},
	{16443, 29533},
	{18189, 21952},
}

// ErrKind classifies a protocol failure into one of the four wire-visible
// error kinds, or a silent timeout/disconnect.
type ErrKind int

const (
	ErrNone ErrKind = iota
	ErrSyntax
	ErrLogin
	ErrKeyRange
	ErrLogic
	ErrTimeout
)

// Failure is a tagged failure value threaded up from the framer, codec, and
// navigator to the session controller, which maps it to a wire frame (or,
// for ErrTimeout, to a silent close).
type Failure struct {
	Kind ErrKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return f.Err.Error()
	}
	return f.Kind.String()
}

func (k ErrKind) String() string {
	switch k {
	case ErrSyntax:
		return "syntax error"
	case ErrLogin:
		return "login failed"
	case ErrKeyRange:
		return "key out of range"
	case ErrLogic:
		return "logic error"
	case ErrTimeout:
		return "timeout"
	default:
		return "none"
	}
}

// Frame returns the wire frame the server sends for this failure kind.
// ErrTimeout has no frame: the session is dropped silently per spec.md §7.
func (k ErrKind) Frame() []byte {
	switch k {
	case ErrSyntax:
		return FrameSyntaxError
	case ErrLogin:
		return FrameLoginFailed
	case ErrKeyRange:
		return FrameKeyOutRange
	case ErrLogic:
		return FrameLogicError
	default:
		return nil
	}
}

func newFailure(kind ErrKind, msg string) *Failure {
	return &Failure{Kind: kind, Err: errors.New(msg)}
}

var (
	errSyntax   = newFailure(ErrSyntax, "protocol: syntax error")
	errKeyRange = newFailure(ErrKeyRange, "protocol: key out of range")
	errLogic    = newFailure(ErrLogic, "protocol: logic error")
	errTimeout  = newFailure(ErrTimeout, "protocol: read timeout")
)
