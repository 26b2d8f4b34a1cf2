package protocol

import (
	"io"
	"net"
	"time"
)

// IdleTimeout is the read deadline applied while not recharging.
const IdleTimeout = 1 * time.Second

// RechargingTimeout is the read deadline applied while awaiting FULL POWER.
const RechargingTimeout = 5 * time.Second

// Framer pulls framed messages off a duplex byte stream one at a time,
// byte-at-a-time, enforcing §3/§4.1 length limits, deadlines, and the
// recharge interlude. It is not safe for concurrent use; a session owns
// exactly one Framer.
type Framer struct {
	conn              net.Conn
	buffer            []byte
	recharging        bool
	idleTimeout       time.Duration
	rechargingTimeout time.Duration
}

// NewFramer wraps conn with the default spec.md §3 timeouts.
func NewFramer(conn net.Conn) *Framer {
	return &Framer{
		conn:              conn,
		idleTimeout:       IdleTimeout,
		rechargingTimeout: RechargingTimeout,
	}
}

// WithTimeouts overrides the idle/recharging deadlines (used by tests and by
// the server handler to apply the timeouts from config.ServerConfig without
// touching the wire contract).
func (f *Framer) WithTimeouts(idle, recharging time.Duration) *Framer {
	f.idleTimeout = idle
	f.rechargingTimeout = recharging
	return f
}

// Recharging reports whether the framer is currently inside a recharge
// interlude (awaiting FULL POWER).
func (f *Framer) Recharging() bool { return f.recharging }

func (f *Framer) deadline() time.Duration {
	if f.recharging {
		return f.rechargingTimeout
	}
	return f.idleTimeout
}

// limitFor returns the phase limit L = max(limit[kind], limit[RECHARGING]),
// honouring the rule that a recharge interlude must be tolerable in every
// phase (spec.md §4.1).
func limitFor(kind MaxKind) int {
	l := limits[kind]
	if rechargingFrameLen > l {
		return rechargingFrameLen
	}
	return l
}

// CheckRecharge is the pre-authentication peek described in spec.md §4.1:
// if the buffer already holds a complete framed message and it is
// RECHARGING, it is consumed and the recharge interlude is run immediately,
// before the caller sends its next command. This lets a client open a
// connection with RECHARGING before the server's first write.
func (f *Framer) CheckRecharge() *Failure {
	idx := indexSuffix(f.buffer)
	if idx < 0 {
		return nil
	}
	msg := f.buffer[:idx+2]
	if !equalFrame(msg, frameRecharging) {
		if equalFrame(msg, frameFullPower) && !f.recharging {
			return errLogic
		}
		return nil
	}
	f.buffer = f.buffer[idx+2:]
	return f.runRecharge()
}

// NextMessage returns the next complete logical message for the given
// phase, or a tagged Failure. On success the returned slice ends in Suffix
// and its length is <= limitFor(kind); unread bytes remain in f.buffer.
func (f *Framer) NextMessage(kind MaxKind) ([]byte, *Failure) {
	limit := limitFor(kind)

	msg := make([]byte, 0, limit)
	for {
		if len(f.buffer) == 0 {
			if err := f.fill(); err != nil {
				return nil, err
			}
		}

		msg = append(msg, f.buffer[0])
		f.buffer = f.buffer[1:]

		if len(msg) >= 2 && msg[len(msg)-2] == Suffix[0] && msg[len(msg)-1] == Suffix[1] {
			break
		}
		if len(msg) == limit {
			return nil, errSyntax
		}
	}

	switch {
	case equalFrame(msg, frameRecharging):
		if failure := f.runRecharge(); failure != nil {
			return nil, failure
		}
		return f.NextMessage(kind)
	case equalFrame(msg, frameFullPower) && !f.recharging:
		return nil, errLogic
	default:
		return msg, nil
	}
}

// runRecharge switches to the recharging deadline, consumes FULL POWER (and
// only FULL POWER: any other frame, a second RECHARGING included, is a logic
// error), then restores the idle deadline. Back-to-back recharges
// (RECHARGING, FULL POWER, RECHARGING, FULL POWER) are handled by
// NextMessage reading again after each interlude.
func (f *Framer) runRecharge() *Failure {
	f.recharging = true
	reply, failure := f.readRawFrame(rechargingFrameLen)
	if failure != nil {
		return failure
	}
	if !equalFrame(reply, frameFullPower) {
		return errLogic
	}
	f.recharging = false
	return nil
}

// readRawFrame reads one terminator-delimited frame without interpreting
// RECHARGING/FULL POWER specially; used only from inside runRecharge, which
// already owns that interpretation.
func (f *Framer) readRawFrame(limit int) ([]byte, *Failure) {
	msg := make([]byte, 0, limit)
	for {
		if len(f.buffer) == 0 {
			if err := f.fill(); err != nil {
				return nil, err
			}
		}
		msg = append(msg, f.buffer[0])
		f.buffer = f.buffer[1:]
		if len(msg) >= 2 && msg[len(msg)-2] == Suffix[0] && msg[len(msg)-1] == Suffix[1] {
			return msg, nil
		}
		if len(msg) == limit {
			return nil, errSyntax
		}
	}
}

// fill reads more bytes from the connection into the buffer, applying the
// current deadline. A timeout is reported as ErrTimeout so the session
// controller can close silently instead of writing an error frame.
func (f *Framer) fill() *Failure {
	f.conn.SetReadDeadline(time.Now().Add(f.deadline()))
	chunk := make([]byte, 1024)
	n, err := f.conn.Read(chunk)
	if n > 0 {
		f.buffer = append(f.buffer, chunk[:n]...)
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return errTimeout
		}
		if err == io.EOF {
			return errTimeout
		}
		return errTimeout
	}
	return nil
}

func indexSuffix(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == Suffix[0] && b[i+1] == Suffix[1] {
			return i
		}
	}
	return -1
}

func equalFrame(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
