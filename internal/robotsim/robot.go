// Package robotsim implements a minimal simulated robot client for driving
// a robotserver instance end to end over a real TCP socket. It answers the
// navigation protocol from the client side: it holds a pose and an obstacle
// set, replies to MOVE/TURN LEFT/TURN RIGHT with OK <x> <y>, and can be told
// to interject a RECHARGING/FULL POWER interlude or send a malformed frame.
//
// It is test-only: nothing under cmd/robotserver or internal/server imports
// this package.
package robotsim

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ridgeline-labs/robotnav/internal/protocol"
)

// Connection state, mirroring the state-machine style the control channel
// this package is adapted from uses for its own lifecycle.
const (
	StateDisconnected = "disconnected"
	StateHandshaking  = "handshaking"
	StateNavigating   = "navigating"
	StateDone         = "done"
)

// Heading is the simulated robot's own notion of which way it is facing,
// used only to compute the effect of MOVE/TURN on its pose. It is entirely
// separate from the server's navigator.Heading, which the server deduces
// from observed deltas without ever being told this value.
type Heading int

const (
	Up Heading = iota
	Down
	Left
	Right
)

func (h Heading) turnRight() Heading {
	switch h {
	case Up:
		return Right
	case Right:
		return Down
	case Down:
		return Left
	default:
		return Up
	}
}

func (h Heading) turnLeft() Heading {
	switch h {
	case Up:
		return Left
	case Left:
		return Down
	case Down:
		return Right
	default:
		return Up
	}
}

func (h Heading) delta() (dx, dy int) {
	switch h {
	case Up:
		return 0, 1
	case Down:
		return 0, -1
	case Left:
		return -1, 0
	default:
		return 1, 0
	}
}

// Config describes one simulated robot session.
type Config struct {
	Username string
	KeyID    int

	Start   protocol.Position
	Heading Heading

	// Obstacles are absolute positions that block a MOVE: the robot's pose
	// is left unchanged and the server observes the stuck condition that
	// triggers its dodge routine.
	Obstacles map[protocol.Position]bool

	// Secret is returned verbatim (terminator appended) in reply to GET
	// MESSAGE.
	Secret string

	// RechargeBeforeUsername sends RECHARGING + FULL POWER before the
	// username frame, exercising a recharge interlude ahead of the first
	// handshake message.
	RechargeBeforeUsername bool

	// RechargeAfterKeyRequest sends RECHARGING right after the server's
	// 107 KEY REQUEST, waits RechargeDelay, then sends FULL POWER before
	// continuing with the key id — the spec's recharge-interlude scenario.
	RechargeAfterKeyRequest bool
	RechargeDelay           time.Duration

	// MalformedPositionOnce, if set, replaces the very first MOVE reply
	// with this literal payload instead of a well-formed OK <x> <y>,
	// exercising the syntax-error path.
	MalformedPositionOnce string

	// DialTimeout bounds the initial TCP dial. Zero means no timeout.
	DialTimeout time.Duration
}

// Robot drives one simulated session against a real server connection.
type Robot struct {
	cfg    Config
	logger *slog.Logger

	state atomic.Value // string

	pos          protocol.Position
	heading      Heading
	sentMalform  bool
	movesApplied int
}

// New builds a Robot from cfg. A nil logger discards log output.
func New(cfg Config, logger *slog.Logger) *Robot {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Robot{
		cfg:     cfg,
		logger:  logger.With("component", "robotsim", "username", cfg.Username),
		pos:     cfg.Start,
		heading: cfg.Heading,
	}
	r.state.Store(StateDisconnected)
	return r
}

// State reports the robot's current lifecycle state.
func (r *Robot) State() string { return r.state.Load().(string) }

// Run dials addr, completes the handshake, answers navigation commands
// until LOGOUT, and returns the secret message the server read back from
// GET MESSAGE (always r.cfg.Secret on success, since nothing else writes
// it). The connection is always closed before Run returns.
func (r *Robot) Run(ctx context.Context, addr string) ([]byte, error) {
	dialer := net.Dialer{Timeout: r.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer conn.Close()

	return r.runSession(ctx, conn)
}

// runSession drives the handshake and navigation phases over an
// already-connected conn. Split out from Run so tests can drive it directly
// over a net.Pipe without a real listener.
func (r *Robot) runSession(ctx context.Context, conn net.Conn) ([]byte, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	rd := bufio.NewReader(conn)

	r.state.Store(StateHandshaking)
	if err := r.handshake(conn, rd); err != nil {
		return nil, err
	}

	r.state.Store(StateNavigating)
	secret, err := r.navigate(conn, rd)
	if err != nil {
		return nil, err
	}

	r.state.Store(StateDone)
	return secret, nil
}

func (r *Robot) handshake(conn net.Conn, rd *bufio.Reader) error {
	if r.cfg.RechargeBeforeUsername {
		if err := r.recharge(conn, rd); err != nil {
			return err
		}
	}

	if err := writeFrame(conn, r.cfg.Username); err != nil {
		return err
	}

	reply, err := readFrame(rd)
	if err != nil {
		return err
	}
	if reply != "107 KEY REQUEST" {
		return fmt.Errorf("robotsim: expected key request, got %q", reply)
	}

	if r.cfg.RechargeAfterKeyRequest {
		if err := r.recharge(conn, rd); err != nil {
			return err
		}
	}

	if err := writeFrame(conn, strconv.Itoa(r.cfg.KeyID)); err != nil {
		return err
	}

	if _, err := readFrame(rd); err != nil { // server confirmation, not verified by the simulator
		return err
	}

	hash := protocol.Hash(r.cfg.Username)
	confirm := protocol.Confirm(hash, protocol.KeyTable[r.cfg.KeyID].ClientKey)
	if err := writeFrame(conn, strconv.Itoa(int(confirm))); err != nil {
		return err
	}

	reply, err = readFrame(rd)
	if err != nil {
		return err
	}
	if reply != "200 OK" {
		return fmt.Errorf("robotsim: handshake rejected: %s", reply)
	}
	r.logger.Debug("handshake complete")
	return nil
}

// recharge sends the RECHARGING / FULL POWER pair, waiting RechargeDelay
// between them.
func (r *Robot) recharge(conn net.Conn, rd *bufio.Reader) error {
	if err := writeFrame(conn, "RECHARGING"); err != nil {
		return err
	}
	if r.cfg.RechargeDelay > 0 {
		time.Sleep(r.cfg.RechargeDelay)
	}
	return writeFrame(conn, "FULL POWER")
}

// navigate answers server commands until LOGOUT or an error frame.
func (r *Robot) navigate(conn net.Conn, rd *bufio.Reader) ([]byte, error) {
	for {
		cmd, err := readFrame(rd)
		if err != nil {
			return nil, err
		}

		switch cmd {
		case "102 MOVE":
			if err := r.replyToMove(conn); err != nil {
				return nil, err
			}
		case "103 TURN LEFT":
			r.heading = r.heading.turnLeft()
			if err := r.replyPosition(conn); err != nil {
				return nil, err
			}
		case "104 TURN RIGHT":
			r.heading = r.heading.turnRight()
			if err := r.replyPosition(conn); err != nil {
				return nil, err
			}
		case "105 GET MESSAGE":
			if err := writeFrame(conn, r.cfg.Secret); err != nil {
				return nil, err
			}
		case "106 LOGOUT":
			return []byte(r.cfg.Secret), nil
		default:
			return nil, fmt.Errorf("robotsim: server sent unexpected frame %q", cmd)
		}
	}
}

func (r *Robot) replyToMove(conn net.Conn) error {
	if r.cfg.MalformedPositionOnce != "" && !r.sentMalform {
		r.sentMalform = true
		return writeFrame(conn, r.cfg.MalformedPositionOnce)
	}

	dx, dy := r.heading.delta()
	next := protocol.Position{X: r.pos.X + dx, Y: r.pos.Y + dy}
	if !r.cfg.Obstacles[next] {
		r.pos = next
	}
	r.movesApplied++
	return r.replyPosition(conn)
}

func (r *Robot) replyPosition(conn net.Conn) error {
	return writeFrame(conn, fmt.Sprintf("OK %d %d", r.pos.X, r.pos.Y))
}

func writeFrame(conn net.Conn, s string) error {
	b := make([]byte, 0, len(s)+2)
	b = append(b, s...)
	b = append(b, protocol.Suffix[0], protocol.Suffix[1])
	_, err := conn.Write(b)
	return err
}

// readFrame reads one terminator-delimited frame and returns it without the
// suffix. The simulator never needs to enforce the server's phase limits on
// the frames it reads, so it reads byte-at-a-time directly against the
// suffix rather than reusing protocol.Framer.
func readFrame(rd *bufio.Reader) (string, error) {
	var msg []byte
	for {
		b, err := rd.ReadByte()
		if err != nil {
			return "", fmt.Errorf("robotsim: reading frame: %w", err)
		}
		msg = append(msg, b)
		if len(msg) >= 2 && msg[len(msg)-2] == protocol.Suffix[0] && msg[len(msg)-1] == protocol.Suffix[1] {
			return string(msg[:len(msg)-2]), nil
		}
	}
}
