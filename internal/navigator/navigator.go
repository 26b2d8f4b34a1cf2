// Package navigator implements the heading-discovery and obstacle-dodging
// algorithm that pilots a robot from an unknown pose to (0,0) using only
// relative MOVE/TURN position feedback (spec.md §4.4).
package navigator

import "github.com/ridgeline-labs/robotnav/internal/protocol"

// Heading is the cardinal direction the robot is currently facing. None
// means "not yet observed".
type Heading int

const (
	None Heading = iota
	Up
	Down
	Left
	Right
)

// turnRightTable and turnLeftTable are the spec.md §4.4 turn tables,
// indexed by Heading ordinal.
var turnRightTable = [...]Heading{
	None:  None,
	Up:    Right,
	Right: Down,
	Down:  Left,
	Left:  Up,
}

var turnLeftTable = [...]Heading{
	None:  None,
	Up:    Left,
	Left:  Down,
	Down:  Right,
	Right: Up,
}

// Commander is the robot-facing side of one session: sending a movement
// command and reading back the robot's reported position. Implementations
// translate these into framed wire commands/replies; failures are already
// classified (syntax/logic/timeout) by the caller.
type Commander interface {
	Move() (protocol.Position, *protocol.Failure)
	TurnLeft() (protocol.Position, *protocol.Failure)
	TurnRight() (protocol.Position, *protocol.Failure)
	PickUp() ([]byte, *protocol.Failure)
}

type step int

const (
	stepMove step = iota
	stepTurnLeft
	stepTurnRight
)

// navigator tracks the position/heading state machine for one session's
// navigation phase. It is not reused across sessions.
type navigator struct {
	heading     Heading
	position    protocol.Position
	oldPosition protocol.Position
}

// Navigate drives c from its current (unknown) pose to (0,0), then sends
// GET MESSAGE and returns the robot's secret message. On any transport or
// protocol failure it returns that Failure immediately; the caller (the
// session controller) is responsible for mapping it to a wire frame.
func Navigate(c Commander) ([]byte, *protocol.Failure) {
	n := &navigator{heading: None}

	if failure := n.discoverStart(c); failure != nil {
		return nil, failure
	}

	origin := protocol.Position{X: 0, Y: 0}
	for n.position != origin {
		if failure := n.alignAxis(c, axisY); failure != nil {
			return nil, failure
		}
		for n.position.Y != 0 {
			if failure := n.apply(c, stepMove); failure != nil {
				return nil, failure
			}
		}

		if failure := n.alignAxis(c, axisX); failure != nil {
			return nil, failure
		}
		for n.position.X != 0 {
			if failure := n.apply(c, stepMove); failure != nil {
				return nil, failure
			}
		}
	}

	return c.PickUp()
}

// discoverStart implements spec.md §4.4's heading discovery: one TURN
// RIGHT to learn the starting coordinates (returning immediately if they
// are already the origin), then MOVE to learn the heading from the
// resulting delta, retrying TURN RIGHT + MOVE while the robot is blocked
// on spawn.
func (n *navigator) discoverStart(c Commander) *protocol.Failure {
	if failure := n.apply(c, stepTurnRight); failure != nil {
		return failure
	}
	if n.position == (protocol.Position{X: 0, Y: 0}) {
		return nil
	}
	if failure := n.apply(c, stepMove); failure != nil {
		return failure
	}
	for n.heading == None {
		if failure := n.apply(c, stepTurnRight); failure != nil {
			return failure
		}
		if failure := n.apply(c, stepMove); failure != nil {
			return failure
		}
	}
	return nil
}

type axis int

const (
	axisY axis = iota
	axisX
)

// alignAxis turns the robot (TURN RIGHT only, up to three times) until it
// faces the direction that will reduce the given axis toward zero.
func (n *navigator) alignAxis(c Commander, a axis) *protocol.Failure {
	var want Heading
	switch a {
	case axisY:
		switch {
		case n.position.Y < 0:
			want = Up
		case n.position.Y > 0:
			want = Down
		default:
			return nil
		}
	case axisX:
		switch {
		case n.position.X < 0:
			want = Right
		case n.position.X > 0:
			want = Left
		default:
			return nil
		}
	}
	for n.heading != want {
		if failure := n.apply(c, stepTurnRight); failure != nil {
			return failure
		}
	}
	return nil
}

// apply sends one command, updates position/heading, and — for a MOVE that
// made no progress while heading was already known — runs the obstacle
// dodge. Dodge steps recurse through apply, so a MOVE inside the dodge
// that is itself blocked triggers a nested dodge, exactly as in the
// original.
func (n *navigator) apply(c Commander, s step) *protocol.Failure {
	n.oldPosition = n.position

	var (
		pos     protocol.Position
		failure *protocol.Failure
	)
	switch s {
	case stepMove:
		pos, failure = c.Move()
	case stepTurnLeft:
		pos, failure = c.TurnLeft()
	case stepTurnRight:
		pos, failure = c.TurnRight()
	}
	if failure != nil {
		return failure
	}
	n.position = pos

	if s == stepMove && n.position == n.oldPosition && n.heading != None {
		if failure := n.dodge(c); failure != nil {
			return failure
		}
	}

	switch s {
	case stepMove:
		n.updateHeadingFromDelta()
	case stepTurnLeft:
		n.heading = turnLeftTable[n.heading]
	case stepTurnRight:
		n.heading = turnRightTable[n.heading]
	}
	return nil
}

// updateHeadingFromDelta derives heading from (position - oldPosition).
// A zero delta leaves heading unchanged (mirrors the original's fall
// through when none of the delta cases match).
func (n *navigator) updateHeadingFromDelta() {
	dx := n.position.X - n.oldPosition.X
	dy := n.position.Y - n.oldPosition.Y
	switch {
	case dx > 0:
		n.heading = Right
	case dx < 0:
		n.heading = Left
	case dy > 0:
		n.heading = Up
	case dy < 0:
		n.heading = Down
	}
}

// dodge circumvents a unit-sized obstacle while restoring heading: turn
// right and step aside, turn left and step forward; stop there if the
// detour reached x==0 or y==0, otherwise step forward once more, turn left
// and step back onto the original line, and turn right (spec.md §4.4).
func (n *navigator) dodge(c Commander) *protocol.Failure {
	for _, s := range [...]step{stepTurnRight, stepMove, stepTurnLeft, stepMove} {
		if failure := n.apply(c, s); failure != nil {
			return failure
		}
	}
	if n.position.X == 0 || n.position.Y == 0 {
		return nil
	}
	for _, s := range [...]step{stepMove, stepTurnLeft, stepMove, stepTurnRight} {
		if failure := n.apply(c, s); failure != nil {
			return failure
		}
	}
	return nil
}
