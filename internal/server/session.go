package server

import (
	"net"

	"github.com/ridgeline-labs/robotnav/internal/protocol"
)

// protocolCommander adapts a Framer and its underlying connection to
// navigator.Commander, translating each command into a framed write
// followed by a framed `OK <x> <y>` read.
type protocolCommander struct {
	framer  *protocol.Framer
	conn    net.Conn
	handler *Handler
	record  *sessionRecord

	haveLastMove bool
	lastMovePos  protocol.Position
}

// Move sends MOVE and reports a dodge to the metrics counters when the
// reported position is unchanged from the prior MOVE reply — the same
// stuck condition that triggers the navigator's dodge routine.
func (c *protocolCommander) Move() (protocol.Position, *protocol.Failure) {
	pos, failure := c.command(protocol.FrameMove)
	if failure != nil {
		return pos, failure
	}
	if c.haveLastMove && pos == c.lastMovePos {
		c.handler.dodgesTriggered.Add(1)
	}
	c.haveLastMove = true
	c.lastMovePos = pos
	return pos, nil
}

func (c *protocolCommander) TurnLeft() (protocol.Position, *protocol.Failure) {
	return c.command(protocol.FrameTurnLeft)
}

func (c *protocolCommander) TurnRight() (protocol.Position, *protocol.Failure) {
	return c.command(protocol.FrameTurnRight)
}

func (c *protocolCommander) PickUp() ([]byte, *protocol.Failure) {
	if failure := writeFrame(c.conn, protocol.FrameGetMessage); failure != nil {
		return nil, failure
	}
	c.handler.navigationCommands.Add(1)
	msg, failure := c.framer.NextMessage(protocol.MaxMessage)
	if failure != nil {
		return nil, failure
	}
	return msg, nil
}

func (c *protocolCommander) command(frame []byte) (protocol.Position, *protocol.Failure) {
	if failure := writeFrame(c.conn, frame); failure != nil {
		return protocol.Position{}, failure
	}
	c.handler.navigationCommands.Add(1)

	msg, failure := c.framer.NextMessage(protocol.MaxOK)
	if failure != nil {
		return protocol.Position{}, failure
	}
	pos, failure := protocol.ParsePosition(msg)
	if failure != nil {
		return protocol.Position{}, failure
	}

	c.record.setPosition(pos)
	return pos, nil
}
