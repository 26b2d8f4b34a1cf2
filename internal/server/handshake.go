package server

import (
	"log/slog"
	"net"

	"github.com/ridgeline-labs/robotnav/internal/protocol"
)

// runHandshake drives the login dialogue (spec.md §4.3): username, key
// request, key id, mutual confirmation. It returns the trimmed username on
// success, or the Failure the session controller must resolve into a wire
// frame (or silent close, for a timeout).
func runHandshake(keyTable [5]protocol.Key, framer *protocol.Framer, conn net.Conn, logger *slog.Logger) (string, *protocol.Failure) {
	if failure := framer.CheckRecharge(); failure != nil {
		return "", failure
	}

	usernameMsg, failure := framer.NextMessage(protocol.MaxUsername)
	if failure != nil {
		return "", failure
	}
	username := protocol.TrimUsername(usernameMsg)

	if failure := writeFrame(conn, protocol.FrameKeyRequest); failure != nil {
		return "", failure
	}

	keyIDMsg, failure := framer.NextMessage(protocol.MaxKeyID)
	if failure != nil {
		return "", failure
	}
	keyID, failure := protocol.ParseKeyID(keyIDMsg)
	if failure != nil {
		return "", failure
	}

	hash := protocol.Hash(username)
	serverConfirm := protocol.Confirm(hash, keyTable[keyID].ServerKey)
	if failure := writeFrame(conn, protocol.EncodeDecimal(serverConfirm)); failure != nil {
		return "", failure
	}

	confirmMsg, failure := framer.NextMessage(protocol.MaxConfirmation)
	if failure != nil {
		return "", failure
	}
	clientValue, failure := protocol.ParseConfirmation(confirmMsg)
	if failure != nil {
		return "", failure
	}

	expected := protocol.Confirm(hash, keyTable[keyID].ClientKey)
	if clientValue != int(expected) {
		return "", &protocol.Failure{Kind: protocol.ErrLogin}
	}

	if failure := writeFrame(conn, protocol.FrameOK); failure != nil {
		return "", failure
	}

	logger.Debug("handshake ok", "username", username, "key_id", keyID)
	return username, nil
}

// writeFrame writes one frame, mapping a transport error to a silent
// timeout close since writes are never deadlined (spec.md §5) and the
// session is already unrecoverable once a write fails.
func writeFrame(conn net.Conn, frame []byte) *protocol.Failure {
	if _, err := conn.Write(frame); err != nil {
		return &protocol.Failure{Kind: protocol.ErrTimeout}
	}
	return nil
}
