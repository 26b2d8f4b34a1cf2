package robotsim

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/ridgeline-labs/robotnav/internal/protocol"
)

// scriptedServer plays the server side of one session over an in-memory
// pipe, driving a Robot through a fixed command sequence and capturing its
// replies, without depending on internal/server.
type scriptedServer struct {
	conn net.Conn
	rd   *bufio.Reader
}

func newScriptedServer(conn net.Conn) *scriptedServer {
	return &scriptedServer{conn: conn, rd: bufio.NewReader(conn)}
}

func (s *scriptedServer) write(msg string) {
	s.conn.Write(append([]byte(msg), protocol.Suffix[0], protocol.Suffix[1]))
}

func (s *scriptedServer) read() string {
	msg, err := readFrame(s.rd)
	if err != nil {
		panic(err)
	}
	return msg
}

func runHandshake(t *testing.T, s *scriptedServer, username string, keyID int) {
	t.Helper()
	if got := s.read(); got != username {
		t.Fatalf("expected username %q, got %q", username, got)
	}
	s.write("107 KEY REQUEST")
	if got := s.read(); got != strconv.Itoa(keyID) {
		t.Fatalf("expected key id %d, got %q", keyID, got)
	}
	hash := protocol.Hash(username)
	s.write(strconv.Itoa(int(protocol.Confirm(hash, protocol.KeyTable[keyID].ServerKey))))
	expected := protocol.Confirm(hash, protocol.KeyTable[keyID].ClientKey)
	got, err := strconv.Atoi(s.read())
	if err != nil || got != int(expected) {
		t.Fatalf("expected client confirmation %d, got %v (err=%v)", expected, got, err)
	}
	s.write("200 OK")
}

func TestRobot_MoveAdvancesInFacingDirection(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cfg := Config{
		Username: "hal",
		KeyID:    2,
		Start:    protocol.Position{X: 0, Y: 0},
		Heading:  Up,
		Secret:   "ok",
	}
	robot := New(cfg, nil)

	done := make(chan struct{})
	var gotErr error
	go func() {
		defer close(done)
		_, gotErr = robot.runSession(context.Background(), client)
	}()

	s := newScriptedServer(server)
	runHandshake(t, s, cfg.Username, cfg.KeyID)

	s.write("102 MOVE")
	if got := s.read(); got != "OK 0 1" {
		t.Fatalf("expected OK 0 1 after moving up, got %q", got)
	}

	s.write("106 LOGOUT")
	<-done
	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
}

func TestRobot_ObstacleBlocksMove(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cfg := Config{
		Username:  "hal",
		KeyID:     0,
		Start:     protocol.Position{X: 0, Y: 0},
		Heading:   Right,
		Obstacles: map[protocol.Position]bool{{X: 1, Y: 0}: true},
		Secret:    "ok",
	}
	robot := New(cfg, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		robot.runSession(context.Background(), client)
	}()

	s := newScriptedServer(server)
	runHandshake(t, s, cfg.Username, cfg.KeyID)

	s.write("102 MOVE")
	if got := s.read(); got != "OK 0 0" {
		t.Fatalf("expected to stay put against obstacle, got %q", got)
	}

	s.write("106 LOGOUT")
	<-done
}

func TestRobot_TurnsDoNotMovePosition(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cfg := Config{
		Username: "hal",
		KeyID:    3,
		Start:    protocol.Position{X: 5, Y: -2},
		Heading:  Down,
		Secret:   "ok",
	}
	robot := New(cfg, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		robot.runSession(context.Background(), client)
	}()

	s := newScriptedServer(server)
	runHandshake(t, s, cfg.Username, cfg.KeyID)

	s.write("104 TURN RIGHT")
	if got := s.read(); got != "OK 5 -2" {
		t.Fatalf("expected unchanged position after turn, got %q", got)
	}
	s.write("103 TURN LEFT")
	if got := s.read(); got != "OK 5 -2" {
		t.Fatalf("expected unchanged position after turn, got %q", got)
	}

	s.write("106 LOGOUT")
	<-done
}

func TestRobot_MalformedPositionOverridesFirstMove(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cfg := Config{
		Username:              "hal",
		KeyID:                 1,
		Start:                 protocol.Position{X: 0, Y: 0},
		Heading:               Up,
		Secret:                "ok",
		MalformedPositionOnce: "OK 1.0 2",
	}
	robot := New(cfg, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		robot.runSession(context.Background(), client)
	}()

	s := newScriptedServer(server)
	runHandshake(t, s, cfg.Username, cfg.KeyID)

	s.write("102 MOVE")
	if got := s.read(); got != "OK 1.0 2" {
		t.Fatalf("expected malformed payload, got %q", got)
	}

	client.SetDeadline(time.Now().Add(time.Second))
	server.SetDeadline(time.Now().Add(time.Second))
	<-done
}
