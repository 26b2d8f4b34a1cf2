// robotsim is a manual-testing CLI that drives a robotserver instance with
// one simulated robot over a real TCP connection.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ridgeline-labs/robotnav/internal/logging"
	"github.com/ridgeline-labs/robotnav/internal/protocol"
	"github.com/ridgeline-labs/robotnav/internal/robotsim"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:3999", "robotserver address")
	username := flag.String("username", "sim", "handshake username")
	keyID := flag.Int("key", 0, "handshake key id (0-4)")
	startX := flag.Int("x", 2, "starting x coordinate")
	startY := flag.Int("y", 2, "starting y coordinate")
	heading := flag.String("heading", "up", "starting heading: up|down|left|right")
	obstacles := flag.String("obstacles", "", "obstacle positions, e.g. \"1,2;0,1\"")
	secret := flag.String("secret", "the secret is safe", "message returned on GET MESSAGE")
	recharge := flag.Duration("recharge", 0, "inject a RECHARGING interlude after KEY REQUEST, held for this long before FULL POWER")
	malformed := flag.String("malformed", "", "send this literal payload instead of the first MOVE reply")
	logLevel := flag.String("log-level", "info", "debug|info|warn|error")
	timeout := flag.Duration("timeout", 10*time.Second, "overall run timeout")
	flag.Parse()

	logger, closer := logging.NewLogger(*logLevel, "text", "")
	defer closer.Close()

	obstacleSet, err := parseObstacles(*obstacles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing -obstacles: %v\n", err)
		os.Exit(1)
	}

	h, err := parseHeading(*heading)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing -heading: %v\n", err)
		os.Exit(1)
	}

	cfg := robotsim.Config{
		Username:  *username,
		KeyID:     *keyID,
		Start:     protocol.Position{X: *startX, Y: *startY},
		Heading:   h,
		Obstacles: obstacleSet,
		Secret:    *secret,
	}
	if *recharge > 0 {
		cfg.RechargeAfterKeyRequest = true
		cfg.RechargeDelay = *recharge
	}
	if *malformed != "" {
		cfg.MalformedPositionOnce = *malformed
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	robot := robotsim.New(cfg, logger)
	msg, err := robot.Run(ctx, *addr)
	if err != nil {
		logger.Error("run failed", "error", err, "state", robot.State())
		os.Exit(1)
	}

	fmt.Printf("session complete, secret message: %q\n", string(msg))
}

func parseHeading(s string) (robotsim.Heading, error) {
	switch strings.ToLower(s) {
	case "up":
		return robotsim.Up, nil
	case "down":
		return robotsim.Down, nil
	case "left":
		return robotsim.Left, nil
	case "right":
		return robotsim.Right, nil
	default:
		return 0, fmt.Errorf("unknown heading %q", s)
	}
}

// parseObstacles decodes "x,y;x,y;..." into a position set.
func parseObstacles(s string) (map[protocol.Position]bool, error) {
	if s == "" {
		return nil, nil
	}
	out := make(map[protocol.Position]bool)
	for _, pair := range strings.Split(s, ";") {
		parts := strings.Split(pair, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed obstacle %q", pair)
		}
		x, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("malformed obstacle %q: %w", pair, err)
		}
		y, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("malformed obstacle %q: %w", pair, err)
		}
		out[protocol.Position{X: x, Y: y}] = true
	}
	return out, nil
}
