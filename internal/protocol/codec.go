package protocol

import (
	"strconv"
	"strings"
	"unicode"
)

// TrimUsername strips the Suffix and outer whitespace from a raw username
// frame. Username bytes are decoded as UTF-8 but the hash sums raw byte
// values (spec.md §4.2).
func TrimUsername(msg []byte) string {
	return strings.TrimSpace(string(msg[:len(msg)-2]))
}

// EncodeDecimal renders n as decimal ASCII followed by Suffix — the wire
// form of both the server confirmation and (by the client) the client
// confirmation.
func EncodeDecimal(n uint16) []byte {
	s := strconv.FormatUint(uint64(n), 10)
	b := make([]byte, 0, len(s)+2)
	b = append(b, s...)
	b = append(b, Suffix[0], Suffix[1])
	return b
}

// ParseKeyID decodes a CLIENT_KEY_ID frame. Non-numeric content is a syntax
// error; a numeric value outside [0,4] is KeyOutOfRange.
func ParseKeyID(msg []byte) (int, *Failure) {
	s := string(msg[:len(msg)-2])
	if !isDigits(s) {
		return 0, errSyntax
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errSyntax
	}
	if n < 0 || n > 4 {
		return 0, errKeyRange
	}
	return n, nil
}

// ParseConfirmation decodes a CLIENT_CONFIRMATION frame into its numeric
// value. Non-numeric content is a syntax error.
func ParseConfirmation(msg []byte) (int, *Failure) {
	s := string(msg[:len(msg)-2])
	if !isDigits(s) {
		return 0, errSyntax
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errSyntax
	}
	return n, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Hash computes the handshake hash for a trimmed username: the sum of its
// byte values (at least 32-bit intermediate, per spec.md §9 open question
// (d)) times 1000, mod 65536.
func Hash(username string) uint16 {
	var sum int64
	for i := 0; i < len(username); i++ {
		sum += int64(username[i])
	}
	return uint16((sum * 1000) % 65536)
}

// Confirm computes (hash + key) mod 65536, used both for the server's
// confirmation (with the server key) and the expected client reply (with
// the client key).
func Confirm(hash uint16, key uint16) uint16 {
	return uint16((uint32(hash) + uint32(key)) % 65536)
}

// Position is a pair of signed grid coordinates.
type Position struct {
	X, Y int
}

// ParsePosition decodes a `OK <x> <y>` client reply per spec.md §4.2:
// exactly three whitespace-separated tokens, the first "OK"; the decoded
// payload must equal its right-stripped form; neither coordinate may
// contain '.'; both must parse as signed integers.
func ParsePosition(msg []byte) (Position, *Failure) {
	s := string(msg[:len(msg)-2])
	if s != strings.TrimRightFunc(s, unicode.IsSpace) {
		return Position{}, errSyntax
	}

	fields := strings.Split(s, " ")
	if len(fields) != 3 || fields[0] != "OK" {
		return Position{}, errSyntax
	}

	xs, ys := fields[1], fields[2]
	if strings.Contains(xs, ".") || strings.Contains(ys, ".") {
		return Position{}, errSyntax
	}

	x, errX := strconv.Atoi(xs)
	y, errY := strconv.Atoi(ys)
	if errX != nil || errY != nil {
		return Position{}, errSyntax
	}
	return Position{X: x, Y: y}, nil
}
