// Package identity derives the stable user identifier that binds a client
// address and hardware id to a license key.
package identity

import (
	"encoding/base64"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// UnknownIP replaces any client address that is not a dotted-quad IPv4
const UnknownIP = "unknown_ip"

var hwidPattern = regexp.MustCompile(`^[0-9A-Fa-f-]{5,}$`)

// ErrMalformedUserID is returned by Decode for input Encode never produces
var ErrMalformedUserID = errors.New("malformed user id")

// NormalizeIP returns the IPv4 address in raw, stripping a port suffix.
// Anything else, IPv6 included, collapses to UnknownIP.
func NormalizeIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}

	octets := strings.Split(raw, ".")
	if len(octets) != 4 {
		return UnknownIP
	}
	for _, o := range octets {
		if o == "" || len(o) > 3 {
			return UnknownIP
		}
		n, err := strconv.Atoi(o)
		if err != nil || n < 0 || n > 255 || strings.HasPrefix(o, "+") {
			return UnknownIP
		}
	}
	return raw
}

// ValidHWID reports whether hwid is at least five hex digits or dashes
func ValidHWID(hwid string) bool {
	return hwidPattern.MatchString(hwid)
}

// Encode derives the user id for a client address and hardware id.
// It is pure: the same inputs always yield the same id.
func Encode(ip, hwid string) string {
	return base64.StdEncoding.EncodeToString([]byte(NormalizeIP(ip) + "_" + hwid))
}

// Decode splits a user id back into its address and hardware id
func Decode(userID string) (ip, hwid string, err error) {
	raw, err := base64.StdEncoding.DecodeString(userID)
	if err != nil {
		return "", "", ErrMalformedUserID
	}

	// The address never contains an underscore except in UnknownIP
	s := string(raw)
	if strings.HasPrefix(s, UnknownIP+"_") {
		return UnknownIP, s[len(UnknownIP)+1:], nil
	}
	ip, hwid, ok := strings.Cut(s, "_")
	if !ok {
		return "", "", ErrMalformedUserID
	}
	return ip, hwid, nil
}
