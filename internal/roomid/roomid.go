// Package roomid validates and normalizes the room identifiers and aliases
// that clients put in request paths.
package roomid

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/id"
)

var ErrInvalid = errors.New("invalid room identifier")

var slugPattern = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// IsValidRoomID reports whether s is a well formed "!opaque:domain" room
// identifier. The domain may carry a port.
func IsValidRoomID(s string) bool {
	if !strings.HasPrefix(s, "!") {
		return false
	}
	localpart, domain, ok := strings.Cut(s[1:], ":")
	if !ok {
		return false
	}
	return validLocalpart(localpart) && ValidServerName(domain)
}

// DomainMatches reports whether server is domain or one of its
// subdomains.
func DomainMatches(server, domain string) bool {
	if server == "" || domain == "" {
		return false
	}
	return server == domain || strings.HasSuffix(server, "."+domain)
}

// ServerName returns the domain suffix of a room id, alias or user id, or
// "" when there is none.
func ServerName(s string) string {
	if len(s) < 2 {
		return ""
	}
	_, domain, ok := strings.Cut(s[1:], ":")
	if !ok {
		return ""
	}
	return domain
}

// AliasLike reports whether s looks like "name:server" with no sigil.
func AliasLike(s string) bool {
	if strings.HasPrefix(s, "!") {
		return false
	}
	parts := strings.Split(s, ":")
	return len(parts) == 2 && parts[0] != "" && parts[1] != ""
}

// AliasCandidate turns a raw path segment into the alias to resolve:
// "#a:b" is kept, "a:b" becomes "#a:b", anything else is treated as a
// local alias "#raw:server".
func AliasCandidate(raw, server string) (id.RoomAlias, error) {
	var alias string
	switch {
	case strings.HasPrefix(raw, "#"):
		alias = raw
	case AliasLike(raw):
		alias = "#" + raw
	default:
		alias = "#" + raw + ":" + server
	}
	if !validAlias(alias) {
		return "", ErrInvalid
	}
	return id.RoomAlias(alias), nil
}

// Slugify lowercases s and collapses every run of non alphanumerics into
// a single dash.
func Slugify(s string) string {
	return strings.ToLower(slugPattern.ReplaceAllString(s, "-"))
}

func validAlias(alias string) bool {
	if len(alias) > 255 || !strings.HasPrefix(alias, "#") {
		return false
	}
	localpart, domain, ok := strings.Cut(alias[1:], ":")
	if !ok || localpart == "" {
		return false
	}
	if strings.ContainsAny(localpart, " /#!") {
		return false
	}
	return ValidServerName(domain)
}

func validLocalpart(s string) bool {
	if s == "" || len(s) > 255 {
		return false
	}
	for _, c := range s {
		if !isAlnum(c) && c != '.' && c != '_' && c != '=' && c != '-' {
			return false
		}
	}
	return true
}

// ValidServerName checks "hostname" or "hostname:port".
func ValidServerName(s string) bool {
	if s == "" {
		return false
	}
	host := s
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		host = s[:i]
		port, err := strconv.ParseUint(s[i+1:], 10, 16)
		if err != nil || port == 0 {
			return false
		}
	}
	return validHostname(host)
}

func validHostname(s string) bool {
	if s == "" || len(s) > 253 {
		return false
	}
	for _, label := range strings.Split(s, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if !isAlnum(rune(label[0])) || !isAlnum(rune(label[len(label)-1])) {
			return false
		}
		for _, c := range label {
			if !isAlnum(c) && c != '-' {
				return false
			}
		}
	}
	return true
}

func isAlnum(c rune) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
