// Package classify assigns a type to raw identifier strings coming out of
// scanner output. Every parser runs its tokens through Classify before
// touching the record store.
package classify

import (
	"regexp"
	"strings"

	"github.com/edgewatch/edgewatch/pkg/types"
)

var (
	addressRe = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)
	cidrRe    = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}/\d{1,2}$`)
	domainRe  = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)
	sha256Re  = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)
	md5Re     = regexp.MustCompile(`^[a-fA-F0-9]{32}$`)
	emailRe   = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// Classify returns the identifier type for s. The function is pure and
// total: unmatched input classifies as UNKNOWN, never an error.
//
// Match order is part of the contract: ADDRESS before CIDR before URL
// before DOMAIN before hash lengths before EMAIL. A dotted-decimal literal
// must never fall through to the domain pattern.
func Classify(s string) types.IdentifierType {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.IdentifierUnknown
	}

	switch {
	case addressRe.MatchString(s):
		return types.IdentifierAddress
	case cidrRe.MatchString(s):
		return types.IdentifierCIDR
	case strings.HasPrefix(strings.ToLower(s), "http"):
		return types.IdentifierURL
	case domainRe.MatchString(s):
		return types.IdentifierDomain
	case sha256Re.MatchString(s):
		return types.IdentifierFileHash
	case md5Re.MatchString(s):
		return types.IdentifierFileHash
	case emailRe.MatchString(s):
		return types.IdentifierEmail
	}
	return types.IdentifierUnknown
}
