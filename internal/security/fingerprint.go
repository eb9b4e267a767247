package security

import (
	"crypto/sha256"
	"fmt"

	"github.com/mssola/useragent"
)

// Fingerprint derives a pseudo-identity for CSRF binding when no server-side
// session exists, by hashing the client address with a normalized form of the
// user agent (browser family + version + OS). Normalizing through the parser
// keeps the fingerprint stable across minor UA string churn.
//
// This is a heuristic, not a strong session binding: distinct users behind
// the same proxy with similar browsers can collide.
func Fingerprint(ipAddress, userAgentString string) string {
	ua := useragent.New(userAgentString)
	name, version := ua.Browser()

	data := fmt.Sprintf("%s:%s/%s:%s", ipAddress, name, version, ua.OS())
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)[:32]
}
