package validator

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var emailRegex = regexp.MustCompile(`^(?i)[a-z0-9!#$%&'*+\/=?^_\x60{|}~-]+(?:\.[a-z0-9!#$%&'*+\/=?^_\x60{|}~-]+)*@(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z0-9](?:[a-z0-9-]*[a-z0-9])?$`)

// Common domain misspellings and their likely intent
var commonTypos = map[string]string{
	"gmai.com":     "gmail.com",
	"gmal.com":     "gmail.com",
	"gmail.co":     "gmail.com",
	"gmail.cm":     "gmail.com",
	"gmial.com":    "gmail.com",
	"gamil.com":    "gmail.com",
	"gnail.com":    "gmail.com",
	"gmaill.com":   "gmail.com",
	"yaho.com":     "yahoo.com",
	"yahooo.com":   "yahoo.com",
	"yahoo.co":     "yahoo.com",
	"yahoo.cm":     "yahoo.com",
	"hotmai.com":   "hotmail.com",
	"hotmal.com":   "hotmail.com",
	"hotmial.com":  "hotmail.com",
	"hotmail.co":   "hotmail.com",
	"hotmail.cm":   "hotmail.com",
	"outlok.com":   "outlook.com",
	"outllook.com": "outlook.com",
	"outlook.co":   "outlook.com",
	"iclod.com":    "icloud.com",
	"icloud.co":    "icloud.com",
	"aol.co":       "aol.com",
}

// ValidSyntax checks the address format and RFC 5321 length limits
func ValidSyntax(email string) bool {
	if len(email) == 0 || len(email) > 254 {
		return false
	}

	if !emailRegex.MatchString(email) {
		return false
	}

	local, host, ok := strings.Cut(email, "@")
	if !ok || len(local) > 64 || len(host) > 253 {
		return false
	}

	return !strings.Contains(email, "..")
}

// SuggestDomain returns the domain the sender most likely meant, or "" when
// host is not a known misspelling
func SuggestDomain(host string) string {
	return commonTypos[strings.ToLower(host)]
}

// randomEmail builds an address at host whose local part is vanishingly
// unlikely to exist
func randomEmail(host string) string {
	local := strings.ReplaceAll(uuid.NewString(), "-", "")
	return local[:20] + "@" + host
}
