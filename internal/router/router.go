// Package router maps an email address to the topic of the workers able to
// verify it.
package router

import (
	"fmt"
	"strings"

	"github.com/cuongbtq/email-verifier/internal/domain"
)

// literalCR is the two character sequence backslash + r left behind by some
// CSV exports.
const literalCR = `\r`

var topicsByDomain = map[string]string{
	"aol.com":   domain.TopicAolVerificationRequested,
	"gmail.com": domain.TopicGmailVerificationRequested,

	"yahoo.com": domain.TopicYahooVerificationRequested,
	"ymail.com": domain.TopicYahooVerificationRequested,

	"outlook.com":     domain.TopicOutlookVerificationRequested,
	"hotmail.com":     domain.TopicOutlookVerificationRequested,
	"hotmail.co.uk":   domain.TopicOutlookVerificationRequested,
	"hotmail.fr":      domain.TopicOutlookVerificationRequested,
	"live.com":        domain.TopicOutlookVerificationRequested,
	"msn.com":         domain.TopicOutlookVerificationRequested,
	"windowslive.com": domain.TopicOutlookVerificationRequested,

	"mail.ru":     domain.TopicMailruVerificationRequested,
	"inbox.ru":    domain.TopicMailruVerificationRequested,
	"list.ru":     domain.TopicMailruVerificationRequested,
	"bk.ru":       domain.TopicMailruVerificationRequested,
	"internet.ru": domain.TopicMailruVerificationRequested,
}

type matcher struct {
	match func(string) bool
	topic string
}

// Evaluated in order after the static table misses
var matchers = []matcher{
	{isMailru, domain.TopicMailruVerificationRequested},
	{isYahoo, domain.TopicYahooVerificationRequested},
	{isSkynet, domain.TopicSkynetVerificationRequested},
	{isHotmail, domain.TopicOutlookVerificationRequested},
	{isOutlook, domain.TopicOutlookVerificationRequested},
	{isMsn, domain.TopicOutlookVerificationRequested},
}

// Normalize trims the address and strips up to four literal `\r` sequences.
//
// Open question: only the escaped two character form is removed, a real
// carriage return survives unless it sits at either end of the string.
func Normalize(email string) string {
	return strings.TrimSpace(strings.Replace(email, literalCR, "", 4))
}

// DomainOf returns the lowercased domain of a normalized address
func DomainOf(email string) (string, error) {
	_, host, ok := strings.Cut(email, "@")
	host = strings.ToLower(strings.TrimSpace(host))
	if !ok || host == "" {
		return "", fmt.Errorf("%w: %q", domain.ErrNoDomain, email)
	}
	return host, nil
}

// Route resolves the topic and domain for an address
func Route(email string) (topic, host string, err error) {
	host, err = DomainOf(Normalize(email))
	if err != nil {
		return "", "", err
	}
	return TopicFor(host), host, nil
}

// TopicFor resolves the topic for a lowercased domain
func TopicFor(host string) string {
	if topic, ok := topicsByDomain[host]; ok {
		return topic
	}

	for _, m := range matchers {
		if m.match(host) {
			return m.topic
		}
	}

	return domain.TopicCustomVerificationRequested
}

func labels(host string) []string {
	return strings.Split(host, ".")
}

var mailruZones = []string{".mail.ru", ".inbox.ru", ".list.ru", ".bk.ru", ".internet.ru"}

// isMailru matches hosts under the Mail.Ru zones, e.g. corp.mail.ru
func isMailru(host string) bool {
	for _, zone := range mailruZones {
		if strings.HasSuffix(host, zone) {
			return true
		}
	}
	return false
}

// isYahoo matches regional Yahoo domains such as yahoo.co.uk or ymail.fr
func isYahoo(host string) bool {
	first := labels(host)[0]
	return first == "yahoo" || first == "ymail" || first == "rocketmail" || strings.Contains(host, ".yahoo.")
}

// isSkynet matches the Proximus/Skynet family
func isSkynet(host string) bool {
	return host == "skynet.be" || strings.HasSuffix(host, ".skynet.be") ||
		host == "proximus.be" || strings.HasSuffix(host, ".proximus.be")
}

func isHotmail(host string) bool {
	return labels(host)[0] == "hotmail"
}

func isOutlook(host string) bool {
	return labels(host)[0] == "outlook"
}

// isMsn matches msn and live regional variants
func isMsn(host string) bool {
	first := labels(host)[0]
	return first == "msn" || first == "live" || first == "windowslive"
}
