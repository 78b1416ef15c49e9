// Package policy masks personal data in learner messages before they are
// cached, stored remotely or archived.
package policy

import "regexp"

// Kind names a class of redacted content.
type Kind string

const (
	KindSecret Kind = "secret"
	KindEmail  Kind = "email"
	KindCard   Kind = "card"
	KindPhone  Kind = "phone"
)

type rule struct {
	kind    Kind
	pattern *regexp.Regexp
	mask    string
}

// Order matters: card numbers would otherwise match the phone rule, and
// bearer tokens can contain digit runs.
var rules = []rule{
	{KindSecret, regexp.MustCompile(`(?i)\b(?:bearer\s+[a-z0-9._\-]{16,}|sk-[a-z0-9_\-]{16,})`), "[REDACTED_SECRET]"},
	{KindEmail, regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{KindCard, regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{KindPhone, regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// Redact masks every known pattern and returns the kinds it replaced, in
// rule order.
func Redact(input string) (string, []Kind) {
	out := input
	var hits []Kind
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(out, r.mask)
		if next != out {
			hits = append(hits, r.kind)
			out = next
		}
	}
	return out, hits
}

// RedactPII is Redact for callers that only care whether anything changed.
func RedactPII(input string) (string, bool) {
	out, hits := Redact(input)
	return out, len(hits) > 0
}
