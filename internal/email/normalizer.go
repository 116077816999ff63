// Package email canonicalizes submitter email addresses before they are
// used as identity keys, repairing common domain typos conservatively.
package email

import (
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Suggester proposes a corrected form of an email domain. Implementations
// are dictionary lookups; a miss means the domain looks fine as-is.
type Suggester interface {
	Suggest(domain string) (string, bool)
}

// DefaultMaxEditDistance is the largest domain edit distance a suggested
// correction may have before it is considered untrustworthy and discarded.
const DefaultMaxEditDistance = 3

var (
	// Bare-gmail addresses missing the TLD, e.g. "john@gmail" or "john@gmai".
	bareGmailRe = regexp.MustCompile(`(?i)@gmail?$`)

	// Country-code TLDs users frequently key by hand; a dictionary
	// "correction" of these is almost always a false positive.
	noCorrectionTLDRe = regexp.MustCompile(`\.(?:gob|om|mm|cm|et|mo|nz|za|ie)$`)

	// Gmail-adjacent domains other than gmail.com, e.g. "gmail.co".
	gmailNearMissRe = regexp.MustCompile(`^gmail\.`)

	digitsOnlyRe = regexp.MustCompile(`^[0-9]+$`)
)

// Normalizer turns raw submitter input into a canonical lowercase email
// address. Normalize never fails: ambiguous input comes back best-effort
// lowercased.
type Normalizer struct {
	suggester   Suggester
	logger      *zap.Logger
	fixes       *prometheus.CounterVec
	maxDistance int
}

// NormalizerOption configures a Normalizer.
type NormalizerOption func(*Normalizer)

// WithFixCounter wires the counter that tracks fix outcomes. Labels:
// outcome = "fixed" | "skipped".
func WithFixCounter(c *prometheus.CounterVec) NormalizerOption {
	return func(n *Normalizer) { n.fixes = c }
}

// WithMaxEditDistance overrides the correction trust threshold.
func WithMaxEditDistance(d int) NormalizerOption {
	return func(n *Normalizer) { n.maxDistance = d }
}

// NewNormalizer creates a Normalizer backed by the given typo dictionary.
func NewNormalizer(suggester Suggester, logger *zap.Logger, opts ...NormalizerOption) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Normalizer{
		suggester:   suggester,
		logger:      logger,
		maxDistance: DefaultMaxEditDistance,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize canonicalizes a raw email address. Empty and numeric-only input
// yields the empty string. Multi-address paste artifacts and no-correction
// TLDs are returned lowercased without typo correction.
func (n *Normalizer) Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || digitsOnlyRe.MatchString(raw) {
		return ""
	}

	// Multi-address pastes sometimes separate with '/'.
	addr := strings.ReplaceAll(raw, "/", ",")
	addr = strings.TrimPrefix(addr, "<")
	lower := strings.ToLower(addr)

	// Missing TLD after a gmail local part: complete it.
	if bareGmailRe.MatchString(lower) {
		return bareGmailRe.ReplaceAllString(lower, "@gmail.com")
	}

	// Intentionally multi-valued input or domains we must not "correct".
	if strings.Contains(lower, ",") || noCorrectionTLDRe.MatchString(lower) || !strings.Contains(lower, ".") {
		return lower
	}

	domain := domainOf(lower)
	fixedDomain, ok := n.suggester.Suggest(domain)
	if !ok {
		return lower
	}

	candidate := localOf(lower) + "@" + fixedDomain
	if candidate == lower {
		return lower
	}
	if fixedDomain == domain {
		// Correction only changed case or noise, not the domain.
		return lower
	}
	if gmailNearMissRe.MatchString(fixedDomain) && fixedDomain != "gmail.com" {
		// Too easy to over-correct gmail-like domains.
		return lower
	}
	if levenshtein.ComputeDistance(domain, fixedDomain) > n.maxDistance {
		n.logger.Info("skipped email fix", zap.String("domain", domain))
		n.countFix("skipped")
		return lower
	}

	n.logger.Info("fixed email", zap.String("domain", domain), zap.String("fixed_domain", fixedDomain))
	n.countFix("fixed")
	return candidate
}

func (n *Normalizer) countFix(outcome string) {
	if n.fixes != nil {
		n.fixes.WithLabelValues(outcome).Inc()
	}
}

// ParseList extracts individual addresses from free-form pasted input,
// splitting on commas, semicolons, whitespace, and slashes.
func ParseList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', '/', ' ', '\t', '\n', '\r':
			return true
		}
		return false
	})
	addrs := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "<>")
		if strings.Contains(f, "@") {
			addrs = append(addrs, f)
		}
	}
	return addrs
}

// domainOf returns the part after the last '@', or the whole string when no
// '@' is present.
func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[i+1:]
	}
	return addr
}

// localOf returns the part before the last '@', or the whole string.
func localOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[:i]
	}
	return addr
}
