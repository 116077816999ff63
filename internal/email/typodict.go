package email

import "strings"

// StaticSuggester is a curated dictionary of common email domain
// misspellings plus a handful of TLD typo fixes. It implements Suggester.
type StaticSuggester struct {
	domains     map[string]string
	tldSuffixes map[string]string
}

// Domain misspellings observed in real submitter input. Keys and values are
// lowercase.
var defaultDomainFixes = map[string]string{
	"gmial.com":    "gmail.com",
	"gmai.com":     "gmail.com",
	"gamil.com":    "gmail.com",
	"gnail.com":    "gmail.com",
	"gmaill.com":   "gmail.com",
	"gmail.con":    "gmail.com",
	"gmail.cmo":    "gmail.com",
	"gmail.ocm":    "gmail.com",
	"gmail.vom":    "gmail.com",
	"gmail.comm":   "gmail.com",
	"hotmial.com":  "hotmail.com",
	"hotmil.com":   "hotmail.com",
	"hotamil.com":  "hotmail.com",
	"hotmail.con":  "hotmail.com",
	"hotmail.cmo":  "hotmail.com",
	"yaho.com":     "yahoo.com",
	"yahooo.com":   "yahoo.com",
	"yhoo.com":     "yahoo.com",
	"yahoo.con":    "yahoo.com",
	"outlok.com":   "outlook.com",
	"outloook.com": "outlook.com",
	"outlook.con":  "outlook.com",
	"iclod.com":    "icloud.com",
	"icloud.con":   "icloud.com",
	"icoud.com":    "icloud.com",
	"aol.con":      "aol.com",
	"comcast.nte":  "comcast.net",
	"comcast.ent":  "comcast.net",
}

// TLD-only typos applied when the full domain has no dictionary entry.
var defaultTLDFixes = map[string]string{
	".con": ".com",
	".cmo": ".com",
	".ocm": ".com",
	".vom": ".com",
	".nte": ".net",
	".ent": ".net",
}

// NewStaticSuggester creates a suggester using the built-in dictionary.
func NewStaticSuggester() *StaticSuggester {
	return &StaticSuggester{
		domains:     defaultDomainFixes,
		tldSuffixes: defaultTLDFixes,
	}
}

// Suggest returns the corrected domain for a known misspelling. The second
// return is false when the dictionary has nothing to offer.
func (s *StaticSuggester) Suggest(domain string) (string, bool) {
	domain = strings.ToLower(domain)
	if fixed, ok := s.domains[domain]; ok {
		return fixed, true
	}
	for suffix, fixed := range s.tldSuffixes {
		if strings.HasSuffix(domain, suffix) {
			return strings.TrimSuffix(domain, suffix) + fixed, true
		}
	}
	return "", false
}
