// Package reconcile maps delivered vendor records back to the internal
// profiles that requested them.
package reconcile

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrBadURL is returned for input that does not parse as a URL with a
	// host.
	ErrBadURL = eris.New("reconcile: unparseable url")
	// ErrNoHandle is returned when a URL has no /in/{handle} segment.
	ErrNoHandle = eris.New("reconcile: no profile handle in url")
)

// NormalizeURL reduces a profile URL to a comparison key: host and path
// only, lowercased, with www., mobile and country subdomains, query,
// fragment and trailing slashes removed.
func NormalizeURL(raw string) (string, error) {
	u, err := parse(raw)
	if err != nil {
		return "", err
	}
	path := strings.TrimRight(fold(u.Path), "/")
	return host(u) + path, nil
}

// Handle returns the normalized path segment that follows /in/.
func Handle(raw string) (string, error) {
	u, err := parse(raw)
	if err != nil {
		return "", err
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(segs); i++ {
		if !strings.EqualFold(segs[i], "in") {
			continue
		}
		if h := NormalizeHandle(segs[i+1]); h != "" {
			return h, nil
		}
	}
	return "", eris.Wrapf(ErrNoHandle, "reconcile: %q", raw)
}

// NormalizeHandle folds a bare handle, which may still be percent-encoded,
// the same way Handle does.
func NormalizeHandle(h string) string {
	if dec, err := url.PathUnescape(h); err == nil {
		h = dec
	}
	return strings.TrimSpace(fold(h))
}

func parse(raw string) (*url.URL, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, eris.Wrap(ErrBadURL, "reconcile: empty url")
	}
	if !strings.Contains(s, "://") {
		s = "https://" + strings.TrimPrefix(s, "//")
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, eris.Wrapf(ErrBadURL, "reconcile: %q: %v", raw, err)
	}
	if u.Hostname() == "" {
		return nil, eris.Wrapf(ErrBadURL, "reconcile: %q has no host", raw)
	}
	return u, nil
}

// profileDomains are hosts whose two-letter country subdomains serve the
// same profiles as the bare domain.
var profileDomains = map[string]bool{"linkedin.com": true}

func host(u *url.URL) string {
	h := strings.ToLower(u.Hostname())
	first, rest, ok := strings.Cut(h, ".")
	if !ok || !strings.Contains(rest, ".") {
		return h
	}
	switch {
	case first == "www" || first == "m":
		return rest
	case len(first) == 2 && profileDomains[rest]:
		return rest
	}
	return h
}

// fold applies NFC and Unicode case folding. Casers hold state, so each
// call gets its own.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}
