package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// ToAbsoluteURL resolves href against base the way a browser would.
func ToAbsoluteURL(href string, base string) (*url.URL, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	return resolve(href, baseURL)
}

func resolve(href string, base *url.URL) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, fmt.Errorf("parse href: %w", err)
	}
	return base.ResolveReference(ref), nil
}

// IsValidLink reports whether u is an http(s) link on domain, carries no
// credentials, and has no "." anywhere in its path (file-like resources).
func IsValidLink(u *url.URL, domain string) bool {
	if u == nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.User != nil {
		return false
	}
	if !strings.EqualFold(u.Hostname(), domain) {
		return false
	}
	return !strings.Contains(u.Path, ".")
}

// NormalizeLink drops the query and fragment so that links differing only
// in those parts collapse to one URL. An empty path becomes "/".
func NormalizeLink(u *url.URL) string {
	cp := *u
	cp.Scheme = strings.ToLower(cp.Scheme)
	cp.Host = strings.ToLower(cp.Host)
	cp.RawQuery = ""
	cp.ForceQuery = false
	cp.Fragment = ""
	cp.RawFragment = ""
	if cp.Path == "" {
		cp.Path = "/"
		cp.RawPath = ""
	}
	return cp.String()
}

// FilterAndNormalizeHrefs resolves raw hrefs against base, keeps the valid
// same-domain links, normalizes them, and removes duplicates while keeping
// first-seen order. Hrefs that fail to parse are skipped.
func FilterAndNormalizeHrefs(hrefs []string, domain string, base string) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{}, len(hrefs))
	out := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		abs, err := resolve(href, baseURL)
		if err != nil || !IsValidLink(abs, domain) {
			continue
		}
		link := NormalizeLink(abs)
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	return out
}

// ParseBaseURL validates a crawl seed and returns its normalized form and
// domain. Only absolute http(s) URLs with a host are accepted.
func ParseBaseURL(raw string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return NormalizeLink(u), strings.ToLower(u.Hostname()), nil
}

// Domain returns the lowercase hostname of raw.
func Domain(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return strings.ToLower(host), nil
}
