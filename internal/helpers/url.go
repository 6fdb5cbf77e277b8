package helpers

import (
	"errors"
	"net/url"
	"path"
	"sort"
	"strings"
)

// Listing portals decorate shared links with campaign parameters; they never
// distinguish listings, so canonicalization drops them.
var trackingQueryParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"utm_id":       {},
	"gclid":        {},
	"dclid":        {},
	"fbclid":       {},
	"msclkid":      {},
	"igshid":       {},
}

// CanonicalURL normalises a listing URL for deduplication: lowercases
// scheme/host, removes default ports and fragments, cleans the path, drops
// tracking parameters and sorts the rest. Schemeless input defaults to https.
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}

	parsed, err := parseURLPreserveHost(raw)
	if err != nil {
		return "", err
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)

	host := strings.ToLower(parsed.Host)
	if host == "" {
		return "", errors.New("url missing host")
	}
	if h, p, ok := strings.Cut(host, ":"); ok {
		if (parsed.Scheme == "http" && p == "80") || (parsed.Scheme == "https" && p == "443") {
			host = h
		}
	}
	parsed.Host = host

	if parsed.Path == "" {
		parsed.Path = "/"
	}
	cleanPath := path.Clean(parsed.Path)
	if cleanPath == "." {
		cleanPath = "/"
	}
	if !strings.HasPrefix(cleanPath, "/") {
		cleanPath = "/" + cleanPath
	}
	if cleanPath != "/" && strings.HasSuffix(parsed.Path, "/") && !strings.HasSuffix(cleanPath, "/") {
		cleanPath += "/"
	}
	parsed.Path = cleanPath

	parsed.Fragment = ""
	query := parsed.Query()
	for key := range query {
		if _, drop := trackingQueryParams[strings.ToLower(key)]; drop {
			query.Del(key)
		}
	}

	if len(query) == 0 {
		parsed.RawQuery = ""
	} else {
		keys := make([]string, 0, len(query))
		for key := range query {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, key := range keys {
			values := append([]string(nil), query[key]...)
			sort.Strings(values)
			for _, value := range values {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(key))
				if value != "" {
					b.WriteByte('=')
					b.WriteString(url.QueryEscape(value))
				}
			}
		}
		parsed.RawQuery = b.String()
	}

	return parsed.String(), nil
}

// RegisteredDomain reduces a URL or bare host to its registrable domain:
// "www.idealista.pt/imovel/123" -> "idealista.pt". Compound suffixes common
// on listing portals (co.uk, com.br, sapo.pt) keep a third label, so
// "www.casa.sapo.pt" -> "casa.sapo.pt".
func RegisteredDomain(raw string) string {
	host := strings.ToLower(strings.TrimSpace(raw))
	if strings.Contains(host, "/") || strings.Contains(host, ":") {
		parsed, err := parseURLPreserveHost(host)
		if err != nil || parsed.Host == "" {
			return ""
		}
		host = parsed.Host
		if h, _, ok := strings.Cut(host, ":"); ok {
			host = h
		}
	}
	host = strings.TrimSuffix(host, ".")
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return host
	}
	// Two labels unless the tail is a compound suffix, then three.
	tail := strings.Join(labels[len(labels)-2:], ".")
	if _, compound := compoundSuffixes[tail]; compound && len(labels) >= 3 {
		return strings.Join(labels[len(labels)-3:], ".")
	}
	return tail
}

var compoundSuffixes = map[string]struct{}{
	"co.uk":   {},
	"org.uk":  {},
	"com.br":  {},
	"com.es":  {},
	"com.pt":  {},
	"sapo.pt": {},
}

// SameRegisteredDomain reports whether two URLs or hosts share a registrable
// domain; the research allow-list matches with this.
func SameRegisteredDomain(a, b string) bool {
	da := RegisteredDomain(a)
	return da != "" && da == RegisteredDomain(b)
}

// parseURLPreserveHost parses raw into a url.URL, tolerating schemeless
// forms like "example.com/path" and "//example.com/path".
func parseURLPreserveHost(raw string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" && parsed.Host == "" {
		if strings.HasPrefix(raw, "//") {
			return url.Parse("https:" + raw)
		}
		return url.Parse("https://" + raw)
	}
	return parsed, nil
}
