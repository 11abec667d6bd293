package attribution

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/unicode/norm"
)

// Origin is a serialized scheme://host[:port] triple.
type Origin string

// Site is a scheme plus registrable domain (eTLD+1), e.g. "https://example.com".
type Site string

const siteCacheSize = 1024

// siteCache memoizes Origin -> Site. Site derivation walks the public
// suffix list and runs on every rate-limit and destination check.
var siteCache *lru.TwoQueueCache

func init() {
	c, err := lru.New2Q(siteCacheSize)
	if err != nil {
		panic(fmt.Sprintf("attribution: site cache: %v", err))
	}
	siteCache = c
}

// ParseOrigin normalizes s into an Origin. Paths, queries and fragments are
// dropped; the host is lowercased and NFC normalized.
func ParseOrigin(s string) (Origin, error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("parse origin %q: %w", s, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("parse origin %q: missing scheme or host", s)
	}
	host := strings.ToLower(norm.NFC.String(u.Host))
	return Origin(strings.ToLower(u.Scheme) + "://" + host), nil
}

// MustParseOrigin is ParseOrigin for literals known to be valid.
func MustParseOrigin(s string) Origin {
	o, err := ParseOrigin(s)
	if err != nil {
		panic(err)
	}
	return o
}

// Scheme returns the origin's scheme.
func (o Origin) Scheme() string {
	scheme, _, _ := strings.Cut(string(o), "://")
	return scheme
}

// Hostname returns the origin's host without any port.
func (o Origin) Hostname() string {
	_, rest, ok := strings.Cut(string(o), "://")
	if !ok {
		return ""
	}
	u := url.URL{Host: rest}
	return u.Hostname()
}

// Site returns the registrable site of the origin. Hosts without a
// registrable domain (IP literals, localhost, bare public suffixes) are
// their own site.
func (o Origin) Site() Site {
	if v, ok := siteCache.Get(o); ok {
		return v.(Site)
	}
	host := o.Hostname()
	domain := host
	if net.ParseIP(host) == nil {
		if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
			domain = etld1
		}
	}
	s := Site(o.Scheme() + "://" + domain)
	siteCache.Add(o, s)
	return s
}

// ParseSite accepts either a site or any origin on that site.
func ParseSite(s string) (Site, error) {
	o, err := ParseOrigin(s)
	if err != nil {
		return "", err
	}
	return o.Site(), nil
}

// Origin returns the site as an origin value.
func (s Site) Origin() Origin {
	return Origin(s)
}
