// Package cookiejar provides the in-memory cookie store shared by every
// intercepted fetch. It implements http.CookieJar so the outbound client
// attaches and records cookies on its own.
package cookiejar

import (
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"
)

// sessionExpiry is the expiry assigned to cookies without Expires or Max-Age.
// Session cookies live as long as the process.
var sessionExpiry = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// Origin identifies who is asking for cookies. HttpOnly cookies are only
// returned to HTTP(S) requests.
type Origin int

const (
	OriginHTTP Origin = iota
	OriginScript
)

// StoredCookie is a cookie as held by the jar.
type StoredCookie struct {
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	Domain    string    `json:"domain"`
	Path      string    `json:"path"`
	ExpiresAt time.Time `json:"expiresAt"`
	Secure    bool      `json:"secure"`
	HTTPOnly  bool      `json:"httpOnly"`
	HostOnly  bool      `json:"hostOnly"`
}

// Session reports whether the cookie had no explicit expiry.
func (c StoredCookie) Session() bool {
	return c.ExpiresAt.Equal(sessionExpiry)
}

type key struct {
	domain string
	name   string
}

type entry struct {
	cookie StoredCookie
	seq    uint64
}

// Jar is a concurrency-safe cookie store holding at most one cookie per
// (domain, name) pair.
type Jar struct {
	mu      sync.RWMutex
	entries map[key]entry
	seq     uint64
	now     func() time.Time
}

// New creates an empty Jar.
func New() *Jar {
	return &Jar{
		entries: make(map[key]entry),
		now:     time.Now,
	}
}

// Store records cookies received in a response from host. A cookie with the
// same domain and name as a stored one replaces it. Cookies that fail
// validation are dropped and the rest are still stored.
func (j *Jar) Store(host string, cookies []*http.Cookie) {
	host, ok := canonicalHost(host)
	if !ok {
		log.Debug().Str("host", host).Msg("Dropping cookies for invalid host")
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	for _, c := range cookies {
		stored, remove, ok := j.newEntry(host, c, now)
		if !ok {
			continue
		}
		k := key{domain: stored.Domain, name: stored.Name}
		if remove {
			delete(j.entries, k)
			continue
		}
		j.seq++
		j.entries[k] = entry{cookie: stored, seq: j.seq}
	}

	j.pruneLocked(now)
}

// Retrieve returns the cookies that apply to a request for u, longest path
// first and then oldest first. It does not modify the jar.
func (j *Jar) Retrieve(u *url.URL, origin Origin) []StoredCookie {
	if u == nil {
		return nil
	}
	host, ok := canonicalHost(u.Hostname())
	if !ok {
		return nil
	}
	https := strings.EqualFold(u.Scheme, "https")
	path := u.Path
	if path == "" {
		path = "/"
	}

	j.mu.RLock()
	now := j.now()
	matched := make([]entry, 0, 8)
	for _, e := range j.entries {
		c := e.cookie
		if !domainMatches(c, host) {
			continue
		}
		if c.Secure && !https {
			continue
		}
		if c.HTTPOnly && origin != OriginHTTP {
			continue
		}
		if c.Path != "/" && c.Path != path {
			continue
		}
		if !c.ExpiresAt.After(now) {
			continue
		}
		matched = append(matched, e)
	}
	j.mu.RUnlock()

	sort.Slice(matched, func(a, b int) bool {
		if len(matched[a].cookie.Path) != len(matched[b].cookie.Path) {
			return len(matched[a].cookie.Path) > len(matched[b].cookie.Path)
		}
		return matched[a].seq < matched[b].seq
	})

	out := make([]StoredCookie, len(matched))
	for i, e := range matched {
		out[i] = e.cookie
	}
	return out
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	if u == nil {
		return
	}
	j.Store(u.Hostname(), cookies)
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	stored := j.Retrieve(u, OriginHTTP)
	if len(stored) == 0 {
		return nil
	}
	out := make([]*http.Cookie, len(stored))
	for i, c := range stored {
		out[i] = &http.Cookie{Name: c.Name, Value: c.Value}
	}
	return out
}

// Set stores cookies supplied directly rather than from a response.
// Cookies without a domain are dropped. Returns the number stored.
func (j *Jar) Set(cookies []StoredCookie) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	stored := 0
	for _, c := range cookies {
		domain, ok := canonicalHost(strings.TrimPrefix(c.Domain, "."))
		if !ok || c.Name == "" {
			continue
		}
		c.Domain = domain
		if c.Path == "" || !strings.HasPrefix(c.Path, "/") {
			c.Path = "/"
		}
		if c.ExpiresAt.IsZero() {
			c.ExpiresAt = sessionExpiry
		}
		j.seq++
		j.entries[key{domain: c.Domain, name: c.Name}] = entry{cookie: c, seq: j.seq}
		stored++
	}
	return stored
}

// All returns every unexpired cookie in storage order.
func (j *Jar) All() []StoredCookie {
	j.mu.RLock()
	now := j.now()
	live := make([]entry, 0, len(j.entries))
	for _, e := range j.entries {
		if e.cookie.ExpiresAt.After(now) {
			live = append(live, e)
		}
	}
	j.mu.RUnlock()

	sort.Slice(live, func(a, b int) bool { return live[a].seq < live[b].seq })
	out := make([]StoredCookie, len(live))
	for i, e := range live {
		out[i] = e.cookie
	}
	return out
}

// Clear removes every cookie.
func (j *Jar) Clear() {
	j.mu.Lock()
	j.entries = make(map[key]entry)
	j.mu.Unlock()
}

// Len returns the number of stored cookies, including expired ones not yet pruned.
func (j *Jar) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// newEntry converts a response cookie for host into a StoredCookie.
// remove is true when the cookie asks for deletion (negative Max-Age or past Expires).
func (j *Jar) newEntry(host string, c *http.Cookie, now time.Time) (stored StoredCookie, remove, ok bool) {
	if c == nil || c.Name == "" {
		return stored, false, false
	}

	stored = StoredCookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HttpOnly,
	}

	if c.Domain == "" {
		stored.Domain = host
		stored.HostOnly = true
	} else {
		domain, valid := canonicalHost(strings.TrimPrefix(c.Domain, "."))
		if !valid || !hasDomainSuffix(host, domain) {
			log.Debug().
				Str("cookie", c.Name).
				Str("domain", c.Domain).
				Str("host", host).
				Msg("Dropping cookie with foreign domain")
			return stored, false, false
		}
		if domain != host && isPublicSuffix(domain) {
			log.Debug().
				Str("cookie", c.Name).
				Str("domain", domain).
				Msg("Dropping cookie scoped to a public suffix")
			return stored, false, false
		}
		stored.Domain = domain
	}

	if stored.Path == "" || !strings.HasPrefix(stored.Path, "/") {
		stored.Path = "/"
	}

	switch {
	case c.MaxAge < 0:
		return stored, true, true
	case c.MaxAge > 0:
		stored.ExpiresAt = now.Add(time.Duration(c.MaxAge) * time.Second)
	case !c.Expires.IsZero():
		if !c.Expires.After(now) {
			return stored, true, true
		}
		stored.ExpiresAt = c.Expires
	default:
		stored.ExpiresAt = sessionExpiry
	}

	return stored, false, true
}

// pruneLocked drops expired entries. j.mu must be held for writing.
func (j *Jar) pruneLocked(now time.Time) {
	for k, e := range j.entries {
		if !e.cookie.ExpiresAt.After(now) {
			delete(j.entries, k)
		}
	}
}

func domainMatches(c StoredCookie, host string) bool {
	if c.HostOnly {
		return host == c.Domain
	}
	return hasDomainSuffix(host, c.Domain)
}

// hasDomainSuffix reports whether host equals domain or is a subdomain of it.
// IP addresses only match themselves.
func hasDomainSuffix(host, domain string) bool {
	if host == domain {
		return true
	}
	if net.ParseIP(host) != nil {
		return false
	}
	return strings.HasSuffix(host, "."+domain)
}

func isPublicSuffix(domain string) bool {
	if net.ParseIP(domain) != nil {
		return false
	}
	suffix, _ := publicsuffix.PublicSuffix(domain)
	return suffix == domain
}

// RegistrableDomain returns the eTLD+1 of host, or host itself when it has none.
func RegistrableDomain(host string) string {
	host, ok := canonicalHost(host)
	if !ok {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}

func canonicalHost(host string) (string, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	if host == "" || strings.ContainsAny(host, " /;,") {
		return host, false
	}
	return host, true
}
