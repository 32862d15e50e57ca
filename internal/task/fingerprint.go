package task

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"path"
	"strings"
)

// Tracking parameters that never change which media a URL identifies.
var trackingParams = map[string]bool{
	"si":      true,
	"feature": true,
	"fbclid":  true,
	"gclid":   true,
	"igshid":  true,
	"mc_cid":  true,
	"mc_eid":  true,
}

// Fingerprint derives the stable task identity for a (url, selector)
// pair. Requests that differ only in URL noise (tracking params, host
// case, share-link form) collapse onto the same id; a different selector
// always yields a different id.
func Fingerprint(rawURL, selector string) string {
	content := CanonicalURL(rawURL) + "|" + NormalizeSelector(selector)
	hash := md5.Sum([]byte(content))
	return hex.EncodeToString(hash[:])
}

// NormalizeSelector maps an absent selector onto the default quality.
func NormalizeSelector(selector string) string {
	s := strings.TrimSpace(selector)
	if s == "" {
		return "best"
	}
	return s
}

// CanonicalURL reduces a media URL to its canonical form: lowercased
// scheme and host, no fragment, no default port, no www prefix, no
// tracking parameters, query sorted, trailing slash dropped. YouTube
// share links collapse onto the watch URL. Unparseable input is returned
// trimmed, so it still fingerprints deterministically.
func CanonicalURL(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	switch u.Scheme {
	case "http":
		host = strings.TrimSuffix(host, ":80")
	case "https":
		host = strings.TrimSuffix(host, ":443")
	}
	u.Host = host
	u.Fragment = ""

	if canon, ok := canonicalYouTube(u); ok {
		return canon
	}

	q := u.Query()
	for key := range q {
		if trackingParams[key] || strings.HasPrefix(key, "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String()
}

// canonicalYouTube collapses youtu.be, shorts, embed and mobile watch
// forms onto youtube.com/watch?v=<id>, keeping only the video id.
func canonicalYouTube(u *url.URL) (string, bool) {
	var id string
	switch u.Host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com", "m.youtube.com":
		p := strings.TrimSuffix(u.Path, "/")
		switch {
		case p == "/watch":
			id = u.Query().Get("v")
		case strings.HasPrefix(p, "/shorts/"), strings.HasPrefix(p, "/embed/"), strings.HasPrefix(p, "/v/"):
			id = path.Base(p)
		}
	default:
		return "", false
	}
	if id == "" {
		return "", false
	}
	return "https://youtube.com/watch?v=" + id, true
}
