// Package placeholder implements the middleware page contract: a restored
// tab points at an internal page that carries the original tab's metadata in
// its own URL and defers real navigation until the tab becomes visible.
//
// Because the metadata travels in the URL, a still-unloaded restored tab
// remains snapshot-able: the builder decodes the placeholder instead of
// capturing a blank page.
package placeholder

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
)

// StateParam is the query parameter carrying the encoded metadata blob.
const StateParam = "state"

// Meta is the original tab state a placeholder preserves.
type Meta struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	FaviconURL string `json:"favicon_url,omitempty"`
}

// Encode builds a placeholder URL on top of baseURL (the tracker's
// /placeholder endpoint) embedding meta as a base64url JSON blob.
func Encode(baseURL string, meta Meta) string {
	blob, err := json.Marshal(meta)
	if err != nil {
		// Meta is three strings; marshalling cannot fail in practice.
		return baseURL
	}
	sep := "?"
	if strings.Contains(baseURL, "?") {
		sep = "&"
	}
	return baseURL + sep + StateParam + "=" + base64.RawURLEncoding.EncodeToString(blob)
}

// Decode extracts the original metadata from a placeholder URL. The second
// return is false when rawURL carries no decodable state blob.
func Decode(rawURL string) (Meta, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Meta{}, false
	}
	enc := u.Query().Get(StateParam)
	if enc == "" {
		return Meta{}, false
	}
	blob, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return Meta{}, false
	}
	var m Meta
	if err := json.Unmarshal(blob, &m); err != nil || m.URL == "" {
		return Meta{}, false
	}
	return m, true
}

// IsPlaceholder reports whether rawURL points at the placeholder page served
// from baseURL. Comparison ignores query and fragment.
func IsPlaceholder(rawURL, baseURL string) bool {
	if baseURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	b, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	return u.Scheme == b.Scheme && u.Host == b.Host && u.Path == b.Path
}

// Restorable reports whether a URL can be handed back to the host on
// restoration. Internal pages and non-web schemes are not restorable.
func Restorable(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
