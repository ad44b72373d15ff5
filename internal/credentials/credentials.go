// Package credentials loads the opaque session bundle the upstream service
// requires for comment access.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Cookie is one name/value pair from a saved session.
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Bundle is an opaque credential set. An empty bundle means anonymous mode;
// comment harvesting refuses to start without a non-empty one.
type Bundle struct {
	cookies []Cookie
}

// Load reads a cookie bundle from a JSON file. A missing file is not an
// error: it yields an empty bundle (anonymous mode).
func Load(path string) (Bundle, error) {
	if strings.TrimSpace(path) == "" {
		return Bundle{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Bundle{}, nil
		}
		return Bundle{}, fmt.Errorf("read credentials file: %w", err)
	}
	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return Bundle{}, fmt.Errorf("parse credentials file: %w", err)
	}
	valid := cookies[:0]
	for _, c := range cookies {
		if c.Name != "" && c.Value != "" {
			valid = append(valid, c)
		}
	}
	return Bundle{cookies: valid}, nil
}

// FromCookies builds a bundle directly, mainly for tests.
func FromCookies(cookies []Cookie) Bundle {
	return Bundle{cookies: cookies}
}

// Empty reports whether the bundle carries no usable credentials.
func (b Bundle) Empty() bool {
	return len(b.cookies) == 0
}

// CookieHeader renders the bundle as a Cookie header value.
func (b Bundle) CookieHeader() string {
	parts := make([]string, 0, len(b.cookies))
	for _, c := range b.cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
