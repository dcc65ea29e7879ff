package chromedp_browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

// Cookie is a browser cookie in storage-state form: the layout browser
// automation tools use when they export a logged-in session.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // unix seconds, -1 for session cookies
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

type storageState struct {
	Cookies []Cookie          `json:"cookies"`
	Origins []json.RawMessage `json:"origins"`
}

// LoadCookies reads a storage-state file. Three layouts are accepted:
// {"cookies": [...]}, {"storageState": {"cookies": [...]}} and a bare array.
func LoadCookies(path string) ([]Cookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cookie file: %w", err)
	}
	return ParseCookies(data)
}

func ParseCookies(data []byte) ([]Cookie, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var cookies []Cookie
		if err := json.Unmarshal(data, &cookies); err != nil {
			return nil, fmt.Errorf("invalid cookie file: %w", err)
		}
		return cookies, nil
	}

	var doc struct {
		Cookies      []Cookie `json:"cookies"`
		StorageState *struct {
			Cookies []Cookie `json:"cookies"`
		} `json:"storageState"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid cookie file: %w", err)
	}
	if len(doc.Cookies) == 0 && doc.StorageState != nil {
		return doc.StorageState.Cookies, nil
	}
	return doc.Cookies, nil
}

// SaveCookies writes cookies as a storage-state file readable by
// LoadCookies, replacing the previous file atomically.
func SaveCookies(path string, cookies []Cookie) error {
	if cookies == nil {
		cookies = []Cookie{}
	}
	data, err := json.MarshalIndent(storageState{Cookies: cookies, Origins: []json.RawMessage{}}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create cookie dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write cookie file: %w", err)
	}
	return os.Rename(tmp, path)
}

func sameSiteParam(v string) network.CookieSameSite {
	switch strings.ToLower(v) {
	case "strict":
		return network.CookieSameSiteStrict
	case "lax":
		return network.CookieSameSiteLax
	case "none":
		return network.CookieSameSiteNone
	}
	return ""
}

// cookieParams converts stored cookies for Network.setCookies, dropping
// cookies that have already expired.
func cookieParams(cookies []Cookie, now time.Time) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: sameSiteParam(c.SameSite),
		}
		if p.Path == "" {
			p.Path = "/"
		}
		if c.Expires > 0 {
			exp := time.Unix(0, int64(c.Expires*float64(time.Second)))
			if !exp.After(now) {
				continue
			}
			ts := cdp.TimeSinceEpoch(exp)
			p.Expires = &ts
		}
		params = append(params, p)
	}
	return params
}

func fromNetwork(cookies []*network.Cookie) []Cookie {
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		exp := c.Expires
		if c.Session {
			exp = -1
		}
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  exp,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite.String(),
		})
	}
	return out
}

// HTTPCookies converts stored cookies for a plain HTTP client.
func HTTPCookies(cookies []Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   strings.TrimPrefix(c.Domain, "."),
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, hc)
	}
	return out
}

// Credentials are the login details used to refresh an expired session.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func LoadCredentials(path string) (Credentials, error) {
	var creds Credentials
	data, err := os.ReadFile(path)
	if err != nil {
		return creds, fmt.Errorf("read credentials: %w", err)
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return creds, fmt.Errorf("invalid credentials file: %w", err)
	}
	if creds.Email == "" || creds.Password == "" {
		return creds, errors.New("credentials file needs email and password")
	}
	return creds, nil
}
