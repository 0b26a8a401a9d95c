package validation

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// SourceURLValidator checks provider base URLs and URL-shaped provider ids
// before they are requested.
type SourceURLValidator struct {
	// AllowLocalhost determines if localhost URLs are permitted
	AllowLocalhost bool
	// AllowPrivateIPs determines if private IP addresses are permitted
	AllowPrivateIPs bool
	MaxLength       int
}

// NewSourceURLValidator creates a validator with secure defaults
func NewSourceURLValidator() *SourceURLValidator {
	return &SourceURLValidator{
		MaxLength: 2048,
	}
}

// NewPermissiveSourceURLValidator allows local development servers.
func NewPermissiveSourceURLValidator() *SourceURLValidator {
	return &SourceURLValidator{
		AllowLocalhost:  true,
		AllowPrivateIPs: true,
		MaxLength:       2048,
	}
}

// ValidateAndNormalize validates a URL and returns its normalized form
// (https default scheme, lowercase host, no fragment).
func (v *SourceURLValidator) ValidateAndNormalize(input string) (string, error) {
	u, err := v.parse(input)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (v *SourceURLValidator) parse(input string) (*url.URL, error) {
	input = strings.TrimSpace(input)

	if input == "" {
		return nil, fmt.Errorf("URL cannot be empty")
	}
	if len(input) > v.MaxLength {
		return nil, fmt.Errorf("URL too long (max %d characters)", v.MaxLength)
	}
	if strings.ContainsAny(input, "<>\"'`") {
		return nil, fmt.Errorf("URL contains invalid characters")
	}

	if !strings.HasPrefix(input, "http://") && !strings.HasPrefix(input, "https://") {
		input = "https://" + input
	}

	u, err := url.Parse(input)
	if err != nil {
		return nil, fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("URL must have a valid hostname")
	}
	if err := v.validateHost(u.Host); err != nil {
		return nil, err
	}
	if strings.Contains(u.Path, "..") {
		return nil, fmt.Errorf("directory traversal patterns not allowed in URL path")
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u, nil
}

func (v *SourceURLValidator) validateHost(host string) error {
	hostname := host
	if strings.Contains(host, ":") {
		var err error
		hostname, _, err = net.SplitHostPort(host)
		if err != nil {
			return fmt.Errorf("invalid host format: %w", err)
		}
	}

	if !v.AllowLocalhost && isLocalhost(hostname) {
		return fmt.Errorf("localhost URLs are not permitted")
	}
	if !v.AllowPrivateIPs {
		if ip := net.ParseIP(hostname); ip != nil && (ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast()) {
			return fmt.Errorf("private IP addresses are not permitted")
		}
	}
	return nil
}

func isLocalhost(hostname string) bool {
	return hostname == "localhost" ||
		hostname == "127.0.0.1" ||
		hostname == "::1" ||
		strings.HasSuffix(hostname, ".localhost")
}

// CanonicalID turns either a bare slug or a full URL into the canonical URL
// form a site provider uses as its id. Bare slugs are joined onto
// base + seriesPath; URLs must live on base's host. Canonical ids always end
// with a slash.
func (v *SourceURLValidator) CanonicalID(raw, base, seriesPath string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("id cannot be empty")
	}

	baseURL, err := v.parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	if !strings.Contains(raw, "://") && !strings.HasPrefix(raw, baseURL.Host) {
		slug := strings.Trim(raw, "/")
		if slug == "" || strings.Contains(slug, "..") {
			return "", fmt.Errorf("invalid slug %q", raw)
		}
		prefix := "/" + strings.Trim(seriesPath, "/")
		if prefix == "/" {
			prefix = ""
		}
		if strings.HasPrefix("/"+slug, prefix+"/") && prefix != "" {
			prefix = ""
		}
		u := *baseURL
		u.Path = strings.TrimSuffix(baseURL.Path, "/") + prefix + "/" + slug + "/"
		u.RawQuery = ""
		return u.String(), nil
	}

	u, err := v.parse(raw)
	if err != nil {
		return "", err
	}
	if u.Hostname() != baseURL.Hostname() {
		return "", fmt.Errorf("id %q does not belong to %s", raw, baseURL.Host)
	}
	u.Scheme = baseURL.Scheme
	u.RawQuery = ""
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String(), nil
}

// Slug returns the last path segment of a URL-shaped id.
func Slug(id string) string {
	trimmed := strings.TrimRight(id, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
