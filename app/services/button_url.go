package services

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

var (
	ErrButtonURLEmpty       = errors.New("button url is empty")
	ErrButtonURLScheme      = errors.New("button url scheme must be http or https")
	ErrButtonURLHost        = errors.New("button url host must be localhost, an IPv4 address or a dotted hostname")
	ErrButtonURLUnparseable = errors.New("button url cannot be parsed")
)

// NormalizeButtonURL validates an inline button link and returns it with an explicit scheme.
// Bare hosts get https://.
func NormalizeButtonURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrButtonURLEmpty
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", ErrButtonURLUnparseable
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrButtonURLScheme
	}

	host := u.Hostname()
	switch {
	case host == "":
		return "", ErrButtonURLHost
	case strings.EqualFold(host, "localhost"):
	case isIPv4(host):
	case strings.Contains(host, ".") && !strings.HasPrefix(host, ".") && !strings.HasSuffix(host, "."):
	default:
		return "", ErrButtonURLHost
	}

	return u.String(), nil
}

func isIPv4(host string) bool {
	ip := net.ParseIP(host)
	return ip != nil && ip.To4() != nil && !strings.Contains(host, ":")
}
