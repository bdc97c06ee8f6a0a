package netutil

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/idna"
)

const (
	maxDomainNameSize = 253
)

// NormalizeEndpoint validates an HTTP endpoint URL, returning it with an
// explicit scheme. Endpoints without a scheme default to HTTP. Hosts must be
// an IP address or a valid domain name.
func NormalizeEndpoint(value string, requireSecureConnection bool) (string, error) {
	if !strings.Contains(value, "://") {
		// Add a HTTP scheme by default
		value = "http://" + value
	}

	parsed, err := url.Parse(value)
	if err != nil {
		return "", errors.Wrap(err, "invalid url")
	}

	if requireSecureConnection && parsed.Scheme != "https" {
		return "", errors.New("url scheme must be https")
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("url scheme must be http or https")
	}

	hostname := parsed.Hostname()
	if len(hostname) == 0 {
		return "", errors.New("host component missing")
	}
	if net.ParseIP(hostname) == nil {
		if err := ValidateDomainName(hostname); err != nil {
			return "", errors.Wrap(err, "host is not a valid domain name")
		}
	}

	if port := parsed.Port(); len(port) > 0 {
		if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
			return "", errors.Errorf("invalid port %s", port)
		}
	}

	return parsed.String(), nil
}

// ValidateDomainName validates the string value as a domain name
func ValidateDomainName(value string) error {
	if len(value) == 0 {
		return errors.New("domain name is empty")
	}
	if len(value) > maxDomainNameSize {
		return errors.New("domain name length exceeds limit")
	}
	if _, err := idna.Registration.ToASCII(value); err != nil {
		return errors.Wrap(err, "domain name is invalid")
	}
	return nil
}

// GetAvailablePortForAddress returns a currently unused TCP port on the
// specified address
func GetAvailablePortForAddress(address string) (int, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(address, "0"))
	if err != nil {
		return 0, err
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port, nil
}
