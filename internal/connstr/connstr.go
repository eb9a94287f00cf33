// Package connstr parses MongoDB-style connection strings into a structured
// descriptor instead of ad-hoc string splitting at call sites.
package connstr

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	DefaultHost = "localhost"
	DefaultPort = "27017"
)

// Descriptor is the parsed form of a server connection string.
type Descriptor struct {
	Username string
	Password string
	Host     string
	Port     string

	TLS               bool
	AllowInvalidCerts bool

	// Raw is the original string, passed verbatim to the shell.
	Raw string
}

// URI renders the descriptor as a canonical mongodb:// URI for the driver.
func (d *Descriptor) URI() string {
	if strings.HasPrefix(d.Raw, "mongodb://") {
		return d.Raw
	}
	auth := ""
	if d.Username != "" {
		auth = url.UserPassword(d.Username, d.Password).String() + "@"
	}
	return fmt.Sprintf("mongodb://%s%s:%s/", auth, d.Host, d.Port)
}

// Parse accepts mongodb://[user:pass@]host[:port][/db][?options] or a bare
// host[:port]. Malformed input is an error, not a silent default.
func Parse(raw string) (*Descriptor, error) {
	d := &Descriptor{
		Host: DefaultHost,
		Port: DefaultPort,
		Raw:  raw,
	}
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("connection string is empty")
	}

	rest := raw
	if strings.HasPrefix(raw, "mongodb://") {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse connection string: %w", err)
		}
		if u.User != nil {
			d.Username = u.User.Username()
			d.Password, _ = u.User.Password()
		}
		q := u.Query()
		d.TLS = q.Get("tls") == "true" || q.Get("ssl") == "true"
		d.AllowInvalidCerts = q.Get("tlsAllowInvalidCertificates") == "true"
		rest = u.Host
	}

	host, port, found := strings.Cut(rest, ":")
	if host == "" {
		return nil, fmt.Errorf("connection string %q has no host", raw)
	}
	d.Host = host
	if found {
		if port == "" {
			return nil, fmt.Errorf("connection string %q has an empty port", raw)
		}
		d.Port = port
	}

	return d, nil
}
