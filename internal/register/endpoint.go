package register

import (
	"fmt"
	"net/url"
)

// endpointFromURL splits a callback URL into the endpoint shape the core
// stores (host, port and path as separate fields).
func endpointFromURL(rawURL string) (endpoint, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return endpoint{}, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return endpoint{}, fmt.Errorf("scheme must be http or https")
	}
	if u.Hostname() == "" {
		return endpoint{}, fmt.Errorf("host is required")
	}

	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	path := u.Path
	if path == "" {
		path = "/events"
	}

	return endpoint{
		Name:  "Event notifications",
		Host:  u.Hostname(),
		Port:  port,
		Path:  path,
		Type:  "http",
		Https: u.Scheme == "https",
	}, nil
}
