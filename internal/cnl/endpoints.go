package cnl

import (
	"net/url"
	"strings"
)

// DefaultPort is the well-known Click'N'Load port desktop download managers listen on.
const DefaultPort = 9666

// LoopbackHosts are the host:port pairs a CNL page may target.
var LoopbackHosts = []string{
	"localhost:9666",
	"127.0.0.1:9666",
}

// Endpoint classifies a request path on the CNL service.
type Endpoint string

const (
	EndpointCapabilityCheck Endpoint = "JD_CHECK"
	EndpointCrossDomain     Endpoint = "CROSSDOMAIN"
	EndpointAddCrypted      Endpoint = "ADD_CRYPTED"
	EndpointAdd             Endpoint = "ADD"
	EndpointUnknown         Endpoint = "UNKNOWN"
)

const (
	pathCapabilityCheck = "/jdcheck.js"
	pathCrossDomain     = "/crossdomain.xml"
	pathAddCrypted      = "/flash/addcrypted2"
	pathAdd             = "/flash/add"
)

// IsSubmission reports whether the endpoint carries links.
func (e Endpoint) IsSubmission() bool {
	return e == EndpointAddCrypted || e == EndpointAdd
}

// IsCNLURL reports whether rawURL targets one of the loopback CNL hosts.
func IsCNLURL(rawURL string) bool {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host := strings.ToLower(u.Host)
		for _, h := range LoopbackHosts {
			if host == h {
				return true
			}
		}
		return false
	}
	for _, h := range LoopbackHosts {
		if strings.Contains(rawURL, h) {
			return true
		}
	}
	return false
}

// Classify maps a CNL URL to its endpoint. addcrypted2 is checked before add
// since the latter is a prefix of the former.
func Classify(rawURL string) Endpoint {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	}
	switch {
	case strings.Contains(path, pathCapabilityCheck):
		return EndpointCapabilityCheck
	case strings.Contains(path, pathCrossDomain):
		return EndpointCrossDomain
	case strings.Contains(path, pathAddCrypted):
		return EndpointAddCrypted
	case strings.Contains(path, pathAdd):
		return EndpointAdd
	default:
		return EndpointUnknown
	}
}
