// Package endpoint parses stream URIs into the transport the receiver builds for.
package endpoint

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Transport selects the graph shape and whether a reachability probe is needed.
type Transport int

const (
	// Session is a negotiated session (RTSP). It is the default for unknown schemes.
	Session Transport = iota
	// Datagram is raw RTP over UDP. Nothing to probe.
	Datagram
	// StreamSocket is MPEG-TS over a plain TCP connection.
	StreamSocket
)

func (t Transport) String() string {
	switch t {
	case Datagram:
		return "datagram"
	case StreamSocket:
		return "stream-socket"
	default:
		return "session"
	}
}

// NeedsProbe reports whether the transport is connection oriented.
func (t Transport) NeedsProbe() bool {
	return t == Session || t == StreamSocket
}

// DefaultRTSPPort is used when an rtsp URI carries no port.
const DefaultRTSPPort = 554

var (
	// ErrEmptyURI is returned for an empty URI.
	ErrEmptyURI = errors.New("endpoint: empty uri")
	// ErrNoPort is returned when a udp or tcp URI carries no port.
	ErrNoPort = errors.New("endpoint: port required")
)

// Endpoint is the immutable description a graph is built from.
type Endpoint struct {
	Transport Transport
	URI       string
	Host      string
	Port      int
	// Latency is the expected end-to-end latency. The datagram jitter buffer is
	// sized to twice this value.
	Latency time.Duration
}

// Address returns host:port for dialing.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s %s", e.Transport, e.URI)
}

// Parse dispatches on the URI scheme: udp is Datagram, tcp is StreamSocket,
// rtsp and anything else is Session.
func Parse(uri string, latency time.Duration) (Endpoint, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return Endpoint{}, ErrEmptyURI
	}

	u, err := url.Parse(uri)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint: parse %q: %w", uri, err)
	}

	ep := Endpoint{URI: uri, Host: u.Hostname(), Latency: latency}
	switch strings.ToLower(u.Scheme) {
	case "udp":
		ep.Transport = Datagram
	case "tcp":
		ep.Transport = StreamSocket
	default:
		ep.Transport = Session
	}

	if p := u.Port(); p != "" {
		ep.Port, err = strconv.Atoi(p)
		if err != nil || ep.Port <= 0 || ep.Port > 65535 {
			return Endpoint{}, fmt.Errorf("endpoint: invalid port %q in %q", p, uri)
		}
	} else if ep.Transport == Session {
		ep.Port = DefaultRTSPPort
	} else {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrNoPort, uri)
	}

	if ep.Host == "" && ep.Transport != Datagram {
		return Endpoint{}, fmt.Errorf("endpoint: no host in %q", uri)
	}
	return ep, nil
}

// ForPort returns the datagram endpoint a node without a URI streams to.
func ForPort(port int, latency time.Duration) Endpoint {
	uri := "udp://0.0.0.0:" + strconv.Itoa(port)
	return Endpoint{
		Transport: Datagram,
		URI:       uri,
		Host:      "0.0.0.0",
		Port:      port,
		Latency:   latency,
	}
}
