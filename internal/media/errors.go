package media

import "strings"

// ErrorCategory classifies runtime graph errors for telemetry.
type ErrorCategory int

const (
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown ErrorCategory = iota
	// ErrCategoryNetwork indicates network-related failures (connection, timeout, DNS)
	ErrCategoryNetwork
	// ErrCategoryCodec indicates codec/stream failures (decode errors, format issues)
	ErrCategoryCodec
	// ErrCategoryAuth indicates authentication/authorization failures
	ErrCategoryAuth
	// ErrCategoryStorage indicates the recording sink could not write its file
	ErrCategoryStorage
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryAuth:
		return "auth"
	case ErrCategoryStorage:
		return "storage"
	default:
		return "unknown"
	}
}

var (
	authKeywords = []string{
		"unauthorized", "401", "403", "forbidden", "authentication", "credentials",
	}
	storageKeywords = []string{
		"could not open file", "no space left", "permission denied", "write error", "filesink",
	}
	codecKeywords = []string{
		"codec", "decode", "encode", "format", "negotiation", "caps", "h264", "h265",
		"not negotiated", "not-negotiated", "no decoder", "missing plugin", "demux",
	}
	networkKeywords = []string{
		"connection", "timeout", "unreachable", "network", "dns", "resolve", "socket",
		"tcp", "udp", "rtsp", "could not connect", "failed to connect",
	}
)

// ClassifyError categorizes a framework error from its message and debug string.
//
// Matching is keyword based because the framework does not expose stable error
// domains. Auth wins over storage, storage over codec, codec over network.
func ClassifyError(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)

	switch {
	case containsAny(combined, authKeywords):
		return ErrCategoryAuth
	case containsAny(combined, storageKeywords):
		return ErrCategoryStorage
	case containsAny(combined, codecKeywords):
		return ErrCategoryCodec
	case containsAny(combined, networkKeywords):
		return ErrCategoryNetwork
	}
	return ErrCategoryUnknown
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
