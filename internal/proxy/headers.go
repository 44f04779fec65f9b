package proxy

import (
	"net/http"
	"strings"
)

var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

func isHopByHopHeader(name string) bool {
	return hopByHopHeaders[strings.ToLower(name)]
}

// upstreamHeaders copies the client's headers minus hop-by-hop headers and
// its credentials. Accept-Encoding is left to the transport so bodies are
// always decoded before they are cached.
func upstreamHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for key, values := range in {
		if isHopByHopHeader(key) {
			continue
		}
		switch strings.ToLower(key) {
		case "authorization", "accept-encoding":
			continue
		}
		out[key] = append([]string(nil), values...)
	}
	return out
}

// responseHeaders copies upstream response headers minus hop-by-hop ones.
func responseHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for key, values := range in {
		if isHopByHopHeader(key) {
			continue
		}
		out[key] = append([]string(nil), values...)
	}
	return out
}
