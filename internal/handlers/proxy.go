package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/commune-sh/public-appservice/internal/proxy"
)

// ProxyHandler relays client API requests through the gateway.
type ProxyHandler struct {
	gw *proxy.Gateway
}

func NewProxyHandler(gw *proxy.Gateway) *ProxyHandler {
	return &ProxyHandler{gw: gw}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := requestPath(r)
	if target, ok := roomTargetFrom(r.Context()); ok {
		path = target.Path
	}

	resp, err := h.gw.Forward(r.Context(), &proxy.Request{
		Method:   r.Method,
		Path:     path,
		RawQuery: r.URL.RawQuery,
		Header:   r.Header,
		Body:     r.Body,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	for name, values := range resp.Header {
		// CORS is answered by the router, not the homeserver.
		if strings.HasPrefix(strings.ToLower(name), "access-control-") {
			continue
		}
		w.Header()[name] = values
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.Status)
	if _, err := w.Write(resp.Body); err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("Client went away while relaying response")
	}
}
