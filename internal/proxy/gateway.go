// Package proxy forwards client requests to the homeserver with the
// appservice's credentials and caches idempotent responses.
package proxy

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"

	"github.com/commune-sh/public-appservice/internal/cache"
)

const (
	DefaultTimeout    = 25 * time.Second
	cacheWriteTimeout = 5 * time.Second
)

var (
	// ErrBadGateway is returned when the homeserver cannot be reached or
	// its response cannot be read.
	ErrBadGateway = errors.New("upstream request failed")
	// ErrRequestBody is returned when the client's body cannot be read.
	ErrRequestBody = errors.New("failed to read request body")
)

// Request is a client request after room resolution. Path is the escaped
// request path.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     io.Reader
}

// Response is what is relayed to the client.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Cached bool
}

type Options struct {
	Homeserver  string
	AccessToken string
	Store       cache.Store
	Policy      Policy
	Client      *http.Client
	Timeout     time.Duration
	Logger      zerolog.Logger
}

// Gateway forwards requests to one homeserver.
type Gateway struct {
	homeserver string
	token      string
	store      cache.Store
	policy     Policy
	client     *http.Client
	timeout    time.Duration
	log        zerolog.Logger

	writes sync.WaitGroup
}

func NewGateway(o Options) *Gateway {
	if o.Client == nil {
		o.Client = &http.Client{}
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return &Gateway{
		homeserver: strings.TrimRight(o.Homeserver, "/"),
		token:      o.AccessToken,
		store:      o.Store,
		policy:     o.Policy,
		client:     o.Client,
		timeout:    o.Timeout,
		log:        o.Logger.With().Str("component", "proxy").Logger(),
	}
}

// TargetURL is the upstream URL for an escaped path and raw query.
func (g *Gateway) TargetURL(path, rawQuery string) string {
	if rawQuery == "" {
		return g.homeserver + path
	}
	return g.homeserver + path + "?" + rawQuery
}

// Forward serves req from the cache when allowed, and otherwise relays it
// upstream. Successful cacheable responses are stored in the background.
func (g *Gateway) Forward(ctx context.Context, req *Request) (*Response, error) {
	log := zerolog.Ctx(ctx)
	if log.GetLevel() == zerolog.Disabled {
		log = &g.log
	}

	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRequestBody, err)
		}
		body = b
	}

	kind := Classify(req.Method, req.Path)
	target := g.TargetURL(req.Path, req.RawQuery)
	cacheable := g.policy.Cacheable(req.Method, kind)

	var key string
	if cacheable {
		key = cacheKey(kind, target, body)
		cached, ok, err := g.store.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Cache read failed, forwarding")
		} else if ok {
			log.Debug().Str("target", target).Int("bytes", len(cached)).Msg("Serving cached response")
			return &Response{
				Status: http.StatusOK,
				Header: http.Header{"Content-Type": []string{"application/json"}},
				Body:   cached,
				Cached: true,
			}, nil
		}
	}

	resp, err := g.do(ctx, req.Method, target, req.Header, body)
	if err != nil {
		log.Warn().Err(err).Str("target", target).Msg("Upstream request failed")
		return nil, err
	}

	if cacheable && resp.Status == http.StatusOK {
		g.storeAsync(key, resp.Body, g.policy.ttl(kind))
	}
	return resp, nil
}

func (g *Gateway) do(ctx context.Context, method, target string, header http.Header, body []byte) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}
	upstreamReq, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadGateway, err)
	}
	upstreamReq.Header = upstreamHeaders(header)
	upstreamReq.Header.Set("Authorization", "Bearer "+g.token)

	resp, err := g.client.Do(upstreamReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadGateway, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrBadGateway, err)
	}
	return &Response{
		Status: resp.StatusCode,
		Header: responseHeaders(resp.Header),
		Body:   respBody,
	}, nil
}

// storeAsync writes a response to the cache without holding up the
// client. Failures are only logged.
func (g *Gateway) storeAsync(key string, body []byte, ttl time.Duration) {
	g.writes.Add(1)
	go func() {
		defer g.writes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
		defer cancel()
		if err := g.store.Set(ctx, key, body, ttl); err != nil {
			g.log.Warn().Err(err).Str("key", key).Msg("Failed to cache proxied response")
			return
		}
		g.log.Debug().Str("key", key).Int("bytes", len(body)).Msg("Cached proxied response")
	}()
}

// Wait blocks until pending cache writes are done.
func (g *Gateway) Wait() { g.writes.Wait() }

func cacheKey(kind Kind, target string, body []byte) string {
	if kind == KindSearch {
		sum := blake3.Sum256(body)
		return cache.ProxySearchKey(target, hex.EncodeToString(sum[:]))
	}
	return cache.ProxyRequestKey(target)
}
