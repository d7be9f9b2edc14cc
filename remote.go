package fyk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thomah6/fetchyourkeys-go/api"
)

const (
	headerAPIKey = "x-fyk-key"
	userAgent    = "fetchyourkeys-go/1.0"

	// maxResponseBytes caps how much of a response body is read. The keys
	// list for one account is small; anything larger is not our service.
	maxResponseBytes = 4 << 20
)

// remoteClient issues the authenticated GET against the keys endpoint and
// maps its outcomes onto the client's error taxonomy.
type remoteClient struct {
	baseURL string
	apiKey  string
	masked  string
	http    *http.Client
	log     zerolog.Logger
}

func newRemoteClient(cfg Config, masked string, log zerolog.Logger) *remoteClient {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = newHTTPClient(cfg.RequestTimeout)
	}
	return &remoteClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		masked:  masked,
		http:    hc,
		log:     log.With().Str("component", "http").Logger(),
	}
}

// newHTTPClient builds the default transport. Connection reuse matters
// little for a client that fetches once plus occasional refreshes, but
// the dial and TLS timeouts keep a dead network from eating the whole
// request budget.
func newHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr, Timeout: timeout}
}

// fetch retrieves the full key list. Any failure is returned as *Error:
// 401/403 map to the terminal auth codes, everything else to
// NETWORK_ERROR. The transport flag distinguishes "no response at all"
// from "response received but unusable".
func (r *remoteClient) fetch(ctx context.Context) ([]api.Key, *Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL, nil)
	if err != nil {
		return nil, &Error{
			Code:       CodeNetworkError,
			Message:    fmt.Sprintf("invalid endpoint URL %q", r.baseURL),
			Suggestion: "check Config.BaseURL",
			cause:      err,
			transport:  true,
		}
	}
	req.Header.Set(headerAPIKey, r.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := r.http.Do(req)
	if err != nil {
		r.log.Debug().Err(err).Str("api_key", r.masked).Msg("request failed")
		return nil, &Error{
			Code:       CodeNetworkError,
			Message:    "could not reach the FetchYourKeys service",
			Suggestion: "check your network connection; cached keys are served when available",
			cause:      err,
			transport:  true,
		}
	}
	defer resp.Body.Close()

	if e := r.statusError(resp.StatusCode); e != nil {
		return nil, e
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{
			Code:       CodeNetworkError,
			Message:    "failed reading the service response",
			Suggestion: "retry with Refresh",
			cause:      err,
			transport:  true,
		}
	}

	var parsed api.KeysResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &Error{
			Code:       CodeNetworkError,
			Message:    "the service returned a malformed response",
			Suggestion: "retry with Refresh; report this if it persists",
			cause:      err,
		}
	}
	if !parsed.OK() {
		msg := parsed.Message
		if msg == "" {
			msg = "the service reported a failure"
		}
		return nil, &Error{
			Code:       CodeNetworkError,
			Message:    msg,
			Suggestion: "retry with Refresh",
		}
	}

	r.log.Debug().
		Int("keys", len(parsed.Data)).
		Dur("elapsed", time.Since(start)).
		Msg("keys fetched")
	return parsed.Data, nil
}

// statusError maps a non-2xx status to a typed error, nil for success.
func (r *remoteClient) statusError(status int) *Error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return &Error{
			Code:       CodeUnauthorized,
			Message:    fmt.Sprintf("the service rejected API key %s", r.masked),
			Suggestion: "verify the key in your FetchYourKeys dashboard and construct a new client",
			Details:    map[string]any{"status": status},
		}
	case status == http.StatusForbidden:
		return &Error{
			Code:       CodeForbidden,
			Message:    fmt.Sprintf("API key %s is not allowed to read keys", r.masked),
			Suggestion: "check the key's permissions, then construct a new client",
			Details:    map[string]any{"status": status},
		}
	case status == http.StatusNotFound:
		return &Error{
			Code:       CodeNetworkError,
			Message:    "the keys endpoint was not found",
			Suggestion: "check Config.BaseURL",
			Details:    map[string]any{"status": status},
		}
	case status == http.StatusTooManyRequests:
		return &Error{
			Code:       CodeNetworkError,
			Message:    "the service is rate limiting this key",
			Suggestion: "slow down Refresh calls and retry shortly",
			Details:    map[string]any{"status": status},
		}
	default:
		return &Error{
			Code:       CodeNetworkError,
			Message:    fmt.Sprintf("the service answered with HTTP %d", status),
			Suggestion: "retry with Refresh",
			Details:    map[string]any{"status": status},
		}
	}
}
