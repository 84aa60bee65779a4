package users

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-userquery/pkg/fetch"
	"github.com/illmade-knight/go-userquery/pkg/querykey"
)

const apiPrefix = "/api/v1/users"

// maxErrorBody caps how much of an error response ends up in the error message.
const maxErrorBody = 512

// HTTPConfig configures the directory API client.
type HTTPConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:"http://localhost:8080"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// HTTPSource reads raw payloads from the directory's REST API.
type HTTPSource struct {
	client  *http.Client
	baseURL *url.URL
	logger  zerolog.Logger
}

// NewHTTPSource creates a source for the API at cfg.BaseURL. A nil client gets
// a default one with cfg.Timeout.
func NewHTTPSource(cfg *HTTPConfig, client *http.Client, logger zerolog.Logger) (*HTTPSource, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", cfg.BaseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	logger.Info().Str("base_url", u.String()).Msg("HTTPSource initialized.")
	return &HTTPSource{
		client:  client,
		baseURL: u,
		logger:  logger.With().Str("component", "HTTPSource").Logger(),
	}, nil
}

// Fetch issues the GET request for d and returns the response body.
func (s *HTTPSource) Fetch(ctx context.Context, d querykey.Descriptor) (json.RawMessage, error) {
	endpoint := d.Endpoint()
	target, err := s.resolve(d)
	if err != nil {
		return nil, fetch.NewError(fetch.KindValidation, endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fetch.NewError(fetch.KindValidation, endpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn().Err(err).Str("url", target).Msg("Request failed.")
		return nil, fetch.NewError(fetch.KindNetwork, endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fetch.Errorf(fetch.KindNotFound, endpoint, "GET %s: %s", target, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		s.logger.Warn().Int("status", resp.StatusCode).Str("url", target).Msg("Unexpected response status.")
		return nil, fetch.Errorf(fetch.KindServer, endpoint, "GET %s: %s: %s", target, resp.Status, string(b))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fetch.NewError(fetch.KindNetwork, endpoint, fmt.Errorf("reading body: %w", err))
	}
	if !json.Valid(body) {
		return nil, fetch.Errorf(fetch.KindValidation, endpoint, "GET %s: response is not JSON", target)
	}

	s.logger.Debug().Str("url", target).Int("bytes", len(body)).Msg("Fetched payload.")
	return body, nil
}

// Close releases idle connections.
func (s *HTTPSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *HTTPSource) resolve(d querykey.Descriptor) (string, error) {
	u := *s.baseURL
	switch d.Endpoint() {
	case EndpointList:
		u.Path = path.Join(u.Path, apiPrefix)
	case EndpointDetail:
		id, ok := d.PathParam("id")
		if !ok {
			return "", fmt.Errorf("missing path parameter id")
		}
		u.Path = path.Join(u.Path, apiPrefix, fmt.Sprint(id))
	default:
		return "", fmt.Errorf("unknown endpoint %q", d.Endpoint())
	}

	if params := d.QueryParams(); len(params) > 0 {
		q := u.Query()
		for _, p := range params {
			q.Set(p.Name, fmt.Sprint(p.Value))
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
