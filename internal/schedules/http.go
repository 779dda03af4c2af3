package schedules

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/transitlk/tracking/internal/pkg/errors"
)

// HTTPSource queries the schedule data exchange API over HTTP.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// HTTPSourceConfig configures the HTTP source.
type HTTPSourceConfig struct {
	// BaseURL is the data exchange API root, e.g. "http://localhost:3002".
	BaseURL string

	// Timeout bounds each request end to end.
	Timeout time.Duration
}

// NewHTTPSource creates a schedule source backed by the data exchange API.
func NewHTTPSource(cfg HTTPSourceConfig) (*HTTPSource, error) {
	if cfg.BaseURL == "" {
		return nil, errors.ValidationError("upstream base URL cannot be empty")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &HTTPSource{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// schedulesEnvelope is the upstream response wrapper.
type schedulesEnvelope struct {
	Success bool     `json:"success"`
	Data    []Record `json:"data"`
	Message string   `json:"message,omitempty"`
}

// Schedules queries /api/schedules with the filter parameters.
func (s *HTTPSource) Schedules(ctx context.Context, q Query) ([]Record, error) {
	u, err := url.Parse(s.baseURL + "/api/schedules")
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "invalid upstream URL", err)
	}

	params := u.Query()
	if q.ScheduleID != "" {
		params.Set("scheduleId", q.ScheduleID)
	}
	if q.RouteID != "" {
		params.Set("routeId", q.RouteID)
	}
	if q.ActiveOnly {
		params.Set("status", string(StatusActive))
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "building upstream request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.TimeoutError("schedule fetch")
		}
		return nil, errors.UpstreamError("fetching schedules", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.UpstreamError(fmt.Sprintf("schedule API returned HTTP %d", resp.StatusCode), nil)
	}

	var envelope schedulesEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, errors.UpstreamError("decoding schedule response", err)
	}

	if !envelope.Success {
		return nil, errors.UpstreamError("schedule API reported failure: "+envelope.Message, nil)
	}

	return envelope.Data, nil
}
