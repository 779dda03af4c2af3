package schedules

import (
	"fmt"
	"strings"

	"github.com/transitlk/tracking/internal/config"
	"github.com/transitlk/tracking/internal/pkg/errors"
)

// NewSource creates a schedule data source based on the configuration.
func NewSource(cfg config.UpstreamConfig) (Source, error) {
	switch strings.ToLower(cfg.Kind) {
	case "http", "":
		return NewHTTPSource(HTTPSourceConfig{
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})

	case "gtfsrt":
		return NewGTFSRTSource(GTFSRTSourceConfig{
			FeedURL: cfg.FeedURL,
			Timeout: cfg.Timeout,
		})

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown upstream kind: %s", cfg.Kind))
	}
}
