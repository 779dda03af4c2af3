package notify

import (
	"fmt"
	"time"

	"github.com/transitlk/tracking/internal/config"
)

// NewMarkerStore creates the configured marker store.
func NewMarkerStore(cfg config.NotifyConfig, cooldown time.Duration) (MarkerStore, error) {
	switch cfg.MarkerStore {
	case "", "memory":
		return NewMemoryMarkers(cooldown), nil
	case "redis":
		return NewRedisMarkers(cfg.RedisURL, cooldown)
	default:
		return nil, fmt.Errorf("unknown marker store: %s", cfg.MarkerStore)
	}
}
