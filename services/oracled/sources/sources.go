package sources

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"reefchain/native/oracle"
)

// Registry constructs source adapters based on configuration.
type Registry struct {
	HTTPClient *http.Client
}

// NewRegistry builds a registry with sane defaults.
func NewRegistry() *Registry {
	return &Registry{HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

// Build creates an adapter from the supplied source configuration. The state
// store resolves feed identifier mappings and custom prices; the history
// backs TWAP sources.
func (r *Registry) Build(st oracle.Storage, history *oracle.History, typ, endpoint, apiKey string) (oracle.SourceAdapter, error) {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "push":
		return oracle.NewPushFeedAdapter(newPushFeedClient(r.client(), endpoint, apiKey)), nil
	case "pull":
		return oracle.NewPullFeedAdapter(st, newPullFeedClient(r.client(), endpoint, apiKey)), nil
	case "index":
		return oracle.NewIndexFeedAdapter(st, newIndexFeedClient(r.client(), endpoint, apiKey)), nil
	case "twap":
		if history == nil {
			return nil, fmt.Errorf("twap source requires observation history")
		}
		return oracle.NewTWAPAdapter(history), nil
	case "custom":
		return oracle.NewCustomPriceAdapter(st), nil
	default:
		return nil, fmt.Errorf("unknown source type %q", typ)
	}
}

func (r *Registry) client() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}
