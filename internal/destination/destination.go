// Package destination couples the orchestrator to its backend execution
// services. Each destination kind implements the Adapter capability pair;
// adding a new destination means adding a new Adapter value, the scheduler
// does not change.
package destination

import (
	"context"
	"net/http"
	"time"

	"github.com/rvhonorato/orchestrator/internal/config"
	"github.com/rvhonorato/orchestrator/internal/db"
)

// Adapter is the per-destination capability: upload a job's artifact and
// later fetch its output. Upload returns the destination's local identifier
// for the job, which Download uses to address the result.
type Adapter interface {
	Upload(ctx context.Context, job *db.Job, uploadURL string) (string, error)
	Download(ctx context.Context, job *db.Job, downloadURL string) error
}

// httpClient is shared by both adapters. No total timeout: output downloads
// may legitimately take long; callers bound requests via context.
var httpClient = &http.Client{
	Transport: &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
	},
}

// ForService returns the Adapter selected by the service configuration.
// Unrecognized kinds fall back to the legacy jobd adapter, matching the
// config validation which only admits the two known names.
func ForService(svc config.Service) Adapter {
	if svc.Adapter == config.AdapterClient {
		return Client{}
	}
	return Jobd{}
}
