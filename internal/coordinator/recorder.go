package coordinator

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/shmel1k/yblb/internal/balancer"
	"github.com/shmel1k/yblb/internal/cluster"
	"github.com/shmel1k/yblb/internal/hook"
	"github.com/shmel1k/yblb/internal/storage"
)

// recorder persists what a router observes and runs the incident hooks.
type recorder struct {
	db     storage.Storage
	hooker *hook.Hooker
	logger zerolog.Logger
}

func (r *recorder) SaveSnapshot(ctx context.Context, clusterName string, snapshot cluster.Snapshot) error {
	return r.db.SaveSnapshot(ctx, clusterName, snapshot)
}

func (r *recorder) SaveIncident(ctx context.Context, incident balancer.Incident) error {
	if r.hooker.HasHooks(hook.HookNoSuitableHost) {
		// Hooks must not delay the caller which is waiting for the error.
		go func() {
			err := r.hooker.ExecuteProcesses(hook.HookNoSuitableHost, &incident, false)
			if err != nil {
				r.logger.Err(err).Str("incident_id", incident.ID).Msg("Failed to run the incident hooks")
			}
		}()
	}

	return r.db.SaveIncident(ctx, incident)
}
