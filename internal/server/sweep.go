package server

import (
	"context"

	"github.com/robfig/cron/v3"

	"regline/internal/engine"
	"regline/internal/repo"
)

// sweepActor marks history and audit rows written by the sweep itself.
const sweepActor = "system:sweep"

// StartSweep schedules the compensating task re-evaluation. A stage change
// whose follow-up evaluation failed leaves tasks stale until the next
// sweep pass reconciles every system. Returns nil when no schedule is
// configured.
func StartSweep(e engine.Engine) (*cron.Cron, error) {
	if e.Config == nil || e.Config.Sweep.Schedule == "" {
		return nil, nil
	}
	c := cron.New()
	_, err := c.AddFunc(e.Config.Sweep.Schedule, func() {
		sweepOnce(e)
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

func sweepOnce(e engine.Engine) {
	ctx := context.Background()
	systems, err := e.Repo.ListSystems(ctx, repo.SystemFilters{})
	if err != nil {
		e.Log.Error("sweep: list systems failed", "err", err)
		return
	}
	for _, sys := range systems {
		if err := e.ReevaluateTasks(ctx, sweepActor, sys.ID); err != nil {
			e.Log.Error("sweep: re-evaluation failed", "system_id", sys.ID, "err", err)
		}
	}
}
