package main

import (
	"time"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/poller"
	"github.com/Jorineg/TeamworkMissiveConnector/internal/queue"
)

// sourcePollers builds one SourcePoller per configured source, shared by
// the serve (ticking) and backfill (one-shot Cycle) subcommands.
func (a *app) sourcePollers() []*poller.SourcePoller {
	var out []*poller.SourcePoller
	if a.teamwork != nil {
		out = append(out, &poller.SourcePoller{
			Source:       queue.SourceT,
			List:         poller.TeamworkList(a.teamwork, a.cfg.IncludeCompletedTasksOnInitialSync),
			Queue:        a.queue,
			Checkpoints:  a.checkpoints,
			Interval:     a.cfg.PeriodicBackfillInterval,
			Overlap:      a.cfg.BackfillOverlap,
			InitialSince: processAfterOrZero(a.cfg.TProcessAfter),
			Logger:       a.logger,
			Meter:        a.meter,
		})
	}
	if a.missive != nil {
		out = append(out, &poller.SourcePoller{
			Source:       queue.SourceM,
			List:         poller.MissiveList(a.missive),
			Queue:        a.queue,
			Checkpoints:  a.checkpoints,
			Interval:     a.cfg.PeriodicBackfillInterval,
			Overlap:      a.cfg.BackfillOverlap,
			InitialSince: processAfterOrZero(a.cfg.MProcessAfter),
			Logger:       a.logger,
			Meter:        a.meter,
		})
	}
	if a.docs != nil {
		out = append(out, &poller.SourcePoller{
			Source:      queue.SourceC,
			List:        poller.DocsList(a.docs),
			Queue:       a.queue,
			Checkpoints: a.checkpoints,
			Interval:    a.cfg.PeriodicBackfillInterval,
			Overlap:     a.cfg.BackfillOverlap,
			Logger:      a.logger,
			Meter:       a.meter,
		})
	}
	return out
}

func processAfterOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
