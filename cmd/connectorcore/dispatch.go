package main

import (
	"github.com/Jorineg/TeamworkMissiveConnector/internal/dispatcher"
)

func (a *app) dispatcher() *dispatcher.Dispatcher {
	return &dispatcher.Dispatcher{
		Queue:       a.queue,
		Sink:        a.sinkStore,
		Handlers:    a.handlers,
		MaxAttempts: a.cfg.MaxQueueAttempts,
		RetryDelay:  a.cfg.SpoolRetry,
		Pool:        a.pool,
		Logger:      a.logger,
		Meter:       a.meter,
	}
}
