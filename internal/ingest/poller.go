package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Poller runs the pipeline on a fixed interval until its context is
// cancelled. An errored batch is logged and the next tick proceeds.
type Poller struct {
	pipeline *Pipeline
	interval time.Duration
	log      zerolog.Logger
}

func NewPoller(pipeline *Pipeline, interval time.Duration, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Poller{
		pipeline: pipeline,
		interval: interval,
		log:      log.With().Str("component", "ingest-poller").Logger(),
	}
}

// Run blocks until ctx is cancelled. The first batch runs immediately.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info().Dur("interval", p.interval).Msg("poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.pipeline.Run(ctx); err != nil {
			p.log.Error().Err(err).Msg("batch failed")
		}
		select {
		case <-ctx.Done():
			p.log.Info().Msg("poller stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
