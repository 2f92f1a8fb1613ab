package ura

import (
	"context"
	"errors"
	"log"
	"time"

	"condoscan/internal/ingest"
)

// Sink accepts a pulled record set for staging. Satisfied by
// *ingest.Pipeline.
type Sink interface {
	RunRecords(ctx context.Context, dataset, source string, records []ingest.Record) (*ingest.RunContext, error)
}

// Poller pulls the URA transaction service on a fixed interval and feeds
// the result through the ingest pipeline. Row-hash dedup makes the
// repeated full pulls cheap: already-promoted transactions skip on
// collision.
type Poller struct {
	client   *Client
	sink     Sink
	dataset  string
	interval time.Duration
}

func NewPoller(client *Client, sink Sink, dataset string, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Poller{client: client, sink: sink, dataset: dataset, interval: interval}
}

// Run polls until the context is cancelled. The first pull happens
// immediately.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.pullOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) pullOnce(ctx context.Context) {
	records, err := p.client.FetchAll(ctx)
	if err != nil {
		log.Printf("[ura] pull failed: %v", err)
		return
	}
	if len(records) == 0 {
		log.Printf("[ura] pull returned no transactions")
		return
	}

	rc, err := p.sink.RunRecords(ctx, p.dataset, "api", records)
	if err != nil {
		var rip *ingest.RunInProgressError
		if errors.As(err, &rip) {
			log.Printf("[ura] skipping pull, ingest already running for %s", p.dataset)
			return
		}
		log.Printf("[ura] ingest failed: %v", err)
		return
	}
	log.Printf("[ura] %s", rc.Summary())
}
