// Package follow drives the live tip-following loop: on each tick, resolve
// the chain tip, scan everything between the last synced block and the tip
// minus a safety depth, then sleep until the next tick. Grounded on the
// teacher's internal/downloader live/backfill mode switch, collapsed into
// the single-purpose poller the ingestion engine's own chunk-cursor
// tracking already supports.
package follow

import (
	"context"
	"fmt"
	"time"

	"github.com/swarmstats/indexer/internal/ingest"
	"github.com/swarmstats/indexer/internal/logger"
	"github.com/swarmstats/indexer/internal/metrics"
	"github.com/swarmstats/indexer/pkg/chain"
	"github.com/swarmstats/indexer/pkg/types"
)

// Options tunes the follow loop.
type Options struct {
	// PollInterval is how long the loop sleeps between ticks.
	PollInterval time.Duration
	// Finality selects how the loop resolves its safe tip. "latest" (the
	// zero value) subtracts SafetyDepth from chain.Client.BlockNumber;
	// "finalized"/"safe" instead ask the node for that tag directly via
	// chain.Client.FinalizedBlockNumber, and SafetyDepth is ignored.
	Finality chain.Finality
	// SafetyDepth is how many blocks behind the resolved tip the loop stays
	// when Finality is "latest", to avoid indexing blocks still subject to
	// a shallow reorg.
	SafetyDepth uint64
	// StartBlock seeds the scan cursor the first time the loop runs, if no
	// chunk has ever been committed (a cold start).
	StartBlock types.BlockNumber
}

func (o Options) applyDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 15 * time.Second
	}
	if !o.Finality.Valid() {
		o.Finality = chain.FinalityLatest
	}
	return o
}

// TickResult reports the outcome of one poll iteration.
type TickResult struct {
	Tip        types.BlockNumber
	ScannedTo  types.BlockNumber
	ScanResult ingest.Result
	Skipped    bool // true when the tip minus safety depth has not advanced
}

// scanner is the subset of *ingest.Engine the follow loop drives, declared
// locally so the loop is testable against a fake without depending on
// ingest's own concrete storage/chain wiring.
type scanner interface {
	Scan(ctx context.Context, from, to types.BlockNumber) (ingest.Result, error)
	LastSyncedBlock(ctx context.Context) (types.BlockNumber, bool, error)
}

// Loop polls the chain tip and drives engine.Scan over the newly available
// range, sleeping PollInterval between ticks until ctx is cancelled.
// Cancellation is checked at the sleep boundary and before resolving the
// tip; an in-flight chunk is always allowed to commit or abort cleanly
// inside engine.Scan itself.
type Loop struct {
	engine scanner
	chain  chain.Client
	log    *logger.Logger
	opts   Options

	onTick func(TickResult)
}

// New builds a follow Loop.
func New(engine *ingest.Engine, c chain.Client, opts Options, log *logger.Logger) *Loop {
	return newLoop(engine, c, opts, log)
}

func newLoop(engine scanner, c chain.Client, opts Options, log *logger.Logger) *Loop {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Loop{
		engine: engine,
		chain:  c,
		opts:   opts.applyDefaults(),
		log:    log.WithComponent("follow"),
	}
}

// OnTick registers a callback invoked after each poll iteration, including
// ticks where no new range was available to scan.
func (l *Loop) OnTick(fn func(TickResult)) { l.onTick = fn }

// Run blocks, polling until ctx is cancelled. Returns ctx.Err() on
// cancellation; any other error is a fatal failure the caller should
// surface rather than retry (engine.Scan already retries transient RPC
// failures internally).
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := l.tick(ctx)
		if err != nil {
			return err
		}
		if l.onTick != nil {
			l.onTick(result)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.opts.PollInterval):
		}
	}
}

func (l *Loop) tick(ctx context.Context) (TickResult, error) {
	tip, safeTip, err := l.resolveTip(ctx)
	if err != nil {
		metrics.FollowTick("error")
		return TickResult{}, err
	}

	from, hasCursor, err := l.engine.LastSyncedBlock(ctx)
	if err != nil {
		metrics.FollowTick("error")
		return TickResult{}, fmt.Errorf("follow: read sync cursor: %w", err)
	}
	if hasCursor {
		from++
	} else {
		from = l.opts.StartBlock
	}

	if from > safeTip {
		l.log.Debugw("follow tick: nothing new to scan", "from", from, "safeTip", safeTip)
		metrics.FollowTick("skipped")
		return TickResult{Tip: tip, ScannedTo: safeTip, Skipped: true}, nil
	}

	scanResult, err := l.engine.Scan(ctx, from, safeTip)
	if err != nil {
		metrics.FollowTick("error")
		return TickResult{}, fmt.Errorf("follow: scan [%s, %s]: %w", from, safeTip, err)
	}

	l.log.Infow("follow tick complete",
		"from", from, "to", safeTip,
		"chunksProcessed", scanResult.ChunksProcessed,
		"eventsWritten", scanResult.EventsWritten,
	)

	metrics.FollowTick("scanned")
	return TickResult{Tip: tip, ScannedTo: safeTip, ScanResult: scanResult}, nil
}

// resolveTip returns the raw chain tip and the safe tip the loop should
// scan up to, per Options.Finality.
func (l *Loop) resolveTip(ctx context.Context) (tip, safeTip types.BlockNumber, err error) {
	if l.opts.Finality != chain.FinalityLatest {
		safeTip, err = l.chain.FinalizedBlockNumber(ctx, l.opts.Finality)
		if err != nil {
			return 0, 0, fmt.Errorf("follow: resolve %s tip: %w", l.opts.Finality, err)
		}
		return safeTip, safeTip, nil
	}

	tip, err = l.chain.BlockNumber(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("follow: resolve chain tip: %w", err)
	}
	if uint64(tip) > l.opts.SafetyDepth {
		safeTip = tip - types.BlockNumber(l.opts.SafetyDepth)
	}
	return tip, safeTip, nil
}
