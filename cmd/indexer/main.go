// Command indexer drives the Swarm storage-incentives event indexer: a
// cobra CLI over the ingest/follow/query engines, wired from a single
// configuration file per internal/config's defaults → file → env
// precedence chain. Command-line flags carry per-run parameters only and
// override no configuration field.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/swarmstats/indexer/internal/chainrpc"
	cfgloader "github.com/swarmstats/indexer/internal/config"
	"github.com/swarmstats/indexer/internal/expiry"
	"github.com/swarmstats/indexer/internal/follow"
	"github.com/swarmstats/indexer/internal/ingest"
	"github.com/swarmstats/indexer/internal/logger"
	"github.com/swarmstats/indexer/internal/metrics"
	"github.com/swarmstats/indexer/internal/query"
	"github.com/swarmstats/indexer/internal/registry"
	"github.com/swarmstats/indexer/internal/storage"
	"github.com/swarmstats/indexer/pkg/chain"
	"github.com/swarmstats/indexer/pkg/config"
	"github.com/swarmstats/indexer/pkg/types"
)

var configPath string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "indexer",
		Short: "Indexes Swarm storage-incentives contract events and serves analytics projections",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the indexer configuration file")

	root.AddCommand(
		ingestCmd(),
		followCmd(),
		summaryCmd(),
		batchStatusCmd(),
		expiryCmd(),
		addressSummaryCmd(),
	)
	return root
}

// app bundles the components every subcommand needs, built once config has
// loaded and validated successfully.
type app struct {
	cfg   *config.Config
	log   *logger.Logger
	chain *chainrpc.Client
	reg   *registry.Registry
	store storage.Store
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := cfgloader.LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := "info"
	development := false
	if cfg.Logging != nil {
		level = cfg.Logging.GetComponentLevel("")
		development = cfg.Logging.Development
	}
	log, err := logger.NewLogger(level, development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	client, err := chainrpc.New(ctx, cfg.RPC.URL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}

	contracts, err := registry.FromConfig(cfg.Contracts)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("convert contract config: %w", err)
	}
	reg, err := registry.New(contracts)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("build contract registry: %w", err)
	}

	store, err := storage.Open(ctx, cfg.Database, cfg.Maintenance, log)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	return &app{cfg: cfg, log: log, chain: client, reg: reg, store: store}, nil
}

func (a *app) Close() {
	_ = a.store.Close()
	a.chain.Close()
	_ = a.log.Close()
}

func (a *app) newIngestEngine() *ingest.Engine {
	return ingest.New(a.chain, a.reg, a.store, a.cfg.Retry, a.cfg.Blockchain, a.cfg.AddressTracking, a.log)
}

func (a *app) newQueryEngine() *query.Engine {
	return query.New(a.store, a.chain, a.reg, a.cfg.Retry, a.cfg.Blockchain.BlockTimeSeconds, a.log)
}

func (a *app) maybeStartMetricsServer(ctx context.Context) (*metrics.Server, error) {
	if a.cfg.Metrics == nil || !a.cfg.Metrics.Enabled {
		return nil, nil
	}
	srv := metrics.NewServer(a.cfg.Metrics)
	if err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("start metrics server: %w", err)
	}
	return srv, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, for the
// long-running ingest/follow commands.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func ingestCmd() *cobra.Command {
	var from, to uint64
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Scan a fixed block range and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := a.maybeStartMetricsServer(ctx)
			if err != nil {
				return err
			}
			if srv != nil {
				defer srv.Stop(context.Background())
			}

			engine := a.newIngestEngine()
			engine.OnProgress(func(r ingest.ChunkResult) {
				a.log.Infow("chunk committed", "from", r.FromBlock, "to", r.ToBlock, "events", r.EventCount)
			})

			toBlock := types.BlockNumber(to)
			if to == 0 {
				tip, err := a.chain.BlockNumber(ctx)
				if err != nil {
					return fmt.Errorf("resolve chain tip: %w", err)
				}
				toBlock = tip
			}

			result, err := engine.Scan(ctx, types.BlockNumber(from), toBlock)
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			a.log.Infow("ingest complete", "chunksProcessed", result.ChunksProcessed, "eventsWritten", result.EventsWritten, "lastSyncedBlock", result.LastSyncedBlock)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&from, "from", 0, "first block to scan")
	cmd.Flags().Uint64Var(&to, "to", 0, "last block to scan (defaults to the current chain tip)")
	return cmd
}

func followCmd() *cobra.Command {
	var pollSeconds uint64
	var startBlock uint64
	cmd := &cobra.Command{
		Use:   "follow",
		Short: "Continuously poll the chain tip and ingest new blocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := a.maybeStartMetricsServer(ctx)
			if err != nil {
				return err
			}
			if srv != nil {
				defer srv.Stop(context.Background())
			}

			engine := a.newIngestEngine()
			loop := follow.New(engine, a.chain, follow.Options{
				PollInterval: time.Duration(pollSeconds) * time.Second,
				Finality:     chain.Finality(a.cfg.Blockchain.Finality),
				SafetyDepth:  a.cfg.Blockchain.SafetyDepth,
				StartBlock:   types.BlockNumber(startBlock),
			}, a.log)
			loop.OnTick(func(r follow.TickResult) {
				if r.Skipped {
					a.log.Debugw("follow tick: no new blocks", "tip", r.Tip)
					return
				}
				a.log.Infow("follow tick", "tip", r.Tip, "scannedTo", r.ScannedTo, "chunksProcessed", r.ScanResult.ChunksProcessed, "eventsWritten", r.ScanResult.EventsWritten)
			})

			err = loop.Run(ctx)
			if err != nil && ctx.Err() != nil {
				a.log.Infow("follow loop stopped")
				return nil
			}
			return err
		},
	}
	cmd.Flags().Uint64Var(&pollSeconds, "poll-interval", 15, "seconds between tip polls")
	cmd.Flags().Uint64Var(&startBlock, "start-block", 0, "block to start scanning from on a cold start")
	return cmd
}

func summaryCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print top-level indexed counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.newQueryEngine().Summary(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(summary)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "total batches:\t%d\n", summary.TotalBatches)
			fmt.Fprintf(w, "total addresses:\t%d\n", summary.TotalAddresses)
			fmt.Fprintf(w, "total stamp events:\t%d\n", summary.TotalStampEvents)
			fmt.Fprintf(w, "total incentive rows:\t%d\n", summary.TotalIncentiveRows)
			fmt.Fprintf(w, "last synced block:\t%d\n", summary.LastSyncedBlock)
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func batchStatusCmd() *cobra.Command {
	var sortBy string
	var refresh, hideZero bool
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "batch-status",
		Short: "Print TTL and expiry projections for every known batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.newQueryEngine().BatchStatus(ctx, query.BatchStatusOptions{
				SortBy:          query.BatchStatusSortBy(sortBy),
				Refresh:         refresh,
				HideZeroBalance: hideZero,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(entries)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "BATCH ID\tDEPTH\tCHUNKS\tBALANCE\tTTL BLOCKS\tTTL DAYS\tEXPIRES AT")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%d\t%.1f\t%s\n",
					e.BatchID.Hex(), e.Depth, e.Chunks, e.NormalisedBalance, e.TTLBlocks, e.TTLDays, e.ExpiryAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&sortBy, "sort-by", "batch_id", "sort column: batch_id|depth|ttl|expiry")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch live remaining balances from the chain")
	cmd.Flags().BoolVar(&hideZero, "hide-zero-balance", false, "omit batches with zero remaining balance")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func expiryCmd() *cobra.Command {
	var granularity string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "expiry",
		Short: "Print batch expiry counts bucketed by period",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			periods, err := a.newQueryEngine().ExpiryAnalytics(ctx, query.ExpiryAnalyticsOptions{
				Granularity: expiryGranularity(granularity),
			})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(periods)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PERIOD\tBATCHES\tTOTAL CHUNKS\tSTORAGE")
			for _, p := range periods {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", p.Label, p.BatchCount, p.TotalChunks, p.StorageHuman)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&granularity, "granularity", "day", "bucket granularity: day|week|month")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func expiryGranularity(s string) expiry.Granularity {
	g := expiry.Granularity(s)
	if !g.Valid() {
		return expiry.GranularityDay
	}
	return g
}

func addressSummaryCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "address-summary [address]",
		Short: "Print the purchase/funding summary for one address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			address := common.HexToAddress(args[0])
			entry, err := a.newQueryEngine().AddressSummary(ctx, address)
			if err != nil {
				return err
			}
			if entry == nil {
				return fmt.Errorf("no data indexed for address %s", address.Hex())
			}
			if asJSON {
				return printJSON(entry)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "address:\t%s\n", entry.Address.Hex())
			fmt.Fprintf(w, "role:\t%s\n", entry.Role)
			fmt.Fprintf(w, "delegated:\t%t\n", entry.Delegated)
			fmt.Fprintf(w, "stamps purchased:\t%d\n", entry.TotalStampsPurchased)
			fmt.Fprintf(w, "amount spent:\t%s\n", entry.TotalAmountSpent)
			fmt.Fprintf(w, "transaction count:\t%d\n", entry.TransactionCount)
			fmt.Fprintf(w, "first seen:\t%s\n", entry.FirstSeen.Format(time.RFC3339))
			fmt.Fprintf(w, "last seen:\t%s\n", entry.LastSeen.Format(time.RFC3339))
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
