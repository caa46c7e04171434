// Command engine is the Integrated Reward Engine's HTTP server: it wires
// every internal package into an Orchestrator, starts the mining accrual
// scheduler and intent dispatcher as background loops, and serves the
// Gin API. Grounded on the teacher's cmd/engine/main.go boot sequence —
// degrade gracefully when an optional dependency is missing —
// adapted from a Bitcoin-node/Postgres pairing to a Postgres-or-memstore
// pairing (the engine runs perfectly well, just without durability,
// against memstore when FINOVA_DATABASE_URL / --database-url is unset).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/finova-net/finova-sub005/internal/antibot"
	"github.com/finova-net/finova-sub005/internal/api"
	"github.com/finova-net/finova-sub005/internal/cards"
	"github.com/finova-net/finova-sub005/internal/config"
	"github.com/finova-net/finova-sub005/internal/intents"
	"github.com/finova-net/finova-sub005/internal/mining"
	"github.com/finova-net/finova-sub005/internal/orchestrator"
	"github.com/finova-net/finova-sub005/internal/phase"
	"github.com/finova-net/finova-sub005/internal/quality"
	"github.com/finova-net/finova-sub005/internal/referral"
	"github.com/finova-net/finova-sub005/internal/store"
	"github.com/finova-net/finova-sub005/internal/store/memstore"
	"github.com/finova-net/finova-sub005/internal/store/pgstore"
)

func main() {
	root := &cobra.Command{
		Use:   "engine",
		Short: "Finova Integrated Reward Engine",
	}
	serve := &cobra.Command{
		Use:   "serve",
		Short: "run the reward engine HTTP server",
		RunE:  runServe,
	}
	config.BindFlags(serve.Flags(), viper.GetViper())
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load(viper.GetViper())

	logger := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger().
		Level(parseLevel(cfg.LogLevel))
	logger.Info().Msg("starting finova reward engine")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// ─── Persistent state: Postgres if configured, memstore otherwise ───
	// The database URL is not hard-required: the engine degrades to an
	// in-process, non-durable store rather than refusing to start, the
	// same posture the teacher takes toward an unreachable Postgres.
	var (
		users      store.UserStateStore
		eventLog   store.RewardEventLog
		cardStore  store.CardStore
		graphStore store.ReferralGraphStore
		sizeSource phase.NetworkSizeSource
		lister     mining.ActiveSessionLister
		outbox     intents.Outbox
		pg         *pgstore.Store
	)
	if cfg.DatabaseURL != "" {
		conn, err := pgstore.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("postgres unavailable, falling back to in-memory state store")
		} else {
			if err := conn.InitSchema(ctx); err != nil {
				logger.Warn().Err(err).Msg("schema init failed")
			}
			pg = conn
			defer pg.Close()
		}
	}
	if pg != nil {
		users, eventLog, cardStore, graphStore, sizeSource, lister = pg, pg, pg, pg, pg, pg
		outbox = pgstore.NewOutbox(pg)
	} else {
		mem := memstore.New()
		users, eventLog, cardStore, graphStore, sizeSource, lister = mem, mem, mem, mem, mem, mem
		outbox = intents.NewMemOutbox()
	}

	nowFn := time.Now
	phaseOracle := phase.NewOracle(sizeSource, cfg.PhaseRefresh, logger)
	go phaseOracle.Run(ctx)

	cardEng := cards.NewEngine(cardStore)
	referralMgr := referral.NewManager(graphStore, users, logger, nowFn)

	signals := antibot.NewStoreSignals(graphStore)
	abScorer := antibot.NewScorer(signals)

	qBudget := time.Duration(cfg.QualityBudgetMS) * time.Millisecond
	qScorer := quality.NewCircuitBreakingScorer(quality.NewDeterministicScorer(nowFn), qBudget, logger)

	dailyCapSrc := orchestrator.NewDailyCapSource(phaseOracle)
	humanSrc := orchestrator.NewSessionHumanProbabilitySource(abScorer)
	miningMgr := mining.NewManager(users, humanSrc, dailyCapSrc, logger, nowFn)
	go miningMgr.RunScheduler(ctx, lister, nil)

	eng := orchestrator.New(users, eventLog, cardStore, cardEng, abScorer, qScorer, phaseOracle, miningMgr, referralMgr, outbox, logger, nowFn)

	logEmitter := intents.NewLogEmitter(logger)
	dispatcher := intents.NewDispatcher(outbox, logEmitter, logger)
	go runDispatchLoop(ctx, dispatcher, logger)

	hub := api.NewHub(logger)
	go hub.Run()

	handler := api.NewHandler(eng, hub, logger, cfg.AuthToken, cfg.AllowedOrigins)
	router := api.SetupRouter(handler)

	addr := ":" + cfg.HTTPPort
	logger.Info().Str("addr", addr).Msg("engine listening")
	return router.Run(addr)
}

// runDispatchLoop drains the outbox once per second until ctx is done,
// mirroring the teacher's poller/scanner background-goroutine idiom.
func runDispatchLoop(ctx context.Context, d *intents.Dispatcher, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := d.DispatchOnce(ctx, 100); err != nil {
				logger.Warn().Err(err).Msg("intent dispatch pass failed")
			} else if n > 0 {
				logger.Debug().Int("delivered", n).Msg("intent dispatch pass")
			}
		}
	}
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
