package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/mobelieve/mexc-triarb/internal/blob/s3"
	"github.com/mobelieve/mexc-triarb/internal/crypto"
	"github.com/mobelieve/mexc-triarb/internal/domain"
	"github.com/mobelieve/mexc-triarb/internal/engine"
	"github.com/mobelieve/mexc-triarb/internal/executor"
	"github.com/mobelieve/mexc-triarb/internal/pipeline"
	"github.com/mobelieve/mexc-triarb/internal/platform/mexc"
	"github.com/mobelieve/mexc-triarb/internal/server"
	"github.com/mobelieve/mexc-triarb/internal/server/handler"
	"github.com/mobelieve/mexc-triarb/internal/server/ws"
)

const (
	// verifyTimeout bounds the credential check made when a loop starts.
	verifyTimeout = 15 * time.Second
	// stopGrace is how long shutdown waits for the in-flight cycle.
	stopGrace = 30 * time.Second
)

// TradeMode runs the arbitrage loop and submits orders for profitable
// cycles (unless trade.dry_run is set).
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Bool("dry_run", a.cfg.Trade.DryRun),
		slog.String("leg_policy", a.cfg.Trade.LegPolicy),
	)
	return a.runLoop(ctx, deps, a.cfg.Trade.DryRun)
}

// MonitorMode runs the loop in dry run: cycles are evaluated and logged but
// no order is sent.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runLoop(ctx, deps, true)
}

// AccountMode checks the configured credentials against the account
// endpoint, logs the balances of the triangle's assets and exits.
func (a *App) AccountMode(ctx context.Context) error {
	creds, err := a.resolveCredentials()
	if err != nil {
		return err
	}
	client := a.newExchangeClient(nil, creds)

	vctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	info, err := client.GetAccountInfo(vctx)
	if err != nil {
		return fmt.Errorf("app: account check: %w", err)
	}

	a.logger.InfoContext(ctx, "account verified",
		slog.Bool("can_trade", info.CanTrade),
		slog.String("account_type", info.AccountType),
		slog.Int("balances", len(info.Balances)),
	)
	a.checkQuoteBalance(ctx, info)
	for _, b := range info.Balances {
		if b.Free.IsZero() && b.Locked.IsZero() {
			continue
		}
		a.logger.InfoContext(ctx, "balance",
			slog.String("asset", b.Asset),
			slog.String("free", b.Free.String()),
			slog.String("locked", b.Locked.String()),
		)
	}
	return nil
}

// runLoop wires the controller, the optional archive cron and the HTTP
// control surface, starts the loop when credentials are configured and
// blocks until ctx is cancelled.
func (a *App) runLoop(ctx context.Context, deps *Dependencies, dryRun bool) error {
	g, ctx := errgroup.WithContext(ctx)

	var ctrl *engine.Controller
	var hub *ws.Hub
	if a.cfg.Server.Enabled {
		hub = ws.NewHub(deps.SignalBus, ws.Config{
			BusChannels:   []string{domain.ChannelExecution},
			Status:        func() any { return ctrl.Status() },
			ReplayStream:  domain.StreamExecutions,
			ReplayChannel: domain.ChannelExecution,
		}, a.logger)
	}

	ctrl = engine.NewController(a.loopFactory(deps, hub, dryRun), a.logger)
	if deps.LockManager != nil {
		ctrl.SetLocker(deps.LockManager, a.cfg.Loop.LockTTL.Duration)
	}

	creds, err := a.resolveCredentials()
	switch {
	case err == nil:
		if err := ctrl.Start(creds); err != nil {
			if !a.cfg.Server.Enabled {
				return fmt.Errorf("app: start loop: %w", err)
			}
			a.logger.ErrorContext(ctx, "loop did not start; use POST /api/loop/start",
				slog.String("error", err.Error()),
			)
		}
	case a.cfg.Server.Enabled:
		a.logger.InfoContext(ctx, "no credentials configured; waiting for POST /api/loop/start")
	default:
		return fmt.Errorf("app: %w (and the control surface is disabled)", err)
	}

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
		g.Go(func() error {
			if err := archiver.RunCron(ctx, a.cfg.Archive.Cron); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("archive cron: %w", err)
			}
			return nil
		})
	}

	if a.cfg.Server.Enabled {
		g.Go(func() error {
			return hub.Run(ctx)
		})
		a.startHTTPServer(ctx, g, deps, ctrl, hub, archiver, dryRun)
	}

	g.Go(func() error {
		<-ctx.Done()
		ctrl.Stop()
		wctx, cancel := context.WithTimeout(context.Background(), stopGrace)
		defer cancel()
		if err := ctrl.Wait(wctx); err != nil {
			a.logger.Warn("loop did not stop within grace period", slog.Duration("grace", stopGrace))
		}
		return nil
	})

	return g.Wait()
}

// loopFactory returns the constructor the controller uses on every start.
// Each start gets a fresh client bound to the supplied credentials.
func (a *App) loopFactory(deps *Dependencies, hub *ws.Hub, dryRun bool) engine.LoopFactory {
	return func(ctx context.Context, creds domain.Credentials) (*engine.Loop, error) {
		client := a.newExchangeClient(deps, creds)

		if err := a.verifyAccount(ctx, client); err != nil {
			if !dryRun {
				return nil, err
			}
			a.logger.Warn("credential check failed; continuing because no orders will be sent",
				slog.String("error", err.Error()),
			)
		}

		seq := executor.NewSequencer(client, executor.Options{
			Policy:    domain.LegPolicy(a.cfg.Trade.LegPolicy),
			DryRun:    dryRun,
			StepSizes: a.cfg.StepSizes(),
		}, a.logger)
		seq.SetRecording(deps.ArbExecutionStore, deps.SignalBus)
		if deps.Notifier != nil {
			seq.SetNotifier(deps.Notifier)
		}

		loop := engine.NewLoop(engine.LoopConfig{
			Triangle:      a.cfg.TriangleSymbols(),
			InitialAmount: a.cfg.InitialAmount(),
			Fees:          a.cfg.FeeSchedule(),
			PollInterval:  a.cfg.Loop.PollInterval.Duration,
		}, client, seq, a.logger)
		loop.SetPriceCache(deps.PriceCache)
		loop.SetAuditStore(deps.AuditStore)
		loop.SetSignalBus(deps.SignalBus)
		if hub != nil {
			loop.AddSink(hub)
		}
		return loop, nil
	}
}

// verifyAccount confirms the credentials can trade before any order is
// attempted.
func (a *App) verifyAccount(ctx context.Context, client *mexc.Client) error {
	vctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	info, err := client.GetAccountInfo(vctx)
	if err != nil {
		return fmt.Errorf("verify credentials: %w", err)
	}
	if !info.CanTrade {
		return fmt.Errorf("verify credentials: %w: account cannot trade", domain.ErrUnauthorized)
	}
	a.checkQuoteBalance(ctx, info)
	return nil
}

// checkQuoteBalance warns when the free balance of the cycle's quote asset
// cannot fund trade.initial_amount. Leg 1 would be rejected by the exchange
// in that case; the loop still starts so the operator can top up.
func (a *App) checkQuoteBalance(ctx context.Context, info domain.AccountInfo) bool {
	asset := a.cfg.TriangleSymbols().QuoteAsset()
	if asset == "" {
		return true
	}
	free, need := info.Free(asset), a.cfg.InitialAmount()
	if free.LessThan(need) {
		a.logger.WarnContext(ctx, "free quote balance below trade.initial_amount",
			slog.String("asset", asset),
			slog.String("free", free.String()),
			slog.String("initial_amount", need.String()),
		)
		return false
	}
	return true
}

// newExchangeClient builds a MEXC client for creds, throttled by the shared
// rate limiter when one is configured. deps may be nil.
func (a *App) newExchangeClient(deps *Dependencies, creds domain.Credentials) *mexc.Client {
	client := mexc.NewClient(mexc.Config{
		BaseURL:      a.cfg.Mexc.BaseURL,
		Credentials:  creds,
		RecvWindowMs: int(a.cfg.Mexc.RecvWindowMs),
		Timeout:      a.cfg.Mexc.RequestTimeout.Duration,
	}, a.logger)
	if deps != nil && deps.RateLimiter != nil && a.cfg.Mexc.RateLimit > 0 {
		client.SetRateLimiter(deps.RateLimiter, a.cfg.Mexc.RateLimit, a.cfg.Mexc.RateWindow.Duration)
	}
	return client
}

// resolveCredentials returns the configured API key with its secret, reading
// the encrypted secret file when one is configured.
func (a *App) resolveCredentials() (domain.Credentials, error) {
	if a.cfg.Mexc.APIKey == "" {
		return domain.Credentials{}, fmt.Errorf("mexc.api_key is not set: %w", domain.ErrUnauthorized)
	}
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:     a.cfg.Mexc.SecretKey,
		EncryptedPath: a.cfg.Mexc.EncryptedSecretPath,
		Password:      a.cfg.Mexc.SecretPassword,
	})
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("mexc secret: %w", err)
	}
	return domain.Credentials{APIKey: a.cfg.Mexc.APIKey, SecretKey: secret}, nil
}

// startHTTPServer registers the control surface and serves it until ctx is
// cancelled.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	ctrl *engine.Controller,
	hub *ws.Hub,
	archiver *pipeline.Archiver,
	dryRun bool,
) {
	var execs handler.ExecutionReader
	if deps.ArbExecutionStore != nil {
		execs = deps.ArbExecutionStore
	}
	var audit handler.AuditReader
	if deps.AuditStore != nil {
		audit = deps.AuditStore
	}
	var runner handler.ArchiveRunner
	if archiver != nil {
		runner = archiver
	}
	var quotes handler.QuoteReader
	if deps.PriceCache != nil {
		quotes = deps.PriceCache
	}

	// Credentials posted to /api/loop/start take precedence; otherwise the
	// configured ones are used.
	defaults, _ := a.resolveCredentials()

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(),
		Status: handler.NewStatusHandler(handler.StatusInfo{
			Mode:      a.cfg.Mode,
			Triangle:  a.cfg.TriangleSymbols(),
			DryRun:    dryRun,
			LegPolicy: domain.LegPolicy(a.cfg.Trade.LegPolicy),
		}, ctrl, quotes),
		Loop:       handler.NewLoopHandler(ctrl, defaults, a.logger),
		Executions: handler.NewExecutionHandler(execs, a.logger),
		Archives:   handler.NewArchiveHandler(deps.BlobReader, runner, s3blob.ExecutionPrefix, a.logger),
		Audit:      handler.NewAuditHandler(audit, a.logger),
	}

	srvCfg := server.Config{
		Host:        a.cfg.Server.Host,
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}
	if deps.RateLimiter != nil {
		srvCfg.Limiter = deps.RateLimiter
		srvCfg.RateLimit = a.cfg.Server.RateLimit
		srvCfg.RateWindow = a.cfg.Server.RateWindow.Duration
	}
	srv := server.NewServer(srvCfg, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
