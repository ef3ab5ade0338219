// Package server wires the relay together: database and migrations, the
// key directory, the encryption engine, object storage, presence, fanout,
// and the gRPC and metrics endpoints. It handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/securechat/internal/cryptox"
	"github.com/dmitrijs2005/securechat/internal/logging"
	"github.com/dmitrijs2005/securechat/internal/ratelimit"
	"github.com/dmitrijs2005/securechat/internal/server/blobs"
	"github.com/dmitrijs2005/securechat/internal/server/config"
	"github.com/dmitrijs2005/securechat/internal/server/envelopes"
	"github.com/dmitrijs2005/securechat/internal/server/fanout"
	"github.com/dmitrijs2005/securechat/internal/server/keys"
	"github.com/dmitrijs2005/securechat/internal/server/metrics"
	"github.com/dmitrijs2005/securechat/internal/server/presence"
	"github.com/dmitrijs2005/securechat/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/securechat/internal/server/services"

	gs "github.com/dmitrijs2005/securechat/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	keys     *keys.Directory
	metrics  *metrics.Metrics
	messages *services.MessageService
}

// NewApp validates c and builds every component. Missing crypto material
// is reported as common.ErrConfiguration.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	db, err := sql.Open(repomanager.DriverName, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	dir := keys.NewDirectory(rm.Users(db), c.KeyGenPassphrase, c.ServerKeyFile, logger)

	iv, err := c.IVSecretBytes()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	engine, err := cryptox.NewEngine(c.StoragePassphrase, iv, dir)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	blobStore, err := blobs.NewS3StoreFromConfig(ctx, c)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("object storage: %w", err)
	}

	m := metrics.New()
	registry := presence.NewRegistry()
	resolver := fanout.ByScope(fanout.Peer(), fanout.GroupMembers(rm.Groups(db)))
	dispatcher := fanout.NewDispatcher(dir, engine, registry, resolver, c.FanoutConcurrency, 0, logger, m)

	ms := services.NewMessageService(db, rm, services.Components{
		Keys:       dir,
		Engine:     engine,
		Envelopes:  envelopes.NewStore(rm.Messages(db), engine, blobStore),
		Dispatcher: dispatcher,
		Presence:   registry,
		Limiter:    ratelimit.New(c.SendRatePerSecond, c.SendBurst, 0),
		Metrics:    m,
		Logger:     logger,
	})

	return &App{config: c, logger: logger, db: db, keys: dir, metrics: m, messages: ms}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// initKeys loads or generates the server keypair. Until it finishes the
// gRPC endpoint answers Unavailable; a failure stops the process.
func (app *App) initKeys(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.keys.Init(ctx); err != nil {
		app.logger.Error(ctx, "server key initialization failed", "error", err)
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s, err := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.messages, app.keys, app.config.SecretKey)
	if err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
		return
	}

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startMetricsServer(ctx context.Context) {
	if err := app.metrics.Serve(ctx, app.config.MetricsAddr, app.logger); err != nil {
		app.logger.Error(ctx, "metrics server failed", "error", err)
	}
}

// Run serves until a signal arrives or a component fails, then waits for
// in-flight fanouts and closes the database.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.initKeys(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	if app.config.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startMetricsServer(ctx)
		}()
	}

	wg.Wait()

	app.messages.Wait()
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close failed", "error", err)
	}
	app.logger.Info(ctx, "Stopped")
}
