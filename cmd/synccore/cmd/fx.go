package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.uber.org/fx"

	"github.com/onemail/sync-core/internal/classify"
	"github.com/onemail/sync-core/internal/config"
	"github.com/onemail/sync-core/internal/credential"
	"github.com/onemail/sync-core/internal/eventbus"
	"github.com/onemail/sync-core/internal/index"
	"github.com/onemail/sync-core/internal/ingest"
	"github.com/onemail/sync-core/internal/mailbox"
	"github.com/onemail/sync-core/internal/supervisor"
	"github.com/onemail/sync-core/internal/ws"
)

// NewApp wires every component named in the system overview into a single
// fx.App, mirroring the teacher's fx.New(fx.Provide(...), Module, Module)
// shape from cmd/fx.go.
func NewApp(loader *config.Loader, logger *slog.Logger) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Loader { return loader },
			func() *slog.Logger { return logger },
			provideEventBus,
			provideCredentialStore,
			provideEmailIndex,
			provideClassifier,
			provideDialer,
			providePipeline,
			provideSupervisor,
			provideHub,
			provideHTTPServer,
		),
		fx.Invoke(registerEventBridge, registerSupervisorLifecycle, registerHTTPServer),
	)
}

func provideEventBus(logger *slog.Logger, loader *config.Loader) *eventbus.Bus {
	return eventbus.New(logger, loader.Current().SessionQueue)
}

func provideCredentialStore() credential.Store {
	return credential.NewMemoryStore(credential.NullRefresher{})
}

func provideEmailIndex() index.Index {
	return index.NewMemoryStore()
}

func provideClassifier() *classify.Classifier {
	return classify.NewDeterministic()
}

func provideDialer(loader *config.Loader, logger *slog.Logger) mailbox.Dialer {
	cfg := loader.Current()
	return mailbox.NewDialer(cfg.ConnectTimeout, cfg.FetchTimeout, logger)
}

func providePipeline(idx index.Index, classifier *classify.Classifier, bus *eventbus.Bus, logger *slog.Logger) *ingest.Pipeline {
	return ingest.New(idx, classifier, bus, logger)
}

func provideSupervisor(
	dialer mailbox.Dialer,
	creds credential.Store,
	pipeline *ingest.Pipeline,
	bus *eventbus.Bus,
	loader *config.Loader,
	logger *slog.Logger,
) *supervisor.Supervisor {
	cfg := loader.Current()
	agentCfg := mailbox.Config{
		BackfillWindow: cfg.BackfillWindow,
		IdleMax:        cfg.IdleMax,
		ConnectTimeout: cfg.ConnectTimeout,
		FetchTimeout:   cfg.FetchTimeout,
		RetryBase:      cfg.RetryBase,
		RetryCap:       cfg.RetryCap,
	}
	return supervisor.New(dialer, creds, pipeline, bus, agentCfg, cfg.ShutdownDeadline, logger)
}

func provideHub(sup *supervisor.Supervisor, loader *config.Loader, logger *slog.Logger) *ws.Hub {
	cfg := loader.Current()
	return ws.New(ws.StaticVerifier{}, sup, ws.Config{
		Heartbeat:    cfg.WSHeartbeat,
		WriteTimeout: cfg.WSWriteTimeout,
		QueueLen:     cfg.SessionQueue,
	}, logger)
}

func provideHTTPServer(loader *config.Loader, hub *ws.Hub) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{Addr: loader.Current().HTTPAddr, Handler: mux}
}

// registerEventBridge subscribes to the EventBus and forwards every event
// to SessionHub — the pipeline/supervisor → EventBus → SessionHub leg of
// the data-flow loop named in spec.md §2. The other leg, SessionHub driving
// Supervisor.EnsureForUser/StopForUser as sessions open and close, is wired
// directly into ws.Hub (see provideHub).
func registerEventBridge(lc fx.Lifecycle, bus *eventbus.Bus, hub *ws.Hub) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			newMsgs, err := bus.SubscribeNewMessage(ctx)
			if err != nil {
				return err
			}
			status, err := bus.SubscribeStatus(ctx)
			if err != nil {
				return err
			}

			go func() {
				for ev := range newMsgs {
					hub.BroadcastNewMessage(ev)
				}
			}()
			go func() {
				for ev := range status {
					hub.BroadcastStatus(ev)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return bus.Close()
		},
	})
}

// registerSupervisorLifecycle stops every agent on shutdown, then closes
// every WebSocket session once the resulting Stopped StatusEvents have had
// a moment to reach their sessions (spec.md §8 end-to-end scenario 6: every
// session must see sync_status state=Stopped for every email before the
// socket closes).
func registerSupervisorLifecycle(lc fx.Lifecycle, sup *supervisor.Supervisor, hub *ws.Hub, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			err := sup.Shutdown(ctx)
			if err != nil {
				logger.Warn("synccore: supervisor shutdown returned an error", "err", err)
			}
			time.Sleep(100 * time.Millisecond)
			hub.CloseAll()
			return err
		},
	})
}

func registerHTTPServer(lc fx.Lifecycle, srv *http.Server, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("synccore: http server exited", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
