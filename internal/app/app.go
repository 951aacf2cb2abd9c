// Package app wires all Arkmoor subsystems into a running game server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and drives the game tick, and Shutdown tears
// everything down in order.
//
// For testing, inject fakes via functional options (WithStore,
// WithExternalBus, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/arkmoor/arkmoor/internal/api"
	"github.com/arkmoor/arkmoor/internal/auth"
	"github.com/arkmoor/arkmoor/internal/broker"
	"github.com/arkmoor/arkmoor/internal/combat"
	"github.com/arkmoor/arkmoor/internal/command"
	"github.com/arkmoor/arkmoor/internal/config"
	"github.com/arkmoor/arkmoor/internal/connection"
	"github.com/arkmoor/arkmoor/internal/follow"
	"github.com/arkmoor/arkmoor/internal/game"
	"github.com/arkmoor/arkmoor/internal/health"
	"github.com/arkmoor/arkmoor/internal/look"
	"github.com/arkmoor/arkmoor/internal/npc"
	"github.com/arkmoor/arkmoor/internal/observe"
	"github.com/arkmoor/arkmoor/internal/presence"
	"github.com/arkmoor/arkmoor/internal/spell"
	"github.com/arkmoor/arkmoor/internal/subject"
	"github.com/arkmoor/arkmoor/internal/target"
	"github.com/arkmoor/arkmoor/internal/world"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	now func() time.Time

	// Subsystems, initialised in New and torn down in Shutdown.
	reg      *subject.Registry
	extBus   broker.ExternalBus
	bus      *broker.Broker
	store    world.Store
	metrics  *observe.Metrics
	gate     *auth.Gate
	conn     *connection.Manager
	npcs     *npc.Runtime
	protos   *world.PrototypeRegistry
	combat   *combat.Engine
	pipeline *command.Pipeline
	game     *game.Service
	httpSrv  *http.Server

	checkers []health.Checker

	// closers run in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a world store instead of creating one from config.
func WithStore(s world.Store) Option {
	return func(a *App) { a.store = s }
}

// WithExternalBus injects an external bus instead of dialling NATS.
func WithExternalBus(b broker.ExternalBus) Option {
	return func(a *App) { a.extBus = b }
}

// WithMetrics injects a metrics instance instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithClock overrides the clock for every subsystem, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New creates an App by wiring all subsystems together. Initialisation is
// synchronous: registry seeding, storage connection and migration, content
// loading, and service construction all complete before New returns.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	reg, err := subject.NewRegistry(subject.Options{
		MaxLength:      cfg.Subject.MaxLength,
		StrictAlphabet: cfg.Subject.StrictAlphabet,
		CacheEnabled:   cfg.Subject.CacheEnabled == nil || *cfg.Subject.CacheEnabled,
		MetricsEnabled: cfg.Subject.MetricsEnabled == nil || *cfg.Subject.MetricsEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init subject registry: %w", err)
	}
	a.reg = reg

	if err := a.initBus(); err != nil {
		return nil, fmt.Errorf("app: init bus: %w", err)
	}
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	gate, err := auth.NewGate(auth.Config{
		Secret:        []byte(cfg.Auth.TokenSecret),
		TokenLifetime: cfg.Auth.TokenLifetime(),
		InviteOnly:    cfg.Auth.InviteOnly,
		Now:           a.now,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init auth gate: %w", err)
	}
	a.gate = gate

	a.conn = connection.NewManager(a.bus, a.reg, a.store, a.metrics, connection.Options{
		RateLimitAttempts: cfg.Connection.RateLimitAttempts,
		RateLimitWindow:   cfg.Connection.RateLimitWindow(),
		GraceTimeout:      cfg.Grace.Timeout(),
		PendingCapacity:   cfg.Pending.QueueCapacity,
		Now:               a.now,
	})

	a.npcs = npc.NewRuntime()
	a.protos = world.NewPrototypeRegistry()
	if err := a.loadContent(); err != nil {
		return nil, fmt.Errorf("app: load content: %w", err)
	}

	spellBook, reductions, err := a.loadSpellBook()
	if err != nil {
		return nil, fmt.Errorf("app: load spell book: %w", err)
	}

	a.combat = combat.NewEngine(a.bus, a.reg, a.store, a.npcs, a.metrics, combat.Options{
		TurnTimeout: cfg.Combat.TurnTimeout(),
		IdleCleanup: cfg.Combat.IdleCleanup(),
		Now:         a.now,
	})

	pres := presence.NewService(a.store, a.store, a.npcs, a.protos, a.conn)
	lookEng := look.NewEngine(a.store, a.npcs, a.protos, pres, a.conn)
	resolver := target.NewResolver(a.store, a.store, a.npcs)
	coord := follow.NewCoordinator(a.store, a.conn)
	spells := spell.NewDispatcher(a.store, a.bus, a.reg, reductions)

	a.pipeline = command.NewPipeline(command.Deps{
		Conn:      a.conn,
		Store:     a.store,
		NPCs:      a.npcs,
		Combat:    a.combat,
		Look:      lookEng,
		Presence:  pres,
		Resolver:  resolver,
		Follow:    coord,
		Spells:    spells,
		Bus:       a.bus,
		Registry:  a.reg,
		Metrics:   a.metrics,
		SpellBook: spellBook,
	}, command.Options{
		MaxLineLength: cfg.Command.MaxLength,
		Now:           a.now,
	})

	a.game = game.NewService(a.gate, a.conn, a.store, a.bus, a.reg, a.combat, a.pipeline, game.Options{
		TickInterval: cfg.Server.TickInterval(),
		Now:          a.now,
	})

	// Readiness tolerates a few missed ticks before declaring the loop dead.
	a.checkers = append(a.checkers,
		health.LoopAlive(a.game.LastTick, 5*cfg.Server.TickInterval()))

	server := api.NewServer(a.game, a.gate, a.reg, a.metrics, a.checkers...)
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initBus dials NATS when configured and builds the broker facade. A missing
// external bus is not an error: local delivery always works.
func (a *App) initBus() error {
	if a.extBus == nil && a.cfg.Bus.NATSURL != "" {
		nb, err := broker.DialNATS(a.cfg.Bus.NATSURL)
		if err != nil {
			return err
		}
		a.extBus = nb
		a.closers = append(a.closers, func() error {
			nb.Close()
			return nil
		})
		slog.Info("external bus connected", "url", a.cfg.Bus.NATSURL)
	}
	if a.extBus != nil {
		a.extBus = broker.Guard(a.extBus, broker.GuardOptions{})
		a.checkers = append(a.checkers, health.BusConnected(a.extBus))
	}
	a.bus = broker.New(a.reg, a.extBus, a.metrics)
	return nil
}

// initStore selects the persistence backend: PostgreSQL when a DSN is
// configured, the in-memory store otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		slog.Info("no postgres dsn configured, using in-memory store")
		a.store = world.NewMemStore()
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	ps := world.NewPostgresStore(pool)
	if err := ps.Migrate(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("migrate schema: %w", err)
	}

	a.store = ps
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	a.checkers = append(a.checkers, health.StorePing(pool.Ping))
	slog.Info("postgres store connected")
	return nil
}

// loadContent installs NPC definitions, prototypes, spawns, and seed rooms
// from the configured content file.
func (a *App) loadContent() error {
	path := a.cfg.Content.File
	if path == "" {
		return nil
	}

	cf, err := npc.LoadContentFile(path)
	if err != nil {
		return err
	}
	n, err := npc.Install(cf, a.npcs, a.protos)
	if err != nil {
		return err
	}

	// Seed rooms are only meaningful for the in-memory store; with postgres
	// the world lives in the database.
	if ms, ok := a.store.(*world.MemStore); ok {
		for _, room := range cf.Rooms {
			ms.PutRoom(room)
		}
	} else if len(cf.Rooms) > 0 {
		slog.Warn("content rooms ignored with persistent storage", "count", len(cf.Rooms))
	}

	slog.Info("content installed", "path", path, "records", n, "rooms", len(cf.Rooms))
	return nil
}

// loadSpellBook reads the configured spell book, if any.
func (a *App) loadSpellBook() (map[string]spell.Definition, map[string]int, error) {
	path := a.cfg.Content.SpellFile
	if path == "" {
		return nil, nil, nil
	}
	book, reductions, err := spell.LoadBook(path)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("spell book loaded", "path", path, "spells", len(book))
	return book, reductions, nil
}

// Gate returns the session token gate, for tooling that mints tokens.
func (a *App) Gate() *auth.Gate { return a.gate }

// Run serves HTTP and drives the game tick until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.game.Run(ctx)
	})

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("serving https", "addr", a.httpSrv.Addr)
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("serving http", "addr", a.httpSrv.Addr)
			err = a.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpSrv.Shutdown(closeCtx)
	})

	return g.Wait()
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop accepting commands and close player sessions first.
		a.game.Shutdown(ctx)

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
