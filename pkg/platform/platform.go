// Package platform wires the component state service together: the
// collector registry, the component manager, its observers, the audit
// database, metrics, tracing and readiness.
package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"

	"github.com/txn2/component-state/pkg/admin"
	"github.com/txn2/component-state/pkg/audit"
	auditpostgres "github.com/txn2/component-state/pkg/audit/postgres"
	"github.com/txn2/component-state/pkg/collector"
	"github.com/txn2/component-state/pkg/componentstate"
	"github.com/txn2/component-state/pkg/database/migrate"
	"github.com/txn2/component-state/pkg/health"
	"github.com/txn2/component-state/pkg/metrics"
)

// ErrConfigRequired is returned by New without a config.
var ErrConfigRequired = errors.New("config is required")

// runMigrations applies the audit schema. Tests replace it.
var runMigrations = migrate.Run

// Options configures the platform.
type Options struct {
	// Config is the service configuration.
	Config *Config

	// DB is the audit database. When nil and database.dsn is set, a
	// connection is opened and owned by the platform.
	DB *sql.DB

	// AuditLogger replaces the PostgreSQL audit store.
	AuditLogger audit.Logger

	// Registry receives the Prometheus collectors. A fresh registry is
	// created when nil.
	Registry *prometheus.Registry

	// Version is reported in traces.
	Version string
}

// Option is a functional option for configuring the platform.
type Option func(*Options)

// WithConfig sets the configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Options) { o.Config = cfg }
}

// WithDB sets the audit database connection.
func WithDB(db *sql.DB) Option {
	return func(o *Options) { o.DB = db }
}

// WithAuditLogger sets a custom audit sink.
func WithAuditLogger(l audit.Logger) Option {
	return func(o *Options) { o.AuditLogger = l }
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(o *Options) { o.Registry = r }
}

// WithVersion sets the service version.
func WithVersion(v string) Option {
	return func(o *Options) { o.Version = v }
}

// Platform is the assembled service.
type Platform struct {
	config    *Config
	lifecycle *Lifecycle

	collectors *collector.Registry
	manager    *componentstate.Manager
	health     *health.Checker
	exporter   *metrics.Exporter
	tracing    *Tracing

	db          *sql.DB
	ownsDB      bool
	auditLogger audit.Logger
	auditStore  *auditpostgres.Store
}

// New creates a new platform. Unset config fields are filled with the
// same defaults LoadConfig applies.
func New(opts ...Option) (*Platform, error) {
	options := &Options{Version: "dev"}
	for _, opt := range opts {
		opt(options)
	}

	if options.Config == nil {
		return nil, ErrConfigRequired
	}
	applyDefaults(options.Config)
	if err := options.Config.Validate(); err != nil {
		return nil, err
	}

	p := &Platform{
		config:    options.Config,
		lifecycle: NewLifecycle(),
		health:    health.NewChecker(),
	}

	if err := p.initializeComponents(options); err != nil {
		return nil, fmt.Errorf("initializing components: %w", err)
	}
	return p, nil
}

func (p *Platform) initializeComponents(opts *Options) error {
	tracing, err := NewTracing(context.Background(), p.config.Tracing, opts.Version)
	if err != nil {
		return fmt.Errorf("creating tracing: %w", err)
	}
	p.tracing = tracing
	p.lifecycle.Append(Hook{Name: "tracing", Stop: tracing.Shutdown})

	if err := p.initDatabase(opts); err != nil {
		return err
	}
	p.initAudit(opts)

	observers := componentstate.MultiObserver{&componentstate.LogObserver{}}
	if p.config.Metrics.Enabled {
		p.exporter = metrics.New(metrics.Config{
			Namespace: p.config.Metrics.Namespace,
			Registry:  opts.Registry,
		})
		observers = append(observers, p.exporter)
	}
	if p.auditLogger != nil {
		observers = append(observers, audit.NewRecorder(p.auditLogger))
	}

	p.collectors = collector.NewRegistry(collector.Config{BufferSize: p.config.Collector.BufferSize})
	p.lifecycle.Append(Hook{
		Name: "collectors",
		Stop: func(context.Context) error { return p.collectors.Close() },
	})

	p.manager = componentstate.NewManager(p.collectors, componentstate.Config{
		DefaultTTL:        p.config.Components.DefaultTTL,
		Observer:          observers,
		ObserverQueueSize: p.config.Components.ObserverQueueSize,
		TracerProvider:    tracing.Provider(),
	})
	p.lifecycle.Append(Hook{
		Name: "components",
		Start: func(context.Context) error {
			p.manager.StartCleanup(p.config.Components.CleanupInterval)
			return nil
		},
		Stop: p.manager.Close,
	})

	if p.exporter != nil {
		if err := p.exporter.Register(p.manager); err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
	}
	p.health.SetActiveCounter(p.manager.ActiveCount)
	return nil
}

func (p *Platform) initDatabase(opts *Options) error {
	p.db = opts.DB
	if p.db == nil && p.config.Database.DSN != "" {
		db, err := sql.Open("postgres", p.config.Database.DSN)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(p.config.Database.MaxOpenConns)
		p.db = db
		p.ownsDB = true
	}
	if p.db == nil {
		return nil
	}

	if p.ownsDB {
		p.lifecycle.Append(Hook{
			Name: "database",
			Stop: func(context.Context) error { return p.db.Close() },
		})
	}
	p.health.AddCheck("database", p.db.PingContext)
	return nil
}

func (p *Platform) initAudit(opts *Options) {
	if !p.config.Audit.Enabled {
		return
	}
	if opts.AuditLogger != nil {
		p.auditLogger = opts.AuditLogger
		p.lifecycle.Append(Hook{
			Name: "audit",
			Stop: func(context.Context) error { return p.auditLogger.Close() },
		})
		return
	}
	if p.db == nil {
		return
	}

	store := auditpostgres.New(p.db, auditpostgres.Config{RetentionDays: p.config.Audit.RetentionDays})
	p.auditStore = store
	p.auditLogger = store
	p.lifecycle.Append(Hook{
		Name:  "migrations",
		Start: func(context.Context) error { return runMigrations(p.db) },
	})
	p.lifecycle.Append(Hook{
		Name: "audit",
		Start: func(context.Context) error {
			store.StartCleanupRoutine(p.config.Audit.CleanupInterval)
			return nil
		},
		Stop: func(context.Context) error { return store.Close() },
	})
}

// Start runs every start hook and marks the service ready.
func (p *Platform) Start(ctx context.Context) error {
	if err := p.lifecycle.Start(ctx); err != nil {
		return err
	}
	p.health.SetReady()
	slog.Info("platform: started",
		"name", p.config.Server.Name,
		"audit", p.auditLogger != nil,
		"metrics", p.exporter != nil,
		"tracing", p.config.Tracing.Enabled,
	)
	return nil
}

// Stop marks the service draining and runs every stop hook in reverse.
// Live components are torn down and their collectors released.
func (p *Platform) Stop(ctx context.Context) error {
	p.health.SetDraining()
	if err := p.lifecycle.Stop(ctx); err != nil {
		return fmt.Errorf("stopping platform: %w", err)
	}
	slog.Info("platform: stopped")
	return nil
}

// Config returns the service configuration.
func (p *Platform) Config() *Config {
	return p.config
}

// Manager returns the component state manager.
func (p *Platform) Manager() *componentstate.Manager {
	return p.manager
}

// Collectors returns the collector registry.
func (p *Platform) Collectors() *collector.Registry {
	return p.collectors
}

// Health returns the readiness checker.
func (p *Platform) Health() *health.Checker {
	return p.health
}

// Metrics returns the Prometheus exporter, or nil when metrics are disabled.
func (p *Platform) Metrics() *metrics.Exporter {
	return p.exporter
}

// AuditStore returns the PostgreSQL audit store, or nil when the audit
// trail is disabled or uses a custom sink.
func (p *Platform) AuditStore() *auditpostgres.Store {
	return p.auditStore
}

// AdminAuthenticator builds the admin API authenticator from the
// configured keys. It returns nil when no key is configured.
func (p *Platform) AdminAuthenticator() admin.Authenticator {
	if len(p.config.Admin.APIKeys) == 0 {
		return nil
	}
	keys := make(map[string]admin.User, len(p.config.Admin.APIKeys))
	for _, k := range p.config.Admin.APIKeys {
		keys[k.Key] = admin.User{UserID: k.Name, Roles: []string{admin.RoleAdmin}}
	}
	return &admin.APIKeyAuthenticator{Keys: keys}
}
