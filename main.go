package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"

	"sweatbot/internal/config"
	"sweatbot/internal/engine"
	"sweatbot/internal/logger"
	"sweatbot/internal/points"
	"sweatbot/internal/registry"
	"sweatbot/internal/service"
	"sweatbot/internal/store"
)

var cli struct {
	Config string `help:"Config file path (default ~/.sweatbot/config.json)." type:"path"`
	Env    string `help:"Dotenv file loaded before SWEATBOT_* overrides." default:".env"`
	Debug  bool   `help:"Debug logging to stderr."`

	Init        InitCmd        `cmd:"" help:"Write an example config file."`
	Validate    ValidateCmd    `cmd:"" help:"Validate a registry document."`
	Score       ScoreCmd       `cmd:"" help:"Score an activity without storing it."`
	Record      RecordCmd      `cmd:"" help:"Record an activity and update streak, records and achievements."`
	Progress    ProgressCmd    `cmd:"" help:"Show achievement progress for a user."`
	GrantGrace  GrantGraceCmd  `cmd:"" name:"grant-grace" help:"Give a user streak grace tokens."`
	Leaderboard LeaderboardCmd `cmd:"" help:"Rank users by points."`
	Watch       WatchCmd       `cmd:"" help:"Keep reloading the registry and log changes."`
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx := kong.Parse(&cli,
		kong.Name("sweatbot"),
		kong.Description("Points, streaks and achievements for logged workouts"),
		kong.UsageOnError(),
	)
	env := &runEnv{ctx: ctx}
	defer env.close()
	return kctx.Run(env)
}

// runEnv is handed to every command. Config and backends open lazily so
// commands like init and validate work without a store.
type runEnv struct {
	ctx     context.Context
	cfg     *config.Config
	holder  *registry.Holder
	store   store.Store
	engine  *engine.Engine
	service *service.ActivityService
}

func (e *runEnv) loadConfig() (*config.Config, error) {
	if e.cfg != nil {
		return e.cfg, nil
	}
	if err := config.LoadDotEnv(cli.Env); err != nil {
		return nil, err
	}

	cfg, err := config.Load(cli.Config)
	if errors.Is(err, config.ErrNoConfig) {
		defaults := config.DefaultConfig()
		cfg = &defaults
	} else if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}
	if cli.Debug {
		cfg.Log.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := initLogger(cfg); err != nil {
		return nil, err
	}
	e.cfg = cfg
	return cfg, nil
}

func initLogger(cfg *config.Config) error {
	dir := cfg.Log.Dir
	if dir == "" {
		configDir, err := config.GetConfigDir()
		if err != nil {
			return err
		}
		dir = filepath.Join(configDir, "logs")
	}
	if err := logger.Init(logger.Config{Debug: cfg.Log.Debug, Dir: dir}); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	return nil
}

// loadRegistry loads the configured registry source into a holder
func (e *runEnv) loadRegistry() (*registry.Holder, error) {
	if e.holder != nil {
		return e.holder, nil
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	src, err := registrySource(e.ctx, cfg.Registry)
	if err != nil {
		return nil, err
	}
	h := registry.NewHolder(src)
	if err := h.Load(e.ctx); err != nil {
		return nil, err
	}
	e.holder = h
	return h, nil
}

func registrySource(ctx context.Context, cfg config.RegistryConfig) (registry.Source, error) {
	switch cfg.Source {
	case config.SourceFile:
		return registry.FileSource{Path: cfg.Path}, nil
	case config.SourceS3:
		src, err := registry.NewS3Source(ctx, registry.S3Config{
			Bucket:          cfg.S3.Bucket,
			Key:             cfg.S3.Key,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("creating s3 source: %w", err)
		}
		return src, nil
	default:
		return registry.EmbeddedSource{}, nil
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return store.NewMemoryStore(), nil
	case config.DriverRedis:
		state, err := store.NewRedisStore(ctx, store.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		activityLog, err := store.Open(cfg.Path)
		if err != nil {
			state.Close()
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return store.Compose(state, activityLog), nil
	default:
		db, err := store.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return db, nil
	}
}

// open wires registry, store, engine and service
func (e *runEnv) open() (*service.ActivityService, error) {
	if e.service != nil {
		return e.service, nil
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	holder, err := e.loadRegistry()
	if err != nil {
		return nil, err
	}
	st, err := openStore(e.ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	e.store = st

	limits := points.DefaultLimits()
	limits.MaxActivityDuration = cfg.Scoring.MaxActivityDuration.Duration
	calc := points.NewCalculator(limits, cfg.Scoring.MaxCombinedMultiplier)

	e.engine = engine.New(holder, calc, st)
	e.service = service.NewActivityService(e.engine, st, service.Options{
		Location:    cfg.Location(),
		StatsWindow: cfg.Scoring.StatsWindow.Duration,
	})
	return e.service, nil
}

func (e *runEnv) close() {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			logger.Warn("Closing store", "error", err)
		}
	}
}
