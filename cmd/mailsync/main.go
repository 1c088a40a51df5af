// Package main implements the mailsync binary keeping a PostgreSQL mailbox mirror
// in sync with a remote change feed.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/mailsync/internal/db"
	"github.com/cybertec-postgresql/mailsync/internal/etcd"
	"github.com/cybertec-postgresql/mailsync/internal/events"
	"github.com/cybertec-postgresql/mailsync/internal/log"
	"github.com/cybertec-postgresql/mailsync/internal/retry"
	"github.com/cybertec-postgresql/mailsync/internal/sync"
)

// Config holds the application configuration
type Config struct {
	PostgresDSN     string `short:"p" env:"MAILSYNC_POSTGRES_DSN" long:"postgres-dsn" description:"PostgreSQL connection string"`
	EtcdDSN         string `short:"e" env:"MAILSYNC_ETCD_DSN" long:"etcd-dsn" description:"etcd connection string, enables the per-account lock"`
	FeedURL         string `short:"f" env:"MAILSYNC_FEED_URL" long:"feed-url" description:"Base URL of the remote change feed"`
	Account         string `short:"a" env:"MAILSYNC_ACCOUNT" long:"account" description:"Account login to synchronize"`
	LogLevel        string `short:"l" env:"MAILSYNC_LOG_LEVEL" long:"log-level" description:"Log level: debug|info|warn|error" default:"info"`
	PollingInterval string `long:"polling-interval" env:"MAILSYNC_POLLING_INTERVAL" description:"Interval between catch-up cycles" default:"1m"`
	RetriesDelay    string `long:"retries-delay" env:"MAILSYNC_RETRIES_DELAY" description:"Delay between patch persistence retries" default:"5s"`
	RetriesLimit    uint64 `long:"retries-limit" env:"MAILSYNC_RETRIES_LIMIT" description:"Number of patch persistence retries" default:"3"`
	Debounce        string `long:"debounce" env:"MAILSYNC_DEBOUNCE" description:"Quiet period closing a live event window" default:"1.5s"`
	ListenChannel   string `long:"listen-channel" env:"MAILSYNC_LISTEN_CHANNEL" description:"PostgreSQL channel live events are published on" default:"mail_events"`
	NoWait          bool   `long:"no-wait" env:"MAILSYNC_NO_WAIT" description:"Exit instead of waiting when another worker holds the account lock"`
	DryRun          bool   `long:"dry-run" description:"Keep the mirror in memory instead of PostgreSQL"`
	Version         bool   `short:"v" long:"version" description:"Show version information"`
	Help            bool
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ParseCLI parses command-line arguments and returns the configuration
func ParseCLI(args []string) (cmdOpts *Config, err error) {
	cmdOpts = new(Config)
	parser := flags.NewParser(cmdOpts, flags.HelpFlag)
	nonParsedArgs, err := parser.ParseArgs(args)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			cmdOpts.Help = true
		}
		if !flags.WroteHelp(err) {
			parser.WriteHelp(os.Stdout)
		}
		return cmdOpts, err
	}
	if len(nonParsedArgs) > 0 { // we don't expect any non-parsed arguments
		return cmdOpts, fmt.Errorf("unknown argument(s): %v", nonParsedArgs)
	}
	return
}

// Validate checks the options required to start a sync
func (c *Config) Validate() error {
	if c.Account == "" {
		return fmt.Errorf("account is required")
	}
	if c.FeedURL == "" {
		return fmt.Errorf("feed URL is required")
	}
	if c.PostgresDSN == "" && !c.DryRun {
		return fmt.Errorf("postgres DSN is required unless --dry-run is set")
	}
	return nil
}

// SyncConfig converts the command-line options into the service configuration
func (c *Config) SyncConfig() (sync.Config, error) {
	pollingInterval, err := time.ParseDuration(c.PollingInterval)
	if err != nil {
		return sync.Config{}, fmt.Errorf("invalid polling interval: %w", err)
	}
	retriesDelay, err := time.ParseDuration(c.RetriesDelay)
	if err != nil {
		return sync.Config{}, fmt.Errorf("invalid retries delay: %w", err)
	}
	debounce, err := time.ParseDuration(c.Debounce)
	if err != nil {
		return sync.Config{}, fmt.Errorf("invalid debounce: %w", err)
	}
	return sync.Config{
		Account:         c.Account,
		PollingInterval: pollingInterval,
		Debounce:        debounce,
		Patch:           retry.PatchConfig{RetriesDelay: retriesDelay, RetriesLimit: c.RetriesLimit},
		NoWait:          c.NoWait,
	}, nil
}

// ShowVersion prints version information and exits
func ShowVersion() {
	fmt.Printf("mailsync version %s\n", version)
	if commit != "none" && commit != "" {
		fmt.Printf("commit: %s\n", commit)
	}
	if date != "unknown" && date != "" {
		fmt.Printf("built: %s\n", date)
	}
}

// SetupLogging configures the logging system with structured output
func SetupLogging(logLevel string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(log.NewFormatter(false))
	logrus.SetReportCaller(false)

	logrus.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"pid":     os.Getpid(),
	}).Info("mailsync logging initialized")

	return nil
}

// SetupCloseHandler creates a 'listener' on a new goroutine which will notify the
// program if it receives an interrupt from the OS. We then handle this by calling
// our clean up procedure and exiting the program.
func SetupCloseHandler(cancel context.CancelFunc) {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logrus.Debug("SetupCloseHandler received an interrupt from OS. Closing session...")
		cancel()
	}()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-v" {
			ShowVersion()
			os.Exit(0)
		}
	}

	config, err := ParseCLI(os.Args[1:])
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}
	if err := config.Validate(); err != nil {
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}
	syncConfig, err := config.SyncConfig()
	if err != nil {
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}

	if err := SetupLogging(config.LogLevel); err != nil {
		logrus.WithError(err).Fatal("Failed to setup logging")
	}
	logger := log.ForAccount(logrus.StandardLogger(), config.Account)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	SetupCloseHandler(cancel)

	transport, err := events.NewHTTPTransport(events.HTTPConfig{
		BaseURL: config.FeedURL,
		Headers: map[string]string{"User-Agent": "mailsync/" + version},
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create feed transport")
	}

	var (
		store sync.Store
		opts  []sync.Option
	)
	if config.DryRun {
		logger.Warn("Dry run, the mirror is kept in memory only")
		store = db.NewMemoryStore()
	} else {
		pgPool, err := db.NewWithRetry(ctx, config.PostgresDSN)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to PostgreSQL after retries")
		}
		defer pgPool.Close()

		if err := db.ApplyMigrations(ctx, pgPool); err != nil {
			logger.WithError(err).Fatal("Failed to apply migrations")
		}
		store = db.NewStore(pgPool)

		listener, err := db.NewListener(ctx, pgPool, config.ListenChannel, config.Account, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to listen for live events")
		}
		opts = append(opts, sync.WithObserver(listener))
	}

	if config.EtcdDSN != "" {
		etcdClient, err := etcd.NewClientWithRetry(ctx, config.EtcdDSN)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to etcd after retries")
		}
		defer etcdClient.Close()

		lock, err := etcd.NewAccountLock(ctx, etcdClient, config.Account, etcd.DefaultLockTTL, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create account lock")
		}
		opts = append(opts, sync.WithLock(lock))
	}

	syncService := sync.NewService(syncConfig, store, transport, events.NewDeltaBuilder(), logger, opts...)
	switch err := syncService.Start(ctx); {
	case errors.Is(err, etcd.ErrAccountLocked):
		logger.Warn("Account is synced by another worker, exiting")
	case err != nil && ctx.Err() == nil:
		logger.WithError(err).Fatal("Synchronization failed")
	}

	logger.Info("Graceful shutdown completed")
}
