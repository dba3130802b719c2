package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"keygate/internal/config"
	"keygate/internal/infrastructure"
	"keygate/internal/notify"
	"keygate/internal/services"
	"keygate/internal/store"
	"keygate/pkg/contracts"
	"keygate/pkg/contracts/domain"
)

func main() {
	action := flag.String("action", "issue", "action: issue | stats | migrate")
	email := flag.String("email", "", "owner email for issued licenses")
	ownerName := flag.String("name", "", "owner name for issued licenses")
	plan := flag.String("plan", string(domain.PlanStandard), "plan tier: standard | professional | enterprise")
	source := flag.String("source", string(domain.SourcePartnerGrant), "issuance source: purchase | partner")
	count := flag.Int("count", 1, "number of licenses to issue")
	workers := flag.Int("workers", 4, "concurrent issuance workers")
	printKeys := flag.Bool("print-keys", false, "write plaintext keys to stdout instead of the configured webhook")
	dryRun := flag.Bool("dry-run", false, "issue against an in-memory store without persisting anything")
	direction := flag.String("direction", "status", "migrate direction: up | down | status")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Warn("Failed to load config, using defaults", "error", err)
		cfg = config.Default()
	}

	if err := cfg.EnsureDirectories(); err != nil {
		slog.Warn("Failed to create data directories", "error", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		slog.Warn("Failed to initialize logger, using default", "error", err)
		logger = slog.Default()
	}

	logger.Info("keygen starting",
		slog.String("action", *action),
		slog.String("build", contracts.CurrentBuild(config.AppVersion).String()))

	ctx := context.Background()

	switch *action {
	case "issue":
		err = issueLicenses(ctx, cfg, logger, issueOptions{
			email:     *email,
			ownerName: *ownerName,
			plan:      domain.PlanType(*plan),
			source:    domain.IssuanceSource(*source),
			count:     *count,
			workers:   *workers,
			printKeys: *printKeys,
			dryRun:    *dryRun,
		})
	case "stats":
		err = showStats(ctx, cfg, logger)
	case "migrate":
		err = runMigrations(cfg, logger, *direction)
	default:
		err = fmt.Errorf("unknown action %q, want issue, stats or migrate", *action)
	}
	if err != nil {
		logger.Error("keygen failed",
			slog.String("action", *action),
			slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type issueOptions struct {
	email     string
	ownerName string
	plan      domain.PlanType
	source    domain.IssuanceSource
	count     int
	workers   int
	printKeys bool
	dryRun    bool
}

// issueLicenses creates a batch of licenses through the same issuance
// service the server runs. Keys surface exactly once: on stdout with
// -print-keys, or through the configured webhook sink.
func issueLicenses(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts issueOptions) error {
	if opts.email == "" {
		return fmt.Errorf("-email is required for the issue action")
	}
	if opts.count < 1 {
		return fmt.Errorf("-count must be at least 1")
	}
	if opts.workers < 1 {
		opts.workers = 1
	}
	if opts.workers > opts.count {
		opts.workers = opts.count
	}

	licenseStore, db, err := openStore(cfg, logger, opts.dryRun)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	var notifier notify.Notifier
	switch {
	case opts.printKeys:
		notifier = &consoleNotifier{out: os.Stdout}
	case cfg.Notifier.Enabled:
		notifier = notify.NewWebhookNotifier(cfg.Notifier.WebhookURL, cfg.Notifier.Timeout, logger)
	default:
		logger.Warn("no key delivery configured, issued keys cannot be recovered afterwards",
			slog.String("hint", "pass -print-keys or enable the notifier"))
		notifier = notify.Noop{}
	}

	var audit *services.AuditLog
	if !opts.dryRun {
		audit = services.NewAuditLog(cfg.GetAuditLogFile(), logger)
	}

	svc := services.NewIssuanceService(licenseStore, notifier, audit, nil, logger)

	logger.Info("issuing licenses",
		slog.Int("count", opts.count),
		slog.Int("workers", opts.workers),
		slog.String("plan", string(opts.plan)),
		slog.String("source", string(opts.source)),
		slog.Bool("dry_run", opts.dryRun))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers)

	results := make(chan *services.IssuanceResult, opts.count)
	for i := 0; i < opts.count; i++ {
		g.Go(func() error {
			res, err := svc.Issue(gctx, services.IssuanceInput{
				OwnerEmail: opts.email,
				OwnerName:  opts.ownerName,
				Plan:       opts.plan,
				Source:     opts.source,
			})
			if err != nil {
				return err
			}
			results <- res
			return nil
		})
	}

	issueErr := g.Wait()
	close(results)

	// Pending notices carry the only copy of each plaintext key, so they
	// drain before the summary prints and the process exits.
	svc.DrainNotifications()

	issued := 0
	for res := range results {
		issued++
		fmt.Printf("issued %s  ****-%s\n", res.LicenseID, res.KeySuffix)
	}

	logger.Info("issuance finished",
		slog.Int("issued", issued),
		slog.Int("requested", opts.count))
	fmt.Printf("Issued %d of %d licenses\n", issued, opts.count)

	if issueErr != nil {
		return fmt.Errorf("issuance aborted: %w", issueErr)
	}
	return nil
}

// showStats prints license counts per lifecycle status.
func showStats(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	licenseStore, db, err := openStore(cfg, logger, false)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	counts, err := licenseStore.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count licenses: %w", err)
	}

	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)

	total := 0
	for _, status := range statuses {
		n := counts[domain.LicenseStatus(status)]
		total += n
		fmt.Printf("%-10s %d\n", status, n)
	}
	fmt.Printf("%-10s %d\n", "total", total)

	logger.Info("license stats", slog.Int("total", total))
	return nil
}

// runMigrations applies, rolls back or reports the schema migrations the
// server would otherwise run at startup.
func runMigrations(cfg *config.Config, logger *slog.Logger, direction string) error {
	if cfg.Database.DSN == "" {
		return fmt.Errorf("no database DSN configured, set KEYGATE_DATABASE_DSN")
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator, err := store.NewMigrator(db, logger)
	if err != nil {
		return err
	}

	switch direction {
	case "up":
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		fmt.Println("Migrations applied")
	case "down":
		if err := migrator.Down(); err != nil {
			return fmt.Errorf("roll back migration: %w", err)
		}
		fmt.Println("Rolled back one migration")
	case "status":
		current, latest, err := migrator.Status()
		if err != nil {
			return fmt.Errorf("read migration status: %w", err)
		}
		fmt.Printf("Schema version %d of %d\n", current, latest)
	default:
		return fmt.Errorf("unknown migrate direction %q, want up, down or status", direction)
	}
	return nil
}

// openStore returns the license store for the run. Dry runs get the
// in-memory store; everything else requires a configured DSN.
func openStore(cfg *config.Config, logger *slog.Logger, dryRun bool) (services.LicenseStore, *store.DB, error) {
	if dryRun {
		logger.Warn("dry run, using an in-memory license store")
		return store.NewMemStore(), nil, nil
	}
	if cfg.Database.DSN == "" {
		return nil, nil, fmt.Errorf("no database DSN configured, set KEYGATE_DATABASE_DSN or pass -dry-run")
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	return store.NewLicenseRepository(db), db, nil
}

func openDB(cfg *config.Config) (*store.DB, error) {
	db, err := store.Open(store.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open license store: %w", err)
	}
	return db, nil
}

// consoleNotifier writes each one-time key notice to stdout. It backs the
// -print-keys flag for operators who hand keys out through a side channel;
// nothing is retained after the line is written.
type consoleNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

func (c *consoleNotifier) Deliver(_ context.Context, notice notify.Notice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "%s  %s  %s\n", notice.LicenseKey, notice.PlanLabel, notice.OwnerEmail)
	return err
}
