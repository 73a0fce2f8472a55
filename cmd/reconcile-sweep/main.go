// Command reconcile-sweep polls the payment gateway for orders stuck in
// pending and feeds the authoritative status through the reconciler. It is
// meant to run from cron as the safety net for lost webhooks. Outcomes are
// optionally written to a gzipped CSV report.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/magotmarket/payment-service/internal/domain/order"
	"github.com/magotmarket/payment-service/internal/domain/payment"
	"github.com/magotmarket/payment-service/internal/gateway"
	"github.com/magotmarket/payment-service/internal/reconciler"
	"github.com/magotmarket/payment-service/internal/storage/postgres"
)

const pollConcurrency = 8

type sweepOutcome struct {
	orderID   string
	oldStatus string
	newStatus string
	applied   bool
	reason    string
	err       string
}

func main() {
	var (
		databaseURL string
		olderThan   time.Duration
		limit       int
		reportPath  string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.DurationVar(&olderThan, "older-than", time.Hour, "only sweep pending orders older than this")
	flag.IntVar(&limit, "limit", 500, "maximum orders to sweep in one run")
	flag.StringVar(&reportPath, "report", "", "path for the gzipped CSV outcome report (optional)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	serverKey := os.Getenv("MAGOT_GATEWAY_SERVER_KEY")
	if serverKey == "" {
		slog.Error("gateway server key is required: set MAGOT_GATEWAY_SERVER_KEY")
		os.Exit(1)
	}
	coreURL := os.Getenv("MAGOT_GATEWAY_CORE_URL")
	if coreURL == "" {
		coreURL = "https://api.sandbox.midtrans.com"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, coreURL, serverKey, olderThan, limit, reportPath); err != nil {
		slog.Error("reconciliation sweep failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("reconciliation sweep completed")
}

func run(ctx context.Context, databaseURL, coreURL, serverKey string, olderThan time.Duration, limit int, reportPath string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	orders := postgres.NewOrderRepository(pool)
	client := gateway.NewClient(
		&http.Client{Timeout: 10 * time.Second},
		gateway.Config{CoreURL: coreURL, ServerKey: serverKey},
	)
	svc := reconciler.New(orders, payment.NewVerifier(serverKey))

	cutoff := time.Now().Add(-olderThan)
	stale, err := orders.ListStalePending(ctx, cutoff, limit)
	if err != nil {
		return errors.Wrap(err, "list stale pending orders")
	}
	slog.Info("sweeping stale pending orders",
		slog.Int("count", len(stale)),
		slog.Time("cutoff", cutoff),
	)

	var (
		mu       sync.Mutex
		outcomes []sweepOutcome
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pollConcurrency)
	for _, o := range stale {
		g.Go(func() error {
			outcome := sweepOne(gctx, client, svc, o)
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "sweep orders")
	}

	applied := 0
	for _, o := range outcomes {
		if o.applied {
			applied++
		}
	}
	slog.Info("sweep outcomes", slog.Int("total", len(outcomes)), slog.Int("applied", applied))

	if reportPath != "" {
		if err := writeReport(reportPath, outcomes); err != nil {
			return errors.Wrap(err, "write report")
		}
		slog.Info("report written", slog.String("path", reportPath))
	}
	return nil
}

// sweepOne pulls the authoritative status for one order and reconciles it.
// No retry here: retries belong to the next cron run, to avoid
// duplicate-processing storms.
func sweepOne(ctx context.Context, client *gateway.Client, svc *reconciler.Service, o order.Order) sweepOutcome {
	outcome := sweepOutcome{orderID: o.ID, oldStatus: string(o.Status)}

	pollCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	status, err := client.GetTransactionStatus(pollCtx, o.ID)
	if err != nil {
		if errors.Is(err, gateway.ErrTransactionNotFound) {
			// Nothing was ever paid against this order; the session likely
			// expired unused. Leave it for the expiry notification.
			outcome.newStatus = string(o.Status)
			outcome.reason = "no gateway transaction"
			return outcome
		}
		outcome.err = err.Error()
		return outcome
	}

	result, err := svc.ProcessStatus(ctx, status)
	if err != nil {
		outcome.err = err.Error()
		return outcome
	}

	outcome.newStatus = string(result.Status)
	outcome.applied = result.Applied
	outcome.reason = string(result.Reason)
	return outcome
}

func writeReport(path string, outcomes []sweepOutcome) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create report file")
	}
	defer f.Close()

	zw := pgzip.NewWriter(f)
	cw := csv.NewWriter(zw)

	if err := cw.Write([]string{"order_id", "old_status", "new_status", "applied", "reason", "error"}); err != nil {
		return errors.Wrap(err, "write header")
	}
	for _, o := range outcomes {
		applied := "false"
		if o.applied {
			applied = "true"
		}
		if err := cw.Write([]string{o.orderID, o.oldStatus, o.newStatus, applied, o.reason, o.err}); err != nil {
			return errors.Wrap(err, "write row")
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, "flush csv")
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "close gzip writer")
	}
	return nil
}
