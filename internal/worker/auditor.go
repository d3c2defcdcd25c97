// Package worker verifies, out of band, that cached account balances equal
// the signed sum of their ledger rows.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"budget/internal/core"
	applog "budget/internal/log"
)

// Ledger is the read and repair surface the auditor needs from storage.
type Ledger interface {
	AllAccounts(ctx context.Context) ([]core.Account, error)
	AuditAccount(ctx context.Context, accountID int64) (core.BalanceAudit, error)
	RepairAccount(ctx context.Context, accountID int64) (core.BalanceAudit, error)
}

// Report summarizes one verification pass.
type Report struct {
	Checked  int
	Drifted  []core.BalanceAudit // audits taken before any repair, by account ID
	Repaired int
}

type Auditor struct {
	ledger      Ledger
	concurrency int
}

func NewAuditor(ledger Ledger, concurrency int) *Auditor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Auditor{ledger: ledger, concurrency: concurrency}
}

// HandleEvent audits every account a committed mutation touched. Drift is
// logged, not returned: redelivering the event would not fix it.
func (a *Auditor) HandleEvent(ctx context.Context, e core.LedgerEvent) error {
	for _, accountID := range e.AccountIDs {
		audit, err := a.ledger.AuditAccount(ctx, accountID)
		if errors.Is(err, core.ErrNotFound) {
			slog.WarnContext(ctx, "Audited account no longer exists",
				applog.FieldComponent, applog.ComponentWorker,
				applog.FieldAccountID, accountID,
				applog.FieldEventKind, string(e.Kind))
			continue
		}
		if err != nil {
			return fmt.Errorf("audit account %d: %w", accountID, err)
		}
		if !audit.Consistent() {
			logDrift(ctx, audit, "event", string(e.Kind), applog.FieldTransactionID, e.TransactionID)
		}
	}
	return nil
}

// VerifyAll audits every account with bounded concurrency.
func (a *Auditor) VerifyAll(ctx context.Context) (Report, error) {
	return a.run(ctx, false)
}

// RepairAll audits every account and resets drifted balances to their
// ledger sums.
func (a *Auditor) RepairAll(ctx context.Context) (Report, error) {
	return a.run(ctx, true)
}

func (a *Auditor) run(ctx context.Context, repair bool) (Report, error) {
	start := time.Now()
	accounts, err := a.ledger.AllAccounts(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list accounts: %w", err)
	}

	var (
		mu     sync.Mutex
		report = Report{Checked: len(accounts)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, acc := range accounts {
		accountID := acc.ID
		g.Go(func() error {
			audit, err := a.ledger.AuditAccount(gctx, accountID)
			if err != nil {
				return fmt.Errorf("audit account %d: %w", accountID, err)
			}
			if audit.Consistent() {
				return nil
			}
			logDrift(gctx, audit)

			repaired := false
			if repair {
				if _, err := a.ledger.RepairAccount(gctx, accountID); err != nil {
					return fmt.Errorf("repair account %d: %w", accountID, err)
				}
				repaired = true
				slog.InfoContext(gctx, "Account balance repaired",
					applog.FieldComponent, applog.ComponentWorker,
					applog.FieldOperation, applog.OpRepair,
					applog.FieldAccountID, accountID,
					applog.FieldBalance, core.FormatAmount(audit.Expected))
			}

			mu.Lock()
			report.Drifted = append(report.Drifted, audit)
			if repaired {
				report.Repaired++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	sort.Slice(report.Drifted, func(i, j int) bool {
		return report.Drifted[i].AccountID < report.Drifted[j].AccountID
	})

	slog.InfoContext(ctx, "Ledger verification completed",
		applog.FieldComponent, applog.ComponentWorker,
		applog.FieldOperation, applog.OpVerify,
		"checked", report.Checked,
		"drifted", len(report.Drifted),
		"repaired", report.Repaired,
		applog.FieldDuration, time.Since(start).Milliseconds())

	return report, nil
}

// RunPeriodic calls VerifyAll every interval until ctx is done. A failed
// pass is logged and retried at the next tick.
func (a *Auditor) RunPeriodic(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.VerifyAll(ctx); err != nil && ctx.Err() == nil {
				slog.ErrorContext(ctx, "Periodic ledger verification failed",
					applog.FieldComponent, applog.ComponentWorker,
					applog.FieldError, err)
			}
		}
	}
}

func logDrift(ctx context.Context, audit core.BalanceAudit, extra ...any) {
	args := []any{
		applog.FieldComponent, applog.ComponentWorker,
		applog.FieldOperation, applog.OpVerify,
		applog.FieldAccountID, audit.AccountID,
		applog.FieldUserID, audit.UserID,
		applog.FieldBalance, core.FormatAmount(audit.Balance),
		"expected", core.FormatAmount(audit.Expected),
		"drift", core.FormatAmount(audit.Drift()),
	}
	slog.ErrorContext(ctx, "Account balance drifted from ledger", append(args, extra...)...)
}
