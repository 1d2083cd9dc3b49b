/*
worker.go - Outbox worker

PURPOSE:
  Drains the outbox written by the settlement ledger and the wallet
  service. Events are committed together with the change they describe;
  this worker delivers them afterwards, so a slow notifier or provider
  never blocks a payment.

EVENTS:
  - settlement.recorded      → Notifier (receipt to the parent)
  - settlement.unallocated   → Notifier (reconciliation alert)
  - wallet.provisioning_requested → Provisioner, then WalletService.AssignAccount

DELIVERY:
  At least once. A failed event keeps its place, its attempt counter goes
  up, and it is skipped once MaxAttempts is reached. Handlers must be
  idempotent.

SCHEDULING:
  robfig/cron with SkipIfStillRunning, so runs never overlap. RunNow is the
  manual trigger used by the admin endpoint and by tests.

USAGE:
  worker := NewOutboxWorker(store, wallets, logger)
  worker.Schedule = "@every 30s"
  worker.Start()
  defer worker.Stop()

SEE ALSO:
  - finance/outbox.go: Event kinds and payloads
  - handlers.go: RunOutbox endpoint
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/fee-engine/finance"
	"go.uber.org/zap"
)

// Notifier delivers settlement notifications.
type Notifier interface {
	Notify(ctx context.Context, event finance.OutboxEvent) error
}

// Provisioner asks the payment provider for a dedicated account.
type Provisioner interface {
	RequestAccount(ctx context.Context, req finance.WalletProvisioningPayload) (finance.AccountDetails, error)
}

var errNoProvisioner = errors.New("no account provisioner configured")

// RunSummary counts the outcome of one worker run.
type RunSummary struct {
	Processed int
	Failed    int
	Skipped   int
}

type OutboxWorker struct {
	Store       finance.Store
	Wallets     *finance.WalletService
	Notifier    Notifier
	Provisioner Provisioner
	Logger      *zap.Logger
	Schedule    string
	BatchSize   int
	MaxAttempts int
	Now         func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
	run  sync.Mutex
}

func NewOutboxWorker(store finance.Store, wallets *finance.WalletService, logger *zap.Logger) *OutboxWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("outbox")
	return &OutboxWorker{
		Store:       store,
		Wallets:     wallets,
		Notifier:    LogNotifier{Logger: logger},
		Logger:      logger,
		Schedule:    "@every 30s",
		BatchSize:   50,
		MaxAttempts: 5,
		Now:         time.Now,
	}
}

// Start schedules RunNow on w.Schedule. Calling Start twice is a no-op.
func (w *OutboxWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cron != nil {
		return nil
	}
	log := cronLogger{w.Logger.Sugar()}
	c := cron.New(cron.WithLogger(log), cron.WithChain(cron.SkipIfStillRunning(log)))
	if _, err := c.AddFunc(w.Schedule, func() { w.RunNow(context.Background()) }); err != nil {
		return fmt.Errorf("invalid outbox schedule %q: %w", w.Schedule, err)
	}
	c.Start()
	w.cron = c
	w.Logger.Info("started", zap.String("schedule", w.Schedule))
	return nil
}

// Stop halts scheduling and waits for a running batch to finish.
func (w *OutboxWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cron == nil {
		return
	}
	<-w.cron.Stop().Done()
	w.cron = nil
	w.Logger.Info("stopped")
}

// RunNow processes one batch of pending events.
func (w *OutboxWorker) RunNow(ctx context.Context) RunSummary {
	w.run.Lock()
	defer w.run.Unlock()

	var summary RunSummary
	events, err := w.Store.PendingEvents(ctx, w.BatchSize, w.MaxAttempts)
	if err != nil {
		w.Logger.Error("list pending events", zap.Error(err))
		return summary
	}

	for _, event := range events {
		if ctx.Err() != nil {
			summary.Skipped += len(events) - summary.Processed - summary.Failed
			break
		}
		if err := w.dispatch(ctx, event); err != nil {
			summary.Failed++
			w.Logger.Warn("event failed",
				zap.String("event_id", string(event.ID)),
				zap.String("kind", string(event.Kind)),
				zap.Int("attempt", event.Attempts+1),
				zap.Error(err))
			if markErr := w.Store.MarkEventFailed(ctx, event.ID, err.Error()); markErr != nil {
				w.Logger.Error("mark event failed", zap.String("event_id", string(event.ID)), zap.Error(markErr))
			}
			continue
		}
		if err := w.Store.MarkEventProcessed(ctx, event.ID, w.Now().UTC()); err != nil {
			w.Logger.Error("mark event processed", zap.String("event_id", string(event.ID)), zap.Error(err))
			summary.Failed++
			continue
		}
		summary.Processed++
	}

	if len(events) > 0 {
		w.Logger.Info("run complete",
			zap.Int("processed", summary.Processed),
			zap.Int("failed", summary.Failed),
			zap.Int("skipped", summary.Skipped))
	}
	return summary
}

func (w *OutboxWorker) dispatch(ctx context.Context, event finance.OutboxEvent) error {
	switch event.Kind {
	case finance.EventSettlementRecorded, finance.EventSettlementUnallocated:
		if w.Notifier == nil {
			return nil
		}
		return w.Notifier.Notify(ctx, event)

	case finance.EventWalletProvisioning:
		if w.Provisioner == nil {
			return errNoProvisioner
		}
		var payload finance.WalletProvisioningPayload
		if err := event.Decode(&payload); err != nil {
			return err
		}
		details, err := w.Provisioner.RequestAccount(ctx, payload)
		if err != nil {
			return fmt.Errorf("request account: %w", err)
		}
		_, err = w.Wallets.AssignAccount(ctx, payload.WalletID, details)
		return err

	default:
		return fmt.Errorf("unknown event kind %q", event.Kind)
	}
}

// =============================================================================
// DEFAULT COLLABORATORS
// =============================================================================

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, event finance.OutboxEvent) error {
	switch event.Kind {
	case finance.EventSettlementUnallocated:
		var p finance.SettlementUnallocatedPayload
		if err := event.Decode(&p); err != nil {
			return err
		}
		n.Logger.Warn("settlement needs reconciliation",
			zap.String("reference", p.Reference),
			zap.Stringer("amount", p.Amount),
			zap.String("reason", p.Reason))
	default:
		var p finance.SettlementRecordedPayload
		if err := event.Decode(&p); err != nil {
			return err
		}
		n.Logger.Info("settlement receipt",
			zap.String("reference", p.Reference),
			zap.Stringer("amount", p.Amount),
			zap.String("status", string(p.Status)),
			zap.Int("allocations", p.Allocations))
	}
	return nil
}

// SandboxProvisioner hands out deterministic test accounts. Development only.
type SandboxProvisioner struct {
	BankName string

	mu   sync.Mutex
	next int
}

func (p *SandboxProvisioner) RequestAccount(_ context.Context, req finance.WalletProvisioningPayload) (finance.AccountDetails, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++

	bank := p.BankName
	if bank == "" {
		bank = "Test Bank"
	}
	return finance.AccountDetails{
		CustomerCode:  "CUS_" + string(req.ParentID),
		AccountNumber: fmt.Sprintf("99%08d", p.next),
		AccountName:   req.Name,
		BankName:      bank,
	}, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
