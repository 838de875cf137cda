package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gigflow/logger"
)

// Store opens scoped transactions over the account tables. Transaction must
// commit when fn returns nil and roll back on every other exit path.
type Store interface {
	Transaction(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of reads and writes the engine performs inside one transaction.
// Missing rows are reported as ErrNotFound.
type Tx interface {
	// GetProfile loads a profile and holds its row lock until the transaction ends.
	GetProfile(ctx context.Context, id int64) (Profile, error)
	// GetJobWithContract loads and locks a job whose contract belongs to clientID.
	GetJobWithContract(ctx context.Context, jobID, clientID int64) (JobWithContract, error)
	SumUnpaidJobPrices(ctx context.Context, clientID int64, status ContractStatus) (int64, error)
	SaveProfile(ctx context.Context, p Profile) error
	SaveJob(ctx context.Context, j Job) error
	EnqueueEvent(ctx context.Context, topic string, payload map[string]any) error
}

const defaultTxTimeout = 5 * time.Second

// Service is the ledger engine: every operation is one transaction that
// loads, validates, writes and commits, or aborts without writing.
type Service struct {
	store     Store
	log       *logger.Logger
	now       func() time.Time
	txTimeout time.Duration
	tracer    trace.Tracer
}

func NewService(store Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		store:     store,
		log:       log.With("component", "ledger"),
		now:       time.Now,
		txTimeout: defaultTxTimeout,
		tracer:    otel.Tracer("gigflow/ledger"),
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithTxTimeout bounds how long a single operation may hold its transaction.
func (s *Service) WithTxTimeout(d time.Duration) *Service {
	if d > 0 {
		s.txTimeout = d
	}
	return s
}

// PayJob pays jobID on behalf of payerProfileID, who must be the client on
// the job's contract. A job belonging to another client is reported as
// ErrNotFound.
func (s *Service) PayJob(ctx context.Context, jobID, payerProfileID int64) error {
	ctx, span := s.tracer.Start(ctx, "ledger.PayJob", trace.WithAttributes(
		attribute.Int64("ledger.job_id", jobID),
		attribute.Int64("ledger.payer_id", payerProfileID),
	))
	defer span.End()

	ctx, cancel := s.txContext(ctx)
	defer cancel()

	var price int64
	err := s.store.Transaction(ctx, func(tx Tx) error {
		jc, err := tx.GetJobWithContract(ctx, jobID, payerProfileID)
		if err != nil {
			return err
		}
		if jc.Contract.ContractorID == payerProfileID {
			return fmt.Errorf("%w: contract %d has the same client and contractor", ErrInvariantViolation, jc.Contract.ID)
		}

		client, contractor, err := loadPair(ctx, tx, payerProfileID, jc.Contract.ContractorID)
		if err != nil {
			return err
		}

		if err := ValidatePayment(jc, client); err != nil {
			return err
		}

		price = jc.Job.Price
		if price <= 0 {
			return fmt.Errorf("%w: job %d has price %d", ErrInvariantViolation, jc.Job.ID, price)
		}
		clientAfter := client.Balance - price
		contractorAfter := contractor.Balance + price
		if err := CheckTransfer(client.Balance, contractor.Balance, clientAfter, contractorAfter); err != nil {
			return err
		}

		client.Balance = clientAfter
		contractor.Balance = contractorAfter
		if err := tx.SaveProfile(ctx, client); err != nil {
			return err
		}
		if err := tx.SaveProfile(ctx, contractor); err != nil {
			return err
		}

		paidAt := s.now().UTC()
		jc.Job.Paid = true
		jc.Job.PaymentDate = &paidAt
		if err := tx.SaveJob(ctx, jc.Job); err != nil {
			return err
		}

		return tx.EnqueueEvent(ctx, TopicJobPaid, map[string]any{
			"job_id":        jc.Job.ID,
			"contract_id":   jc.Contract.ID,
			"client_id":     client.ID,
			"contractor_id": contractor.ID,
			"amount":        price,
			"paid_at":       paidAt,
		})
	})

	return s.finish(span, "pay_job", err, "job_id", jobID, "payer_id", payerProfileID, "amount", price)
}

// Deposit moves amount from sourceProfileID to destProfileID. Both must be
// clients and amount may not exceed a quarter of the source's unpaid work
// on in-progress contracts.
func (s *Service) Deposit(ctx context.Context, sourceProfileID, destProfileID, amount int64) error {
	ctx, span := s.tracer.Start(ctx, "ledger.Deposit", trace.WithAttributes(
		attribute.Int64("ledger.source_id", sourceProfileID),
		attribute.Int64("ledger.destination_id", destProfileID),
		attribute.Int64("ledger.amount", amount),
	))
	defer span.End()

	// A self-deposit is rejected whatever the amount, so it outranks the
	// amount guard.
	if amount <= 0 && sourceProfileID != destProfileID {
		return s.finish(span, "deposit", ErrInvalidAmount, "source_id", sourceProfileID, "destination_id", destProfileID, "amount", amount)
	}

	ctx, cancel := s.txContext(ctx)
	defer cancel()

	err := s.store.Transaction(ctx, func(tx Tx) error {
		var (
			source, dest Profile
			err          error
		)
		if sourceProfileID == destProfileID {
			source, err = tx.GetProfile(ctx, sourceProfileID)
			dest = source
		} else {
			source, dest, err = loadPair(ctx, tx, sourceProfileID, destProfileID)
		}
		if err != nil {
			return err
		}

		outstanding, err := tx.SumUnpaidJobPrices(ctx, sourceProfileID, ContractStatusInProgress)
		if err != nil {
			return err
		}

		if err := ValidateDeposit(source, dest, amount, outstanding); err != nil {
			return err
		}

		sourceAfter := source.Balance - amount
		destAfter := dest.Balance + amount
		if err := CheckTransfer(source.Balance, dest.Balance, sourceAfter, destAfter); err != nil {
			return err
		}

		source.Balance = sourceAfter
		dest.Balance = destAfter
		if err := tx.SaveProfile(ctx, source); err != nil {
			return err
		}
		if err := tx.SaveProfile(ctx, dest); err != nil {
			return err
		}

		return tx.EnqueueEvent(ctx, TopicDepositCompleted, map[string]any{
			"source_id":      source.ID,
			"destination_id": dest.ID,
			"amount":         amount,
		})
	})

	return s.finish(span, "deposit", err, "source_id", sourceProfileID, "destination_id", destProfileID, "amount", amount)
}

// txContext detaches the operation from caller cancellation so an in-flight
// transaction always resolves, and bounds it with the configured timeout.
func (s *Service) txContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.txTimeout)
}

// loadPair reads two distinct profiles in ascending id order so concurrent
// transfers over the same pair always lock rows in the same sequence.
func loadPair(ctx context.Context, tx Tx, a, b int64) (Profile, Profile, error) {
	first, second := a, b
	if second < first {
		first, second = second, first
	}

	p1, err := tx.GetProfile(ctx, first)
	if err != nil {
		return Profile{}, Profile{}, err
	}
	p2, err := tx.GetProfile(ctx, second)
	if err != nil {
		return Profile{}, Profile{}, err
	}

	if p1.ID == a {
		return p1, p2, nil
	}
	return p2, p1, nil
}

func (s *Service) finish(span trace.Span, op string, err error, kv ...interface{}) error {
	fields := append([]interface{}{"op", op}, kv...)

	if err == nil {
		span.SetAttributes(attribute.String("ledger.outcome", "committed"))
		s.log.Info("ledger operation committed", fields...)
		return nil
	}

	if errors.Is(err, ErrNotFound) {
		span.SetAttributes(attribute.String("ledger.outcome", "not_found"))
		s.log.Debug("ledger operation aborted", append(fields, "reason", "not_found")...)
		return ErrNotFound
	}

	if rej, ok := IsRejection(err); ok {
		span.SetAttributes(attribute.String("ledger.outcome", rej.Code))
		s.log.Debug("ledger operation rejected", append(fields, "reason", rej.Code)...)
		return rej
	}

	span.RecordError(err)
	if errors.Is(err, ErrInvariantViolation) {
		span.SetStatus(codes.Error, "invariant violation")
		s.log.Error("ledger invariant violated; transaction aborted", append(fields, "error", err)...)
		return err
	}

	span.SetStatus(codes.Error, "store unavailable")
	s.log.Warn("ledger operation aborted by store fault", append(fields, "error", err)...)
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
