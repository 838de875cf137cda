package ledger_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"gigflow/ledger"
	"gigflow/sqlitestore"
)

type fixture struct {
	store *sqlitestore.Store
	svc   *ledger.Service
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlitestore.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	now := time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)
	svc := ledger.NewService(store, nil).WithClock(func() time.Time { return now })
	return &fixture{store: store, svc: svc, now: now}
}

func (f *fixture) profile(t *testing.T, typ ledger.ProfileType, profession string, balance int64) ledger.Profile {
	t.Helper()
	p, err := f.store.CreateProfile(context.Background(), ledger.Profile{
		FirstName:  "Test",
		LastName:   string(typ),
		Profession: profession,
		Type:       typ,
		Balance:    balance,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) contract(t *testing.T, client, contractor ledger.Profile, status ledger.ContractStatus) ledger.Contract {
	t.Helper()
	c, err := f.store.CreateContract(context.Background(), ledger.Contract{
		Terms:        "bla bla bla",
		Status:       status,
		ClientID:     client.ID,
		ContractorID: contractor.ID,
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) job(t *testing.T, c ledger.Contract, price int64) ledger.Job {
	t.Helper()
	j, err := f.store.CreateJob(context.Background(), ledger.Job{Description: "work", Price: price, ContractID: c.ID})
	require.NoError(t, err)
	return j
}

func (f *fixture) balance(t *testing.T, p ledger.Profile) int64 {
	t.Helper()
	got, err := f.store.Profile(context.Background(), p.ID)
	require.NoError(t, err)
	return got.Balance
}

// untouched asserts that a rejected payment left the job unpaid and wrote no
// event.
func (f *fixture) untouched(t *testing.T, job ledger.Job) {
	t.Helper()
	ctx := context.Background()
	stored, err := f.store.Job(ctx, job.ID)
	require.NoError(t, err)
	require.False(t, stored.Paid)
	require.Nil(t, stored.PaymentDate)

	events, err := f.store.Events(ctx, "")
	require.NoError(t, err)
	require.Empty(t, events)
}

func (f *fixture) total(t *testing.T) int64 {
	t.Helper()
	total, err := f.store.TotalBalance(context.Background())
	require.NoError(t, err)
	return total
}

func TestPayJob_Succeeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := f.profile(t, ledger.ProfileTypeClient, "Wizard", 500)
	contractor := f.profile(t, ledger.ProfileTypeContractor, "Programmer", 64)
	c := f.contract(t, client, contractor, ledger.ContractStatusInProgress)
	job := f.job(t, c, 200)

	require.NoError(t, f.svc.PayJob(ctx, job.ID, client.ID))

	require.Equal(t, int64(300), f.balance(t, client))
	require.Equal(t, int64(264), f.balance(t, contractor))

	stored, err := f.store.Job(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, stored.Paid)
	require.NotNil(t, stored.PaymentDate)
	require.True(t, f.now.Equal(*stored.PaymentDate))

	events, err := f.store.Events(ctx, ledger.TopicJobPaid)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.EqualValues(t, job.ID, events[0].Payload["job_id"])
	require.EqualValues(t, 200, events[0].Payload["amount"])
	require.EqualValues(t, contractor.ID, events[0].Payload["contractor_id"])
}

func TestPayJob_AlreadyPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := f.profile(t, ledger.ProfileTypeClient, "Wizard", 500)
	contractor := f.profile(t, ledger.ProfileTypeContractor, "Programmer", 0)
	c := f.contract(t, client, contractor, ledger.ContractStatusInProgress)
	job := f.job(t, c, 200)

	require.NoError(t, f.svc.PayJob(ctx, job.ID, client.ID))
	err := f.svc.PayJob(ctx, job.ID, client.ID)
	require.ErrorIs(t, err, ledger.ErrAlreadyPaid)

	require.Equal(t, int64(300), f.balance(t, client))
	require.Equal(t, int64(200), f.balance(t, contractor))

	events, err := f.store.Events(ctx, ledger.TopicJobPaid)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestPayJob_ContractNotActive(t *testing.T) {
	for _, status := range []ledger.ContractStatus{ledger.ContractStatusTerminated, ledger.ContractStatusNew} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			client := f.profile(t, ledger.ProfileTypeClient, "Wizard", 500)
			contractor := f.profile(t, ledger.ProfileTypeContractor, "Programmer", 0)
			job := f.job(t, f.contract(t, client, contractor, status), 200)

			err := f.svc.PayJob(context.Background(), job.ID, client.ID)
			require.ErrorIs(t, err, ledger.ErrContractNotActive)
			require.Equal(t, int64(500), f.balance(t, client))
			require.Zero(t, f.balance(t, contractor))
			f.untouched(t, job)
		})
	}
}

func TestPayJob_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	client := f.profile(t, ledger.ProfileTypeClient, "Wizard", 199)
	contractor := f.profile(t, ledger.ProfileTypeContractor, "Programmer", 0)
	job := f.job(t, f.contract(t, client, contractor, ledger.ContractStatusInProgress), 200)

	err := f.svc.PayJob(context.Background(), job.ID, client.ID)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	rej, ok := ledger.IsRejection(err)
	require.True(t, ok)
	require.Equal(t, "Balance is not enough to pay for the job", rej.Message)
	require.Equal(t, int64(199), f.balance(t, client))
	require.Zero(t, f.balance(t, contractor))
	f.untouched(t, job)
}

func TestPayJob_ExactBalance(t *testing.T) {
	f := newFixture(t)
	client := f.profile(t, ledger.ProfileTypeClient, "Wizard", 200)
	contractor := f.profile(t, ledger.ProfileTypeContractor, "Programmer", 0)
	job := f.job(t, f.contract(t, client, contractor, ledger.ContractStatusInProgress), 200)

	require.NoError(t, f.svc.PayJob(context.Background(), job.ID, client.ID))
	require.Zero(t, f.balance(t, client))
	require.Equal(t, int64(200), f.balance(t, contractor))
}

func TestPayJob_NotFound(t *testing.T) {
	f := newFixture(t)
	client := f.profile(t, ledger.ProfileTypeClient, "Wizard", 500)
	other := f.profile(t, ledger.ProfileTypeClient, "Fighter", 500)
	contractor := f.profile(t, ledger.ProfileTypeContractor, "Programmer", 0)
	job := f.job(t, f.contract(t, client, contractor, ledger.ContractStatusInProgress), 200)
	before := f.total(t)

	require.ErrorIs(t, f.svc.PayJob(context.Background(), 9999, client.ID), ledger.ErrNotFound)
	// A job under someone else's contract is indistinguishable from a missing one.
	require.ErrorIs(t, f.svc.PayJob(context.Background(), job.ID, other.ID), ledger.ErrNotFound)
	require.ErrorIs(t, f.svc.PayJob(context.Background(), job.ID, contractor.ID), ledger.ErrNotFound)

	require.Equal(t, int64(1000), before)
	require.Equal(t, before, f.total(t))
	f.untouched(t, job)
}

func TestDeposit_Cap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.profile(t, ledger.ProfileTypeClient, "Wizard", 1000)
	dst := f.profile(t, ledger.ProfileTypeClient, "Fighter", 10)
	contractor := f.profile(t, ledger.ProfileTypeContractor, "Programmer", 0)
	c := f.contract(t, src, contractor, ledger.ContractStatusInProgress)
	f.job(t, c, 600)
	f.job(t, c, 400)
	// Jobs outside in-progress contracts do not count toward the cap.
	f.job(t, f.contract(t, src, contractor, ledger.ContractStatusNew), 5000)

	err := f.svc.Deposit(ctx, src.ID, dst.ID, 260)
	require.ErrorIs(t, err, ledger.ErrDepositCapExceeded)
	require.Equal(t, int64(1000), f.balance(t, src))

	require.NoError(t, f.svc.Deposit(ctx, src.ID, dst.ID, 250))
	require.Equal(t, int64(750), f.balance(t, src))
	require.Equal(t, int64(260), f.balance(t, dst))

	events, err := f.store.Events(ctx, ledger.TopicDepositCompleted)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.EqualValues(t, 250, events[0].Payload["amount"])
	require.EqualValues(t, src.ID, events[0].Payload["source_id"])
	require.EqualValues(t, dst.ID, events[0].Payload["destination_id"])
}

func TestDeposit_SelfDeposit(t *testing.T) {
	f := newFixture(t)
	src := f.profile(t, ledger.ProfileTypeClient, "Wizard", 0)

	require.ErrorIs(t, f.svc.Deposit(context.Background(), src.ID, src.ID, 1_000_000), ledger.ErrSelfDeposit)
	require.ErrorIs(t, f.svc.Deposit(context.Background(), src.ID, src.ID, 0), ledger.ErrSelfDeposit)
	require.ErrorIs(t, f.svc.Deposit(context.Background(), src.ID, src.ID, -5), ledger.ErrSelfDeposit)
	require.Zero(t, f.balance(t, src))
}

func TestDeposit_ClientsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.profile(t, ledger.ProfileTypeClient, "Wizard", 1000)
	contractor := f.profile(t, ledger.ProfileTypeContractor, "Programmer", 0)
	f.job(t, f.contract(t, src, contractor, ledger.ContractStatusInProgress), 1000)

	require.ErrorIs(t, f.svc.Deposit(ctx, src.ID, contractor.ID, 10), ledger.ErrClientsOnly)
	require.ErrorIs(t, f.svc.Deposit(ctx, contractor.ID, src.ID, 10), ledger.ErrClientsOnly)
	require.Equal(t, int64(1000), f.total(t))
}

func TestDeposit_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	src := f.profile(t, ledger.ProfileTypeClient, "Wizard", 100)
	dst := f.profile(t, ledger.ProfileTypeClient, "Fighter", 0)
	contractor := f.profile(t, ledger.ProfileTypeContractor, "Programmer", 0)
	f.job(t, f.contract(t, src, contractor, ledger.ContractStatusInProgress), 4000)

	err := f.svc.Deposit(context.Background(), src.ID, dst.ID, 101)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	require.Equal(t, int64(100), f.balance(t, src))
	require.Zero(t, f.balance(t, dst))

	events, err := f.store.Events(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestDeposit_InvalidAmount(t *testing.T) {
	f := newFixture(t)
	src := f.profile(t, ledger.ProfileTypeClient, "Wizard", 100)
	dst := f.profile(t, ledger.ProfileTypeClient, "Fighter", 0)

	require.ErrorIs(t, f.svc.Deposit(context.Background(), src.ID, dst.ID, 0), ledger.ErrInvalidAmount)
	require.ErrorIs(t, f.svc.Deposit(context.Background(), src.ID, dst.ID, -5), ledger.ErrInvalidAmount)
}

func TestDeposit_NotFound(t *testing.T) {
	f := newFixture(t)
	src := f.profile(t, ledger.ProfileTypeClient, "Wizard", 100)

	require.ErrorIs(t, f.svc.Deposit(context.Background(), src.ID, 4242, 10), ledger.ErrNotFound)
	require.ErrorIs(t, f.svc.Deposit(context.Background(), 4242, src.ID, 10), ledger.ErrNotFound)
}

// failingStore commits nothing past a forced failure on the outbox write.
type failingStore struct {
	inner *sqlitestore.Store
	err   error
}

func (s *failingStore) Transaction(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return s.inner.Transaction(ctx, func(tx ledger.Tx) error {
		return fn(&failingTx{Tx: tx, err: s.err})
	})
}

type failingTx struct {
	ledger.Tx
	err error
}

func (t *failingTx) EnqueueEvent(context.Context, string, map[string]any) error {
	return t.err
}

func TestPayJob_AtomicOnLateFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := f.profile(t, ledger.ProfileTypeClient, "Wizard", 500)
	contractor := f.profile(t, ledger.ProfileTypeContractor, "Programmer", 0)
	job := f.job(t, f.contract(t, client, contractor, ledger.ContractStatusInProgress), 200)

	svc := ledger.NewService(&failingStore{inner: f.store, err: errors.New("disk full")}, nil)
	err := svc.PayJob(ctx, job.ID, client.ID)
	require.ErrorIs(t, err, ledger.ErrStoreUnavailable)

	var storeErr *ledger.StoreError
	require.ErrorAs(t, err, &storeErr)
	require.Equal(t, "pay_job", storeErr.Op)

	require.Equal(t, int64(500), f.balance(t, client))
	require.Zero(t, f.balance(t, contractor))
	stored, err := f.store.Job(ctx, job.ID)
	require.NoError(t, err)
	require.False(t, stored.Paid)
	require.Nil(t, stored.PaymentDate)
}

type downStore struct{}

func (downStore) Transaction(context.Context, func(tx ledger.Tx) error) error {
	return errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
}

func TestOperations_StoreUnavailable(t *testing.T) {
	svc := ledger.NewService(downStore{}, nil)

	require.ErrorIs(t, svc.PayJob(context.Background(), 1, 2), ledger.ErrStoreUnavailable)
	require.ErrorIs(t, svc.Deposit(context.Background(), 1, 2, 10), ledger.ErrStoreUnavailable)
}

func TestPayJob_CallerCancellationDoesNotAbort(t *testing.T) {
	f := newFixture(t)
	client := f.profile(t, ledger.ProfileTypeClient, "Wizard", 500)
	contractor := f.profile(t, ledger.ProfileTypeContractor, "Programmer", 0)
	job := f.job(t, f.contract(t, client, contractor, ledger.ContractStatusInProgress), 200)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.svc.PayJob(ctx, job.ID, client.ID))
	require.Equal(t, int64(300), f.balance(t, client))
}

func TestPayJob_ConcurrentPayersExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := f.profile(t, ledger.ProfileTypeClient, "Wizard", 1000)
	contractor := f.profile(t, ledger.ProfileTypeContractor, "Programmer", 0)
	job := f.job(t, f.contract(t, client, contractor, ledger.ContractStatusInProgress), 300)

	var wins, alreadyPaid atomic.Int64
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			err := f.svc.PayJob(ctx, job.ID, client.ID)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ledger.ErrAlreadyPaid):
				alreadyPaid.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, int64(1), wins.Load())
	require.Equal(t, int64(15), alreadyPaid.Load())
	require.Equal(t, int64(700), f.balance(t, client))
	require.Equal(t, int64(300), f.balance(t, contractor))
}

func TestConcurrentTransfers_ConserveTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.profile(t, ledger.ProfileTypeClient, "Wizard", 5000)
	b := f.profile(t, ledger.ProfileTypeClient, "Fighter", 5000)
	contractor := f.profile(t, ledger.ProfileTypeContractor, "Programmer", 0)
	ca := f.contract(t, a, contractor, ledger.ContractStatusInProgress)
	cb := f.contract(t, b, contractor, ledger.ContractStatusInProgress)

	var jobs []ledger.Job
	for i := 0; i < 10; i++ {
		jobs = append(jobs, f.job(t, ca, 100), f.job(t, cb, 100))
	}
	// Large unpaid exposure keeps the deposit cap out of the way.
	f.job(t, ca, 1_000_000)
	f.job(t, cb, 1_000_000)

	before := f.total(t)

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			from, to := a, b
			if i%2 == 1 {
				from, to = b, a
			}
			if err := f.svc.Deposit(ctx, from.ID, to.ID, int64(10+i)); err != nil && !isRejection(err) {
				return err
			}
			return nil
		})
	}
	for _, j := range jobs {
		payer := a
		if j.ContractID == cb.ID {
			payer = b
		}
		g.Go(func() error {
			if err := f.svc.PayJob(ctx, j.ID, payer.ID); err != nil && !isRejection(err) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, before, f.total(t))
	for _, p := range []ledger.Profile{a, b, contractor} {
		require.GreaterOrEqual(t, f.balance(t, p), int64(0))
	}

	paid, err := f.store.Events(ctx, ledger.TopicJobPaid)
	require.NoError(t, err)
	require.Len(t, paid, len(jobs))
	require.Equal(t, int64(len(jobs)*100), f.balance(t, contractor))
}

func isRejection(err error) bool {
	_, ok := ledger.IsRejection(err)
	return ok
}
