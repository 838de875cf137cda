package ledger

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidatePayment(t *testing.T) {
	client := Profile{ID: 1, Type: ProfileTypeClient, Balance: 100}
	job := func(paid bool, status ContractStatus, price int64) JobWithContract {
		return JobWithContract{
			Job:      Job{ID: 10, Price: price, Paid: paid, ContractID: 5},
			Contract: Contract{ID: 5, Status: status, ClientID: 1, ContractorID: 2},
		}
	}

	cases := []struct {
		name string
		jc   JobWithContract
		want error
	}{
		{"ok", job(false, ContractStatusInProgress, 100), nil},
		{"already paid", job(true, ContractStatusInProgress, 100), ErrAlreadyPaid},
		{"paid wins over inactive and balance", job(true, ContractStatusTerminated, 1000), ErrAlreadyPaid},
		{"new contract", job(false, ContractStatusNew, 10), ErrContractNotActive},
		{"terminated wins over balance", job(false, ContractStatusTerminated, 1000), ErrContractNotActive},
		{"insufficient balance", job(false, ContractStatusInProgress, 101), ErrInsufficientBalance},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePayment(tc.jc, client)
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestValidateDeposit(t *testing.T) {
	src := Profile{ID: 1, Type: ProfileTypeClient, Balance: 1000}
	dst := Profile{ID: 2, Type: ProfileTypeClient, Balance: 0}
	contractor := Profile{ID: 3, Type: ProfileTypeContractor, Balance: 0}

	cases := []struct {
		name        string
		source      Profile
		dest        Profile
		amount      int64
		outstanding int64
		want        error
	}{
		{"exactly a quarter", src, dst, 100, 400, nil},
		{"over a quarter", src, dst, 101, 400, ErrDepositCapExceeded},
		{"nothing outstanding", src, dst, 1, 0, ErrDepositCapExceeded},
		{"self deposit wins", src, src, 5000, 0, ErrSelfDeposit},
		{"contractor destination", src, contractor, 1, 400, ErrClientsOnly},
		{"contractor source", contractor, dst, 1, 400, ErrClientsOnly},
		{"cap before balance", Profile{ID: 1, Type: ProfileTypeClient, Balance: 10}, dst, 101, 400, ErrDepositCapExceeded},
		{"balance after cap", Profile{ID: 1, Type: ProfileTypeClient, Balance: 10}, dst, 100, 400, ErrInsufficientBalance},
		{"huge amount does not overflow", src, dst, math.MaxInt64, math.MaxInt64, ErrDepositCapExceeded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateDeposit(tc.source, tc.dest, tc.amount, tc.outstanding)
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDepositInsufficientBalanceMessage(t *testing.T) {
	err := ValidateDeposit(Profile{ID: 1, Type: ProfileTypeClient, Balance: 10}, Profile{ID: 2, Type: ProfileTypeClient}, 20, 400)

	rej, ok := IsRejection(err)
	require.True(t, ok)
	require.Equal(t, "insufficient_balance", rej.Code)
	require.Equal(t, "Not enough balance", rej.Message)
	require.True(t, errors.Is(err, ErrInsufficientBalance))
}

func TestCheckTransfer(t *testing.T) {
	require.NoError(t, CheckTransfer(100, 0, 40, 60))
	require.ErrorIs(t, CheckTransfer(10, 0, -1, 11), ErrInvariantViolation)
	require.ErrorIs(t, CheckTransfer(10, 0, 5, 6), ErrInvariantViolation)
	require.ErrorIs(t, CheckTransfer(math.MaxInt64, 1, math.MaxInt64-1, 2), ErrInvariantViolation)
}

func TestStoreErrorMatchesStoreUnavailable(t *testing.T) {
	cause := errors.New("connection reset")
	err := error(&StoreError{Op: "pay_job", Err: cause})

	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, ErrNotFound)
}
