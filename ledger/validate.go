package ledger

import (
	"fmt"
	"math"
)

// depositCapDivisor expresses the 25% cap as amount*4 <= outstanding.
const depositCapDivisor = 4

// ValidatePayment decides whether client may pay the loaded job. The first
// failing check wins: paid status, then contract status, then balance.
func ValidatePayment(jc JobWithContract, client Profile) error {
	if jc.Job.Paid {
		return ErrAlreadyPaid
	}
	if jc.Contract.Status != ContractStatusInProgress {
		return ErrContractNotActive
	}
	if client.Balance < jc.Job.Price {
		return ErrInsufficientBalance
	}
	return nil
}

// ValidateDeposit decides whether amount may move from source to dest given
// the source's outstanding unpaid-jobs total. Order: self, type, cap, balance.
func ValidateDeposit(source, dest Profile, amount, outstanding int64) error {
	if source.ID == dest.ID {
		return ErrSelfDeposit
	}
	if source.Type != ProfileTypeClient || dest.Type != ProfileTypeClient {
		return ErrClientsOnly
	}
	if exceedsDepositCap(amount, outstanding) {
		return ErrDepositCapExceeded
	}
	if amount > source.Balance {
		return errDepositInsufficientBalance
	}
	return nil
}

func exceedsDepositCap(amount, outstanding int64) bool {
	if outstanding <= 0 {
		return amount > 0
	}
	if amount > math.MaxInt64/depositCapDivisor {
		return true
	}
	return amount*depositCapDivisor > outstanding
}

// CheckTransfer verifies the balances a transfer is about to write: both must
// stay non-negative and their sum must be unchanged.
func CheckTransfer(fromBefore, toBefore, fromAfter, toAfter int64) error {
	if fromAfter < 0 || toAfter < 0 {
		return fmt.Errorf("%w: negative balance (from=%d to=%d)", ErrInvariantViolation, fromAfter, toAfter)
	}
	if toBefore > math.MaxInt64-fromBefore {
		return fmt.Errorf("%w: balance overflow", ErrInvariantViolation)
	}
	if fromBefore+toBefore != fromAfter+toAfter {
		return fmt.Errorf("%w: sum changed %d -> %d", ErrInvariantViolation, fromBefore+toBefore, fromAfter+toAfter)
	}
	return nil
}
