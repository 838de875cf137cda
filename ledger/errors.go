package ledger

import "errors"

// Rejection is an expected business outcome. Code is stable and machine
// readable; Message is the text surfaced to callers.
type Rejection struct {
	Code    string
	Message string
}

func (r *Rejection) Error() string {
	return "ledger: " + r.Message
}

// Is matches rejections by code so callers can use the sentinels below with
// errors.Is regardless of the message variant.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Code == r.Code
}

var (
	ErrAlreadyPaid         = &Rejection{Code: "already_paid", Message: "Job is already paid"}
	ErrContractNotActive   = &Rejection{Code: "contract_not_active", Message: "Contract is not active"}
	ErrInsufficientBalance = &Rejection{Code: "insufficient_balance", Message: "Balance is not enough to pay for the job"}
	ErrSelfDeposit         = &Rejection{Code: "self_deposit", Message: "User cannot deposit itself"}
	ErrClientsOnly         = &Rejection{Code: "clients_only", Message: "Only clients can send/receive deposit"}
	ErrDepositCapExceeded  = &Rejection{Code: "deposit_cap_exceeded", Message: "Deposit cannot be above 25% of total of jobs to pay"}
	ErrInvalidAmount       = &Rejection{Code: "invalid_amount", Message: "Deposit amount must be a positive integer"}

	// errDepositInsufficientBalance carries the deposit wording of ErrInsufficientBalance.
	errDepositInsufficientBalance = &Rejection{Code: "insufficient_balance", Message: "Not enough balance"}
)

var (
	// ErrNotFound covers both a missing record and a record the caller may not act on.
	ErrNotFound = errors.New("ledger: not found")
	// ErrStoreUnavailable marks transient store faults. Nothing was committed.
	ErrStoreUnavailable = errors.New("ledger: store unavailable")
	// ErrInvariantViolation is returned when a computed state breaks a ledger invariant.
	ErrInvariantViolation = errors.New("ledger: invariant violation")
)

// StoreError wraps a store fault with the operation that hit it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "ledger: " + e.Op + ": store unavailable: " + e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

// IsRejection reports whether err is a business-rule rejection and returns it.
func IsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
