package ledger

import "time"

type ProfileType string

const (
	ProfileTypeClient     ProfileType = "client"
	ProfileTypeContractor ProfileType = "contractor"
)

type ContractStatus string

const (
	ContractStatusNew        ContractStatus = "new"
	ContractStatusInProgress ContractStatus = "in_progress"
	ContractStatusTerminated ContractStatus = "terminated"
)

// Profile mirrors the profiles table. Balance is kept in integer minor units
// and is written only by the Engine.
type Profile struct {
	ID         int64
	FirstName  string
	LastName   string
	Profession string
	Type       ProfileType
	Balance    int64
}

// Contract binds one client profile to one contractor profile.
type Contract struct {
	ID           int64
	Terms        string
	Status       ContractStatus
	ClientID     int64
	ContractorID int64
}

// Job is a billable unit of work under a contract. Paid flips false->true once.
type Job struct {
	ID          int64
	Description string
	Price       int64
	Paid        bool
	PaymentDate *time.Time
	ContractID  int64
}

// JobWithContract is the joined row loaded by PayJob.
type JobWithContract struct {
	Job      Job
	Contract Contract
}

// CallerProfile is the identity handed to the engine by the request layer.
type CallerProfile struct {
	ID   int64
	Type ProfileType
}

const (
	// TopicJobPaid is enqueued in the same transaction that marks a job paid.
	TopicJobPaid = "ledger.job_paid"
	// TopicDepositCompleted is enqueued in the same transaction that moves a deposit.
	TopicDepositCompleted = "ledger.deposit_completed"
)
