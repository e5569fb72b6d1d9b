package models

import "time"

type AccountState string

const (
	AccountPending   AccountState = "pending"
	AccountRunning   AccountState = "running"
	AccountCompleted AccountState = "completed"
	AccountFailed    AccountState = "failed"
	AccountStopped   AccountState = "stopped"
)

// AccountStatus — состояние одного аккаунта для супервизора и /healthz.
type AccountStatus struct {
	Name      string       `json:"name"`
	State     AccountState `json:"state"`
	StartedAt time.Time    `json:"started_at,omitempty"`
	EndedAt   time.Time    `json:"ended_at,omitempty"`
	Completed int          `json:"completed_cycles"`
	Error     string       `json:"error,omitempty"`
}
