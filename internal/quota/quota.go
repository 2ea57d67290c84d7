// Package quota talks to the usage-quota service that decides whether a
// user may open a session.
package quota

import "context"

//go:generate mockgen -source=quota.go -destination=quotamock/service.go -package=quotamock

// Decision is the quota service's answer for one feature.
type Decision struct {
	Allowed       bool   `json:"allowed"`
	Reason        string `json:"reason,omitempty"`
	CanRenew      bool   `json:"canRenew"`
	CurrentPlan   string `json:"currentPlan"`
	RemainingDays int    `json:"remainingDays"`
	UsedTokens    int64  `json:"usedTokens"`
	TotalTokens   int64  `json:"totalTokens"`
	// RemainingQuota is derived, never sent by the service.
	RemainingQuota int64 `json:"-"`
}

type Service interface {
	CheckPermission(ctx context.Context, feature string) (Decision, error)
	RecordUsage(ctx context.Context, feature string, count int) error
}
