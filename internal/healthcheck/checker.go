// Package healthcheck reports whether a connected platform account can still
// send and receive.
package healthcheck

import (
	"context"

	"github.com/armando3069/zottis/internal/accounts"
)

const (
	// StatusOK indicates check passed.
	StatusOK = "ok"
	// StatusWarn indicates check completed with warning.
	StatusWarn = "warn"
	// StatusError indicates check failed.
	StatusError = "error"
)

// CheckResult is one check item produced by a checker.
type CheckResult struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Subtitle string         `json:"subtitle,omitempty"`
	Status   string         `json:"status"`
	Summary  string         `json:"summary"`
	Detail   string         `json:"detail,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Checker evaluates one or more checks for a platform account.
type Checker interface {
	ListChecks(ctx context.Context, account accounts.Account) []CheckResult
}

// Run collects the results of every checker in order.
func Run(ctx context.Context, account accounts.Account, checkers ...Checker) []CheckResult {
	results := []CheckResult{}
	for _, c := range checkers {
		if c == nil {
			continue
		}
		results = append(results, c.ListChecks(ctx, account)...)
	}
	return results
}

// Overall is the worst status among results, or ok when there are none.
func Overall(results []CheckResult) string {
	status := StatusOK
	for _, r := range results {
		switch r.Status {
		case StatusError:
			return StatusError
		case StatusWarn:
			status = StatusWarn
		}
	}
	return status
}
