// Package jobs contains the periodic maintenance work run alongside the HTTP server.
//
// token_cleanup.go implements TokenCleanupJob, which clears password reset tokens past
// their expiry, deletes accounts that never followed their verification link within the
// retention window, and prunes old audit entries. Each step is independent: a failure is
// logged and the remaining steps still run.
package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/FilipRus/boxItFindIt/internal/config"
)

// AccountCleaner is the subset of the user repository the job needs.
type AccountCleaner interface {
	ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
	DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditPruner deletes audit entries created before cutoff.
type AuditPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// TokenCleanupJob periodically removes stale account tokens, unverified accounts and old audit entries.
type TokenCleanupJob struct {
	users    AccountCleaner
	audit    AuditPruner
	interval time.Duration

	unverifiedRetention time.Duration
	auditRetention      time.Duration

	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewTokenCleanupJob creates a TokenCleanupJob. audit may be nil to skip pruning.
func NewTokenCleanupJob(users AccountCleaner, audit AuditPruner, jobs config.JobsConfig, auditCfg config.AuditConfig) *TokenCleanupJob {
	interval := jobs.TokenCleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	return &TokenCleanupJob{
		users:               users,
		audit:               audit,
		interval:            interval,
		unverifiedRetention: jobs.UnverifiedRetention,
		auditRetention:      auditCfg.Retention,
		now:                 time.Now,
		stopChan:            make(chan struct{}),
	}
}

// Start runs a cleanup pass immediately and then on every tick until ctx is
// cancelled or Stop is called. It blocks; launch it with safego.Go.
func (j *TokenCleanupJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	log.Printf("Token cleanup job started (interval: %v, unverified retention: %v, audit retention: %v)",
		j.interval, j.unverifiedRetention, j.auditRetention)

	j.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			j.RunOnce(ctx)
		case <-j.stopChan:
			log.Println("Token cleanup job stopped")
			return
		case <-ctx.Done():
			log.Println("Token cleanup job context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. It is safe to call more than once.
func (j *TokenCleanupJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopChan) })
}

// CleanupResult counts the rows removed by one pass.
type CleanupResult struct {
	ResetTokensCleared  int64
	UnverifiedDeleted   int64
	AuditEntriesDeleted int64
}

// RunOnce performs a single cleanup pass.
func (j *TokenCleanupJob) RunOnce(ctx context.Context) CleanupResult {
	var res CleanupResult
	now := j.now()

	n, err := j.users.ClearExpiredResetTokens(ctx, now)
	if err != nil {
		log.Printf("Token cleanup: failed to clear expired reset tokens: %v", err)
	} else {
		res.ResetTokensCleared = n
	}

	if j.unverifiedRetention > 0 {
		n, err := j.users.DeleteUnverifiedBefore(ctx, now.Add(-j.unverifiedRetention))
		if err != nil {
			log.Printf("Token cleanup: failed to delete unverified accounts: %v", err)
		} else {
			res.UnverifiedDeleted = n
		}
	}

	if j.audit != nil && j.auditRetention > 0 {
		n, err := j.audit.DeleteOlderThan(ctx, now.Add(-j.auditRetention))
		if err != nil {
			log.Printf("Token cleanup: failed to prune audit log: %v", err)
		} else {
			res.AuditEntriesDeleted = n
		}
	}

	if res.ResetTokensCleared+res.UnverifiedDeleted+res.AuditEntriesDeleted > 0 {
		log.Printf("Token cleanup: cleared %d reset token(s), deleted %d unverified account(s), pruned %d audit entr(ies)",
			res.ResetTokensCleared, res.UnverifiedDeleted, res.AuditEntriesDeleted)
	}
	return res
}
