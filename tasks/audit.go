// Package tasks holds the background loops run next to the server.
package tasks

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/raichat/social/monitoring"
	"github.com/raichat/social/storage"
)

const AuditInterval = 15 * time.Minute

// Auditor periodically reconciles follower counters against follow edge
// cardinality. Counters are derivative state; any drift it finds is a
// defect that got through the ledger, so repairs are counted and logged.
type Auditor struct {
	manager  *storage.Manager
	interval time.Duration
}

func NewAuditor(manager *storage.Manager, interval time.Duration) *Auditor {
	if interval <= 0 {
		interval = AuditInterval
	}
	return &Auditor{
		manager:  manager,
		interval: interval,
	}
}

func (a *Auditor) Run() {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for range ticker.C {
		repaired, err := a.manager.AuditFollowerCounts(context.Background())
		if err != nil {
			log.Errorf("Error auditing follower counts: %v", err)
			continue
		}
		if repaired > 0 {
			monitoring.CounterRepairs.Add(float64(repaired))
			log.Warnf("Follower count audit repaired %d profiles", repaired)
		}
	}
}
