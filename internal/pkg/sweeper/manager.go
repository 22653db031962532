package sweeper

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/CloudKeepHQ/CloudKeep/internal/pkg/billing"
	"github.com/CloudKeepHQ/CloudKeep/internal/pkg/cache"
	"github.com/CloudKeepHQ/CloudKeep/internal/pkg/database"
	"github.com/CloudKeepHQ/CloudKeep/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
)

const sweepLockKey = "billing:sweep:lock"
const sweepLockTTL = 30 * time.Minute

// Manager runs the time-based subscription transitions on a daily ticker.
type Manager struct {
	sweepTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global sweeper manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		globalManager = &Manager{
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// Start starts the background sweep ticker
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so the manager can be
	// restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Sweeper] Starting subscription sweep")

	interval := 24 * time.Hour
	if v, err := strconv.Atoi(env.GetEnv("SWEEP_INTERVAL_HOURS", "")); err == nil && v > 0 {
		interval = time.Duration(v) * time.Hour
	}

	m.sweepTicker = time.NewTicker(interval)
	m.wg.Add(1)
	go m.sweepWorker()

	log.Info("[Sweeper] Started successfully")
}

// Stop stops the background sweep ticker
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Sweeper] Stopping subscription sweep...")

	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}
	close(m.stopCh)
	m.wg.Wait()
	m.running = false

	log.Info("[Sweeper] Stopped")
}

func (m *Manager) sweepWorker() {
	defer m.wg.Done()

	for {
		select {
		case <-m.sweepTicker.C:
			m.RunOnce()
		case <-m.stopCh:
			return
		}
	}
}

// RunOnce executes one full sweep pass under a distributed lock. Running it
// again in the same window is harmless: each rule's predicate no longer
// matches records already advanced.
func (m *Manager) RunOnce() {
	acquired, err := cache.AcquireLock(sweepLockKey, sweepLockTTL)
	if err != nil {
		log.Warnf("[Sweeper] Lock acquisition failed, sweeping anyway: %v", err)
	} else if !acquired {
		log.Info("[Sweeper] Another instance holds the sweep lock, skipping run")
		return
	}
	if acquired {
		defer func() {
			if err := cache.ReleaseLock(sweepLockKey); err != nil {
				log.Warnf("[Sweeper] Lock release failed: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	svc := billing.NewServiceFromDB(database.GetDB())

	if n, err := svc.SweepGraceExpired(ctx); err != nil {
		log.Errorf("[Sweeper] Grace-expiry sweep failed: %v", err)
	} else if n > 0 {
		log.Infof("[Sweeper] Halted %d subscriptions past their grace period", n)
	}

	if n, err := svc.SweepCancelledSettled(ctx); err != nil {
		log.Errorf("[Sweeper] Cancellation-settling sweep failed: %v", err)
	} else if n > 0 {
		log.Infof("[Sweeper] Expired %d cancelled subscriptions", n)
	}

	if n, err := svc.SweepTrialWindows(ctx); err != nil {
		log.Errorf("[Sweeper] Trial-window sweep failed: %v", err)
	} else if n > 0 {
		log.Infof("[Sweeper] Advanced %d bonus-day windows into the next cycle", n)
	}

	if n, err := svc.PurgeWebhookLogs(ctx); err != nil {
		log.Errorf("[Sweeper] Webhook log purge failed: %v", err)
	} else if n > 0 {
		log.Infof("[Sweeper] Purged %d expired webhook log rows", n)
	}
}
