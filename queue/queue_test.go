package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/plan"
)

func TestAcquire_UnconfiguredQueueHasNoLimits(t *testing.T) {
	m := NewManager()
	for range 100 {
		if !m.Acquire("anything", "tenant-1") {
			t.Fatal("expected Acquire to succeed for unconfigured queue")
		}
	}
}

func TestAcquire_QueueConcurrencyCap(t *testing.T) {
	m := NewManager(Config{Name: spool.QueueFiles, MaxConcurrency: 2})

	if !m.Acquire(spool.QueueFiles, "") {
		t.Fatal("first Acquire should succeed")
	}
	if !m.Acquire(spool.QueueFiles, "") {
		t.Fatal("second Acquire should succeed")
	}
	if m.Acquire(spool.QueueFiles, "") {
		t.Fatal("third Acquire should be refused at cap 2")
	}

	m.Release(spool.QueueFiles, "")
	if !m.Acquire(spool.QueueFiles, "") {
		t.Fatal("Acquire should succeed after Release")
	}
}

func TestAcquire_QueuePacing(t *testing.T) {
	m := NewManager(Config{Name: spool.QueueEmails, JobsPerSecond: 1, Burst: 2})

	admitted := 0
	for range 10 {
		if m.Acquire(spool.QueueEmails, "") {
			admitted++
			m.Release(spool.QueueEmails, "")
		}
	}
	if admitted > 2 {
		t.Fatalf("burst 2 admitted %d immediately", admitted)
	}

	// Tokens refill at 1/s.
	time.Sleep(1100 * time.Millisecond)
	if !m.Acquire(spool.QueueEmails, "") {
		t.Fatal("expected a refilled token after the pacing interval")
	}
}

func TestAcquire_TenantConcurrencyIsolated(t *testing.T) {
	m := NewManager()
	m.SetTenantLimits(spool.QueueEmails, "tenant-1", TenantLimits{MaxConcurrency: 1})

	if !m.Acquire(spool.QueueEmails, "tenant-1") {
		t.Fatal("tenant-1 first Acquire should succeed")
	}
	if m.Acquire(spool.QueueEmails, "tenant-1") {
		t.Fatal("tenant-1 should be refused at its cap")
	}
	// Another tenant on the same queue is unaffected.
	if !m.Acquire(spool.QueueEmails, "tenant-2") {
		t.Fatal("tenant-2 should be unaffected by tenant-1's cap")
	}
	// Same tenant on another queue is unaffected.
	if !m.Acquire(spool.QueueFiles, "tenant-1") {
		t.Fatal("tenant-1 on files should be unaffected by its emails cap")
	}

	m.Release(spool.QueueEmails, "tenant-1")
	if !m.Acquire(spool.QueueEmails, "tenant-1") {
		t.Fatal("tenant-1 should succeed after Release")
	}
}

func TestForPlan_TracksTier(t *testing.T) {
	free := ForPlan(plan.Free)
	pro := ForPlan(plan.Pro)
	ent := ForPlan(plan.Enterprise)

	if free.MaxConcurrency >= pro.MaxConcurrency || pro.MaxConcurrency >= ent.MaxConcurrency {
		t.Fatalf("concurrency should scale with tier: %d, %d, %d",
			free.MaxConcurrency, pro.MaxConcurrency, ent.MaxConcurrency)
	}
	if free.JobsPerSecond >= pro.JobsPerSecond {
		t.Fatalf("drain rate should scale with tier: %v, %v",
			free.JobsPerSecond, pro.JobsPerSecond)
	}
	// The burst mirrors the plan's per-minute email ceiling.
	if free.Burst != plan.For(plan.Free).EmailsPerMinute {
		t.Fatalf("free burst = %d, want %d", free.Burst, plan.For(plan.Free).EmailsPerMinute)
	}
}

func TestSetTenantPlan_CapsDrain(t *testing.T) {
	m := NewManager()
	m.SetTenantPlan(spool.QueueEmails, "tenant-1", plan.Free)

	cap := ForPlan(plan.Free).MaxConcurrency
	for i := range cap {
		if !m.Acquire(spool.QueueEmails, "tenant-1") {
			t.Fatalf("Acquire %d of %d should succeed", i+1, cap)
		}
	}
	if m.Acquire(spool.QueueEmails, "tenant-1") {
		t.Fatalf("Acquire beyond plan cap %d should be refused", cap)
	}
}

func TestSetQueueConfig_PreservesActiveCount(t *testing.T) {
	m := NewManager(Config{Name: spool.QueueFiles, MaxConcurrency: 4})

	m.Acquire(spool.QueueFiles, "")
	m.Acquire(spool.QueueFiles, "")
	if got := m.ActiveCount(spool.QueueFiles); got != 2 {
		t.Fatalf("ActiveCount = %d, want 2", got)
	}

	m.SetQueueConfig(Config{Name: spool.QueueFiles, MaxConcurrency: 2})
	if got := m.ActiveCount(spool.QueueFiles); got != 2 {
		t.Fatalf("ActiveCount after reconfigure = %d, want 2", got)
	}
	// Already at the new cap.
	if m.Acquire(spool.QueueFiles, "") {
		t.Fatal("Acquire should be refused at the lowered cap")
	}
}

func TestDefaults_CoverBuiltinQueues(t *testing.T) {
	byName := make(map[string]Config)
	for _, cfg := range Defaults() {
		byName[cfg.Name] = cfg
	}
	for _, q := range []string{spool.QueueEmails, spool.QueueFiles, spool.QueueMaintenance} {
		if _, ok := byName[q]; !ok {
			t.Fatalf("Defaults missing queue %q", q)
		}
	}
	if byName[spool.QueueMaintenance].MaxConcurrency != 1 {
		t.Fatal("maintenance sweeps should run one at a time")
	}
}

func TestAcquireRelease_Concurrent(t *testing.T) {
	m := NewManager(Config{Name: spool.QueueFiles, MaxConcurrency: 5})

	var peak atomic.Int64
	var active atomic.Int64
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				if !m.Acquire(spool.QueueFiles, "tenant-1") {
					continue
				}
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				active.Add(-1)
				m.Release(spool.QueueFiles, "tenant-1")
			}
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > 5 {
		t.Fatalf("observed %d concurrent jobs, cap is 5", p)
	}
	if got := m.ActiveCount(spool.QueueFiles); got != 0 {
		t.Fatalf("ActiveCount after drain = %d, want 0", got)
	}
}
