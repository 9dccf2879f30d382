package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/leveranciersportal/portalsync/internal/config"
	"github.com/leveranciersportal/portalsync/internal/db"
	"github.com/leveranciersportal/portalsync/internal/erp"
	"github.com/leveranciersportal/portalsync/internal/jobcache"
	"github.com/leveranciersportal/portalsync/internal/models"
	"github.com/leveranciersportal/portalsync/internal/synclock"
	"gorm.io/gorm"
)

type fakeSource struct {
	mu       sync.Mutex
	jobs     map[string][]string
	failures map[string]error
	filters  map[string]string
	calls    int
	onList   func(domain string)
}

func (f *fakeSource) ListJobs(_ context.Context, system models.ErpSystem, opts erp.ListJobsOptions) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.filters == nil {
		f.filters = make(map[string]string)
	}
	f.filters[system.Domain] = opts.Filter
	if f.onList != nil {
		f.onList(system.Domain)
	}
	if err := f.failures[system.Domain]; err != nil {
		return nil, err
	}
	var out []json.RawMessage
	for _, raw := range f.jobs[system.Domain] {
		out = append(out, json.RawMessage(raw))
	}
	return out, nil
}

type harness struct {
	conn         *gorm.DB
	store        *jobcache.Store
	scheduler    *Scheduler
	orchestrator *Orchestrator
	source       *fakeSource
}

func newHarness(t *testing.T, concurrency int) harness {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	store := jobcache.NewStore(conn)
	scheduler := NewScheduler(conn)
	source := &fakeSource{jobs: make(map[string][]string), failures: make(map[string]error)}
	orchestrator := NewOrchestrator(store, scheduler, source, config.ERPConfig{}, config.SyncConfig{TenantConcurrency: concurrency})
	return harness{conn: conn, store: store, scheduler: scheduler, orchestrator: orchestrator, source: source}
}

func (h harness) addTenant(t *testing.T, domain, apiKey string) models.ErpSystem {
	t.Helper()
	system := models.ErpSystem{Name: domain, Domain: domain, APIKey: apiKey}
	if err := h.store.CreateTenant(context.Background(), &system); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	return system
}

func TestShouldRun(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-10 * time.Minute)
	old := now.Add(-2 * time.Hour)

	cases := []struct {
		name    string
		control models.SyncControl
		want    bool
	}{
		{"never ran", models.SyncControl{IntervalSeconds: 999999}, true},
		{"never ran with force off", models.SyncControl{ForceSync: false, IntervalSeconds: 60}, true},
		{"forced", models.SyncControl{ForceSync: true, LastSync: &recent, IntervalSeconds: 3600}, true},
		{"within interval", models.SyncControl{LastSync: &recent, IntervalSeconds: 3600}, false},
		{"interval elapsed", models.SyncControl{LastSync: &old, IntervalSeconds: 3600}, true},
		{"zero interval uses default", models.SyncControl{LastSync: &recent}, false},
	}
	for _, tc := range cases {
		if got := ShouldRun(tc.control, now); got != tc.want {
			t.Fatalf("%s: ShouldRun = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestScheduler_LoadCreatesForcedRow(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	control, err := h.scheduler.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if control.ID != models.SyncControlID || !control.ForceSync || control.LastSync != nil {
		t.Fatalf("unexpected fresh control: %+v", control)
	}
	if control.IntervalSeconds != models.DefaultSyncIntervalSeconds {
		t.Fatalf("expected default interval, got %d", control.IntervalSeconds)
	}

	startedAt := time.Now().UTC().Truncate(time.Second)
	if errMark := h.scheduler.MarkRunCompleted(ctx, startedAt); errMark != nil {
		t.Fatalf("mark completed: %v", errMark)
	}
	control, err = h.scheduler.Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if control.ForceSync || control.LastSync == nil || !control.LastSync.Equal(startedAt) {
		t.Fatalf("unexpected control after completion: %+v", control)
	}
	if ShouldRun(control, startedAt.Add(time.Minute)) {
		t.Fatalf("expected cycle not due right after completion")
	}

	if errTrigger := h.scheduler.Trigger(ctx); errTrigger != nil {
		t.Fatalf("trigger: %v", errTrigger)
	}
	control, _ = h.scheduler.Load(ctx)
	if !ShouldRun(control, startedAt.Add(time.Minute)) {
		t.Fatalf("expected trigger to make the cycle due")
	}

	if errInterval := h.scheduler.SetInterval(ctx, 0); errInterval == nil {
		t.Fatalf("expected non-positive interval to be rejected")
	}
	if errInterval := h.scheduler.SetInterval(ctx, 120); errInterval != nil {
		t.Fatalf("set interval: %v", errInterval)
	}
	control, _ = h.scheduler.Load(ctx)
	if control.IntervalSeconds != 120 {
		t.Fatalf("expected interval 120, got %d", control.IntervalSeconds)
	}
}

func TestRunCycle_IsolatesTenantFailures(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	first := h.addTenant(t, "one.example.com", "k1")
	second := h.addTenant(t, "two.example.com", "k2")
	third := h.addTenant(t, "three.example.com", "k3")

	h.source.jobs["one.example.com"] = []string{`{"Id":"A1","Description":"Pump","ProgressStatus":"OPEN","RecordChangeDate":"2024-05-01T08:00:00Z"}`}
	h.source.failures["two.example.com"] = &erp.UpstreamError{Operation: "list_jobs", StatusCode: http.StatusBadGateway}
	h.source.jobs["three.example.com"] = []string{`{"Id":7,"Equipment":{"Description":"Valve"},"Vendor":{"Id":"V1"}}`}
	cycleStart := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	h.orchestrator.now = func() time.Time { return cycleStart }

	result, err := h.orchestrator.RunCycle(ctx)
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if !result.Due || result.Errors != 1 || result.TenantsProcessed != 2 || result.JobsUpserted != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}

	jobA, errA := h.store.GetJob(ctx, models.JobKey{ErpSystemID: first.ID, JobID: "A1"})
	if errA != nil {
		t.Fatalf("tenant one job: %v", errA)
	}
	if jobA.Description != "Pump" || jobA.ProgressStatus != "OPEN" {
		t.Fatalf("unexpected tenant one job: %+v", jobA)
	}
	if !jobA.RecordChangedAt.Equal(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected change date %s", jobA.RecordChangedAt)
	}

	job7, err7 := h.store.GetJob(ctx, models.JobKey{ErpSystemID: third.ID, JobID: "7"})
	if err7 != nil {
		t.Fatalf("tenant three job: %v", err7)
	}
	if job7.Description != "N/A" || job7.ProgressStatus != "UNKNOWN" {
		t.Fatalf("expected defaults, got %+v", job7)
	}
	if job7.EquipmentDescription == nil || *job7.EquipmentDescription != "Valve" {
		t.Fatalf("expected equipment description")
	}
	if job7.VendorID == nil || *job7.VendorID != "V1" {
		t.Fatalf("expected vendor id")
	}

	secondJobs, _ := h.store.ListJobsForTenant(ctx, second.ID)
	if len(secondJobs) != 0 {
		t.Fatalf("expected no jobs for failing tenant")
	}

	control, _ := h.scheduler.Load(ctx)
	if control.ForceSync || control.LastSync == nil || !control.LastSync.Equal(result.StartedAt) {
		t.Fatalf("expected control stamped with cycle start, got %+v", control)
	}
}

func TestRunCycle_ParallelTenants(t *testing.T) {
	h := newHarness(t, 4)
	for i := 0; i < 6; i++ {
		domain := fmt.Sprintf("t%d.example.com", i)
		h.addTenant(t, domain, "key")
		h.source.jobs[domain] = []string{fmt.Sprintf(`{"Id":"J%d"}`, i)}
	}
	h.source.failures["t3.example.com"] = errors.New("connection refused")

	result, err := h.orchestrator.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if result.TenantsProcessed != 5 || result.JobsUpserted != 5 || result.Errors != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunCycle_SkipsUnconfiguredAndMalformed(t *testing.T) {
	h := newHarness(t, 1)
	h.addTenant(t, "ok.example.com", "key")
	h.addTenant(t, "nokey.example.com", "")
	h.source.jobs["ok.example.com"] = []string{`{"Id":"1"}`, `{"Description":"no id"}`, `[1,2]`}

	result, err := h.orchestrator.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if result.TenantsSkipped != 1 || result.MalformedRecords != 2 || result.JobsUpserted != 1 || result.Errors != 3 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if h.source.calls != 1 {
		t.Fatalf("unconfigured tenant must not be called, calls=%d", h.source.calls)
	}
}

func TestRunCycle_NotDueAndIncrementalFilter(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	h.addTenant(t, "a.example.com", "key")

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	h.orchestrator.now = func() time.Time { return now }

	if _, err := h.orchestrator.RunCycle(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if h.source.filters["a.example.com"] != "" {
		t.Fatalf("first cycle must fetch without filter, got %q", h.source.filters["a.example.com"])
	}

	now = now.Add(10 * time.Minute)
	result, err := h.orchestrator.RunCycle(ctx)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if result.Due || h.source.calls != 1 {
		t.Fatalf("expected not-due cycle without upstream calls, result=%+v calls=%d", result, h.source.calls)
	}

	now = now.Add(2 * time.Hour)
	if _, err := h.orchestrator.RunCycle(ctx); err != nil {
		t.Fatalf("third cycle: %v", err)
	}
	want := "RecordChangeDate gt 2024-06-01T12:00:00Z"
	if got := h.source.filters["a.example.com"]; got != want {
		t.Fatalf("filter = %q, want %q", got, want)
	}
}

func TestRunCycle_CancelledDoesNotStamp(t *testing.T) {
	h := newHarness(t, 1)
	first := h.addTenant(t, "a.example.com", "key")
	h.addTenant(t, "b.example.com", "key")
	h.source.jobs["a.example.com"] = []string{`{"Id":"1"}`}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.source.onList = func(domain string) {
		if domain == "b.example.com" {
			cancel()
		}
	}
	h.source.failures["b.example.com"] = context.Canceled

	_, err := h.orchestrator.RunCycle(ctx)
	if !errors.Is(err, ErrCycleAborted) {
		t.Fatalf("expected ErrCycleAborted, got %v", err)
	}
	if _, errJob := h.store.GetJob(context.Background(), models.JobKey{ErpSystemID: first.ID, JobID: "1"}); errJob != nil {
		t.Fatalf("expected finished tenant to stay cached: %v", errJob)
	}
	control, errLoad := h.scheduler.Load(context.Background())
	if errLoad != nil {
		t.Fatalf("load: %v", errLoad)
	}
	if control.LastSync != nil || !control.ForceSync {
		t.Fatalf("aborted cycle must not stamp the last run, got %+v", control)
	}
}

func TestRunner_RejectsOverlap(t *testing.T) {
	h := newHarness(t, 1)
	locker := synclock.NewMemoryLocker()
	runner := NewRunner(h.orchestrator, h.scheduler, locker, config.SyncConfig{})

	lease, err := locker.Acquire(context.Background(), cycleLockName, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, errRun := runner.RunOnce(context.Background()); !errors.Is(errRun, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", errRun)
	}
	_ = lease.Release(context.Background())

	result, errRun := runner.TriggerAndRun(context.Background())
	if errRun != nil {
		t.Fatalf("run: %v", errRun)
	}
	if !result.Due {
		t.Fatalf("expected triggered cycle to run")
	}
}

func TestRunCycle_ListTenantsFailureClearsForceOnly(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	if _, err := h.scheduler.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := h.conn.Migrator().DropTable(&models.ErpSystem{}); err != nil {
		t.Fatalf("drop erp systems: %v", err)
	}

	result, err := h.orchestrator.RunCycle(ctx)
	if err == nil {
		t.Fatalf("expected listing failure, got result %+v", result)
	}
	if errors.Is(err, ErrCycleAborted) {
		t.Fatalf("listing failure is fatal, not an abort: %v", err)
	}
	if h.source.calls != 0 {
		t.Fatalf("expected no upstream calls, got %d", h.source.calls)
	}
	control, errLoad := h.scheduler.Load(ctx)
	if errLoad != nil {
		t.Fatalf("load: %v", errLoad)
	}
	if control.ForceSync {
		t.Fatalf("expected force flag cleared after fatal failure")
	}
	if control.LastSync != nil {
		t.Fatalf("fatal failure must not stamp the last run, got %s", control.LastSync)
	}
}

func TestRunner_RenewsLeaseDuringLongCycle(t *testing.T) {
	h := newHarness(t, 1)
	h.addTenant(t, "a.example.com", "key")
	h.source.jobs["a.example.com"] = []string{`{"Id":"1"}`}
	locker := synclock.NewMemoryLocker()
	runner := NewRunner(h.orchestrator, h.scheduler, locker, config.SyncConfig{LockTTL: 50 * time.Millisecond})

	var errOverlap error
	h.source.onList = func(string) {
		time.Sleep(300 * time.Millisecond)
		lease, err := locker.Acquire(context.Background(), cycleLockName, time.Minute)
		if err == nil {
			_ = lease.Release(context.Background())
		}
		errOverlap = err
	}

	result, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Due || result.JobsUpserted != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !errors.Is(errOverlap, synclock.ErrNotHeld) {
		t.Fatalf("expected lock held for the whole cycle, second acquire got %v", errOverlap)
	}

	if _, errAfter := locker.Acquire(context.Background(), cycleLockName, time.Minute); errAfter != nil {
		t.Fatalf("expected lock released after the cycle: %v", errAfter)
	}
}

type lostLocker struct{}

func (lostLocker) Acquire(context.Context, string, time.Duration) (synclock.Lease, error) {
	return lostLease{}, nil
}

type lostLease struct{}

func (lostLease) Refresh(context.Context, time.Duration) error { return synclock.ErrLeaseLost }
func (lostLease) Release(context.Context) error                { return nil }

func TestRunner_LostLeaseAbortsCycle(t *testing.T) {
	h := newHarness(t, 1)
	h.addTenant(t, "a.example.com", "key")
	h.source.onList = func(string) {
		time.Sleep(200 * time.Millisecond)
	}
	runner := NewRunner(h.orchestrator, h.scheduler, lostLocker{}, config.SyncConfig{LockTTL: 30 * time.Millisecond})

	_, err := runner.RunOnce(context.Background())
	if !errors.Is(err, ErrCycleAborted) {
		t.Fatalf("expected ErrCycleAborted after losing the lease, got %v", err)
	}
	control, errLoad := h.scheduler.Load(context.Background())
	if errLoad != nil {
		t.Fatalf("load: %v", errLoad)
	}
	if control.LastSync != nil {
		t.Fatalf("aborted cycle must not stamp the last run, got %+v", control)
	}
}

func TestMapJob_ChangeDateVariants(t *testing.T) {
	fallback := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := map[string]time.Time{
		`{"Id":"1","RecordChangeDate":"2024-05-01T08:00:00.123Z"}`:  time.Date(2024, 5, 1, 8, 0, 0, 123000000, time.UTC),
		`{"Id":"1","RecordChangeDate":"2024-05-01T10:00:00+02:00"}`: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		`{"Id":"1","RecordChangeDate":"2024-05-01T08:00:00"}`:       time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		`{"Id":"1","RecordChangeDate":"garbage"}`:                   fallback,
		`{"Id":"1"}`: fallback,
	}
	for raw, want := range cases {
		job, err := mapJob(json.RawMessage(raw), 1, 0, config.DefaultChangeDateField, fallback)
		if err != nil {
			t.Fatalf("map %s: %v", raw, err)
		}
		if !job.RecordChangedAt.Equal(want) {
			t.Fatalf("map %s: got %s, want %s", raw, job.RecordChangedAt, want)
		}
	}

	_, err := mapJob(json.RawMessage(`{"Id":""}`), 3, 5, config.DefaultChangeDateField, fallback)
	var malformed *MalformedRecordError
	if !errors.As(err, &malformed) || malformed.ErpSystemID != 3 || malformed.Index != 5 {
		t.Fatalf("expected MalformedRecordError, got %v", err)
	}
}
