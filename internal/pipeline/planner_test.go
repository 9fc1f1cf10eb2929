package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finflow/internal/sched"
	logx "finflow/pkg/logx"
)

// fakeSource records calls and returns a fixed row count per endpoint.
type fakeSource struct {
	mu    sync.Mutex
	calls []string
	rows  int
	err   error
}

func (f *fakeSource) record(what string) ([]map[string]any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, what)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]map[string]any, f.rows)
	return out, nil
}

func (f *fakeSource) AccountStructure(_ context.Context, year, c string) ([]map[string]any, error) {
	return f.record("account_structure/" + c + "/" + year)
}
func (f *fakeSource) SubjectDimension(_ context.Context, year, c string) ([]map[string]any, error) {
	return f.record("subject_dimension/" + c + "/" + year)
}
func (f *fakeSource) CustomerVendorDict(_ context.Context, c string) ([]map[string]any, error) {
	return f.record("customer_vendor/" + c)
}
func (f *fakeSource) VoucherList(_ context.Context, c, p string) ([]map[string]any, error) {
	return f.record("voucher_list/" + c + "/" + p)
}
func (f *fakeSource) VoucherDetail(_ context.Context, c, p string) ([]map[string]any, error) {
	return f.record("voucher_detail/" + c + "/" + p)
}
func (f *fakeSource) VoucherDimDetail(_ context.Context, c, p string) ([]map[string]any, error) {
	return f.record("voucher_dim_detail/" + c + "/" + p)
}
func (f *fakeSource) Balance(_ context.Context, c, p string) ([]map[string]any, error) {
	return f.record("balance/" + c + "/" + p)
}
func (f *fakeSource) AuxBalance(_ context.Context, c, p string) ([]map[string]any, error) {
	return f.record("aux_balance/" + c + "/" + p)
}

// memLedger is an in-memory Ledger.
type memLedger struct {
	mu   sync.Mutex
	have map[string]int
	err  error
}

func newMemLedger() *memLedger { return &memLedger{have: map[string]int{}} }

func (l *memLedger) key(d, c, p string) string { return d + "|" + c + "|" + p }

func (l *memLedger) HasDataset(_ context.Context, d, c, p string) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.have[l.key(d, c, p)]
	return ok, nil
}

func (l *memLedger) MarkDataset(_ context.Context, d, c, p string, rows int) error {
	if l.err != nil {
		return l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.have[l.key(d, c, p)] = rows
	return nil
}

func fixedNow() time.Time {
	return time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)
}

func newTestPlanner(t *testing.T, cfg Config, src Source, ledger Ledger) (*Planner, *sched.Scheduler) {
	t.Helper()
	if cfg.now == nil {
		cfg.now = fixedNow
	}
	sch := sched.New(sched.Config{MaxWorkers: 2}, logx.Nop(), nil)
	return NewPlanner(cfg, sch, src, ledger, logx.Nop()), sch
}

func TestRescanSchedulesEveryMissingCombination(t *testing.T) {
	t.Parallel()
	src := &fakeSource{rows: 1}
	p, sch := newTestPlanner(t, Config{
		StartYear: 2025,
		Companies: []string{"C001"},
	}, src, newMemLedger())

	added := p.Rescan(context.Background())

	// One company, one fiscal year (3 yearly datasets) and three elapsed
	// periods (5 period datasets each).
	require.Equal(t, 3+3*5, added)

	_, ok := sch.TaskStatus("collect_account_structure_C001_2025")
	assert.True(t, ok)
	_, ok = sch.TaskStatus("collect_voucher_list_C001_2025-03")
	assert.True(t, ok)
	_, ok = sch.TaskStatus("collect_voucher_list_C001_2025-04")
	assert.False(t, ok, "future periods must not be scheduled")
}

func TestRescanSkipsLedgeredAndRegistered(t *testing.T) {
	t.Parallel()
	ledger := newMemLedger()
	require.NoError(t, ledger.MarkDataset(context.Background(), "balance", "C001", "2025-01", 10))

	p, _ := newTestPlanner(t, Config{
		StartYear: 2025,
		Companies: []string{"C001"},
	}, &fakeSource{}, ledger)

	first := p.Rescan(context.Background())
	assert.Equal(t, 3+3*5-1, first, "ledgered combination must be skipped")

	// Nothing new on a second pass: every remaining name is registered.
	assert.Zero(t, p.Rescan(context.Background()))
}

func TestRescanSchedulesCollectors(t *testing.T) {
	t.Parallel()
	ran := make(chan string, 3)
	col := func(name string) Collector {
		return Collector{
			Name:     name,
			Priority: 20,
			Run: func(ctx context.Context) (any, error) {
				ran <- name
				return nil, nil
			},
		}
	}
	p, sch := newTestPlanner(t, Config{
		StartYear:  2025,
		Companies:  nil, // collectors only
		Collectors: []Collector{col("crawl_org_structure"), col("crawl_cash_flow")},
	}, &fakeSource{}, newMemLedger())

	added := p.Rescan(context.Background())
	assert.Equal(t, 2, added)

	_, ok := sch.TaskStatus("crawl_org_structure")
	assert.True(t, ok)

	// Re-adding while still registered is a no-op.
	assert.Zero(t, p.Rescan(context.Background()))
}

func TestCollectMarksLedgerOnSuccess(t *testing.T) {
	t.Parallel()
	src := &fakeSource{rows: 7}
	ledger := newMemLedger()
	p, _ := newTestPlanner(t, Config{StartYear: 2025, Companies: []string{"C001"}}, src, ledger)

	fn := p.collectFunc(periodDatasets[0], "C001", "2025-02")
	data, err := fn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"rows": 7}, data)

	have, err := ledger.HasDataset(context.Background(), "voucher_list", "C001", "2025-02")
	require.NoError(t, err)
	assert.True(t, have)
}

func TestCollectDoesNotMarkLedgerOnFetchError(t *testing.T) {
	t.Parallel()
	src := &fakeSource{err: errors.New("upstream down")}
	ledger := newMemLedger()
	p, _ := newTestPlanner(t, Config{StartYear: 2025, Companies: []string{"C001"}}, src, ledger)

	fn := p.collectFunc(yearlyDatasets[0], "C001", "2025")
	_, err := fn(context.Background())
	require.Error(t, err)

	have, err := ledger.HasDataset(context.Background(), "account_structure", "C001", "2025")
	require.NoError(t, err)
	assert.False(t, have)
}

func TestDatasetPriorityOrder(t *testing.T) {
	t.Parallel()
	// Structure loads must outrank detail loads within each group.
	assert.Greater(t, yearlyDatasets[0].priority, yearlyDatasets[2].priority)
	assert.Greater(t, periodDatasets[0].priority, periodDatasets[4].priority)
}

func TestRescanLedgerErrorSkipsQuietly(t *testing.T) {
	t.Parallel()
	ledger := newMemLedger()
	ledger.err = errors.New("db locked")
	p, _ := newTestPlanner(t, Config{StartYear: 2025, Companies: []string{"C001"}}, &fakeSource{}, ledger)

	assert.Zero(t, p.Rescan(context.Background()))
}
