package pipeline

import "context"

// Source is the slice of the finance API the planner schedules pulls from.
// *source.Client satisfies it; tests substitute a fake.
type Source interface {
	AccountStructure(ctx context.Context, year, companyCode string) ([]map[string]any, error)
	SubjectDimension(ctx context.Context, year, companyCode string) ([]map[string]any, error)
	CustomerVendorDict(ctx context.Context, companyCode string) ([]map[string]any, error)

	VoucherList(ctx context.Context, companyCode, periodCode string) ([]map[string]any, error)
	VoucherDetail(ctx context.Context, companyCode, periodCode string) ([]map[string]any, error)
	VoucherDimDetail(ctx context.Context, companyCode, periodCode string) ([]map[string]any, error)
	Balance(ctx context.Context, companyCode, periodCode string) ([]map[string]any, error)
	AuxBalance(ctx context.Context, companyCode, periodCode string) ([]map[string]any, error)
}

// Ledger tracks which (dataset, company, key) combinations have been loaded.
// Nil ledger means every combination is considered missing on each rescan;
// scheduler-level name dedupe still prevents double submission.
type Ledger interface {
	HasDataset(ctx context.Context, dataset, company, period string) (bool, error)
	MarkDataset(ctx context.Context, dataset, company, period string, rows int) error
}

// dataset describes one collectable data type. Yearly datasets are keyed by
// fiscal year, the rest by accounting period ("YYYY-MM").
type dataset struct {
	name     string
	yearly   bool
	priority int
	fetch    func(ctx context.Context, src Source, company, key string) ([]map[string]any, error)
}

// Higher priority wins; within each group, order mirrors the natural load
// order (structure before details, index before line items).
var yearlyDatasets = []dataset{
	{
		name: "account_structure", yearly: true, priority: 3,
		fetch: func(ctx context.Context, src Source, company, key string) ([]map[string]any, error) {
			return src.AccountStructure(ctx, key, company)
		},
	},
	{
		name: "subject_dimension", yearly: true, priority: 2,
		fetch: func(ctx context.Context, src Source, company, key string) ([]map[string]any, error) {
			return src.SubjectDimension(ctx, key, company)
		},
	},
	{
		name: "customer_vendor", yearly: true, priority: 1,
		fetch: func(ctx context.Context, src Source, company, key string) ([]map[string]any, error) {
			return src.CustomerVendorDict(ctx, company)
		},
	},
}

var periodDatasets = []dataset{
	{
		name: "voucher_list", priority: 5,
		fetch: func(ctx context.Context, src Source, company, key string) ([]map[string]any, error) {
			return src.VoucherList(ctx, company, key)
		},
	},
	{
		name: "voucher_detail", priority: 4,
		fetch: func(ctx context.Context, src Source, company, key string) ([]map[string]any, error) {
			return src.VoucherDetail(ctx, company, key)
		},
	},
	{
		name: "voucher_dim_detail", priority: 3,
		fetch: func(ctx context.Context, src Source, company, key string) ([]map[string]any, error) {
			return src.VoucherDimDetail(ctx, company, key)
		},
	},
	{
		name: "balance", priority: 2,
		fetch: func(ctx context.Context, src Source, company, key string) ([]map[string]any, error) {
			return src.Balance(ctx, company, key)
		},
	},
	{
		name: "aux_balance", priority: 1,
		fetch: func(ctx context.Context, src Source, company, key string) ([]map[string]any, error) {
			return src.AuxBalance(ctx, company, key)
		},
	},
}
