package access

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/leveranciersportal/portalsync/internal/jobcache"
	"github.com/leveranciersportal/portalsync/internal/models"
	"github.com/leveranciersportal/portalsync/internal/statusmapping"
)

// SupplierJob is a cached job as shown to a supplier. It never carries tenant credentials.
type SupplierJob struct {
	ID                         string    `json:"id"`
	ErpSystemID                uint64    `json:"erp_system_id"`
	ErpSystemName              string    `json:"erp_system_name"`
	ErpSystemDomain            string    `json:"erp_system_domain"`
	Description                string    `json:"description"`
	EquipmentDescription       *string   `json:"equipment_description"`
	ProcessFunctionDescription *string   `json:"process_function_description"`
	ProgressStatus             string    `json:"progress_status"`
	TargetStatus               *string   `json:"target_status"`
	Actionable                 bool      `json:"actionable"`
	RecordChangedAt            time.Time `json:"record_changed_at"`
}

// Deriver computes supplier visibility from the job cache.
type Deriver struct {
	store     *jobcache.Store
	resolver  *statusmapping.Resolver
	batchSize int
}

// NewDeriver constructs a Deriver.
func NewDeriver(store *jobcache.Store, resolver *statusmapping.Resolver) *Deriver {
	return &Deriver{store: store, resolver: resolver, batchSize: jobcache.DefaultBatchSize}
}

// Overview groups all cached jobs by contact email, sorted by email.
// A job counts once per email even when the email appears on several contacts.
func (d *Deriver) Overview(ctx context.Context) ([]models.SupplierAccessEntry, error) {
	if d == nil || d.store == nil {
		return nil, fmt.Errorf("access: overview: nil store")
	}
	type aggregate struct {
		vendors  map[string]struct{}
		jobCount int
	}
	byEmail := make(map[string]*aggregate)

	errWalk := d.store.EachJob(ctx, d.batchSize, func(batch []models.CachedJob) error {
		for i := range batch {
			emails := ContactEmails(batch[i].Payload)
			if len(emails) == 0 {
				continue
			}
			vendor := VendorName(batch[i].Payload)
			seen := make(map[string]struct{}, len(emails))
			for _, email := range emails {
				if _, dup := seen[email]; dup {
					continue
				}
				seen[email] = struct{}{}
				agg, ok := byEmail[email]
				if !ok {
					agg = &aggregate{vendors: make(map[string]struct{})}
					byEmail[email] = agg
				}
				agg.jobCount++
				if vendor != "" {
					agg.vendors[vendor] = struct{}{}
				}
			}
		}
		return nil
	})
	if errWalk != nil {
		return nil, fmt.Errorf("access: overview: %w", errWalk)
	}

	entries := make([]models.SupplierAccessEntry, 0, len(byEmail))
	for email, agg := range byEmail {
		vendors := make([]string, 0, len(agg.vendors))
		for name := range agg.vendors {
			vendors = append(vendors, name)
		}
		sort.Strings(vendors)
		entries = append(entries, models.SupplierAccessEntry{
			Email:       email,
			VendorNames: vendors,
			JobCount:    agg.jobCount,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Email < entries[j].Email })
	return entries, nil
}

// VisibleJobs returns the jobs email may act on, annotated with the mapped target status.
func (d *Deriver) VisibleJobs(ctx context.Context, email string) ([]SupplierJob, error) {
	if d == nil || d.store == nil || d.resolver == nil {
		return nil, fmt.Errorf("access: visible jobs: not initialized")
	}
	if email == "" {
		return []SupplierJob{}, nil
	}

	tenants, errTenants := d.store.ListTenants(ctx)
	if errTenants != nil {
		return nil, fmt.Errorf("access: visible jobs: %w", errTenants)
	}
	byID := make(map[uint64]models.ErpSystem, len(tenants))
	for _, tenant := range tenants {
		byID[tenant.ID] = tenant
	}
	snapshot, errSnapshot := d.resolver.Snapshot(ctx)
	if errSnapshot != nil {
		return nil, fmt.Errorf("access: visible jobs: %w", errSnapshot)
	}

	out := make([]SupplierJob, 0)
	errWalk := d.store.EachJob(ctx, d.batchSize, func(batch []models.CachedJob) error {
		for i := range batch {
			if !IsAuthorized(&batch[i], email) {
				continue
			}
			out = append(out, Annotate(batch[i], byID[batch[i].ErpSystemID], snapshot))
		}
		return nil
	})
	if errWalk != nil {
		return nil, fmt.Errorf("access: visible jobs: %w", errWalk)
	}
	return out, nil
}

// Annotate projects a cached job into its supplier-facing shape.
func Annotate(job models.CachedJob, tenant models.ErpSystem, snapshot *statusmapping.Snapshot) SupplierJob {
	view := SupplierJob{
		ID:                         job.ID,
		ErpSystemID:                job.ErpSystemID,
		ErpSystemName:              tenant.Name,
		ErpSystemDomain:            tenant.Domain,
		Description:                job.Description,
		EquipmentDescription:       job.EquipmentDescription,
		ProcessFunctionDescription: job.ProcessFunctionDescription,
		ProgressStatus:             job.ProgressStatus,
		RecordChangedAt:            job.RecordChangedAt,
	}
	if target, ok := snapshot.Lookup(job.ErpSystemID, job.ProgressStatus); ok {
		view.TargetStatus = &target
		view.Actionable = true
	}
	return view
}
