package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"snackmaster-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB

	// Machines
	ListMachines(ctx context.Context) ([]model.Machine, error)
	GetMachine(ctx context.Context, id string) (model.Machine, error)
	CreateMachine(ctx context.Context, m *model.Machine) error
	UpdateMachine(ctx context.Context, id string, upd MachineUpdate) error
	SoftDeleteMachine(ctx context.Context, id string) error

	// Slot grid
	Trays(ctx context.Context, machineID string) ([]int, error)
	RootSlots(ctx context.Context, machineID string, tray int) ([]model.Slot, error)
	Children(ctx context.Context, rootID string) ([]model.Slot, error)
	AddSlot(ctx context.Context, machineID string, tray int) (model.Slot, error)
	UpdateSlot(ctx context.Context, machineID, slotID string, upd SlotUpdate) error
	DeleteSlot(ctx context.Context, machineID, slotID string) error
	MergeRight(ctx context.Context, machineID, rootID string) error
	Demerge(ctx context.Context, machineID, rootID string) error
	RegenerateSlots(ctx context.Context, machineID string, trayCount, slotsPerTray, defaultCapacity int) error

	// Reconciliation and refill
	UpdateStockPercent(ctx context.Context, machineID string, percent int) error
	ConfirmRefill(ctx context.Context, machineID, userEmail string) (model.RefillLog, error)
	RefillLogs(ctx context.Context, machineID string) ([]model.RefillLog, error)

	// Products
	ListProducts(ctx context.Context) ([]model.Product, error)
	CreateProduct(ctx context.Context, p *model.Product) error
	UpdateProduct(ctx context.Context, id string, upd ProductUpdate) error
	DeleteProduct(ctx context.Context, id string) error
}

// MachineUpdate carries the editable machine fields; nil means "leave as is".
type MachineUpdate struct {
	Name     *string
	Location *string
	Capacity *int
	Status   *string
}

// SlotUpdate carries the editable slot fields; nil means "leave as is".
// Setting ProductID to a non-nil empty string clears the product.
type SlotUpdate struct {
	Capacity   *int
	CurrentQty *int
	ProductID  *string
}

// ProductUpdate carries the editable product fields; nil means "leave as is".
type ProductUpdate struct {
	Name       *string
	SKU        *string
	PriceCents *int
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// txRetries bounds how often a conflicting multi-record update is retried
// before the failure is surfaced to the caller.
const txRetries = 3

// lockForUpdate adds SELECT ... FOR UPDATE so rows read inside a transaction
// stay put until it commits. On Postgres (READ COMMITTED) a plain read locks
// nothing, so a concurrent delete or merge could invalidate a precondition
// between the read and the write. SQLite has no FOR UPDATE; its single
// writer serializes the transactions anyway, so the clause is skipped there.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// inTx runs fn in a transaction, retrying on database-level failures. Domain
// errors are final: the state was re-read inside the transaction, so the
// precondition genuinely no longer holds.
func (s *gormStore) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < txRetries; attempt++ {
		err = s.db.WithContext(ctx).Transaction(fn)
		if err == nil || IsDomainErr(err) {
			return err
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", txRetries, err)
}

// --- Machines ---

func (s *gormStore) ListMachines(ctx context.Context) ([]model.Machine, error) {
	var machines []model.Machine
	err := s.db.WithContext(ctx).
		Where("status <> ?", model.StatusDeleted).
		Order("id").
		Find(&machines).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list machines: %w", err)
	}
	return machines, nil
}

func (s *gormStore) GetMachine(ctx context.Context, id string) (model.Machine, error) {
	var m model.Machine
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Machine{}, fmt.Errorf("machine %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Machine{}, fmt.Errorf("failed to fetch machine %s: %w", id, err)
	}
	return m, nil
}

func (s *gormStore) CreateMachine(ctx context.Context, m *model.Machine) error {
	if m.ID == "" || m.Capacity <= 0 {
		return fmt.Errorf("machine id and a positive capacity are required: %w", ErrValidation)
	}
	if m.Status == "" {
		m.Status = model.StatusActive
	}
	if !model.ValidStatus(m.Status) {
		return fmt.Errorf("unknown machine status %q: %w", m.Status, ErrValidation)
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to create machine %s: %w", m.ID, err)
	}
	return nil
}

func (s *gormStore) UpdateMachine(ctx context.Context, id string, upd MachineUpdate) error {
	fields := map[string]any{}
	if upd.Name != nil {
		fields["name"] = *upd.Name
	}
	if upd.Location != nil {
		fields["location"] = *upd.Location
	}
	if upd.Capacity != nil {
		if *upd.Capacity <= 0 {
			return fmt.Errorf("capacity must be positive: %w", ErrValidation)
		}
		fields["capacity"] = *upd.Capacity
	}
	if upd.Status != nil {
		if !model.ValidStatus(*upd.Status) {
			return fmt.Errorf("unknown machine status %q: %w", *upd.Status, ErrValidation)
		}
		fields["status"] = *upd.Status
	}
	if len(fields) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&model.Machine{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update machine %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("machine %s: %w", id, ErrNotFound)
	}
	return nil
}

// SoftDeleteMachine marks the machine deleted. Machine rows are never
// removed so refill logs keep resolving.
func (s *gormStore) SoftDeleteMachine(ctx context.Context, id string) error {
	status := model.StatusDeleted
	return s.UpdateMachine(ctx, id, MachineUpdate{Status: &status})
}

// --- Reconciliation and refill ---

// UpdateStockPercent caches a reconciliation result on the machine and stamps
// the processing time.
func (s *gormStore) UpdateStockPercent(ctx context.Context, machineID string, percent int) error {
	res := s.db.WithContext(ctx).Model(&model.Machine{}).
		Where("id = ?", machineID).
		Updates(map[string]any{
			"current_stock_percent": percent,
			"last_csv_processed_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update stock percent for machine %s: %w", machineID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("machine %s: %w", machineID, ErrNotFound)
	}
	return nil
}

// ConfirmRefill resets the machine to a full stock reading and appends the
// audit entry. Both writes happen in one transaction so a successful
// confirmation always produces exactly one log entry.
func (s *gormStore) ConfirmRefill(ctx context.Context, machineID, userEmail string) (model.RefillLog, error) {
	if userEmail == "" {
		userEmail = "unknown"
	}

	var entry model.RefillLog
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		// Lock the machine row so the previous-percent snapshot in the log
		// matches what this confirmation overwrote.
		var m model.Machine
		if err := lockForUpdate(tx).First(&m, "id = ?", machineID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("machine %s: %w", machineID, ErrNotFound)
			}
			return err
		}

		now := time.Now().UTC()
		res := tx.Model(&model.Machine{}).Where("id = ?", machineID).Updates(map[string]any{
			"current_stock_percent": 100,
			"last_refill_at":        now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("machine %s was changed concurrently", machineID)
		}

		entry = model.RefillLog{
			ID:              uuid.NewString(),
			MachineID:       m.ID,
			MachineName:     m.Name,
			MachineLocation: m.Location,
			UserEmail:       userEmail,
			Capacity:        m.Capacity,
			PreviousPercent: m.CurrentStockPercent,
			NewPercent:      100,
			Action:          model.ActionRefillComplete,
			CreatedAt:       now,
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		if IsDomainErr(err) {
			return model.RefillLog{}, err
		}
		return model.RefillLog{}, fmt.Errorf("failed to confirm refill for machine %s: %w", machineID, err)
	}
	return entry, nil
}

func (s *gormStore) RefillLogs(ctx context.Context, machineID string) ([]model.RefillLog, error) {
	var logs []model.RefillLog
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if machineID != "" {
		q = q.Where("machine_id = ?", machineID)
	}
	if err := q.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to list refill logs: %w", err)
	}
	return logs, nil
}

// --- Products ---

func (s *gormStore) ListProducts(ctx context.Context) ([]model.Product, error) {
	var products []model.Product
	if err := s.db.WithContext(ctx).Order("name").Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

func (s *gormStore) CreateProduct(ctx context.Context, p *model.Product) error {
	if p.Name == "" {
		return fmt.Errorf("product name is required: %w", ErrValidation)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

// UpdateProduct edits the catalog entry and keeps the denormalized name on
// slots in sync when the name changes.
func (s *gormStore) UpdateProduct(ctx context.Context, id string, upd ProductUpdate) error {
	fields := map[string]any{}
	if upd.Name != nil {
		if *upd.Name == "" {
			return fmt.Errorf("product name is required: %w", ErrValidation)
		}
		fields["name"] = *upd.Name
	}
	if upd.SKU != nil {
		fields["sku"] = *upd.SKU
	}
	if upd.PriceCents != nil {
		fields["price_cents"] = *upd.PriceCents
	}
	if len(fields) == 0 {
		return nil
	}

	err := s.inTx(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&model.Product{}).Where("id = ?", id).Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("product %s: %w", id, ErrNotFound)
		}
		if upd.Name != nil {
			return tx.Model(&model.Slot{}).
				Where("product_id = ?", id).
				Update("product_name", *upd.Name).Error
		}
		return nil
	})
	if err != nil && !IsDomainErr(err) {
		return fmt.Errorf("failed to update product %s: %w", id, err)
	}
	return err
}

// DeleteProduct removes the catalog entry. Slots referencing it keep their
// denormalized product name; there is no cascade.
func (s *gormStore) DeleteProduct(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&model.Product{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete product %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return nil
}
