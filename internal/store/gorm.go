package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/tableorder/internal/order"
	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// orderRecord is the GORM model behind GormStore.
type orderRecord struct {
	ID          string          `gorm:"primaryKey;type:varchar(36)"`
	TableID     string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_table_order_number"`
	OrderNumber int32           `gorm:"not null;uniqueIndex:idx_table_order_number"`
	Status      string          `gorm:"type:varchar(32);not null"`
	Notes       string          `gorm:"type:text"`
	Items       []order.Item    `gorm:"type:text;serializer:json"`
	Total       decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	CreatedAt   time.Time       `gorm:"not null"`
	UpdatedAt   time.Time       `gorm:"not null"`
}

func (orderRecord) TableName() string { return "table_orders" }

func (r orderRecord) toOrder() (*order.Order, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse order id: %w", err)
	}
	return &order.Order{
		ID:        id,
		TableID:   r.TableID,
		Number:    r.OrderNumber,
		Items:     append([]order.Item(nil), r.Items...),
		Status:    order.Status(r.Status),
		Notes:     r.Notes,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}, nil
}

// OpenGorm connects to sqlite or mysql.
func OpenGorm(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported gorm driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return db, nil
}

// GormStore is the Order Store for sqlite and mysql deployments.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GormStore and migrates its table.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&orderRecord{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (g *GormStore) CreateOrder(ctx context.Context, arg CreateOrderParams) (*order.Order, error) {
	rec := orderRecord{
		ID:          uuid.New().String(),
		TableID:     arg.TableID,
		OrderNumber: arg.Number,
		Status:      string(arg.Status),
		Notes:       arg.Notes,
		Items:       nonNilItems(arg.Items),
		Total:       arg.Total,
	}
	if err := g.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, ErrOrderNumberConflict
		}
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return rec.toOrder()
}

func (g *GormStore) UpdateOrder(ctx context.Context, id uuid.UUID, patch UpdateOrderPatch) (*order.Order, error) {
	var rec orderRecord
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&rec, "id = ?", id.String()).Error; err != nil {
			return err
		}
		if patch.Items != nil {
			rec.Items = nonNilItems(*patch.Items)
		}
		if patch.Total != nil {
			rec.Total = *patch.Total
		}
		if patch.Notes != nil {
			rec.Notes = *patch.Notes
		}
		if patch.Status != nil {
			rec.Status = string(*patch.Status)
		}
		return tx.Save(&rec).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update order: %w", err)
	}
	return rec.toOrder()
}

func (g *GormStore) GetOrder(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	var rec orderRecord
	if err := g.db.WithContext(ctx).First(&rec, "id = ?", id.String()).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return rec.toOrder()
}

func (g *GormStore) ListOrders(ctx context.Context, tableID string) ([]order.Order, error) {
	var recs []orderRecord
	if err := g.db.WithContext(ctx).
		Where("table_id = ?", tableID).
		Order("order_number ASC").
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	out := make([]order.Order, 0, len(recs))
	for _, rec := range recs {
		o, err := rec.toOrder()
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}
