package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/order-service/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrVersionConflict is returned when an order row changed under us.
var ErrVersionConflict = errors.New("optimistic lock conflict")

const orderCacheTTL = 5 * time.Minute

// RepositoryInterface restricts Repo methods so the service can be tested against fakes.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	CreateAggregate(ctx context.Context, tx *gorm.DB, o *model.Order, p *model.Payment) error
	GetOrder(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error)
	GetOrderForUpdate(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error)
	GetPayment(ctx context.Context, tx *gorm.DB, paymentID string) (*model.Payment, error)
	GetPaymentByOrderForUpdate(ctx context.Context, tx *gorm.DB, orderID string) (*model.Payment, error)
	GetPaymentByOrder(ctx context.Context, tx *gorm.DB, orderID string) (*model.Payment, error)
	UpdateOrderStatus(ctx context.Context, tx *gorm.DB, o *model.Order, next model.OrderStatus, at time.Time) error
	SavePayment(ctx context.Context, tx *gorm.DB, p *model.Payment) error
	AppendTimestamp(ctx context.Context, tx *gorm.DB, orderID string, status model.OrderStatus, at time.Time) error
	History(ctx context.Context, orderID string) ([]model.OrderTimestamp, error)
	ClaimWebhook(ctx context.Context, tx *gorm.DB, w *model.ProcessedWebhook) (bool, error)
	StalePendingOrders(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
	CreateOutboxEvent(ctx context.Context, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	CacheOrder(ctx context.Context, o *model.Order) error
	FillOrderCache(ctx context.Context, o *model.Order) error
	GetCachedOrder(ctx context.Context, orderID string) (*model.Order, error)
	InvalidateOrder(ctx context.Context, orderID string) error
}

// Repository implements RepositoryInterface.
type Repository struct {
	db  *gorm.DB
	rdb *redis.Client
	log *zap.SugaredLogger
}

// NewRepository constructs repo. rdb may be nil, which disables caching.
func NewRepository(db *gorm.DB, rdb *redis.Client, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// CreateAggregate inserts order, lines and payment in the caller's tx.
func (r *Repository) CreateAggregate(ctx context.Context, tx *gorm.DB, o *model.Order, p *model.Payment) error {
	for i := range o.Lines {
		o.Lines[i].OrderID = o.ID
		o.Lines[i].LineNo = i + 1
	}
	if err := tx.WithContext(ctx).Create(o).Error; err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetOrder loads an order with its lines, without locking.
func (r *Repository) GetOrder(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error) {
	if tx == nil {
		tx = r.db
	}
	var o model.Order
	if err := tx.WithContext(ctx).Where("id = ?", orderID).First(&o).Error; err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, tx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOrderForUpdate locks the order row.
func (r *Repository) GetOrderForUpdate(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error) {
	var o model.Order
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderID).First(&o).Error; err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, tx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repository) loadLines(ctx context.Context, tx *gorm.DB, o *model.Order) error {
	return tx.WithContext(ctx).Where("order_id = ?", o.ID).Order("line_no").Find(&o.Lines).Error
}

// GetPayment reads a payment by its gateway id without locking. Callers lock
// the order first and then the payment, never the other way round.
func (r *Repository) GetPayment(ctx context.Context, tx *gorm.DB, paymentID string) (*model.Payment, error) {
	if tx == nil {
		tx = r.db
	}
	var p model.Payment
	if err := tx.WithContext(ctx).Where("id = ?", paymentID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPaymentByOrderForUpdate locks the payment row of an order.
func (r *Repository) GetPaymentByOrderForUpdate(ctx context.Context, tx *gorm.DB, orderID string) (*model.Payment, error) {
	var p model.Payment
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPaymentByOrder reads the payment of an order without locking.
func (r *Repository) GetPaymentByOrder(ctx context.Context, tx *gorm.DB, orderID string) (*model.Payment, error) {
	if tx == nil {
		tx = r.db
	}
	var p model.Payment
	if err := tx.WithContext(ctx).Where("order_id = ?", orderID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateOrderStatus moves o to next with optimistic lock on version and
// current status. o is updated in place on success.
func (r *Repository) UpdateOrderStatus(ctx context.Context, tx *gorm.DB, o *model.Order, next model.OrderStatus, at time.Time) error {
	res := tx.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND version = ? AND status = ?", o.ID, o.Version, o.Status).
		Updates(map[string]interface{}{
			"status":     next,
			"version":    o.Version + 1,
			"updated_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	o.Status = next
	o.Version++
	o.UpdatedAt = at
	return nil
}

// SavePayment writes the mutable payment columns. Amount and provider are
// fixed at creation and never written here.
func (r *Repository) SavePayment(ctx context.Context, tx *gorm.DB, p *model.Payment) error {
	return tx.WithContext(ctx).Model(p).
		Select("status", "pg_transaction_id", "paid_at", "failed_at", "cancelled_at",
			"fail_reason", "cancel_reason", "cancelled_by", "stock_decremented", "updated_at").
		Updates(p).Error
}

// AppendTimestamp inserts a status-history row.
func (r *Repository) AppendTimestamp(ctx context.Context, tx *gorm.DB, orderID string, status model.OrderStatus, at time.Time) error {
	return tx.WithContext(ctx).Create(&model.OrderTimestamp{OrderID: orderID, Status: status, UpdatedAt: at}).Error
}

// History returns the status rows of an order, oldest first.
func (r *Repository) History(ctx context.Context, orderID string) ([]model.OrderTimestamp, error) {
	var rows []model.OrderTimestamp
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("updated_at asc, id asc").Find(&rows).Error
	return rows, err
}

// ClaimWebhook inserts the ledger row. It returns false when the webhook id
// was already claimed by a committed transaction. A concurrent claim on the
// same id blocks on the primary key until the other transaction ends.
func (r *Repository) ClaimWebhook(ctx context.Context, tx *gorm.DB, w *model.ProcessedWebhook) (bool, error) {
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "webhook_id"}}, DoNothing: true}).
		Create(w)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// StalePendingOrders returns ids of orders still PENDING since before olderThan.
func (r *Repository) StalePendingOrders(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("status = ? AND created_at < ?", model.OrderPending, olderThan).
		Order("created_at").Limit(limit).Pluck("id", &ids).Error
	return ids, err
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, evt *model.OutboxEvent) error {
	return r.db.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = ?", false).Order("created_at, id").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

func orderKey(orderID string) string { return "order:" + orderID }

// CacheOrder overwrites the cached snapshot with a committed order.
func (r *Repository) CacheOrder(ctx context.Context, o *model.Order) error {
	if r.rdb == nil {
		return nil
	}
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, orderKey(o.ID), data, orderCacheTTL).Err()
}

// FillOrderCache stores o only when no snapshot is cached, so a read that
// raced a commit cannot replace the snapshot that commit wrote.
func (r *Repository) FillOrderCache(ctx context.Context, o *model.Order) error {
	if r.rdb == nil {
		return nil
	}
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return r.rdb.SetNX(ctx, orderKey(o.ID), data, orderCacheTTL).Err()
}

// GetCachedOrder reads Redis. A miss returns redis.Nil.
func (r *Repository) GetCachedOrder(ctx context.Context, orderID string) (*model.Order, error) {
	if r.rdb == nil {
		return nil, redis.Nil
	}
	data, err := r.rdb.Get(ctx, orderKey(orderID)).Bytes()
	if err != nil {
		return nil, err
	}
	var o model.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// InvalidateOrder drops the cached snapshot.
func (r *Repository) InvalidateOrder(ctx context.Context, orderID string) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Del(ctx, orderKey(orderID)).Err()
}
