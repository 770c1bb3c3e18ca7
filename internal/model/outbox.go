package model

import "time"

// OutboxEvent holds a downstream event whose publish failed after commit.
type OutboxEvent struct {
	ID          uint64    `gorm:"primaryKey"`
	Topic       string    `gorm:"size:128;not null"`
	Key         string    `gorm:"size:128;not null"`
	EventType   string    `gorm:"size:64;not null"`
	Payload     string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	Processed   bool      `gorm:"not null;default:false"`
	ProcessedAt *time.Time
}

func (OutboxEvent) TableName() string { return "event_outbox" }

// All lists every persisted model, in dependency order.
func All() []interface{} {
	return []interface{}{
		&Order{}, &OrderLine{}, &Payment{}, &OrderTimestamp{}, &ProcessedWebhook{}, &OutboxEvent{},
	}
}
