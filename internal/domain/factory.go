// Package domain holds the core entities of the FactoryOps telemetry and
// alerting path: the tenant root (Factory) down to the values a rule
// evaluates (telemetry samples) and the incidents rules produce (alerts).
package domain

import "time"

// Factory is the tenant root. Every other entity in this package belongs
// to exactly one Factory via a factory_id foreign key.
type Factory struct {
	ID        int64     `db:"id" json:"id"`
	Slug      string    `db:"slug" json:"slug"`
	Name      string    `db:"name" json:"name"`
	Timezone  string    `db:"timezone" json:"timezone"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
