package models

import "time"

// BillingCustomer links a Stripe customer to the platform account it was
// created for. Rows are written when a checkout session is created and kept
// up to date by the webhook sync path.
type BillingCustomer struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	ProviderCustomerID string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"provider_customer_id"`
	Email              string    `gorm:"type:varchar(200);index" json:"email"`
	Name               string    `gorm:"type:varchar(150)" json:"name"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
