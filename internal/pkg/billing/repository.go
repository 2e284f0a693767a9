package billing

import (
	"time"

	"github.com/TitanCloudAI/titan-cloud/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service and the
// webhook dispatcher.
type Repository interface {
	UpsertCustomer(c *models.BillingCustomer) error
	GetCustomerByProviderID(providerCustomerID string) (*models.BillingCustomer, error)
	UpsertSubscription(sub *models.BillingSubscription) error
	LatestSubscriptionByCustomer(providerCustomerID string) (*models.BillingSubscription, error)
	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) UpsertCustomer(c *models.BillingCustomer) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider_customer_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"email",
			"name",
			"updated_at",
		}),
	}).Create(c).Error; err != nil {
		return err
	}

	return r.db.Where("provider_customer_id = ?", c.ProviderCustomerID).First(c).Error
}

func (r *gormRepository) GetCustomerByProviderID(providerCustomerID string) (*models.BillingCustomer, error) {
	var c models.BillingCustomer
	err := r.db.Where("provider_customer_id = ?", providerCustomerID).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) UpsertSubscription(sub *models.BillingSubscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider_subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider_customer_id",
			"price_id",
			"plan_id",
			"status",
			"current_period_end",
			"cancel_at_period_end",
			"raw_payload_json",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("provider_subscription_id = ?", sub.ProviderSubscriptionID).First(sub).Error
}

func (r *gormRepository) LatestSubscriptionByCustomer(providerCustomerID string) (*models.BillingSubscription, error) {
	var sub models.BillingSubscription
	err := r.db.Where("provider_customer_id = ?", providerCustomerID).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider_event_id = ?", event.ProviderEventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
