package service

import (
	"context"
	"errors"

	"github.com/faucetdb/basin/internal/apperr"
	"github.com/faucetdb/basin/internal/config"
	"github.com/faucetdb/basin/internal/model"
	"github.com/faucetdb/basin/internal/validate"
	"github.com/faucetdb/basin/internal/webhook"
)

// WebhookInput is the body of a webhook create or update.
type WebhookInput struct {
	Table     string            `json:"table" validate:"required"`
	URL       string            `json:"url" validate:"required,url"`
	Secret    *string           `json:"secret"`
	Events    []string          `json:"events" validate:"required,min=1,dive,oneof=created updated deleted"`
	Headers   map[string]string `json:"headers"`
	Condition string            `json:"condition"`
	IsActive  *bool             `json:"is_active"`
}

// WebhookService registers webhooks. Destinations are checked against the
// same guard the dispatcher uses at send time.
type WebhookService struct {
	store      *config.Store
	dispatcher *webhook.Dispatcher
	validator  *validate.Validator
}

// NewWebhookService creates a WebhookService.
func NewWebhookService(store *config.Store, dispatcher *webhook.Dispatcher) *WebhookService {
	return &WebhookService{store: store, dispatcher: dispatcher, validator: validate.New()}
}

// List returns every webhook.
func (s *WebhookService) List(ctx context.Context) ([]model.Webhook, error) {
	return s.store.ListWebhooks(ctx)
}

// Get returns a webhook by id.
func (s *WebhookService) Get(ctx context.Context, id int64) (*model.Webhook, error) {
	w, err := s.store.GetWebhook(ctx, id)
	if err != nil {
		return nil, notFound(err, "Webhook not found.")
	}
	return w, nil
}

// Create validates in and stores a new webhook.
func (s *WebhookService) Create(ctx context.Context, in WebhookInput) (*model.Webhook, error) {
	w := &model.Webhook{IsActive: true}
	if err := s.apply(ctx, w, in); err != nil {
		return nil, err
	}
	if err := s.store.CreateWebhook(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Update validates in and rewrites the webhook with the given id.
func (s *WebhookService) Update(ctx context.Context, id int64, in WebhookInput) (*model.Webhook, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, w, in); err != nil {
		return nil, err
	}
	if err := s.store.UpdateWebhook(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Delete removes a webhook.
func (s *WebhookService) Delete(ctx context.Context, id int64) error {
	return notFound(s.store.DeleteWebhook(ctx, id), "Webhook not found.")
}

// Test sends a ping to the webhook and returns the outcome.
func (s *WebhookService) Test(ctx context.Context, id int64) (*webhook.Result, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	def, err := s.store.GetModel(ctx, w.ModelID)
	if err != nil {
		return nil, notFound(err, "Model not found.")
	}
	res, err := s.dispatcher.Test(ctx, w, def.TableName)
	if errors.Is(err, webhook.ErrBlockedURL) {
		return nil, apperr.FieldError("url", err.Error())
	}
	return res, err
}

func (s *WebhookService) apply(ctx context.Context, w *model.Webhook, in WebhookInput) error {
	if err := s.validator.Struct(in); err != nil {
		return err
	}
	var v apperr.Validation
	def, err := s.store.GetModelByTable(ctx, in.Table)
	if err != nil {
		v.Add("table", "The selected table is invalid.")
	}
	if err := s.dispatcher.Guard().Check(ctx, in.URL); err != nil {
		v.Add("url", err.Error())
	}
	if in.Condition != "" {
		if _, err := validate.CompileExpr(in.Condition); err != nil {
			v.Add("condition", "The condition is not a valid expression.")
		}
	}
	if err := v.Err(); err != nil {
		return err
	}

	w.ModelID = def.ID
	w.URL = in.URL
	if in.Secret != nil {
		w.Secret = *in.Secret
	}
	w.Events = in.Events
	w.Headers = in.Headers
	w.Condition = in.Condition
	if in.IsActive != nil {
		w.IsActive = *in.IsActive
	}
	return nil
}
