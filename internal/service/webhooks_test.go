package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/faucetdb/basin/internal/apperr"
	"github.com/faucetdb/basin/internal/model"
	"github.com/faucetdb/basin/internal/webhook"
)

func TestWebhookRegistrationRejectsSSRF(t *testing.T) {
	models, store, _ := newTestModels(t)
	ctx := context.Background()
	if _, err := models.Create(ctx, productsModel()); err != nil {
		t.Fatal(err)
	}
	svc := NewWebhookService(store, webhook.New(store, nil, webhook.Options{}))

	for _, url := range []string{
		"http://169.254.169.254/",
		"http://localhost:8080/hook",
		"http://10.0.0.5/hook",
		"file:///etc/passwd",
	} {
		_, err := svc.Create(ctx, WebhookInput{Table: "products", URL: url, Events: []string{model.EventCreated}})
		e, ok := apperr.As(err)
		if !ok || e.Code != apperr.CodeValidation {
			t.Errorf("%s: expected validation error, got %v", url, err)
			continue
		}
		if _, ok := e.Fields["url"]; !ok {
			t.Errorf("%s: error not keyed on url: %v", url, e.Fields)
		}
	}
}

func TestWebhookCRUDAndPing(t *testing.T) {
	models, store, _ := newTestModels(t)
	ctx := context.Background()
	if _, err := models.Create(ctx, productsModel()); err != nil {
		t.Fatal(err)
	}
	pinged := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pinged <- r.Header.Get("X-Webhook-Event")
	}))
	defer srv.Close()

	svc := NewWebhookService(store, webhook.New(store, nil, webhook.Options{Timeout: 2 * time.Second, AllowPrivate: true}))

	_, err := svc.Create(ctx, WebhookInput{Table: "products", URL: srv.URL, Events: []string{"exploded"}})
	assertCode(t, err, apperr.CodeValidation)
	_, err = svc.Create(ctx, WebhookInput{Table: "products", URL: srv.URL, Events: []string{"created"}, Condition: "record.price >"})
	assertCode(t, err, apperr.CodeValidation)
	_, err = svc.Create(ctx, WebhookInput{Table: "ghosts", URL: srv.URL, Events: []string{"created"}})
	assertCode(t, err, apperr.CodeValidation)

	secret := "shh"
	w, err := svc.Create(ctx, WebhookInput{
		Table: "products", URL: srv.URL, Secret: &secret,
		Events: []string{model.EventCreated, model.EventDeleted}, Condition: "record.price > 10",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !w.IsActive || w.Secret != "shh" {
		t.Errorf("created = %+v", w)
	}

	off := false
	w, err = svc.Update(ctx, w.ID, WebhookInput{Table: "products", URL: srv.URL, Events: []string{model.EventUpdated}, IsActive: &off})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if w.IsActive || w.Secret != "shh" || !w.Subscribed(model.EventUpdated) {
		t.Errorf("updated = %+v", w)
	}

	res, err := svc.Test(ctx, w.ID)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if !res.Success {
		t.Errorf("ping result = %+v", res)
	}
	if ev := <-pinged; ev != model.EventPing {
		t.Errorf("event = %q", ev)
	}

	if err := svc.Delete(ctx, w.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, err = svc.Get(ctx, w.ID)
	assertCode(t, err, apperr.CodeNotFound)
}

type memAnalytics struct{ got chan *model.AnalyticsEntry }

func (m memAnalytics) RecordAnalytics(_ context.Context, e *model.AnalyticsEntry) error {
	m.got <- e
	return nil
}

func TestAnalyticsRecorder(t *testing.T) {
	sink := memAnalytics{got: make(chan *model.AnalyticsEntry, 4)}
	r := NewAnalyticsRecorder(sink, 4, nil)
	r.Start()
	r.Record(&model.AnalyticsEntry{TableName: "products", Method: "GET", StatusCode: 200})
	r.Shutdown()
	r.Record(&model.AnalyticsEntry{TableName: "late"})

	if len(sink.got) != 1 {
		t.Fatalf("entries written = %d, want 1", len(sink.got))
	}
	if e := <-sink.got; e.TableName != "products" {
		t.Errorf("entry = %+v", e)
	}
}
