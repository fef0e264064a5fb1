package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/faucetdb/basin/internal/model"
)

type fakeStore struct {
	mu       sync.Mutex
	hooks    []model.Webhook
	outcomes map[int64][]bool
}

func (f *fakeStore) ListActiveWebhooks(_ context.Context, modelID int64) ([]model.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Webhook
	for _, h := range f.hooks {
		if h.ModelID == modelID && h.IsActive {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeStore) RecordWebhookDelivery(_ context.Context, id int64, ok bool, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outcomes == nil {
		f.outcomes = make(map[int64][]bool)
	}
	f.outcomes[id] = append(f.outcomes[id], ok)
	return nil
}

func (f *fakeStore) recorded(id int64) []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.outcomes[id]...)
}

type captured struct {
	header http.Header
	body   []byte
}

func receiver(t *testing.T, status int) (*httptest.Server, <-chan captured) {
	t.Helper()
	ch := make(chan captured, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ch <- captured{header: r.Header.Clone(), body: body}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

var products = &model.ModelDefinition{ID: 7, Name: "product", TableName: "products"}

func TestDeliverySignedAndRecorded(t *testing.T) {
	srv, got := receiver(t, http.StatusOK)
	store := &fakeStore{hooks: []model.Webhook{{
		ID: 1, ModelID: 7, URL: srv.URL, Secret: "s3cret", IsActive: true,
		Events:  []string{model.EventCreated},
		Headers: map[string]string{"X-Team": "catalog"},
	}}}
	d := New(store, nil, Options{Workers: 1, QueueSize: 4, Timeout: 2 * time.Second, AllowPrivate: true})
	d.Start()

	d.Notify(products, model.EventCreated, map[string]any{"id": 1, "name": "Lamp"})
	d.Notify(products, model.EventDeleted, map[string]any{"id": 1})

	var c captured
	select {
	case c = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery received")
	}
	d.Close()

	if sig := c.header.Get(SignatureHeader); !Verify("s3cret", c.body, sig) {
		t.Errorf("signature %q does not verify", sig)
	}
	if c.header.Get("X-Webhook-Event") != model.EventCreated {
		t.Errorf("X-Webhook-Event = %q", c.header.Get("X-Webhook-Event"))
	}
	if c.header.Get("X-Webhook-Delivery") == "" {
		t.Error("missing X-Webhook-Delivery")
	}
	if c.header.Get("User-Agent") != UserAgent {
		t.Errorf("User-Agent = %q", c.header.Get("User-Agent"))
	}
	if c.header.Get("X-Team") != "catalog" {
		t.Error("custom header not forwarded")
	}

	var p struct {
		Event string         `json:"event"`
		Table string         `json:"table"`
		Data  map[string]any `json:"data"`
	}
	if err := json.Unmarshal(c.body, &p); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if p.Event != "created" || p.Table != "products" || p.Data["name"] != "Lamp" {
		t.Errorf("payload = %+v", p)
	}

	// The deleted event is not subscribed.
	if len(got) != 0 {
		t.Errorf("unexpected extra deliveries: %d", len(got))
	}
	if r := store.recorded(1); len(r) != 1 || !r[0] {
		t.Errorf("recorded = %v, want [true]", r)
	}
}

func TestFailedDeliveryRecorded(t *testing.T) {
	srv, _ := receiver(t, http.StatusInternalServerError)
	store := &fakeStore{hooks: []model.Webhook{{
		ID: 2, ModelID: 7, URL: srv.URL, IsActive: true, Events: []string{model.EventUpdated},
	}}}
	d := New(store, nil, Options{Workers: 1, QueueSize: 4, Timeout: 2 * time.Second, AllowPrivate: true})
	d.Start()
	d.Notify(products, model.EventUpdated, map[string]any{"id": 3})
	d.Close()

	if r := store.recorded(2); len(r) != 1 || r[0] {
		t.Errorf("recorded = %v, want [false]", r)
	}
}

func TestConditionFilters(t *testing.T) {
	srv, got := receiver(t, http.StatusNoContent)
	store := &fakeStore{hooks: []model.Webhook{{
		ID: 3, ModelID: 7, URL: srv.URL, IsActive: true, Events: []string{model.EventCreated},
		Condition: `record.price > 100`,
	}}}
	d := New(store, nil, Options{Workers: 1, QueueSize: 4, Timeout: 2 * time.Second, AllowPrivate: true})
	d.Start()
	d.Notify(products, model.EventCreated, map[string]any{"id": 1, "price": 20.0})
	d.Notify(products, model.EventCreated, map[string]any{"id": 2, "price": 250.0})
	d.Close()

	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(got))
	}
	c := <-got
	var p Payload
	_ = json.Unmarshal(c.body, &p)
	if data, _ := p.Data.(map[string]any); data["price"] != 250.0 {
		t.Errorf("delivered %v", p.Data)
	}
}

func TestQueueFullDrops(t *testing.T) {
	d := New(&fakeStore{}, nil, Options{Workers: 1, QueueSize: 1})
	// Workers not started, so the second event has nowhere to go.
	d.Notify(products, model.EventCreated, map[string]any{"id": 1})
	d.Notify(products, model.EventCreated, map[string]any{"id": 2})
	if len(d.queue) != 1 {
		t.Errorf("queue length = %d, want 1", len(d.queue))
	}
}

func TestNotifyAfterClose(t *testing.T) {
	d := New(&fakeStore{}, nil, Options{Workers: 1})
	d.Start()
	d.Close()
	d.Notify(products, model.EventCreated, map[string]any{"id": 1})
	d.Close()
}

func TestPing(t *testing.T) {
	srv, got := receiver(t, http.StatusOK)
	d := New(&fakeStore{}, nil, Options{Timeout: 2 * time.Second, AllowPrivate: true})
	hook := &model.Webhook{ID: 9, URL: srv.URL}

	res, err := d.Test(context.Background(), hook, "products")
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if !res.Success || res.StatusCode != http.StatusOK {
		t.Errorf("result = %+v", res)
	}
	c := <-got
	if c.header.Get("X-Webhook-Event") != model.EventPing {
		t.Errorf("event header = %q", c.header.Get("X-Webhook-Event"))
	}
	if c.header.Get(SignatureHeader) != "" {
		t.Error("unsigned hook sent a signature")
	}
}

func TestRedirectNotFollowed(t *testing.T) {
	var followed atomic.Bool
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		followed.Store(true)
	}))
	defer target.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer srv.Close()

	d := New(&fakeStore{}, nil, Options{Timeout: 2 * time.Second, AllowPrivate: true})
	res, err := d.Test(context.Background(), &model.Webhook{ID: 1, URL: srv.URL}, "products")
	if err != nil {
		t.Fatal(err)
	}
	if followed.Load() {
		t.Error("redirect was followed")
	}
	if res.Success || res.StatusCode != http.StatusFound {
		t.Errorf("result = %+v", res)
	}
}

type staticResolver map[string][]netip.Addr

func (r staticResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	if a, ok := r[host]; ok {
		return a, nil
	}
	return nil, errors.New("no such host")
}

func TestGuardCheck(t *testing.T) {
	g := NewGuard(staticResolver{
		"hooks.example.com":  {netip.MustParseAddr("93.184.216.34")},
		"sneaky.example.com": {netip.MustParseAddr("93.184.216.34"), netip.MustParseAddr("10.1.2.3")},
		"mapped.example.com": {netip.MustParseAddr("::ffff:127.0.0.1")},
	}, false)

	tests := []struct {
		url string
		ok  bool
	}{
		{"https://hooks.example.com/in", true},
		{"http://93.184.216.34/", true},
		{"http://169.254.169.254/latest/meta-data", false},
		{"http://127.0.0.1:8080/", false},
		{"http://[::1]/", false},
		{"http://[fd00::1]/", false},
		{"http://[::ffff:10.0.0.1]/", false},
		{"http://localhost/", false},
		{"http://api.localhost/", false},
		{"http://metadata.google.internal/", false},
		{"http://sneaky.example.com/", false},
		{"http://mapped.example.com/", false},
		{"http://unknown.example.com/", false},
		{"ftp://hooks.example.com/", false},
		{"https://user:pw@hooks.example.com/", false},
		{"not a url", false},
	}
	for _, tt := range tests {
		err := g.Check(context.Background(), tt.url)
		if (err == nil) != tt.ok {
			t.Errorf("Check(%q) = %v, want ok=%v", tt.url, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrBlockedURL) {
			t.Errorf("Check(%q) error does not wrap ErrBlockedURL: %v", tt.url, err)
		}
	}
}

func TestGuardAllowPrivate(t *testing.T) {
	g := NewGuard(nil, true)
	if err := g.Check(context.Background(), "http://127.0.0.1:9000/"); err != nil {
		t.Errorf("allow-private rejected loopback: %v", err)
	}
	if err := g.Check(context.Background(), "gopher://127.0.0.1/"); err == nil {
		t.Error("allow-private accepted a non-http scheme")
	}
}

func TestDialerRefusesPrivatePeers(t *testing.T) {
	srv, got := receiver(t, http.StatusOK)
	d := New(&fakeStore{}, nil, Options{Timeout: 2 * time.Second})
	if err := d.guard.control("tcp4", srv.Listener.Addr().String(), nil); err == nil {
		t.Error("control allowed a loopback peer")
	}
	if err := d.guard.control("tcp4", "93.184.216.34:443", nil); err != nil {
		t.Errorf("control refused a public peer: %v", err)
	}
	if len(got) != 0 {
		t.Error("unexpected delivery")
	}
}

func TestSign(t *testing.T) {
	sig := Sign("key", []byte(`{"a":1}`))
	if len(sig) != len("sha256=")+64 || sig[:7] != "sha256=" {
		t.Errorf("Sign = %q", sig)
	}
	if !Verify("key", []byte(`{"a":1}`), sig) {
		t.Error("Verify rejected a valid signature")
	}
	if Verify("other", []byte(`{"a":1}`), sig) {
		t.Error("Verify accepted the wrong secret")
	}
}
