// Package webhook delivers model change notifications to registered URLs.
// Deliveries run on a small worker pool behind a bounded queue, are signed
// when the webhook has a secret, and never reach private address space.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"

	"github.com/faucetdb/basin/internal/model"
	"github.com/faucetdb/basin/internal/validate"
)

// UserAgent is sent on every delivery.
const UserAgent = "basin-webhooks"

// maxResponseBody bounds how much of a receiver's reply is read.
const maxResponseBody = 64 << 10

// Store is the slice of the metadata store the dispatcher needs.
type Store interface {
	ListActiveWebhooks(ctx context.Context, modelID int64) ([]model.Webhook, error)
	RecordWebhookDelivery(ctx context.Context, id int64, ok bool, at time.Time) error
}

// Options configures a Dispatcher.
type Options struct {
	Workers      int
	QueueSize    int
	Timeout      time.Duration
	AllowPrivate bool
	// Resolver overrides DNS resolution for URL checks.
	Resolver Resolver
}

// Payload is the JSON body of a delivery.
type Payload struct {
	Event     string    `json:"event"`
	Table     string    `json:"table"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Result describes one delivery attempt.
type Result struct {
	DeliveryID string        `json:"delivery_id"`
	StatusCode int           `json:"status_code,omitempty"`
	Success    bool          `json:"success"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

type job struct {
	modelID int64
	table   string
	event   string
	record  map[string]any
	at      time.Time
}

// Dispatcher fans committed changes out to webhooks.
type Dispatcher struct {
	store  Store
	guard  *Guard
	client *http.Client
	logger *slog.Logger
	opts   Options

	queue    chan job
	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
	programs sync.Map // condition source -> *vm.Program
}

// New creates a Dispatcher. Call Start before Notify has any effect.
func New(store Store, logger *slog.Logger, opts Options) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	guard := NewGuard(opts.Resolver, opts.AllowPrivate)

	dialer := &net.Dialer{Timeout: opts.Timeout, Control: guard.control}
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Dispatcher{
		store:  store,
		guard:  guard,
		logger: logger,
		opts:   opts,
		queue:  make(chan job, opts.QueueSize),
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Guard returns the URL guard used for registration-time checks.
func (d *Dispatcher) Guard() *Guard {
	return d.guard
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start() {
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Close stops accepting events and waits for queued ones to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

// Notify enqueues a change without blocking. When the queue is full the
// event is dropped.
func (d *Dispatcher) Notify(def *model.ModelDefinition, event string, record map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	j := job{modelID: def.ID, table: def.TableName, event: event, record: record, at: time.Now().UTC()}
	select {
	case d.queue <- j:
	default:
		d.logger.Warn("webhook queue full, dropping event",
			"table", def.TableName, "event", event, "queue_size", d.opts.QueueSize)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		d.process(j)
	}
}

func (d *Dispatcher) process(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*d.opts.Timeout)
	defer cancel()

	hooks, err := d.store.ListActiveWebhooks(ctx, j.modelID)
	if err != nil {
		d.logger.Error("webhook lookup failed", "table", j.table, "error", err)
		return
	}
	for i := range hooks {
		hook := &hooks[i]
		if !hook.Subscribed(j.event) {
			continue
		}
		if !d.matches(hook, j) {
			continue
		}
		res := d.deliver(ctx, hook, Payload{Event: j.event, Table: j.table, Data: j.record, Timestamp: j.at})
		if errors.Is(res.err, ErrBlockedURL) {
			d.logger.Warn("webhook skipped, URL blocked", "webhook_id", hook.ID, "error", res.err)
			continue
		}
		if err := d.store.RecordWebhookDelivery(ctx, hook.ID, res.Success, time.Now().UTC()); err != nil {
			d.logger.Error("record webhook delivery", "webhook_id", hook.ID, "error", err)
		}
		if !res.Success {
			d.logger.Warn("webhook delivery failed",
				"webhook_id", hook.ID, "delivery_id", res.DeliveryID,
				"status", res.StatusCode, "error", res.Error)
			continue
		}
		d.logger.Debug("webhook delivered",
			"webhook_id", hook.ID, "delivery_id", res.DeliveryID,
			"status", res.StatusCode, "duration", res.Duration)
	}
}

// matches evaluates the webhook condition. An empty condition always
// matches; one that fails to compile never does.
func (d *Dispatcher) matches(hook *model.Webhook, j job) bool {
	if hook.Condition == "" {
		return true
	}
	prog, err := d.program(hook.Condition)
	if err != nil {
		d.logger.Warn("webhook condition invalid", "webhook_id", hook.ID, "error", err)
		return false
	}
	return validate.EvalExpr(prog, map[string]any{
		"record": j.record,
		"event":  j.event,
		"table":  j.table,
	})
}

func (d *Dispatcher) program(src string) (*vm.Program, error) {
	if p, ok := d.programs.Load(src); ok {
		return p.(*vm.Program), nil
	}
	p, err := validate.CompileExpr(src)
	if err != nil {
		return nil, err
	}
	d.programs.Store(src, p)
	return p, nil
}

type delivery struct {
	Result
	err error
}

func (d *Dispatcher) deliver(ctx context.Context, hook *model.Webhook, payload Payload) delivery {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	out := delivery{Result: Result{DeliveryID: id.String()}}
	fail := func(err error) delivery {
		out.err = err
		out.Error = err.Error()
		return out
	}

	if err := d.guard.Check(ctx, hook.URL); err != nil {
		return fail(err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fail(fmt.Errorf("encode payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return fail(err)
	}
	for k, v := range hook.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("X-Webhook-Event", payload.Event)
	req.Header.Set("X-Webhook-Delivery", out.DeliveryID)
	if hook.HasSecret() {
		req.Header.Set(SignatureHeader, Sign(hook.Secret, body))
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	out.Duration = time.Since(start)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))

	out.StatusCode = resp.StatusCode
	out.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !out.Success {
		out.Error = fmt.Sprintf("receiver responded %d", resp.StatusCode)
	}
	return out
}

// Test sends a synchronous ping to hook and reports the outcome. It does
// not touch the webhook's delivery counters.
func (d *Dispatcher) Test(ctx context.Context, hook *model.Webhook, table string) (*Result, error) {
	res := d.deliver(ctx, hook, Payload{
		Event:     model.EventPing,
		Table:     table,
		Data:      map[string]any{"webhook_id": hook.ID},
		Timestamp: time.Now().UTC(),
	})
	if errors.Is(res.err, ErrBlockedURL) {
		return nil, res.err
	}
	return &res.Result, nil
}
