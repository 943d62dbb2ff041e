package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"hydchain/core/events"
	"hydchain/core/types"
)

// EventType represents the logical webhook topic.
type EventType string

const (
	// EventSnapshotReady is emitted when a position snapshot export has been
	// written to the spool directory.
	EventSnapshotReady EventType = "treasury.snapshot.ready"
	// EventLiquidation is emitted when a position is liquidated, so downstream
	// risk desks can react without polling the export surface.
	EventLiquidation EventType = "treasury.liquidation"

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// SnapshotReadyPayload describes the webhook body for snapshot events.
type SnapshotReadyPayload struct {
	Type        EventType `json:"type"`
	JobID       string    `json:"jobId"`
	Path        string    `json:"path"`
	Rows        int       `json:"rows"`
	Checksum    string    `json:"checksum,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
	DeliveryID  string    `json:"deliveryId"`
}

// LiquidationPayload describes the webhook body for liquidation events.
type LiquidationPayload struct {
	Type       EventType `json:"type"`
	PositionID string    `json:"positionId"`
	Asset      string    `json:"asset"`
	Repaid     string    `json:"repaid"`
	BadDebt    string    `json:"badDebt"`
	Partial    bool      `json:"partial"`
	ObservedAt time.Time `json:"observedAt"`
	DeliveryID string    `json:"deliveryId"`
}

// Dispatcher orchestrates webhook deliveries with retry and exponential backoff.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup
}

type delivery struct {
	eventType EventType
	body      []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = string(bytes.TrimSpace([]byte(endpoint)))
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, 32),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	dispatcher.wg.Add(1)
	go dispatcher.worker()
	return dispatcher, nil
}

// Close stops the dispatcher and waits for inflight deliveries to complete.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// EnqueueSnapshotReady sends a snapshot event asynchronously.
func (d *Dispatcher) EnqueueSnapshotReady(payload SnapshotReadyPayload) error {
	payload.Type = EventSnapshotReady
	if payload.GeneratedAt.IsZero() {
		payload.GeneratedAt = time.Now().UTC()
	}
	if payload.DeliveryID == "" {
		payload.DeliveryID = fmt.Sprintf("snapshot-%s-%d", payload.JobID, time.Now().UnixNano())
	}
	return d.enqueue(payload.Type, payload)
}

// EnqueueLiquidation sends a liquidation event asynchronously.
func (d *Dispatcher) EnqueueLiquidation(payload LiquidationPayload) error {
	payload.Type = EventLiquidation
	if payload.ObservedAt.IsZero() {
		payload.ObservedAt = time.Now().UTC()
	}
	if payload.DeliveryID == "" {
		payload.DeliveryID = fmt.Sprintf("liquidation-%s-%d", payload.PositionID, time.Now().UnixNano())
	}
	return d.enqueue(payload.Type, payload)
}

// ObserveEvent bridges journal events onto webhook topics; it is installed as
// the node's event sink. Only liquidations map to a topic today, everything
// else is ignored. The enqueue is non-blocking: a full queue drops the
// delivery rather than stalling the liquidation path.
func (d *Dispatcher) ObserveEvent(event types.Event) {
	if d == nil || event.Type != events.TypeTreasuryLiquidated {
		return
	}
	payload := LiquidationPayload{
		Type:       EventLiquidation,
		PositionID: event.Attribute("positionId"),
		Asset:      event.Attribute("asset"),
		Repaid:     event.Attribute("repaid"),
		BadDebt:    event.Attribute("badDebt"),
		Partial:    event.Attribute("partial") == "true",
		ObservedAt: time.Now().UTC(),
		DeliveryID: fmt.Sprintf("liquidation-%s-%d", event.Attribute("positionId"), time.Now().UnixNano()),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case d.queue <- delivery{eventType: EventLiquidation, body: data}:
	default:
	}
}

func (d *Dispatcher) enqueue(eventType EventType, body interface{}) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	select {
	case d.queue <- delivery{eventType: eventType, body: data}:
		return nil
	case <-d.ctx.Done():
		return errors.New("webhook: dispatcher closed")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.process(job)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) process(job delivery) {
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		ctx, cancel := context.WithTimeout(d.ctx, d.client.Timeout)
		err := d.send(ctx, job)
		cancel()
		if err == nil {
			return
		}
		if attempt >= d.maxAttempts {
			return
		}
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-HYD-Event", string(job.eventType))
	req.Header.Set("X-HYD-Signature", d.sign(job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

func (d *Dispatcher) sign(body []byte) string {
	mac := hmac.New(sha256.New, d.secret)
	_, _ = mac.Write(body)
	sum := mac.Sum(nil)
	return "sha256=" + hex.EncodeToString(sum)
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	if next < current {
		return max
	}
	return next
}
