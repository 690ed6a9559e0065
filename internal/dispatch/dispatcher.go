package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRetrySchedule is the sleep before each delivery attempt. Three
// attempts total; exhaustion parks the envelope in the durable queue.
var DefaultRetrySchedule = []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second}

// Options configures a Dispatcher.
type Options struct {
	// Endpoints maps event type name to webhook URL. A missing entry means
	// the event is configured off and emissions for it are dropped silently.
	Endpoints map[string]string
	Store     *Store
	Logger    *zap.Logger
	Timeout   time.Duration
	Model     string
	Version   string
	// Schedule overrides DefaultRetrySchedule, mainly for tests.
	Schedule []time.Duration
	// OnDelivered, when set, is called after every successful delivery so the
	// caller can record it (the CLI appends a webhook_sent audit entry).
	OnDelivered func(event Event, key, planID string, attempts int)
}

// Dispatcher emits milestone events to configured webhook endpoints with
// at-most-once semantics per (event type, plan id).
type Dispatcher struct {
	endpoints   map[string]string
	store       *Store
	client      *http.Client
	logger      *zap.Logger
	sysCtx      SystemContext
	schedule    []time.Duration
	onDelivered func(event Event, key, planID string, attempts int)

	mu       sync.Mutex
	inFlight map[string]bool

	healthMu      sync.Mutex
	healthOK      bool
	healthChecked time.Time

	wg sync.WaitGroup
}

// EmitResult describes what happened to a single emission.
type EmitResult struct {
	Delivered  bool
	Skipped    bool
	SkipReason string
	Queued     bool
	Attempts   int
	Key        string
}

// New constructs a Dispatcher. The store may be nil for fire-and-forget use
// without idempotency or a durable queue, which only tests should want.
func New(opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	schedule := opts.Schedule
	if len(schedule) == 0 {
		schedule = DefaultRetrySchedule
	}
	host, err := os.Hostname()
	if err != nil {
		host = "local"
	}
	return &Dispatcher{
		endpoints: opts.Endpoints,
		store:     opts.Store,
		client:    &http.Client{Timeout: opts.Timeout},
		logger:    opts.Logger,
		schedule:  schedule,
		sysCtx: SystemContext{
			ToolVersion: opts.Version,
			Hostname:    host,
			Model:       opts.Model,
		},
		onDelivered: opts.OnDelivered,
		inFlight:    make(map[string]bool),
	}
}

func (d *Dispatcher) notifyDelivered(event Event, key, planID string, attempts int) {
	if d.onDelivered != nil {
		d.onDelivered(event, key, planID, attempts)
	}
}

// Emit sends one event synchronously, retrying per the schedule. With force
// the idempotency check is bypassed, which heartbeats and manual test fires
// need. Exhausted envelopes are queued durably, never dropped.
func (d *Dispatcher) Emit(ctx context.Context, event Event, planID string, payload map[string]any, force bool) (EmitResult, error) {
	if !event.Valid() {
		return EmitResult{}, fmt.Errorf("unknown event type %q", event)
	}

	key := IdempotencyKey(event, planID)
	result := EmitResult{Key: key}

	url, ok := d.endpoints[string(event)]
	if !ok || url == "" {
		result.Skipped = true
		result.SkipReason = "no endpoint configured"
		d.logger.Debug("event not configured, skipping",
			zap.String("event", string(event)))
		return result, nil
	}

	if !force {
		if skip, reason, err := d.shouldSkip(key); err != nil {
			return result, err
		} else if skip {
			result.Skipped = true
			result.SkipReason = reason
			d.logger.Info("duplicate emission suppressed",
				zap.String("event", string(event)),
				zap.String("key", key))
			return result, nil
		}
	}
	defer d.release(key)

	env := d.envelope(event, key, payload)

	// First attempt goes out immediately; the schedule only paces retries, so a
	// healthy endpoint never pays backoff latency.
	var lastErr error
	for i := range d.schedule {
		result.Attempts = i + 1
		if lastErr = d.deliver(ctx, url, env); lastErr == nil {
			result.Delivered = true
			if d.store != nil {
				if err := d.store.RecordDelivered(key, string(event), planID); err != nil {
					return result, err
				}
			}
			d.notifyDelivered(event, key, planID, result.Attempts)
			d.logger.Info("event delivered",
				zap.String("event", string(event)),
				zap.String("key", key),
				zap.Int("attempt", result.Attempts))
			return result, nil
		}
		d.logger.Warn("delivery attempt failed",
			zap.String("event", string(event)),
			zap.Int("attempt", result.Attempts),
			zap.Error(lastErr))

		if i < len(d.schedule)-1 {
			select {
			case <-time.After(d.schedule[i]):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
	}

	if d.store != nil {
		if err := d.store.Enqueue(env, lastErr.Error()); err != nil {
			return result, err
		}
		result.Queued = true
		d.logger.Warn("delivery exhausted, event queued",
			zap.String("event", string(event)),
			zap.String("key", key))
		return result, nil
	}
	return result, fmt.Errorf("deliver %s: %w", event, lastErr)
}

// EmitAsync fires Emit on a goroutine so the pipeline never blocks on the bus.
func (d *Dispatcher) EmitAsync(ctx context.Context, event Event, planID string, payload map[string]any) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.Emit(ctx, event, planID, payload, false); err != nil {
			d.logger.Error("async emission failed",
				zap.String("event", string(event)),
				zap.Error(err))
		}
	}()
}

// Wait blocks until all async emissions have settled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// ProcessQueue makes one redelivery attempt per queued entry. Successful
// entries are resolved atomically; failures bump the attempt counter and stay.
func (d *Dispatcher) ProcessQueue(ctx context.Context) (delivered, remaining int, err error) {
	if d.store == nil {
		return 0, 0, fmt.Errorf("no dispatch store configured")
	}
	entries, err := d.store.Queued()
	if err != nil {
		return 0, 0, err
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return delivered, len(entries) - delivered, ctx.Err()
		}

		url, ok := d.endpoints[entry.EventType]
		if !ok || url == "" {
			remaining++
			continue
		}

		planID, _ := entry.Envelope.Payload["plan_id"].(string)
		if err := d.deliver(ctx, url, entry.Envelope); err != nil {
			if bumpErr := d.store.BumpAttempt(entry.ID, err.Error()); bumpErr != nil {
				return delivered, remaining, bumpErr
			}
			remaining++
			d.logger.Warn("queued redelivery failed",
				zap.Int64("entry", entry.ID),
				zap.Error(err))
			continue
		}
		if err := d.store.Resolve(entry.ID, entry.IdempotencyKey, entry.EventType, planID); err != nil {
			return delivered, remaining, err
		}
		d.notifyDelivered(Event(entry.EventType), entry.IdempotencyKey, planID, entry.Attempts+1)
		delivered++
		d.logger.Info("queued event redelivered",
			zap.Int64("entry", entry.ID),
			zap.String("event", entry.EventType))
	}
	return delivered, remaining, nil
}

// Healthcheck probes the first configured endpoint with a HEAD request. The
// result is cached for a minute so phase transitions do not hammer the bus.
func (d *Dispatcher) Healthcheck(ctx context.Context) bool {
	d.healthMu.Lock()
	defer d.healthMu.Unlock()
	if time.Since(d.healthChecked) < time.Minute && !d.healthChecked.IsZero() {
		return d.healthOK
	}

	d.healthChecked = time.Now()
	d.healthOK = false
	for _, url := range d.endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			break
		}
		resp, err := d.client.Do(req)
		if err == nil {
			resp.Body.Close()
			d.healthOK = resp.StatusCode < 500
		}
		break
	}
	return d.healthOK
}

func (d *Dispatcher) envelope(event Event, key string, payload map[string]any) Envelope {
	if payload == nil {
		payload = map[string]any{}
	}
	return Envelope{
		EventType:        event,
		EventDescription: event.Description(),
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		IdempotencyKey:   key,
		SystemContext:    d.sysCtx,
		Payload:          payload,
	}
}

// shouldSkip checks both the durable delivered set and the in-process
// in-flight set, claiming the key when neither holds it.
func (d *Dispatcher) shouldSkip(key string) (bool, string, error) {
	if d.store != nil {
		delivered, err := d.store.WasDelivered(key)
		if err != nil {
			return false, "", err
		}
		if delivered {
			return true, "already delivered", nil
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inFlight[key] {
		return true, "delivery in flight", nil
	}
	d.inFlight[key] = true
	return false, "", nil
}

func (d *Dispatcher) release(key string) {
	d.mu.Lock()
	delete(d.inFlight, key)
	d.mu.Unlock()
}

// deliver POSTs the envelope. Only a 2xx response counts as delivered.
func (d *Dispatcher) deliver(ctx context.Context, url string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Planward-Event", string(env.EventType))
	req.Header.Set("X-Idempotency-Key", env.IdempotencyKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
