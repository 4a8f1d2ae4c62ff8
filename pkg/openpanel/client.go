package openpanel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/openpanel/pkg/openpanel/deadletter"
	"github.com/randalmurphal/openpanel/pkg/openpanel/delivery"
	operrors "github.com/randalmurphal/openpanel/pkg/openpanel/errors"
	"github.com/randalmurphal/openpanel/pkg/openpanel/lane"
	"github.com/randalmurphal/openpanel/pkg/openpanel/lifecycle"
	"github.com/randalmurphal/openpanel/pkg/openpanel/observability"
	"github.com/randalmurphal/openpanel/pkg/openpanel/property"
	"github.com/randalmurphal/openpanel/pkg/openpanel/queue"
)

const trackPath = "/track"

// Lifecycle pseudo-event names.
const (
	EventAppOpened = "app_opened"
	EventAppClosed = "app_closed"
)

// profileIDKey is the per-call property that overrides the profile of a
// single track event when WithProfileID is not used.
const profileIDKey = "profileId"

// Client accepts events from any goroutine and delivers them, one at a
// time and in submission order, to the collector.
//
// No method blocks on the network and no delivery error is returned to the
// caller. Failures end in a log line, a metric, and an optional dead letter.
type Client struct {
	settings atomic.Pointer[Options]
	cfgMu    sync.Mutex // serializes settings writers

	props *property.Store
	api   *delivery.Client
	lane  *lane.Lane

	// mu orders the wait-for-profile decision against identify and drains,
	// so no event slips between a drain's detach and its replay.
	mu        sync.Mutex
	profileID string
	held      queue.Holding[Event]

	lifeMu     sync.Mutex
	registered map[lifecycle.Registrar]struct{}
	scenes     *lifecycle.Tracker
}

// New creates a client. Events are dropped with a configuration error
// until Initialize succeeds.
func New() *Client {
	c := &Client{
		props:      property.NewStore(),
		api:        delivery.New(delivery.Config{}),
		registered: make(map[lifecycle.Registrar]struct{}),
		scenes:     lifecycle.NewTracker(),
	}
	c.lane = lane.New(lane.Config{
		OnError: func(err error) {
			c.logger().Error("openpanel send job failed", slog.String("error", err.Error()))
		},
	})
	return c
}

// Open is New followed by Initialize.
func Open(opts Options) (*Client, error) {
	c := New()
	if err := c.Initialize(opts); err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	return c, nil
}

// Initialize installs opts, replacing any previous configuration and
// request headers entirely. On error the previous configuration stays.
func (c *Client) Initialize(opts Options) error {
	next := opts.withDefaults()
	if err := next.validate(); err != nil {
		observability.LogConfigurationError(next.Logger, err)
		return err
	}

	c.cfgMu.Lock()
	c.api.UpdateConfig(next.deliveryConfig())
	c.settings.Store(&next)
	c.cfgMu.Unlock()

	if next.AutomaticTracking && next.Lifecycle != nil {
		c.register(next.Lifecycle)
	}
	return nil
}

// Ready stops waiting for a profile and ships everything held so far.
// The switch and the drain happen under one lock, so no concurrent send
// overtakes the held events.
func (c *Client) Ready() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfgMu.Lock()
	cur := c.settings.Load()
	if cur == nil {
		c.cfgMu.Unlock()
		observability.LogConfigurationError(slog.Default(), operrors.ErrNotInitialized)
		return
	}
	next := *cur
	next.WaitForProfile = false
	c.settings.Store(&next)
	c.cfgMu.Unlock()

	c.drainLocked()
}

// Flush replays held events. Events still lacking a profile while the
// client waits for one go back into the queue in the same order.
func (c *Client) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drainLocked()
}

// SetGlobalProperties merges props into the properties attached to every
// tracked event. Later values win per key.
func (c *Client) SetGlobalProperties(props property.Map) {
	c.props.Set(props)
}

// GlobalProperties returns a snapshot of the global properties.
func (c *Client) GlobalProperties() (property.Map, bool) {
	return c.props.Read()
}

// Clear forgets the current profile and global properties. Held events
// stay held.
func (c *Client) Clear() {
	c.mu.Lock()
	c.profileID = ""
	c.mu.Unlock()
	c.props.Clear()
}

// ProfileID returns the current profile, empty when unknown.
func (c *Client) ProfileID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profileID
}

// Pending returns the number of held events.
func (c *Client) Pending() int {
	return c.held.Len()
}

// AddHeader adds a header to every later request until the next Initialize.
func (c *Client) AddHeader(key, value string) {
	c.api.AddHeader(key, value)
}

// TrackOption adjusts a single Track call.
type TrackOption func(*trackOptions)

type trackOptions struct {
	profileID string
}

// WithProfileID attributes the event to id instead of the current profile.
// The client's profile is unchanged.
func WithProfileID(id string) TrackOption {
	return func(o *trackOptions) {
		o.profileID = id
	}
}

// Track records a named action. Properties are layered device metadata,
// then global properties, then props; later layers win.
func (c *Client) Track(name string, props property.Map, opts ...TrackOption) {
	var o trackOptions
	for _, opt := range opts {
		opt(&o)
	}

	merged := property.Map{}
	if s := c.settings.Load(); s != nil {
		merged = property.FromStrings(s.Metadata.BasicProperties())
	}
	if global, ok := c.props.Read(); ok {
		merged = merged.Merge(global)
	}
	merged = merged.Merge(props)

	profileID := o.profileID
	if profileID == "" {
		if v, ok := props[profileIDKey]; ok {
			profileID, _ = v.AsString()
		}
	}

	c.send(Track{Name: name, Properties: merged, ProfileID: profileID})
}

// Identify makes id.ProfileID the current profile and releases held events
// to it. The identify event itself is only sent when it carries traits or
// properties; global properties are merged under its own.
func (c *Client) Identify(id Identify) {
	c.mu.Lock()
	c.profileID = id.ProfileID
	c.drainLocked()
	c.mu.Unlock()

	if !id.hasTraits() {
		return
	}
	if global, ok := c.props.Read(); ok {
		id.Properties = global.Merge(id.Properties)
	}
	c.send(id)
}

// Alias links a second identifier to a profile.
func (c *Client) Alias(a Alias) {
	c.send(a)
}

// Increment adds to a numeric profile property.
func (c *Client) Increment(i Increment) {
	c.send(i)
}

// Decrement subtracts from a numeric profile property.
func (c *Client) Decrement(d Decrement) {
	c.send(d)
}

// Wait blocks until every event handed to the sender so far is done.
// Held events are not waited for.
func (c *Client) Wait(ctx context.Context) error {
	return c.lane.Wait(ctx)
}

// Close finishes in-flight deliveries and stops the sender. If ctx ends
// first, the remaining deliveries are abandoned. Held events are dropped.
func (c *Client) Close(ctx context.Context) error {
	if err := c.lane.Close(ctx); err != nil {
		return fmt.Errorf("close openpanel client: %w", err)
	}
	return nil
}

// send applies the drop rules, then queues or dispatches ev.
func (c *Client) send(ev Event) {
	typ := string(ev.Type())
	s := c.settings.Load()
	if s == nil {
		observability.LogConfigurationError(slog.Default(), operrors.ErrNotInitialized)
		observability.LogDropped(slog.Default(), typ, observability.ReasonNotInitialized)
		return
	}

	ctx := context.Background()
	s.Metrics.RecordSubmitted(ctx, typ)

	if reason, ok := dropReason(s, ev); ok {
		c.drop(s, typ, reason)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.routeLocked(ev)
}

// routeLocked holds ev while a profile is awaited, otherwise stamps the
// current profile on track events and submits ev. Settings are read under
// c.mu so a concurrent Ready either sees ev held or ev sees Ready.
func (c *Client) routeLocked(ev Event) {
	s := c.settings.Load()
	typ := string(ev.Type())

	if s.WaitForProfile && c.profileID == "" {
		c.held.Append(ev)
		s.Metrics.RecordQueued(context.Background(), typ)
		observability.LogQueued(s.Logger, typ, c.held.Len())
		return
	}

	if t, ok := ev.(Track); ok && t.ProfileID == "" {
		t.ProfileID = c.profileID
		ev = t
	}

	envelopeID := uuid.NewString()
	err := c.lane.Submit(func(ctx context.Context) error {
		c.deliver(ctx, s, ev, envelopeID)
		return nil
	})
	if err != nil {
		c.drop(s, typ, observability.ReasonClosed)
	}
}

// drainLocked detaches the held events and sends them again in order,
// under the settings current at drain time.
func (c *Client) drainLocked() {
	held := c.held.Detach()
	if len(held) == 0 {
		return
	}

	s := c.settings.Load()
	observability.LogDrained(s.Logger, len(held), c.profileID)

	for _, ev := range held {
		if reason, ok := dropReason(s, ev); ok {
			c.drop(s, string(ev.Type()), reason)
			continue
		}
		c.routeLocked(ev)
	}
}

// dropReason applies the disabled flag and the filter.
func dropReason(s *Options, ev Event) (string, bool) {
	if s.Disabled {
		return observability.ReasonDisabled, true
	}
	if s.Filter != nil && !s.Filter(ev) {
		return observability.ReasonFiltered, true
	}
	return "", false
}

func (c *Client) drop(s *Options, typ, reason string) {
	s.Metrics.RecordDropped(context.Background(), typ, reason)
	observability.LogDropped(s.Logger, typ, reason)
}

// deliver runs on the lane. It never returns an error: failures are
// logged, counted and optionally dead-lettered.
func (c *Client) deliver(ctx context.Context, s *Options, ev Event, envelopeID string) {
	typ := string(ev.Type())
	logger := observability.EnrichLogger(s.Logger, typ, envelopeID)
	elapsed := observability.TimedOperation()

	ctx, span := s.Spans.StartDeliverySpan(ctx, typ, envelopeID)

	var out delivery.Outcome
	body, err := MarshalEvent(ev)
	if err != nil {
		out.Err = err
	} else {
		logger.Debug("delivering event", slog.Int("size_bytes", len(body)))
		out = c.api.Do(ctx, trackPath, json.RawMessage(body))
	}

	span.SetAttributes(
		attribute.Int("delivery.attempts", out.Attempts),
		attribute.Int("http.status_code", out.StatusCode),
	)
	if out.Attempts > 1 {
		s.Spans.AddSpanEvent(ctx, "retried", attribute.Int("retries", out.Attempts-1))
	}
	s.Metrics.RecordDelivery(ctx, typ, out.Duration, out.Attempts, out.Err)

	if out.Err == nil {
		s.Spans.EndSpanWithError(span, nil)
		observability.LogDelivered(s.Logger, typ, envelopeID, out.Attempts, elapsed())
		return
	}

	observability.LogDeliveryError(s.Logger, typ, envelopeID, out.Attempts, out.StatusCode, out.Err)

	if s.DeadLetters != nil {
		entry := deadletter.NewEntry(typ, body, out.Err, out.Attempts)
		entry.ID = envelopeID
		if err := s.DeadLetters.Record(context.WithoutCancel(ctx), entry); err != nil {
			observability.LogDeadLetterError(s.Logger, typ, "record", err)
		} else {
			s.Spans.AddSpanEvent(ctx, "dead_lettered")
		}
	}
	s.Spans.EndSpanWithError(span, out.Err)
}

// register subscribes to r once. The scene tracker collapses concurrent
// scenes into a single opened/closed pair.
func (c *Client) register(r lifecycle.Registrar) {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if reflect.TypeOf(r).Comparable() {
		if _, ok := c.registered[r]; ok {
			return
		}
		c.registered[r] = struct{}{}
	}

	r.OnForeground(func(scene string) {
		if c.scenes.Foreground(scene) && c.autoTracking() {
			c.Track(EventAppOpened, nil)
		}
	})
	r.OnBackground(func(scene string) {
		if c.scenes.Background(scene) && c.autoTracking() {
			c.Track(EventAppClosed, nil)
		}
	})
}

func (c *Client) autoTracking() bool {
	s := c.settings.Load()
	return s != nil && s.AutomaticTracking
}

func (c *Client) logger() *slog.Logger {
	if s := c.settings.Load(); s != nil {
		return s.Logger
	}
	return slog.Default()
}
