package openpanel_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/randalmurphal/openpanel/internal/collector"
	"github.com/randalmurphal/openpanel/pkg/openpanel"
	"github.com/randalmurphal/openpanel/pkg/openpanel/deadletter"
	operrors "github.com/randalmurphal/openpanel/pkg/openpanel/errors"
	"github.com/randalmurphal/openpanel/pkg/openpanel/lifecycle"
	"github.com/randalmurphal/openpanel/pkg/openpanel/observability"
	"github.com/randalmurphal/openpanel/pkg/openpanel/property"
)

type fixedDevice map[string]string

func (d fixedDevice) BasicProperties() map[string]string { return d }
func (fixedDevice) UserAgent() string                    { return "TestApp/1.0 (1; amd64; linux 6.1) OpenPanel/test" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient starts a collector and a client pointed at it.
func newTestClient(t *testing.T, configure func(*openpanel.Options)) (*openpanel.Client, *collector.Store) {
	t.Helper()

	store := collector.NewStore()
	srv := httptest.NewServer(collector.NewRouter(store, nil))
	t.Cleanup(srv.Close)

	opts := openpanel.Options{
		ClientID:  "cid",
		APIURL:    srv.URL,
		Metadata:  fixedDevice{"__os": "linux"},
		UserAgent: fixedDevice{},
		NoRetries: true,
		Logger:    discardLogger(),
	}
	if configure != nil {
		configure(&opts)
	}

	client, err := openpanel.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(context.Background()) })
	return client, store
}

func waitDelivered(t *testing.T, c *openpanel.Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
}

func tracks(t *testing.T, store *collector.Store) []openpanel.Track {
	t.Helper()
	var out []openpanel.Track
	for _, r := range store.Events(string(openpanel.TypeTrack)) {
		tr, ok := r.Event.(openpanel.Track)
		require.True(t, ok)
		out = append(out, tr)
	}
	return out
}

func names(ts []openpanel.Track) []string {
	out := make([]string, len(ts))
	for i, tr := range ts {
		out[i] = tr.Name
	}
	return out
}

func TestTrack_MergesMetadataGlobalsAndProps(t *testing.T) {
	client, store := newTestClient(t, func(o *openpanel.Options) {
		o.Metadata = fixedDevice{"__os": "linux", "plan": "device"}
	})

	client.SetGlobalProperties(property.MustMapOf(map[string]any{"plan": "pro", "tier": 1}))
	client.Track("checkout", property.MustMapOf(map[string]any{"tier": 2, "items": 3}))
	waitDelivered(t, client)

	got := tracks(t, store)
	require.Len(t, got, 1)
	assert.Equal(t, property.Map{
		"__os":  property.String("linux"),
		"plan":  property.String("pro"),
		"tier":  property.Int(2),
		"items": property.Int(3),
	}, got[0].Properties)
	assert.Empty(t, got[0].ProfileID)
}

func TestSetGlobalProperties_Union(t *testing.T) {
	client, _ := newTestClient(t, nil)

	client.SetGlobalProperties(property.MustMapOf(map[string]any{"a": 1, "b": "x"}))
	client.SetGlobalProperties(property.MustMapOf(map[string]any{"b": "y", "c": true}))

	got, ok := client.GlobalProperties()
	require.True(t, ok)
	assert.Equal(t, property.Map{
		"a": property.Int(1),
		"b": property.String("y"),
		"c": property.Bool(true),
	}, got)
}

func TestWaitForProfile_HoldsUntilIdentify(t *testing.T) {
	client, store := newTestClient(t, func(o *openpanel.Options) {
		o.WaitForProfile = true
	})

	client.Track("a", nil)
	client.Track("b", nil)
	waitDelivered(t, client)
	assert.Equal(t, 2, client.Pending())
	assert.Zero(t, store.Len())

	client.Identify(openpanel.Identify{ProfileID: "p1"})
	client.Track("c", nil)
	waitDelivered(t, client)

	got := tracks(t, store)
	assert.Equal(t, []string{"a", "b", "c"}, names(got))
	for _, tr := range got {
		assert.Equal(t, "p1", tr.ProfileID, tr.Name)
	}
	assert.Zero(t, client.Pending())
	assert.Empty(t, store.Events(string(openpanel.TypeIdentify)), "identify without traits is not sent")
}

func TestWaitForProfile_HeldEventsPrecedeIdentify(t *testing.T) {
	client, store := newTestClient(t, func(o *openpanel.Options) {
		o.WaitForProfile = true
	})

	client.Track("a", nil)
	client.Identify(openpanel.Identify{ProfileID: "p1", Email: "a@b.c"})
	waitDelivered(t, client)

	events := store.Events("")
	require.Len(t, events, 2)
	assert.Equal(t, "track", events[0].Type)
	assert.Equal(t, "identify", events[1].Type)
	assert.Equal(t, "p1", client.ProfileID())
}

func TestReady_ShipsHeldEventsWithoutProfile(t *testing.T) {
	client, store := newTestClient(t, func(o *openpanel.Options) {
		o.WaitForProfile = true
	})

	client.Track("a", nil)
	client.Ready()
	client.Track("b", nil)
	waitDelivered(t, client)

	got := tracks(t, store)
	assert.Equal(t, []string{"a", "b"}, names(got))
	for _, tr := range got {
		assert.Empty(t, tr.ProfileID)
	}
	assert.Zero(t, client.Pending())
}

func TestReady_ConcurrentTracksFollowHeldEvents(t *testing.T) {
	client, store := newTestClient(t, func(o *openpanel.Options) {
		o.WaitForProfile = true
	})

	var held []string
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("held-%d", i)
		held = append(held, name)
		client.Track(name, nil)
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			for j := 0; j < 5; j++ {
				client.Track(fmt.Sprintf("live-%d-%d", i, j), nil)
			}
		}(i)
	}
	close(start)
	client.Ready()
	wg.Wait()
	waitDelivered(t, client)

	got := names(tracks(t, store))
	require.Len(t, got, 50)
	assert.Equal(t, held, got[:10])
	assert.Zero(t, client.Pending())
}

func TestFlush_WhileWaitingKeepsEvents(t *testing.T) {
	client, store := newTestClient(t, func(o *openpanel.Options) {
		o.WaitForProfile = true
	})

	client.Track("a", nil)
	client.Track("b", nil)
	client.Flush()
	waitDelivered(t, client)

	assert.Equal(t, 2, client.Pending())
	assert.Zero(t, store.Len())

	client.Identify(openpanel.Identify{ProfileID: "p1"})
	waitDelivered(t, client)
	assert.Equal(t, []string{"a", "b"}, names(tracks(t, store)))
}

func TestTrack_ProfileOverride(t *testing.T) {
	client, store := newTestClient(t, nil)

	client.Identify(openpanel.Identify{ProfileID: "p1"})
	client.Track("option", nil, openpanel.WithProfileID("p2"))
	client.Track("key", property.MustMapOf(map[string]any{"profileId": "p3"}))
	client.Track("both", property.MustMapOf(map[string]any{"profileId": "p3"}), openpanel.WithProfileID("p4"))
	client.Track("session", nil)
	waitDelivered(t, client)

	got := tracks(t, store)
	require.Len(t, got, 4)
	assert.Equal(t, "p2", got[0].ProfileID)
	assert.Equal(t, "p3", got[1].ProfileID)
	assert.Equal(t, "p4", got[2].ProfileID)
	assert.Equal(t, "p1", got[3].ProfileID)
	assert.Equal(t, "p1", client.ProfileID())
}

func TestClear_KeepsHeldEvents(t *testing.T) {
	client, store := newTestClient(t, func(o *openpanel.Options) {
		o.WaitForProfile = true
	})

	client.SetGlobalProperties(property.MustMapOf(map[string]any{"plan": "pro"}))
	client.Track("a", nil)
	client.Clear()

	assert.Equal(t, 1, client.Pending())
	_, ok := client.GlobalProperties()
	assert.False(t, ok)
	assert.Empty(t, client.ProfileID())

	client.Identify(openpanel.Identify{ProfileID: "p2"})
	waitDelivered(t, client)

	got := tracks(t, store)
	require.Len(t, got, 1)
	assert.Equal(t, "p2", got[0].ProfileID)
	assert.Equal(t, property.String("pro"), got[0].Properties["plan"], "properties were merged when tracked")
}

func TestClear_AfterIdentifyWaitsAgain(t *testing.T) {
	client, store := newTestClient(t, func(o *openpanel.Options) {
		o.WaitForProfile = true
	})

	client.Identify(openpanel.Identify{ProfileID: "p1"})
	client.Clear()
	client.Track("a", nil)
	waitDelivered(t, client)

	assert.Equal(t, 1, client.Pending())
	assert.Zero(t, store.Len())
}

func TestTrack_ConcurrentAfterIdentify(t *testing.T) {
	client, store := newTestClient(t, func(o *openpanel.Options) {
		o.WaitForProfile = true
	})
	client.Identify(openpanel.Identify{ProfileID: "p1"})

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.Track("tap", nil)
		}()
	}
	wg.Wait()
	waitDelivered(t, client)

	got := tracks(t, store)
	require.Len(t, got, n)
	for _, tr := range got {
		assert.Equal(t, "p1", tr.ProfileID)
	}
}

func TestTrack_ConcurrentWithIdentify(t *testing.T) {
	client, store := newTestClient(t, func(o *openpanel.Options) {
		o.WaitForProfile = true
	})

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.Track("tap", nil)
		}()
	}
	client.Identify(openpanel.Identify{ProfileID: "p1"})
	wg.Wait()
	waitDelivered(t, client)

	got := tracks(t, store)
	require.Len(t, got, n, "no event is lost or left held")
	for _, tr := range got {
		assert.Equal(t, "p1", tr.ProfileID)
	}
	assert.Zero(t, client.Pending())
}

func TestSend_Drops(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*openpanel.Options)
	}{
		{"disabled", func(o *openpanel.Options) { o.Disabled = true }},
		{"filtered", func(o *openpanel.Options) {
			o.Filter = func(ev openpanel.Event) bool {
				tr, ok := ev.(openpanel.Track)
				return !ok || tr.Name != "secret"
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, store := newTestClient(t, tt.configure)

			client.Track("secret", nil)
			waitDelivered(t, client)

			assert.Zero(t, store.Len())
			assert.Zero(t, client.Pending())
		})
	}
}

func TestSend_FilterSeesEveryType(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []openpanel.EventType
	)
	client, store := newTestClient(t, func(o *openpanel.Options) {
		o.Filter = func(ev openpanel.Event) bool {
			mu.Lock()
			seen = append(seen, ev.Type())
			mu.Unlock()
			return ev.Type() != openpanel.TypeAlias
		}
	})

	client.Alias(openpanel.Alias{ProfileID: "p1", Alias: "p2"})
	client.Increment(openpanel.Increment{ProfileID: "p1", Property: "visits"})
	waitDelivered(t, client)

	mu.Lock()
	assert.Equal(t, []openpanel.EventType{openpanel.TypeAlias, openpanel.TypeIncrement}, seen)
	mu.Unlock()

	events := store.Events("")
	require.Len(t, events, 1)
	assert.Equal(t, "increment", events[0].Type)
}

func TestSend_NotInitialized(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	client := openpanel.New()
	defer client.Close(context.Background())

	client.Track("a", nil)
	client.Identify(openpanel.Identify{ProfileID: "p1", Email: "a@b.c"})
	client.Ready()

	assert.Zero(t, client.Pending())
	assert.Equal(t, "p1", client.ProfileID())
	assert.Contains(t, logs.String(), `"reason":"not_initialized"`)
	assert.Contains(t, logs.String(), operrors.ErrNotInitialized.Error())
}

func TestSend_AfterClose(t *testing.T) {
	client, store := newTestClient(t, nil)
	require.NoError(t, client.Close(context.Background()))

	client.Track("late", nil)
	assert.Zero(t, store.Len())
}

func TestIdentify_MergesGlobals(t *testing.T) {
	client, store := newTestClient(t, nil)

	client.SetGlobalProperties(property.MustMapOf(map[string]any{"plan": "pro", "region": "eu"}))
	client.Identify(openpanel.Identify{
		ProfileID:  "p1",
		FirstName:  "Ada",
		Properties: property.MustMapOf(map[string]any{"plan": "free"}),
	})
	waitDelivered(t, client)

	events := store.Events(string(openpanel.TypeIdentify))
	require.Len(t, events, 1)
	id, ok := events[0].Event.(openpanel.Identify)
	require.True(t, ok)
	assert.Equal(t, "p1", id.ProfileID)
	assert.Equal(t, "Ada", id.FirstName)
	assert.Equal(t, property.Map{
		"plan":   property.String("free"),
		"region": property.String("eu"),
	}, id.Properties)
}

func TestIdentify_GlobalsAloneDoNotSend(t *testing.T) {
	client, store := newTestClient(t, nil)

	client.SetGlobalProperties(property.MustMapOf(map[string]any{"plan": "pro"}))
	client.Identify(openpanel.Identify{ProfileID: "p1"})
	waitDelivered(t, client)

	assert.Zero(t, store.Len())
	assert.Equal(t, "p1", client.ProfileID())
}

func TestProfileEvents(t *testing.T) {
	client, store := newTestClient(t, nil)
	five := 5

	client.Alias(openpanel.Alias{ProfileID: "p1", Alias: "p2"})
	client.Increment(openpanel.Increment{ProfileID: "p1", Property: "visits"})
	client.Decrement(openpanel.Decrement{ProfileID: "p1", Property: "credits", Value: &five})
	waitDelivered(t, client)

	events := store.Events("")
	require.Len(t, events, 3)
	assert.JSONEq(t, `{"profileId":"p1","alias":"p2"}`, string(events[0].Payload))
	assert.JSONEq(t, `{"profileId":"p1","property":"visits"}`, string(events[1].Payload))
	assert.JSONEq(t, `{"profileId":"p1","property":"credits","value":5}`, string(events[2].Payload))
}

func TestHeaders(t *testing.T) {
	client, store := newTestClient(t, func(o *openpanel.Options) {
		o.ClientSecret = "shh"
		o.Headers = map[string]string{"x-environment": "staging"}
	})

	client.Track("a", nil)
	waitDelivered(t, client)
	client.AddHeader("x-request-source", "cli")
	client.Track("b", nil)
	waitDelivered(t, client)

	events := store.Events("")
	require.Len(t, events, 2)

	h := events[0].Headers
	assert.Equal(t, "cid", h["Openpanel-Client-Id"])
	assert.Equal(t, "shh", h["Openpanel-Client-Secret"])
	assert.Equal(t, openpanel.DefaultSDKName, h["Openpanel-Sdk-Name"])
	assert.Equal(t, openpanel.SDKVersion, h["Openpanel-Sdk-Version"])
	assert.Equal(t, fixedDevice{}.UserAgent(), h["User-Agent"])
	assert.Equal(t, "application/json", h["Content-Type"])
	assert.Equal(t, "staging", h["X-Environment"])
	assert.Empty(t, h["X-Request-Source"])

	assert.Equal(t, "cli", events[1].Headers["X-Request-Source"])
}

func TestAddHeader_AppliesToHeldEvents(t *testing.T) {
	client, store := newTestClient(t, func(o *openpanel.Options) {
		o.WaitForProfile = true
	})

	client.Track("a", nil)
	client.AddHeader("x-request-source", "cli")
	client.Ready()
	waitDelivered(t, client)

	events := store.Events("")
	require.Len(t, events, 1)
	assert.Equal(t, "cli", events[0].Headers["X-Request-Source"], "headers are read when the request is sent")
}

func TestHeaders_NoSecretWhenUnset(t *testing.T) {
	client, store := newTestClient(t, nil)

	client.Track("a", nil)
	waitDelivered(t, client)

	events := store.Events("")
	require.Len(t, events, 1)
	_, ok := events[0].Headers["Openpanel-Client-Secret"]
	assert.False(t, ok)
}

func TestInitialize_ResetsAddedHeaders(t *testing.T) {
	client, store := newTestClient(t, nil)

	client.AddHeader("x-extra", "1")
	require.NoError(t, client.Initialize(openpanel.Options{
		ClientID:  "cid2",
		APIURL:    store2URL(t, store),
		Metadata:  fixedDevice{},
		UserAgent: fixedDevice{},
		NoRetries: true,
		Logger:    discardLogger(),
	}))
	client.Track("a", nil)
	waitDelivered(t, client)

	events := store.Events("")
	require.Len(t, events, 1)
	assert.Equal(t, "cid2", events[0].Headers["Openpanel-Client-Id"])
	assert.Empty(t, events[0].Headers["X-Extra"])
}

// store2URL serves store on a fresh listener.
func store2URL(t *testing.T, store *collector.Store) string {
	t.Helper()
	srv := httptest.NewServer(collector.NewRouter(store, nil))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestDelivery_HTTPErrorIsDeadLettered(t *testing.T) {
	dl := deadletter.NewMemoryStore(10)
	client, store := newTestClient(t, func(o *openpanel.Options) {
		o.DeadLetters = dl
		o.NoRetries = false
		o.MaxRetries = 3
		o.InitialRetryDelay = time.Millisecond
	})
	store.InjectFault(collector.Fault{StatusCode: http.StatusInternalServerError})

	client.Track("a", nil)
	client.Track("b", nil)
	waitDelivered(t, client)

	assert.Equal(t, []string{"b"}, names(tracks(t, store)))

	entries, err := dl.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "track", e.EventType)
	assert.Equal(t, http.StatusInternalServerError, e.StatusCode)
	assert.Equal(t, 1, e.Attempts, "http errors are not retried")

	ev, err := openpanel.UnmarshalEvent(e.Body)
	require.NoError(t, err)
	assert.Equal(t, "a", ev.(openpanel.Track).Name)
}

func TestDelivery_RetriesTransportFailure(t *testing.T) {
	dl := deadletter.NewMemoryStore(10)
	client, store := newTestClient(t, func(o *openpanel.Options) {
		o.DeadLetters = dl
		o.NoRetries = false
		o.MaxRetries = 2
		o.InitialRetryDelay = time.Millisecond
	})
	store.InjectFault(collector.Fault{Disconnect: true, Count: 2})

	client.Track("a", nil)
	waitDelivered(t, client)

	assert.Equal(t, []string{"a"}, names(tracks(t, store)))
	n, err := dl.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDelivery_TransportFailureExhausted(t *testing.T) {
	dl := deadletter.NewMemoryStore(10)
	client, store := newTestClient(t, func(o *openpanel.Options) {
		o.DeadLetters = dl
		o.NoRetries = false
		o.MaxRetries = 1
		o.InitialRetryDelay = time.Millisecond
	})
	store.InjectFault(collector.Fault{Disconnect: true, Count: 2})

	client.Track("a", nil)
	client.Track("b", nil)
	waitDelivered(t, client)

	assert.Equal(t, []string{"b"}, names(tracks(t, store)))
	entries, err := dl.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "transport", entries[0].Kind)
	assert.Equal(t, 2, entries[0].Attempts)
}

func TestInitialize_Validation(t *testing.T) {
	_, err := openpanel.Open(openpanel.Options{Logger: discardLogger()})
	var cfgErr *operrors.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "client_id", cfgErr.Field)

	for _, url := range []string{"ftp://collector", "http://", "::"} {
		_, err = openpanel.Open(openpanel.Options{ClientID: "cid", APIURL: url, Logger: discardLogger()})
		var urlErr *operrors.InvalidURLError
		assert.True(t, errors.As(err, &urlErr), url)
	}
}

func TestInitialize_InvalidKeepsPreviousConfig(t *testing.T) {
	client, store := newTestClient(t, nil)

	err := client.Initialize(openpanel.Options{APIURL: "http://other", Logger: discardLogger()})
	require.Error(t, err)

	client.Track("a", nil)
	waitDelivered(t, client)
	assert.Len(t, tracks(t, store), 1)
}

func TestLifecycle_OpenedAndClosedOnce(t *testing.T) {
	hooks := lifecycle.NewHooks()
	client, store := newTestClient(t, func(o *openpanel.Options) {
		o.AutomaticTracking = true
		o.Lifecycle = hooks
	})
	// Re-initializing with the same registrar does not subscribe twice.
	opts := openpanel.Options{
		ClientID:          "cid",
		APIURL:            store2URL(t, store),
		Metadata:          fixedDevice{},
		UserAgent:         fixedDevice{},
		NoRetries:         true,
		Logger:            discardLogger(),
		AutomaticTracking: true,
		Lifecycle:         hooks,
	}
	require.NoError(t, client.Initialize(opts))

	hooks.Foreground("main")
	hooks.Foreground("settings")
	hooks.Background("main")
	hooks.Background("settings")
	waitDelivered(t, client)

	assert.Equal(t, []string{openpanel.EventAppOpened, openpanel.EventAppClosed}, names(tracks(t, store)))
}

func TestLifecycle_DisabledAutomaticTracking(t *testing.T) {
	hooks := lifecycle.NewHooks()
	client, store := newTestClient(t, func(o *openpanel.Options) {
		o.AutomaticTracking = true
		o.Lifecycle = hooks
	})

	opts := openpanel.Options{
		ClientID:  "cid",
		APIURL:    store2URL(t, store),
		Metadata:  fixedDevice{},
		UserAgent: fixedDevice{},
		NoRetries: true,
		Logger:    discardLogger(),
	}
	require.NoError(t, client.Initialize(opts))

	hooks.Foreground("main")
	hooks.Background("main")
	waitDelivered(t, client)

	assert.Zero(t, store.Len())
}

func TestWaitForProfile_ReplayAppliesCurrentFilter(t *testing.T) {
	var blockAll atomic.Bool
	client, store := newTestClient(t, func(o *openpanel.Options) {
		o.WaitForProfile = true
		o.Filter = func(openpanel.Event) bool { return !blockAll.Load() }
	})

	client.Track("a", nil)
	client.Track("b", nil)
	blockAll.Store(true)
	client.Identify(openpanel.Identify{ProfileID: "p1"})
	waitDelivered(t, client)

	assert.Zero(t, store.Len())
	assert.Zero(t, client.Pending())
}

func TestDelivery_Observability(t *testing.T) {
	spans := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	client, store := newTestClient(t, func(o *openpanel.Options) {
		o.Spans = observability.NewSpanManager(tp)
		o.Metrics = observability.NewMetricsRecorder(mp)
		o.DeadLetters = deadletter.NewMemoryStore(10)
		o.NoRetries = false
		o.MaxRetries = 1
		o.InitialRetryDelay = time.Millisecond
	})
	store.InjectFault(collector.Fault{Disconnect: true})
	client.Track("retried", nil)
	waitDelivered(t, client)

	store.InjectFault(collector.Fault{StatusCode: http.StatusBadRequest})
	client.Track("rejected", nil)
	waitDelivered(t, client)

	got := spans.GetSpans()
	require.Len(t, got, 2)
	assert.Equal(t, "openpanel.deliver.track", got[0].Name)
	assert.Equal(t, codes.Ok, got[0].Status.Code)
	require.Len(t, got[0].Events, 1)
	assert.Equal(t, "retried", got[0].Events[0].Name)

	assert.Equal(t, codes.Error, got[1].Status.Code)
	var eventNames []string
	for _, e := range got[1].Events {
		eventNames = append(eventNames, e.Name)
	}
	assert.Contains(t, eventNames, "dead_lettered")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var submitted int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "openpanel.events.submitted" {
				for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
					submitted += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), submitted)
}
