package openpanel

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/randalmurphal/openpanel/pkg/openpanel/config"
	"github.com/randalmurphal/openpanel/pkg/openpanel/deadletter"
	"github.com/randalmurphal/openpanel/pkg/openpanel/delivery"
	"github.com/randalmurphal/openpanel/pkg/openpanel/device"
	operrors "github.com/randalmurphal/openpanel/pkg/openpanel/errors"
	"github.com/randalmurphal/openpanel/pkg/openpanel/lifecycle"
	"github.com/randalmurphal/openpanel/pkg/openpanel/observability"
)

// SDK identification sent with every request.
const (
	SDKVersion     = "0.1.0"
	DefaultSDKName = "go"
)

// Options configures a Client. Only ClientID is required.
type Options struct {
	// ClientID identifies the project. Required.
	ClientID string

	// ClientSecret is sent when set. Server-side clients need it.
	ClientSecret string

	// APIURL is the collector base URL.
	// Default: https://api.openpanel.dev
	APIURL string

	// WaitForProfile holds every event until Identify or Ready is called.
	WaitForProfile bool

	// Filter, when set, drops events for which it returns false. Held
	// events are filtered again when released. Filter must not call back
	// into the Client.
	Filter func(Event) bool

	// Disabled drops every event.
	Disabled bool

	// AutomaticTracking sends app_opened and app_closed from Lifecycle.
	AutomaticTracking bool

	// Lifecycle supplies foreground and background transitions. Only used
	// with AutomaticTracking.
	Lifecycle lifecycle.Registrar

	// Metadata supplies the device properties merged into track events.
	// Default: device.Detect(App, SDKVersion)
	Metadata device.Source

	// UserAgent builds the user-agent header.
	// Default: the same detected device.Info as Metadata
	UserAgent device.UserAgentBuilder

	// App names the host application for the detected defaults.
	App device.App

	// Headers are added to every request. They override the default
	// openpanel headers on collision.
	Headers map[string]string

	// SDKName is reported in the openpanel-sdk-name header.
	// Default: go
	SDKName string

	// MaxRetries bounds retries of transport failures.
	// Default: 3. Use NoRetries=true to disable retries.
	MaxRetries int

	// NoRetries disables retries. When true, MaxRetries is ignored.
	NoRetries bool

	// InitialRetryDelay is the first backoff, doubled on each retry.
	// Default: 500ms
	InitialRetryDelay time.Duration

	// Timeout bounds each HTTP attempt.
	// Default: 10s
	Timeout time.Duration

	// HTTPClient overrides the HTTP client. Timeout is ignored when set.
	HTTPClient *http.Client

	// Logger receives diagnostics.
	// Default: slog.Default()
	Logger *slog.Logger

	// Metrics records counters and latencies.
	// Default: observability.NoopMetrics{}
	Metrics observability.MetricsRecorder

	// Spans traces each delivery.
	// Default: observability.NoopSpanManager{}
	Spans observability.SpanManager

	// DeadLetters records terminally failed deliveries when set.
	DeadLetters deadletter.Store
}

// withDefaults returns a copy of o with every unset collaborator filled in.
func (o Options) withDefaults() Options {
	if o.APIURL == "" {
		o.APIURL = delivery.DefaultBaseURL
	}
	if o.SDKName == "" {
		o.SDKName = DefaultSDKName
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = observability.NoopMetrics{}
	}
	if o.Spans == nil {
		o.Spans = observability.NoopSpanManager{}
	}
	if o.Metadata == nil || o.UserAgent == nil {
		info := device.Detect(o.App, SDKVersion)
		if o.Metadata == nil {
			o.Metadata = info
		}
		if o.UserAgent == nil {
			o.UserAgent = info
		}
	}
	if o.Headers != nil {
		headers := make(map[string]string, len(o.Headers))
		for k, v := range o.Headers {
			headers[k] = v
		}
		o.Headers = headers
	}
	return o
}

// validate reports the first configuration problem.
func (o Options) validate() error {
	if o.ClientID == "" {
		return &operrors.ConfigurationError{Field: "client_id", Message: "required"}
	}
	if err := delivery.ValidateBaseURL(o.APIURL); err != nil {
		return fmt.Errorf("api_url: %w", err)
	}
	return nil
}

// deliveryConfig builds the delivery settings, default headers included.
func (o Options) deliveryConfig() delivery.Config {
	headers := map[string]string{
		"openpanel-client-id":   o.ClientID,
		"openpanel-sdk-name":    o.SDKName,
		"openpanel-sdk-version": SDKVersion,
		"user-agent":            o.UserAgent.UserAgent(),
	}
	if o.ClientSecret != "" {
		headers["openpanel-client-secret"] = o.ClientSecret
	}
	for k, v := range o.Headers {
		headers[k] = v
	}

	return delivery.Config{
		BaseURL:           o.APIURL,
		Headers:           headers,
		MaxRetries:        o.MaxRetries,
		NoRetries:         o.NoRetries,
		InitialRetryDelay: o.InitialRetryDelay,
		Timeout:           o.Timeout,
		HTTPClient:        o.HTTPClient,
		Logger:            o.Logger,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			observability.LogRetry(o.Logger, attempt+1, backoff, err)
		},
	}
}

// OptionsFromConfig maps a configuration document onto Options. Keys may
// sit at the top level or under an "openpanel" section:
//
//	openpanel:
//	  client_id: 8a9c...
//	  client_secret: ${OPENPANEL_CLIENT_SECRET}
//	  api_url: https://collector.internal
//	  wait_for_profile: true
//	  max_retries: 5
//	  initial_retry_delay: 250ms
//	  timeout: 5s
//	  headers:
//	    x-environment: staging
//
// Collaborators (filter, logger, lifecycle, stores) are code-only.
func OptionsFromConfig(cfg config.Config) Options {
	if cfg.Has("openpanel") {
		cfg = cfg.Sub("openpanel")
	}
	opts := Options{
		ClientID:          cfg.String("client_id", ""),
		ClientSecret:      cfg.String("client_secret", ""),
		APIURL:            cfg.String("api_url", ""),
		WaitForProfile:    cfg.Bool("wait_for_profile", false),
		Disabled:          cfg.Bool("disabled", false),
		AutomaticTracking: cfg.Bool("automatic_tracking", false),
		MaxRetries:        cfg.Int("max_retries", 0),
		InitialRetryDelay: cfg.Duration("initial_retry_delay", 0),
		Timeout:           cfg.Duration("timeout", 0),
		SDKName:           cfg.String("sdk_name", ""),
		Headers:           cfg.StringMap("headers", nil),
	}
	if cfg.Has("max_retries") && opts.MaxRetries == 0 {
		opts.NoRetries = true
	}
	return opts
}

// LoadOptions reads Options from a YAML or JSON file.
func LoadOptions(path string) (Options, error) {
	cfg, err := config.FromFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("load options: %w", err)
	}
	return OptionsFromConfig(cfg), nil
}
