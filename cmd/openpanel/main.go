// openpanel sends events to an OpenPanel collector from the command line.
//
//	openpanel -client-id 8a9c... -profile user-42 -event checkout -prop items=3 -prop plan=pro
//
// Options may also come from a YAML or JSON file given with -config. Flags
// override file values.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/randalmurphal/openpanel/pkg/openpanel"
	"github.com/randalmurphal/openpanel/pkg/openpanel/deadletter"
	"github.com/randalmurphal/openpanel/pkg/openpanel/observability"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "openpanel:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("openpanel", flag.ContinueOnError)
	var (
		configPath  = fs.String("config", "", "YAML or JSON options file")
		clientID    = fs.String("client-id", "", "Project client id")
		apiURL      = fs.String("api-url", "", "Collector base URL")
		profile     = fs.String("profile", "", "Identify as this profile before tracking")
		email       = fs.String("email", "", "Email trait sent with -profile")
		event       = fs.String("event", "", "Name of the event to track")
		deadLetters = fs.String("dead-letters", "", "SQLite file recording failed deliveries")
		stats       = fs.Bool("stats", false, "Print delivery metrics on exit")
		verbose     = fs.Bool("verbose", false, "Enable debug logging")
		timeout     = fs.Duration("wait", 30*time.Second, "How long to wait for delivery")
		props       = propertyFlag{}
	)
	fs.Var(&props, "prop", "Event property as key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *event == "" && *profile == "" {
		return fmt.Errorf("nothing to send: set -event or -profile")
	}

	opts := openpanel.Options{}
	if *configPath != "" {
		loaded, err := openpanel.LoadOptions(*configPath)
		if err != nil {
			return err
		}
		opts = loaded
	}
	if *clientID != "" {
		opts.ClientID = *clientID
	}
	if *apiURL != "" {
		opts.APIURL = *apiURL
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts.Logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	opts.Metrics = observability.NewMetricsRecorder(mp)
	opts.Spans = observability.NewSpanManager(tp)

	var store deadletter.Store
	if *deadLetters != "" {
		s, err := deadletter.NewSQLiteStore(*deadLetters)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
		opts.DeadLetters = s
	}

	client, err := openpanel.Open(opts)
	if err != nil {
		return err
	}

	if *profile != "" {
		client.Identify(openpanel.Identify{ProfileID: *profile, Email: *email})
	}
	if *event != "" {
		client.Track(*event, props.Map())
	}

	waitCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	if err := client.Close(waitCtx); err != nil {
		return err
	}

	if store != nil {
		n, err := store.Count(ctx)
		if err != nil {
			return fmt.Errorf("count dead letters: %w", err)
		}
		if n > 0 {
			fmt.Fprintf(os.Stderr, "%d failed deliveries recorded in %s\n", n, *deadLetters)
		}
	}

	if *stats {
		return printStats(ctx, reader)
	}
	return nil
}

// printStats writes every counter collected by reader, one per line.
func printStats(ctx context.Context, reader sdkmetric.Reader) error {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return fmt.Errorf("collect metrics: %w", err)
	}

	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[m.Name] += dp.Value
				}
			}
		}
	}

	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%-32s %d\n", name, totals[name])
	}
	return nil
}
