/*
Package openpanel records user actions in an application and forwards them
to an OpenPanel collector.

# Overview

A Client accepts events from any goroutine, attaches device metadata and
global properties, and hands them to a single background sender that posts
them to {APIURL}/track one at a time, in submission order. Callers never
block on the network and never see delivery errors: failures are logged,
counted, and optionally written to a dead-letter store.

	client, err := openpanel.Open(openpanel.Options{
	    ClientID:     "8a9c...",
	    ClientSecret: os.Getenv("OPENPANEL_CLIENT_SECRET"),
	})
	if err != nil {
	    log.Fatal(err)
	}
	defer client.Close(context.Background())

	client.SetGlobalProperties(property.MustMapOf(map[string]any{"plan": "pro"}))
	client.Track("checkout", property.MustMapOf(map[string]any{"items": 3}))

# Waiting for a profile

With WaitForProfile set, every event is held until the profile is known.
Identify sets the profile and replays the held events, in their original
order, ahead of anything submitted afterwards. Ready gives up on waiting and
ships the held events without a profile.

	client.Identify(openpanel.Identify{ProfileID: "user-42", Email: "a@b.c"})

Clear forgets the profile and global properties but keeps held events.

# Property values

Properties are property.Map values. property.ValueOf and property.MapOf
convert plain Go values and reject unsupported types when the map is built,
never at send time.

# Delivery

Transport failures (refused connections, timeouts, resets) are retried with
exponential backoff: 0.5s, 1s, 2s by default. Any completed HTTP exchange
with a non-2xx status is final.

# Lifecycle

With AutomaticTracking and a lifecycle.Registrar, the client sends
app_opened when the first scene comes to the foreground and app_closed when
the last one leaves it.
*/
package openpanel
