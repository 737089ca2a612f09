package eventbus_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dmitrymomot/pgebus/pkg/eventbus"
)

// Example demonstrates the full publish-dispatch cycle over the in-memory
// store. Production deployments use NewPGStore over a pgx pool instead, with
// Publish called inside the producer's transaction.
func Example() {
	storage := eventbus.NewMemoryStorage()

	router := eventbus.NewRouter()
	router.On("user.registered", func(ctx *eventbus.EventContext, payload json.RawMessage) error {
		var p struct {
			Email string `json:"email"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		fmt.Printf("welcome email sent to %s\n", p.Email)
		return nil
	})

	bus, err := eventbus.New(storage, router,
		eventbus.WithWorkers(1),
		eventbus.WithPollInterval(10*time.Millisecond),
		eventbus.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		panic(err)
	}

	// The insert callback stands in for the notify channel.
	storage.OnInsert(bus.Wake)

	if err := bus.Start(context.Background()); err != nil {
		panic(err)
	}

	payload, _ := json.Marshal(map[string]string{"email": "user@example.com"})
	if _, err := storage.InsertPending(context.Background(), "user.registered", payload, time.Time{}, 0); err != nil {
		panic(err)
	}

	// Give the worker a moment, then drain gracefully.
	time.Sleep(50 * time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := bus.Shutdown(shutdownCtx); err != nil {
		panic(err)
	}

	// Output:
	// welcome email sent to user@example.com
}

// ExampleRouter_Mount shows how sub-routers compose dotted event paths.
func ExampleRouter_Mount() {
	root := eventbus.NewRouter()

	billing := root.Mount("billing")
	billing.On("invoice.paid", func(ctx *eventbus.EventContext, payload json.RawMessage) error {
		return nil
	})

	for _, d := range root.Match("billing.invoice.paid") {
		fmt.Println(d.Path)
	}

	// Output:
	// billing.invoice.paid
}
