// Package logger builds configured log/slog loggers for the event bus and
// its surrounding process: JSON or text output, level control, static
// attributes, and development/production presets.
//
// Every bus component accepts a *slog.Logger through its options, so a
// single call wires the whole pipeline:
//
//	log := logger.New(logger.WithProduction("billing-worker"))
//	bus, err := eventbus.New(store, router, eventbus.WithLogger(log))
package logger
