// Package config loads typed configuration from environment variables.
//
// It wraps github.com/joho/godotenv and github.com/caarlos0/env/v11: an
// optional .env file is read once per process, then env.Parse populates any
// struct annotated with `env` tags. Each configuration type is parsed at most
// once and cached by type name, so the bus, the store, and the database layer
// all observe the same values no matter who loads first.
//
// # Usage
//
//	var busCfg eventbus.Config
//	var dbCfg pg.Config
//	config.MustLoad(&busCfg)
//	config.MustLoad(&dbCfg)
//
// # Error Handling
//
// Sentinel errors ErrParsingConfig and ErrNilPointer can be checked with
// errors.Is.
package config
