package main

import (
	"encoding/json"
	"os"
	"strconv"

	"go.uber.org/zap"
)

// app holds shared state for all CLI subcommands.
type app struct {
	dbPath string // from MESHSIM_DB, may be empty
	seed   int64  // from MESHSIM_SEED
}

func newApp() *app {
	seed := int64(1)
	if v := envOr("MESHSIM_SEED", ""); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			fatal("bad MESHSIM_SEED %q: %v", v, err)
		}
		seed = n
	}
	return &app{
		dbPath: envOr("MESHSIM_DB", ""),
		seed:   seed,
	}
}

// buildLogger returns a development logger when verbose, else a nop.
func buildLogger(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		fatal("build logger: %v", err)
	}
	return logger
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
