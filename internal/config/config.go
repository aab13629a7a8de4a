// Package config loads escrow configuration from CUE.
//
// A config file is unified with the embedded schema, so every field is
// optional and constrained:
//
//	rent: lamports_per_byte: 10
//	complete_policy: "sweep"
//	log: level: "debug"
//	serve: cors_origins: ["http://localhost:5173"]
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/escrow/internal/escrow"
	"github.com/roach88/escrow/internal/ledger"
)

//go:embed schema.cue
var schemaSource []byte

// ErrInvalid is returned for files that do not satisfy the schema.
var ErrInvalid = errors.New("invalid config")

// Config is the decoded configuration.
type Config struct {
	Database       string `json:"database"`
	Rent           Rent   `json:"rent"`
	CompletePolicy string `json:"complete_policy"`
	Log            Log    `json:"log"`
	Serve          Serve  `json:"serve"`
}

// Rent mirrors ledger.Rent.
type Rent struct {
	LamportsPerByte uint64 `json:"lamports_per_byte"`
	Overhead        int    `json:"overhead"`
}

// Log selects the slog handler.
type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Serve configures the HTTP API.
type Serve struct {
	Addr        string   `json:"addr"`
	CORSOrigins []string `json:"cors_origins"`
	Faucet      bool     `json:"faucet"`
}

// Default returns the schema defaults.
func Default() Config {
	c, err := Parse(nil, "")
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema: %v", err))
	}
	return c
}

// Load reads and validates the CUE file at path. An empty path yields the
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, path)
}

// Parse validates CUE source against the schema. filename is only used in
// error positions.
func Parse(src []byte, filename string) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config"))

	if len(src) > 0 {
		user := ctx.CompileBytes(src, cue.Filename(filename))
		if err := user.Err(); err != nil {
			return Config{}, fmt.Errorf("%w: %s", ErrInvalid, details(err))
		}
		v = v.Unify(user)
	}

	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrInvalid, details(err))
	}

	var c Config
	if err := v.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrInvalid, details(err))
	}
	return c, nil
}

func details(err error) string {
	return cueerrors.Details(err, nil)
}

// LedgerRent converts the rent section.
func (c Config) LedgerRent() ledger.Rent {
	return ledger.Rent{LamportsPerByte: c.Rent.LamportsPerByte, Overhead: c.Rent.Overhead}
}

// Policy returns the configured complete policy.
func (c Config) Policy() escrow.CompletePolicy {
	return escrow.CompletePolicy(c.CompletePolicy)
}

// ProgramOptions returns the escrow options implied by c.
func (c Config) ProgramOptions(logger *slog.Logger) []escrow.Option {
	return []escrow.Option{
		escrow.WithRent(c.LedgerRent()),
		escrow.WithCompletePolicy(c.Policy()),
		escrow.WithLogger(logger),
	}
}

// Level returns the slog level.
func (c Config) Level() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
