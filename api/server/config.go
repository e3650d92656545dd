package server

import (
	"errors"
	"log/slog"
	"time"

	"github.com/malbeclabs/claimvault/api/handlers"
	"github.com/malbeclabs/claimvault/ledger/pkg/vault"
	"golang.org/x/time/rate"
)

type Config struct {
	Logger            *slog.Logger
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	RequestTimeout    time.Duration
	VersionInfo       handlers.VersionInfo

	Engine *vault.Engine
	Auth   handlers.AuthConfig

	// CORSOrigins lists allowed browser origins; empty disables CORS.
	CORSOrigins []string

	// ClaimRate and ClaimBurst limit authenticated requests per caller wallet.
	ClaimRate  rate.Limit
	ClaimBurst int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.Engine == nil {
		return errors.New("engine is required")
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	if err := cfg.Auth.Validate(); err != nil {
		return err
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.ClaimRate <= 0 {
		cfg.ClaimRate = rate.Every(time.Minute / 30)
	}
	if cfg.ClaimBurst <= 0 {
		cfg.ClaimBurst = 5
	}
	return nil
}
