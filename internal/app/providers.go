package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"animestream/catalogservice/internal/provider"
)

// ProvidersFile is the TOML tuning file. Every field is optional; absent
// values keep provider.DefaultConfig.
//
//	[providers.mangadex]
//	accept_threshold = 0.7
//	rate_limit_wait_ms = 250
//
//	[site_aliases]
//	Zoro = "animesite"
type ProvidersFile struct {
	Providers   map[string]ProviderTuning `toml:"providers"`
	SiteAliases map[string]string         `toml:"site_aliases"`
}

type ProviderTuning struct {
	Enabled           *bool    `toml:"enabled"`
	MatchThreshold    *float64 `toml:"match_threshold"`
	AcceptThreshold   *float64 `toml:"accept_threshold"`
	RateLimitWaitMS   *int     `toml:"rate_limit_wait_ms"`
	UsePartialQuery   *bool    `toml:"use_partial_query"`
	PartialQueryRatio *float64 `toml:"partial_query_ratio"`
	TimeoutSeconds    *int     `toml:"timeout_seconds"`
}

// LoadProvidersFile decodes path. An empty path or a missing file yields an
// empty tuning set.
func LoadProvidersFile(path string) (ProvidersFile, error) {
	var file ProvidersFile
	path = strings.TrimSpace(path)
	if path == "" {
		return file, nil
	}
	handle, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return file, nil
		}
		return file, fmt.Errorf("open providers file: %w", err)
	}
	defer handle.Close()

	if err := toml.NewDecoder(handle).DisallowUnknownFields().Decode(&file); err != nil {
		return ProvidersFile{}, fmt.Errorf("parse providers file: %w", err)
	}
	normalized := make(map[string]ProviderTuning, len(file.Providers))
	for name, tuning := range file.Providers {
		if err := tuning.validate(); err != nil {
			return ProvidersFile{}, fmt.Errorf("providers.%s: %w", name, err)
		}
		normalized[strings.ToLower(strings.TrimSpace(name))] = tuning
	}
	file.Providers = normalized
	return file, nil
}

// ConfigFor returns the defaults with the named provider's overrides applied.
func (f ProvidersFile) ConfigFor(name string) provider.Config {
	cfg := provider.DefaultConfig()
	tuning, ok := f.Providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return cfg
	}
	if tuning.Enabled != nil {
		cfg.Enabled = *tuning.Enabled
	}
	if tuning.MatchThreshold != nil {
		cfg.MatchThreshold = *tuning.MatchThreshold
	}
	if tuning.AcceptThreshold != nil {
		cfg.AcceptThreshold = *tuning.AcceptThreshold
	}
	if tuning.RateLimitWaitMS != nil {
		cfg.RateLimitWait = time.Duration(*tuning.RateLimitWaitMS) * time.Millisecond
	}
	if tuning.UsePartialQuery != nil {
		cfg.UsePartialQuery = *tuning.UsePartialQuery
	}
	if tuning.PartialQueryRatio != nil {
		cfg.PartialQueryRatio = *tuning.PartialQueryRatio
	}
	if tuning.TimeoutSeconds != nil {
		cfg.Timeout = time.Duration(*tuning.TimeoutSeconds) * time.Second
	}
	return cfg
}

func (t ProviderTuning) validate() error {
	for field, value := range map[string]*float64{
		"match_threshold":     t.MatchThreshold,
		"accept_threshold":    t.AcceptThreshold,
		"partial_query_ratio": t.PartialQueryRatio,
	} {
		if value != nil && (*value < 0 || *value > 1) {
			return fmt.Errorf("%s must be within [0,1], got %v", field, *value)
		}
	}
	if t.RateLimitWaitMS != nil && *t.RateLimitWaitMS < 0 {
		return fmt.Errorf("rate_limit_wait_ms must not be negative")
	}
	if t.TimeoutSeconds != nil && *t.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	return nil
}
