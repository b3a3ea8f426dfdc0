package app

import (
	"context"

	"claimrelay/internal/funnel"
	"claimrelay/internal/storage"
	logx "claimrelay/pkg/logx"
)

// LoadConfig parses and validates the config at path without starting
// anything.
func LoadConfig(path string) (*Config, error) {
	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadStats loads the persisted registry named by cfg and summarizes it.
// Unlike startup, a missing or unreadable snapshot is reported as an error.
func ReadStats(ctx context.Context, cfg *Config) (funnel.Stats, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return funnel.Stats{}, err
	}
	if !enabled {
		return funnel.Stats{}, storage.ErrDisabled
	}
	st, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return funnel.Stats{}, err
	}
	defer func() { _ = st.Close() }()

	records, err := st.Load(ctx)
	if err != nil {
		return funnel.Stats{}, err
	}
	ctrl := funnel.New(funnel.Deps{})
	ctrl.Registry().Replace(records)
	return ctrl.Stats(), nil
}
