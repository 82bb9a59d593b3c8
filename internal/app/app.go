// Package app wires configuration into a running tournament service.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/DoyleJ11/coder-combat/internal/bracket"
	"github.com/DoyleJ11/coder-combat/internal/config"
	"github.com/DoyleJ11/coder-combat/internal/judge"
	"github.com/DoyleJ11/coder-combat/internal/metrics"
	"github.com/DoyleJ11/coder-combat/internal/publish"
	"github.com/DoyleJ11/coder-combat/internal/store"
	"github.com/DoyleJ11/coder-combat/internal/tournament"
)

type App struct {
	Topology *bracket.Topology
	Store    *store.Store
	Service  *tournament.Service
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
}

func Topology(path string) (*bracket.Topology, error) {
	if path == "" {
		return bracket.Default()
	}
	return bracket.Load(path)
}

func OpenStore(ctx context.Context, cfg config.Config, log *zap.Logger) (*store.Store, error) {
	var (
		st  *store.Store
		err error
	)
	if path, ok := cfg.SQLitePath(); ok {
		st, err = store.OpenSQLite(path, log)
	} else {
		st, err = store.Open(cfg.DatabaseURL, log)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

// New opens the store, loads the tournament and connects the judging system.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	topo, err := Topology(cfg.TopologyPath)
	if err != nil {
		return nil, err
	}
	st, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	dj := judge.NewDOMjudge(cfg.Judge, log, m)

	svc := tournament.New(topo, dj, st, log, m, cfg.Tournament)
	if cfg.StandingsBucket != "" {
		pub, err := publish.NewFromEnv(ctx, cfg.AWSRegion, cfg.StandingsBucket, cfg.StandingsKey, log)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		svc.SetPublisher(pub)
	}
	if err := svc.Open(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return &App{Topology: topo, Store: st, Service: svc, Metrics: m, Registry: reg}, nil
}

func (a *App) Close() error { return a.Store.Close() }
