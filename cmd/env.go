package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dialer-engine/internal/agents"
	"github.com/sells-group/dialer-engine/internal/discovery"
	"github.com/sells-group/dialer-engine/internal/dispatch"
	"github.com/sells-group/dialer-engine/internal/leaks"
	"github.com/sells-group/dialer-engine/internal/ledger"
	"github.com/sells-group/dialer-engine/internal/model"
	"github.com/sells-group/dialer-engine/internal/policy"
	"github.com/sells-group/dialer-engine/internal/runlog"
	"github.com/sells-group/dialer-engine/internal/store"
	notionpkg "github.com/sells-group/dialer-engine/pkg/notion"
	sfpkg "github.com/sells-group/dialer-engine/pkg/salesforce"
)

// env bundles the services a command wires up. Close releases the pool;
// every other field is stateless over it.
type env struct {
	Store    *store.PostgresStore
	Policy   *policy.Policy
	Runs     *runlog.Log
	Ledger   *ledger.Ledger
	Agents   *agents.Registry
	Dispatch *dispatch.Engine
	Scanner  *leaks.Scanner
}

func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens the store and wires the always-cheap services. Commands that
// need the eligibility source call initSource themselves.
func initEnv(ctx context.Context) (*env, error) {
	pol, err := policy.Load(cfg.Policy.Path)
	if err != nil {
		return nil, err
	}

	st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, err
	}

	pool := st.Pool()
	led := ledger.New(pool, pol)
	reg := agents.NewRegistry(pool, cfg.Agents)

	var board leaks.ReviewBoard
	if cfg.Notion.Token != "" && cfg.Notion.ReviewDB != "" {
		board = notionpkg.NewBoard(notionpkg.NewClient(cfg.Notion.Token), cfg.Notion.ReviewDB)
	}

	return &env{
		Store:    st,
		Policy:   pol,
		Runs:     runlog.New(pool),
		Ledger:   led,
		Agents:   reg,
		Dispatch: dispatch.NewEngine(dispatch.NewPostgresStore(pool), st, reg, pol),
		Scanner:  leaks.NewScanner(pool, led, board, pol),
	}, nil
}

// initSource builds the configured eligibility source.
func initSource(pol *policy.Policy) (discovery.EligibilitySource, error) {
	switch cfg.Discovery.Source {
	case "seed":
		return discovery.LoadSeed(cfg.Discovery.SeedPath)
	case "salesforce":
		client, err := initSalesforce()
		if err != nil {
			return nil, err
		}
		return discovery.NewSalesforceSource(client, pol, cfg.Retry), nil
	default:
		return nil, eris.Errorf("unsupported discovery source: %s", cfg.Discovery.Source)
	}
}

func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (DIALER_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf, sfpkg.WithRateLimit(cfg.Salesforce.RateLimitPerSec)), nil
}

// newDiscoveryJob wires the discovery job over an already-open env.
func newDiscoveryJob(e *env) (*discovery.Job, error) {
	source, err := initSource(e.Policy)
	if err != nil {
		return nil, err
	}
	return discovery.NewJob(e.Store, source, e.Ledger, e.Runs, e.Policy, cfg.Discovery), nil
}

// parseCategoryFlag validates an optional --category value. Empty means all.
func parseCategoryFlag(s string) (model.Category, error) {
	if s == "" {
		return "", nil
	}
	return model.ParseCategory(s)
}

// parseWhen accepts RFC 3339 timestamps or a relative offset like "+15m".
func parseWhen(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, eris.New("time is required")
	}
	if s[0] == '+' {
		d, err := time.ParseDuration(s[1:])
		if err != nil {
			return time.Time{}, eris.Wrapf(err, "parse relative time %q", s)
		}
		return time.Now().UTC().Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "parse time %q (want RFC 3339 or +duration)", s)
	}
	return t, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "encode output")
	}
	return nil
}

func printf(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}
