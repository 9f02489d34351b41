package main

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/partyroom/internal/authority/postgres"
	"github.com/mcdev12/partyroom/internal/directory"
	"github.com/mcdev12/partyroom/internal/gateway"
	"github.com/mcdev12/partyroom/internal/identity"
	"github.com/mcdev12/partyroom/internal/roomsession"
	"github.com/mcdev12/partyroom/internal/subs"
)

type Services struct {
	Authority *postgres.Repository
	Identity  *identity.App
	Directory *directory.App
	Sessions  *roomsession.App
	Gateway   *gateway.Handler
	Registry  *gateway.Registry
	Transport *subs.NATSTransport
	Bridge    *postgres.Bridge
	Sweeper   *postgres.Sweeper
}

func setupServices(database *sql.DB, config *Config, dsn string) (*Services, error) {
	// Wire up dependency injection chain
	// Authority → identity/directory apps → room sessions → gateway

	authorityCfg := postgres.DefaultConfig()
	if config.Room.Capacity > 0 {
		authorityCfg.RoomCapacity = config.Room.Capacity
	}
	if config.Room.AllowAnonymous != nil {
		authorityCfg.AllowAnonymous = *config.Room.AllowAnonymous
	}
	authority := postgres.NewRepository(database, authorityCfg)

	natsCfg := subs.DefaultNATSConfig()
	if config.NATS.URL != "" {
		natsCfg.URL = config.NATS.URL
	}
	transport, err := subs.NewNATSTransport(natsCfg)
	if err != nil {
		return nil, fmt.Errorf("setup hint transport: %w", err)
	}

	bridgeCfg := postgres.DefaultBridgeConfig()
	bridgeCfg.DatabaseURL = dsn
	bridge, err := postgres.NewBridge(transport, bridgeCfg)
	if err != nil {
		transport.Close()
		return nil, fmt.Errorf("setup hint bridge: %w", err)
	}

	sweeperCfg := postgres.DefaultSweeperConfig()
	if ttl := time.Duration(config.Room.IdleTTL); ttl > 0 {
		sweeperCfg.IdleTTL = ttl
	}
	if interval := time.Duration(config.Room.SweepInterval); interval > 0 {
		sweeperCfg.Interval = interval
	}
	sweeper := postgres.NewSweeper(authority, clockwork.NewRealClock(), sweeperCfg)

	identityApp := identity.NewApp(authority)
	directoryApp := directory.NewApp(authority, identityApp)
	sessionApp := roomsession.NewApp(directoryApp, authority, authority, transport)

	registry := gateway.NewRegistry()
	gatewayHandler := gateway.NewHandler(sessionApp, registry, gateway.DefaultConnectionConfig())

	return &Services{
		Authority: authority,
		Identity:  identityApp,
		Directory: directoryApp,
		Sessions:  sessionApp,
		Gateway:   gatewayHandler,
		Registry:  registry,
		Transport: transport,
		Bridge:    bridge,
		Sweeper:   sweeper,
	}, nil
}
