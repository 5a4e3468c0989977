// Package app wires the pledge layer services together and manages their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/goalstake/pledge_layer/internal/app/services/funding"
	goalssvc "github.com/goalstake/pledge_layer/internal/app/services/goals"
	monitorsvc "github.com/goalstake/pledge_layer/internal/app/services/monitor"
	refundsvc "github.com/goalstake/pledge_layer/internal/app/services/refund"
	"github.com/goalstake/pledge_layer/internal/app/storage"
	"github.com/goalstake/pledge_layer/internal/app/storage/memory"
	"github.com/goalstake/pledge_layer/internal/app/system"
	"github.com/goalstake/pledge_layer/internal/chain"
	"github.com/goalstake/pledge_layer/internal/keystore"
	"github.com/goalstake/pledge_layer/internal/oracle"
	"github.com/goalstake/pledge_layer/internal/validator"
	"github.com/goalstake/pledge_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Goals   storage.GoalStore
	Wallets storage.WalletStore
	Refunds storage.RefundStore
}

// Collaborators encapsulates the external service clients. Nil entries
// default to in-process fakes so the application always starts.
type Collaborators struct {
	Prices    oracle.PriceOracle
	Gateway   chain.Gateway
	Keys      keystore.KeyStore
	Validator validator.Validator
	Balances  monitorsvc.BalanceReader
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Goals   *goalssvc.Service
	Monitor *monitorsvc.Monitor
	Refunds *refundsvc.Service
}

// New builds a fully initialised application with the provided stores and
// collaborators.
func New(stores Stores, collab Collaborators, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Goals == nil {
		stores.Goals = mem
	}
	if stores.Wallets == nil {
		stores.Wallets = mem
	}
	if stores.Refunds == nil {
		stores.Refunds = mem
	}

	if collab.Prices == nil {
		log.Warn("no price oracle configured; using static development prices")
		collab.Prices = oracle.Static{"ethereum": 2500, "polygon": 0.5, "solana": 150}
	}
	if collab.Gateway == nil {
		log.Warn("no blockchain gateway configured; using in-process mock")
		collab.Gateway = chain.NewMock()
	}
	if collab.Keys == nil {
		log.Warn("no keystore configured; using in-process mock")
		collab.Keys = keystore.NewMock()
	}
	if collab.Validator == nil {
		log.Warn("no AI validator configured; using permissive mock")
		collab.Validator = &validator.Mock{Verdict: validator.Verdict{CanComplete: true, Confidence: 1}}
	}
	if collab.Balances == nil {
		if reader, ok := collab.Gateway.(monitorsvc.BalanceReader); ok {
			collab.Balances = reader
		} else {
			collab.Balances = monitorsvc.BalanceReaderFunc(func(ctx context.Context, network, address string) (float64, error) {
				return 0, fmt.Errorf("no balance reader configured")
			})
		}
	}

	manager := system.NewManager()

	oracles := funding.NewSelector(
		funding.NewLedgerOracle(collab.Prices, log),
		funding.NewEscrowOracle(collab.Gateway, log),
	)

	goalService := goalssvc.New(stores.Goals, stores.Wallets, oracles, collab.Gateway, collab.Keys, collab.Validator, log)
	monitorService := monitorsvc.New(stores.Goals, stores.Wallets, collab.Balances, log)
	refundService := refundsvc.New(stores.Goals, stores.Wallets, stores.Refunds, collab.Keys, refundReader{collab.Balances}, log)

	sweeper := goalssvc.NewDeadlineSweeper(goalService, os.Getenv("DEADLINE_SWEEP_SCHEDULE"), log)

	for _, svc := range []system.Service{monitorService, sweeper} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager: manager,
		log:     log,
		Goals:   goalService,
		Monitor: monitorService,
		Refunds: refundService,
	}, nil
}

// refundReader adapts the monitor's balance reader to the refund service.
type refundReader struct {
	inner monitorsvc.BalanceReader
}

func (r refundReader) Balance(ctx context.Context, network, address string) (float64, error) {
	return r.inner.Balance(ctx, network, address)
}

// NewFromEnv builds collaborators from environment configuration and wires
// the application.
func NewFromEnv(stores Stores, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	var collab Collaborators

	if endpoint := strings.TrimSpace(os.Getenv("PRICE_ORACLE_URL")); endpoint != "" {
		fetcher, err := oracle.NewHTTPFetcher(httpClient, endpoint, os.Getenv("PRICE_ORACLE_KEY"), log)
		if err != nil {
			return nil, fmt.Errorf("configure price oracle: %w", err)
		}
		var rdb *redis.Client
		if addr := strings.TrimSpace(os.Getenv("REDIS_ADDR")); addr != "" {
			rdb = redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
		} else {
			log.Warn("REDIS_ADDR not set; price cache is process-local")
		}
		collab.Prices = oracle.NewCached(fetcher, rdb, time.Minute, log)
	}

	if rpcURL := strings.TrimSpace(os.Getenv("CHAIN_RPC_URL")); rpcURL != "" {
		gateway, err := chain.NewClient(chain.Config{RPCURL: rpcURL})
		if err != nil {
			return nil, fmt.Errorf("configure blockchain gateway: %w", err)
		}
		collab.Gateway = gateway
		collab.Balances = monitorsvc.BalanceReaderFunc(gateway.Balance)
	}

	if endpoint := strings.TrimSpace(os.Getenv("KEYSTORE_URL")); endpoint != "" {
		keys, err := keystore.NewHTTPClient(httpClient, endpoint, os.Getenv("KEYSTORE_KEY"), log)
		if err != nil {
			return nil, fmt.Errorf("configure keystore: %w", err)
		}
		collab.Keys = keys
	}

	if endpoint := strings.TrimSpace(os.Getenv("AI_VALIDATOR_URL")); endpoint != "" {
		ai, err := validator.NewHTTPClient(httpClient, endpoint, os.Getenv("AI_VALIDATOR_KEY"), log)
		if err != nil {
			return nil, fmt.Errorf("configure AI validator: %w", err)
		}
		collab.Validator = ai
	}

	return New(stores, collab, log)
}

// Attach registers an additional lifecycle-managed service. Call before
// Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
