// Package funding answers "is this goal funded". Two oracle variants exist:
// the custodial ledger for unset/easy tiers and the on-chain escrow record
// for medium and above. Callers select through the Selector so tier
// branching stays in one place.
package funding

import (
	"context"
	"fmt"

	"github.com/goalstake/pledge_layer/internal/app/domain/goal"
	"github.com/goalstake/pledge_layer/internal/app/domain/wallet"
	"github.com/goalstake/pledge_layer/internal/chain"
	"github.com/goalstake/pledge_layer/internal/oracle"
	"github.com/goalstake/pledge_layer/pkg/logger"
)

// fundedEpsilonUSD is the minimum USD value a cached wallet balance must
// reach for a ledger-tier goal to count as funded.
const fundedEpsilonUSD = 1e-4

// Oracle reports whether a goal is funded. Implementations are pure reads.
type Oracle interface {
	IsFunded(ctx context.Context, g goal.Goal, wallets []wallet.CustodialWallet) (bool, error)
}

// LedgerOracle judges funding from cached custodial wallet balances. It
// never triggers a live balance read; freshness is the balance monitor's
// job.
type LedgerOracle struct {
	prices oracle.PriceOracle
	log    *logger.Logger
}

// NewLedgerOracle creates the custodial ledger variant.
func NewLedgerOracle(prices oracle.PriceOracle, log *logger.Logger) *LedgerOracle {
	if log == nil {
		log = logger.NewDefault("funding-ledger")
	}
	return &LedgerOracle{prices: prices, log: log}
}

var _ Oracle = (*LedgerOracle)(nil)

func (o *LedgerOracle) IsFunded(ctx context.Context, g goal.Goal, wallets []wallet.CustodialWallet) (bool, error) {
	for _, w := range wallets {
		if w.LastBalance <= 0 {
			continue
		}
		price, err := o.prices.Price(ctx, w.Network)
		if err != nil {
			o.log.WithError(err).
				WithField("wallet_id", w.ID).
				WithField("network", w.Network).
				Warn("price lookup failed, skipping wallet")
			continue
		}
		if w.LastBalance*price > fundedEpsilonUSD {
			return true, nil
		}
	}
	return false, nil
}

// EscrowOracle judges funding from the on-chain escrow record. Gateway
// failures propagate; an unreachable chain is not the same as "not funded".
type EscrowOracle struct {
	gateway chain.Gateway
	log     *logger.Logger
}

// NewEscrowOracle creates the escrow contract variant.
func NewEscrowOracle(gateway chain.Gateway, log *logger.Logger) *EscrowOracle {
	if log == nil {
		log = logger.NewDefault("funding-escrow")
	}
	return &EscrowOracle{gateway: gateway, log: log}
}

var _ Oracle = (*EscrowOracle)(nil)

func (o *EscrowOracle) IsFunded(ctx context.Context, g goal.Goal, _ []wallet.CustodialWallet) (bool, error) {
	esc, err := o.gateway.ReadEscrow(ctx, g.EscrowHash())
	if err != nil {
		return false, &goal.ExternalServiceError{Service: "blockchain-gateway", Err: err}
	}
	return esc.Exists && esc.Amount > 0, nil
}

// Selector dispatches to the oracle variant governing a goal's tier.
type Selector struct {
	ledger Oracle
	escrow Oracle
}

// NewSelector wires both oracle variants.
func NewSelector(ledger, escrow Oracle) *Selector {
	return &Selector{ledger: ledger, escrow: escrow}
}

var _ Oracle = (*Selector)(nil)

// ForTier returns the variant governing the tier.
func (s *Selector) ForTier(t goal.Tier) (Oracle, error) {
	if t.Escrowed() {
		if s.escrow == nil {
			return nil, fmt.Errorf("no escrow oracle configured")
		}
		return s.escrow, nil
	}
	if s.ledger == nil {
		return nil, fmt.Errorf("no ledger oracle configured")
	}
	return s.ledger, nil
}

func (s *Selector) IsFunded(ctx context.Context, g goal.Goal, wallets []wallet.CustodialWallet) (bool, error) {
	variant, err := s.ForTier(g.Tier)
	if err != nil {
		return false, err
	}
	return variant.IsFunded(ctx, g, wallets)
}
