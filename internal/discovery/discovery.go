package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"github.com/transferit/transferit/internal/catalog"
	"github.com/transferit/transferit/internal/holding"
	"github.com/transferit/transferit/internal/ledger"
	"github.com/transferit/transferit/pkg/log"
)

// ErrSuperseded is returned when another discovery run started for a
// different (or the same) owner while this one was still fetching. The
// superseded run installs nothing.
var ErrSuperseded = errors.New("discovery run superseded")

// Service enumerates everything an owner holds. Each run fully replaces the
// previous list; name/symbol enrichment trickles in afterwards and is
// discarded when it belongs to a stale run.
type Service struct {
	client  ledger.Client
	catalog *catalog.Catalog

	mu       sync.Mutex
	gen      uint64
	owner    solana.PublicKey
	holdings []holding.Holding
}

func New(client ledger.Client, cat *catalog.Catalog) *Service {
	return &Service{client: client, catalog: cat}
}

// Discover replaces the holdings list for owner. Core fields (account, mint,
// amount, decimals) are fully populated before the list becomes visible;
// enrichment only ever adds names afterwards.
func (s *Service) Discover(ctx context.Context, owner solana.PublicKey) ([]holding.Holding, error) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.owner = owner
	s.holdings = nil
	s.mu.Unlock()

	var (
		lamports uint64
		accounts []ledger.TokenAccount
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lamports, err = s.client.NativeBalance(gctx, owner)
		if err != nil {
			return fmt.Errorf("native balance: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		accounts, err = s.client.TokenAccountsByOwner(gctx, owner)
		if err != nil {
			return fmt.Errorf("token accounts: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("discover holdings for %s: %w", owner, err)
	}

	// The native holding is always present, even at zero balance.
	list := make([]holding.Holding, 0, 1+len(accounts))
	list = append(list, holding.NewNative(owner, lamports))
	for _, acc := range accounts {
		list = append(list, holding.Holding{
			Account:  acc.Address,
			Mint:     acc.Mint,
			Amount:   acc.Amount,
			Decimals: acc.Decimals,
		})
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return nil, ErrSuperseded
	}
	s.holdings = list
	s.mu.Unlock()

	enrichCtx := context.WithoutCancel(ctx)
	for _, h := range list {
		if h.IsNative() {
			continue
		}
		go s.enrich(enrichCtx, gen, h.Key())
	}

	log.Discovery.Info().Stringer("owner", owner).Int("holdings", len(list)).Msg("discovery run complete")
	return list, nil
}

// Holdings returns a snapshot of the current list.
func (s *Service) Holdings() []holding.Holding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]holding.Holding, len(s.holdings))
	copy(out, s.holdings)
	return out
}

// Owner returns the address the current list belongs to.
func (s *Service) Owner() solana.PublicKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// Reset clears the list and invalidates any in-flight enrichment, used when
// the wallet disconnects.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.owner = solana.PublicKey{}
	s.holdings = nil
}

// enrich resolves a display name for one holding: on-chain metadata first,
// registry fallback second. Failures only leave the name unset.
func (s *Service) enrich(ctx context.Context, gen uint64, key holding.Key) {
	meta, ok := s.loadOnChainMetadata(ctx, key.Mint)
	if !ok {
		entry, found := s.catalog.Lookup(key.Mint)
		if !found {
			log.Discovery.Debug().Stringer("mint", key.Mint).Msg("no metadata resolved for holding")
			return
		}
		meta = ledger.Metadata{Name: entry.Name, Symbol: entry.Symbol}
	}
	s.apply(gen, key, meta)
}

func (s *Service) loadOnChainMetadata(ctx context.Context, mint solana.PublicKey) (ledger.Metadata, bool) {
	addr, err := ledger.ResolveMetadataAddress(mint)
	if err != nil {
		log.Discovery.Debug().Err(err).Stringer("mint", mint).Msg("metadata address derivation failed")
		return ledger.Metadata{}, false
	}
	meta, err := s.client.LoadMetadata(ctx, addr)
	if err != nil {
		log.Discovery.Debug().Err(err).Stringer("mint", mint).Msg("metadata load failed")
		return ledger.Metadata{}, false
	}
	if meta.Name == "" && meta.Symbol == "" {
		return ledger.Metadata{}, false
	}
	return meta, true
}

// apply installs an enrichment result unless the run it belongs to has been
// superseded.
func (s *Service) apply(gen uint64, key holding.Key, meta ledger.Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	for i := range s.holdings {
		if s.holdings[i].Key() == key {
			s.holdings[i].Name = meta.Name
			s.holdings[i].Symbol = meta.Symbol
		}
	}
}
