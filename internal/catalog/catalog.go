package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/transferit/transferit/pkg/db"
	"github.com/transferit/transferit/pkg/db/pebble"
	"github.com/transferit/transferit/pkg/log"
)

// Chain ids used by the token registry.
const (
	ChainMainnet = 101
	ChainTestnet = 102
	ChainDevnet  = 103
)

const (
	prefixEntry byte = iota + 1
)

// Entry is the registry metadata kept per mint.
type Entry struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type registryToken struct {
	ChainID  int    `json:"chainId"`
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type registryFile struct {
	Tokens []registryToken `json:"tokens"`
}

// Catalog maps mints to registry metadata. It is loaded once per process
// from a static remote token list filtered to one chain; lookups before the
// load completes simply miss.
type Catalog struct {
	kv   db.KVStore
	http *http.Client
}

func New(kv db.KVStore) *Catalog {
	return &Catalog{
		kv:   kv,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Load fetches the token list at url and stores every entry for chainID.
// Entries become visible to Lookup as the write batch commits.
func (c *Catalog) Load(ctx context.Context, url string, chainID int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build registry request: %w", err)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch token registry: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch token registry: unexpected status %s", res.Status)
	}

	var file registryFile
	if err := json.NewDecoder(res.Body).Decode(&file); err != nil {
		return fmt.Errorf("decode token registry: %w", err)
	}

	batch := c.kv.NewBatch()
	defer batch.Close()

	stored := 0
	for _, tok := range file.Tokens {
		if tok.ChainID != chainID {
			continue
		}
		mint, err := solana.PublicKeyFromBase58(tok.Address)
		if err != nil {
			log.Catalog.Debug().Str("address", tok.Address).Msg("skipping registry entry with bad mint")
			continue
		}
		value, err := json.Marshal(Entry{Name: tok.Name, Symbol: tok.Symbol, Decimals: tok.Decimals})
		if err != nil {
			return fmt.Errorf("marshal registry entry: %w", err)
		}
		if err := batch.Put(makeKey(prefixEntry, mint[:]), value); err != nil {
			return fmt.Errorf("store registry entry: %w", err)
		}
		stored++
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit registry entries: %w", err)
	}
	log.Catalog.Info().Int("entries", stored).Int("chain", chainID).Msg("token registry loaded")
	return nil
}

// Listed pairs a registry entry with the mint it belongs to.
type Listed struct {
	Mint  solana.PublicKey
	Entry Entry
}

// Entries enumerates every stored registry entry, ordered by mint bytes.
func (c *Catalog) Entries() ([]Listed, error) {
	iter, err := c.kv.NewIterator([]byte{prefixEntry}, []byte{prefixEntry + 1})
	if err != nil {
		return nil, fmt.Errorf("iterate catalog entries: %w", err)
	}
	defer iter.Close()

	var out []Listed
	for iter.Next() {
		key := iter.Key()
		if len(key) != 1+solana.PublicKeyLength {
			log.Catalog.Warn().Int("length", len(key)).Msg("skipping catalog key with unexpected shape")
			continue
		}
		value, err := iter.Value()
		if err != nil {
			return nil, fmt.Errorf("read catalog entry: %w", err)
		}
		var entry Entry
		if err := json.Unmarshal(value, &entry); err != nil {
			return nil, fmt.Errorf("decode catalog entry: %w", err)
		}
		out = append(out, Listed{Mint: solana.PublicKeyFromBytes(key[1:]), Entry: entry})
	}
	return out, nil
}

// Lookup returns the registry entry for a mint. Misses are not errors: the
// catalog may still be loading, or the mint may simply be unlisted.
func (c *Catalog) Lookup(mint solana.PublicKey) (Entry, bool) {
	value, err := c.kv.Get(makeKey(prefixEntry, mint[:]))
	if errors.Is(err, pebble.ErrNotFound) {
		return Entry{}, false
	}
	if err != nil {
		log.Catalog.Warn().Err(err).Stringer("mint", mint).Msg("catalog lookup failed")
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal(value, &entry); err != nil {
		log.Catalog.Warn().Err(err).Stringer("mint", mint).Msg("catalog entry undecodable")
		return Entry{}, false
	}
	return entry, true
}

// makeKey creates a key from a prefix and a mint
func makeKey(prefix byte, mint []byte) []byte {
	key := make([]byte, 1+len(mint))
	key[0] = prefix
	copy(key[1:], mint)
	return key
}
