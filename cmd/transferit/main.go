package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/transferit/transferit/internal/catalog"
	"github.com/transferit/transferit/internal/discovery"
	"github.com/transferit/transferit/internal/gateway"
	"github.com/transferit/transferit/internal/ledger"
	"github.com/transferit/transferit/internal/transfer"
	"github.com/transferit/transferit/internal/wallet"
	"github.com/transferit/transferit/pkg/db/pebble"
	"github.com/transferit/transferit/pkg/log"
)

const defaultRegistryURL = "https://raw.githubusercontent.com/solana-labs/token-list/main/src/tokens/solana.tokenlist.json"

type Config struct {
	RPCEndpoint     string `json:"rpc_endpoint"`
	Cluster         string `json:"cluster"`
	RegistryURL     string `json:"registry_url"`
	RegistryChainID int    `json:"registry_chain_id"`
	Listen          string `json:"listen"`
	// KeypairFile holds a solana-keygen style key; when empty the service
	// starts without a connected wallet.
	KeypairFile string `json:"keypair_file"`
}

func loadConfig(path string) (Config, error) {
	cfg := Config{
		RPCEndpoint:     "https://api.devnet.solana.com",
		Cluster:         "devnet",
		RegistryURL:     defaultRegistryURL,
		RegistryChainID: catalog.ChainDevnet,
		Listen:          ":8700",
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "", "path to JSON config file")
	loglevel := flag.String("loglevel", "info", "log level")
	flag.Parse()

	level, err := log.ParseLogLevel(*loglevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad log level %q: %v\n", *loglevel, err)
		os.Exit(1)
	}
	log.Init(log.Options{LogLevel: level, Type: log.ConsoleLogger})

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Root.Fatal().Err(err).Msg("configuration failed")
	}

	client := ledger.NewRPCClient(cfg.RPCEndpoint)

	kv, err := pebble.NewKVStore()
	if err != nil {
		log.Root.Fatal().Err(err).Msg("catalog store failed to open")
	}
	defer kv.Close()

	cat := catalog.New(kv)
	// The registry load is best-effort: lookups miss until it completes and
	// discovery treats misses as absent metadata.
	go func() {
		if err := cat.Load(context.Background(), cfg.RegistryURL, cfg.RegistryChainID); err != nil {
			log.Catalog.Warn().Err(err).Msg("token registry load failed")
		}
	}()

	var connector wallet.Connector = wallet.Disconnected{}
	if cfg.KeypairFile != "" {
		kp, err := wallet.KeypairFromFile(cfg.KeypairFile, client)
		if err != nil {
			log.Root.Fatal().Err(err).Msg("keypair load failed")
		}
		connector = kp
		if owner, ok := kp.PublicKey(); ok {
			log.Root.Info().Stringer("owner", owner).Msg("wallet connected")
		}
	}

	disc := discovery.New(client, cat)
	orch := transfer.NewOrchestrator(client, connector, cfg.Cluster)
	gw := gateway.New(disc, orch, cat)

	log.Root.Info().Str("listen", cfg.Listen).Str("cluster", cfg.Cluster).Msg("transferit gateway listening")
	if err := http.ListenAndServe(cfg.Listen, gw); err != nil {
		log.Root.Fatal().Err(err).Msg("http server stopped")
	}
}
