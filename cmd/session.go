package cmd

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"venue-swap/config"
	"venue-swap/pkg/amm"
	"venue-swap/pkg/chain"
	"venue-swap/pkg/client"
	"venue-swap/pkg/composite"
	"venue-swap/pkg/history"
	"venue-swap/pkg/logging"
	"venue-swap/pkg/offchain"
	"venue-swap/pkg/orchestrator"
	"venue-swap/pkg/swap"
	"venue-swap/pkg/tokens"
)

const defaultGnosisURL = "https://api.cow.fi/mainnet"

// app holds everything a command needs, built from the config file
type app struct {
	cfg *config.Config
	log *zap.Logger

	backend   *ethclient.Client
	rdb       *redis.Client
	registry  *tokens.Registry
	adapter   *amm.Adapter
	venue     offchain.Venue
	signer    *chain.KeySigner
	submitter *chain.EVMSubmitter
	history   *history.Store
	session   *swap.Session
}

type appOptions struct {
	// needSigner fails the setup when no private key is configured
	needSigner bool
	// skipConfirm signs without asking
	skipConfirm bool
	onUpdate    func(swap.View)
}

func newApp(ctx context.Context, cmd *cobra.Command, opts appOptions) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.File, verbose)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log}
	if err := a.build(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context, opts appOptions) error {
	cfg := a.cfg

	if cfg.PrivateKey != "" {
		var confirm chain.ConfirmFunc
		if !opts.skipConfirm {
			confirm = confirmSignature
		}
		signer, err := chain.NewKeySigner(cfg.PrivateKey, confirm)
		if err != nil {
			return err
		}
		a.signer = signer
	} else if opts.needSigner {
		return fmt.Errorf("private key not found. Please set VENUE_SWAP_PRIVATE_KEY environment variable or private_key in .venue-swap.yaml")
	}

	var owner common.Address
	if a.signer != nil {
		owner = a.signer.Address()
	}

	var backend chain.Backend
	if cfg.RPCURL != "" {
		ec, err := chain.Dial(ctx, cfg.RPCURL)
		if err != nil {
			return err
		}
		a.backend = ec
		backend = ec
	} else if opts.needSigner {
		return fmt.Errorf("rpc_url is required to send transactions")
	}

	a.registry = tokens.NewRegistry(tokenList(cfg.Tokens), backend, owner)

	var submitter chain.Submitter
	if a.backend != nil && a.signer != nil {
		a.submitter = chain.NewEVMSubmitter(a.backend, a.signer, big.NewInt(cfg.ChainID), a.log)
		submitter = a.submitter
	}

	if err := a.buildLiquidity(ctx); err != nil {
		return err
	}

	store, err := history.NewStore(cfg.HistoryFile)
	if err != nil {
		return err
	}
	a.history = store

	native := common.HexToAddress(cfg.NativeAsset)
	wrapped := common.HexToAddress(cfg.WrappedNative)
	orch := orchestrator.New(a.log)
	ammQuoter := amm.NewQuoter(a.adapter, a.registry, native, wrapped, orch.Channel(orchestrator.VenueAMM), a.log)

	// only asked while the session's gasless flag is on
	a.venue = a.buildVenue()
	settlement := offchain.DefaultSettlement
	if cfg.Offchain.Settlement != "" {
		settlement = common.HexToAddress(cfg.Offchain.Settlement)
	}
	offQuoter := offchain.NewQuoter(a.venue, a.registry, orch.Channel(orchestrator.VenueOffchain), offchain.Config{
		ChainID:      cfg.ChainID,
		QuoteTimeout: cfg.Offchain.QuoteTimeout,
		ValidFor:     cfg.Offchain.ValidFor,
		AppData:      common.HexToHash(cfg.Offchain.AppData),
		Domain:       offchain.NewDomain(cfg.ChainID, settlement),
	}, a.log)

	var signer chain.Signer
	if a.signer != nil {
		signer = a.signer
	}

	a.session = swap.NewSession(swap.Deps{
		AMM:          ammQuoter,
		Offchain:     offQuoter,
		Composite:    composite.NewQuoter(ammQuoter, native, orch.Channel(orchestrator.VenueComposite), a.log),
		Orchestrator: orch,
		Tokens:       a.registry,
		Submitter:    submitter,
		Signer:       signer,
		History:      store,
		Settings: swap.Settings{
			Native:          native,
			Wrapped:         wrapped,
			Vault:           common.HexToAddress(cfg.Vault),
			Relayer:         common.HexToAddress(cfg.Relayer),
			HighPriceImpact: decimal.NewFromFloat(cfg.HighPriceImpact),
			Deadline:        cfg.Deadline,
		},
		OnUpdate: opts.onUpdate,
		Log:      a.log,
	})
	a.session.SetGasless(cfg.Gasless)
	return nil
}

func (a *app) buildLiquidity(ctx context.Context) error {
	cfg := a.cfg

	var source amm.LiquiditySource
	switch cfg.Liquidity.Source {
	case config.SourceOnchain:
		mc := chain.NewMulticall(a.backend, common.HexToAddress(cfg.Multicall))
		source = amm.NewOnchainSource(mc, common.HexToAddress(cfg.Vault), cfg.Liquidity.PoolIDs, a.registry, cfg.Liquidity.JoinExitPools)
	default:
		pools, err := poolsFromConfig(ctx, cfg.Pools, a.registry)
		if err != nil {
			return err
		}
		source = amm.NewStaticSource(pools)
	}

	opts := []amm.Option{amm.WithLogger(a.log)}
	if cfg.Redis.Addr != "" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		opts = append(opts, amm.WithCache(amm.NewRedisCache(a.rdb, amm.DefaultCacheKey, cfg.Redis.TTL)))
	}

	a.adapter = amm.NewAdapter(source, amm.NewWeightedPathFinder(cfg.Liquidity.MaxHops), opts...)
	if err := a.adapter.Warm(ctx); err != nil {
		a.log.Warn("liquidity cache unavailable", zap.Error(err))
	}
	if err := a.adapter.RefreshLiquidity(ctx); err != nil {
		if a.adapter.Snapshot() == nil {
			return fmt.Errorf("failed to load liquidity: %w", err)
		}
		a.log.Warn("using cached liquidity", zap.Error(err))
	}
	return nil
}

// buildVenue returns the configured off-chain venue
func (a *app) buildVenue() offchain.Venue {
	cfg := a.cfg
	switch cfg.Offchain.Provider {
	case config.ProviderOneClick:
		var transfer offchain.Transferer
		if a.submitter != nil {
			transfer = a.submitter
		}
		return offchain.NewIntentsVenue(
			client.NewOneClickClient(cfg.Offchain.JWTToken, cfg.Offchain.BaseURL),
			transfer,
			offchain.IntentsConfig{
				ChainID:     cfg.ChainID,
				SlippageBps: cfg.SlippageBps,
				Deadline:    cfg.Offchain.ValidFor,
			},
			a.log,
		)
	default:
		baseURL := cfg.Offchain.BaseURL
		if baseURL == "" {
			baseURL = defaultGnosisURL
		}
		rps := cfg.Offchain.RateLimit
		return offchain.NewGnosisClient(baseURL, cfg.Offchain.Networks,
			offchain.WithRateLimit(rps, int(math.Ceil(rps))),
			offchain.WithGnosisLogger(a.log),
		)
	}
}

// Close releases connections and flushes the log
func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.backend != nil {
		a.backend.Close()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

func tokenList(list []config.TokenConfig) []tokens.Token {
	out := make([]tokens.Token, 0, len(list))
	for _, t := range list {
		out = append(out, tokens.Token{
			Symbol:   strings.ToUpper(t.Symbol),
			Address:  common.HexToAddress(t.Address),
			Decimals: t.Decimals,
		})
	}
	return out
}

// poolsFromConfig turns inline pool definitions into snapshot pools
func poolsFromConfig(ctx context.Context, list []config.PoolConfig, meta tokens.Metadata) ([]amm.Pool, error) {
	pools := make([]amm.Pool, 0, len(list))
	for i, pc := range list {
		addr := common.HexToAddress(pc.Address)
		p := amm.Pool{
			ID:          pc.ID,
			Address:     addr,
			SwapFee:     decimal.Zero,
			TotalSupply: new(big.Int),
			JoinExit:    pc.JoinExit,
		}
		if p.ID == "" {
			var id [32]byte
			copy(id[:20], addr.Bytes())
			p.ID = common.Hash(id).Hex()
		}

		if pc.SwapFee != "" {
			fee, err := decimal.NewFromString(pc.SwapFee)
			if err != nil {
				return nil, fmt.Errorf("pools[%d]: invalid swap_fee: %w", i, err)
			}
			p.SwapFee = fee
		}
		if pc.TotalSupply != "" {
			supply, ok := new(big.Int).SetString(pc.TotalSupply, 10)
			if !ok {
				return nil, fmt.Errorf("pools[%d]: invalid total_supply %q", i, pc.TotalSupply)
			}
			p.TotalSupply = supply
		}

		for j, tc := range pc.Tokens {
			token := common.HexToAddress(tc.Address)
			balance, ok := new(big.Int).SetString(tc.Balance, 10)
			if !ok {
				return nil, fmt.Errorf("pools[%d].tokens[%d]: invalid balance %q", i, j, tc.Balance)
			}
			weight, err := decimal.NewFromString(tc.Weight)
			if err != nil {
				return nil, fmt.Errorf("pools[%d].tokens[%d]: invalid weight: %w", i, j, err)
			}
			decimals, err := meta.Decimals(ctx, token)
			if err != nil {
				return nil, fmt.Errorf("pools[%d].tokens[%d]: %w", i, j, err)
			}
			p.Tokens = append(p.Tokens, amm.PoolToken{
				Address:  token,
				Balance:  balance,
				Decimals: decimals,
				Weight:   weight,
			})
		}
		pools = append(pools, p)
	}
	return pools, nil
}

func confirmSignature(_ context.Context, summary string) (bool, error) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("\n%s %s\n", color.YellowString("Signature request:"), summary)
	fmt.Print("Sign? (y/N): ")

	response, err := reader.ReadString('\n')
	if err != nil {
		return false, nil
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes", nil
}
