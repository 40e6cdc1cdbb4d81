package account

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/swarm/internal/sizer"
	"github.com/nexus-trading/swarm/internal/solana"
	"github.com/nexus-trading/swarm/internal/token"
)

// WalletBridge selects the origin chain and currency of an account's bridge.
type WalletBridge struct {
	FromChain string `yaml:"from_chain"`
	Currency  string `yaml:"currency"`
}

// FactoryConfig holds the per-run account policy ranges.
type FactoryConfig struct {
	MinActionCount int
	MaxActionCount int
	MinWorkTime    time.Duration
	MaxWorkTime    time.Duration
	Swap           map[token.Class]Range
	MinReserve     decimal.Decimal

	BridgeAmount  Range
	DefaultBridge *WalletBridge
	// Bridges overrides the route per wallet, keyed by EVM or SVM address.
	Bridges  map[string]WalletBridge
	ChainIDs map[string]int64
}

// Factory turns key material into Accounts with randomized policies.
type Factory struct {
	cfg   FactoryConfig
	rnd   *sizer.Rand
	sizer *sizer.Sizer
}

// NewFactory creates a factory drawing from rnd.
func NewFactory(cfg FactoryConfig, rnd *sizer.Rand) *Factory {
	return &Factory{cfg: cfg, rnd: rnd, sizer: sizer.New(rnd)}
}

// Build creates one account per SVM key. EVM keys and proxies are assigned
// by index modulo their count. Undecodable SVM keys are skipped with a warning.
func (f *Factory) Build(svmKeys, evmKeys, proxies []string) ([]*Account, error) {
	if len(svmKeys) == 0 {
		return nil, errors.New("account: no wallet keys")
	}

	accounts := make([]*Account, 0, len(svmKeys))
	for i, secret := range svmKeys {
		kp, err := solana.KeypairFromBase58(secret)
		if err != nil {
			log.Warn().Err(err).Int("index", i).Msg("account: skipping undecodable wallet key")
			continue
		}

		acc := &Account{
			Index:   len(accounts),
			Address: kp.PublicKey(),
			Keypair: kp,
			Policy:  f.policy(),
		}
		if len(proxies) > 0 {
			acc.Proxy = proxies[i%len(proxies)]
		}
		if len(evmKeys) > 0 {
			raw := strings.TrimPrefix(strings.TrimSpace(evmKeys[i%len(evmKeys)]), "0x")
			key, err := crypto.HexToECDSA(raw)
			if err != nil {
				log.Warn().Err(err).Int("index", i).Msg("account: invalid evm key, bridge disabled")
			} else {
				acc.EVMKey = key
				acc.EVMAddress = crypto.PubkeyToAddress(key.PublicKey)
			}
		}
		acc.Policy.Bridge = f.bridge(acc)
		accounts = append(accounts, acc)
	}

	if len(accounts) == 0 {
		return nil, errors.New("account: no valid wallet keys")
	}
	return accounts, nil
}

func (f *Factory) policy() Policy {
	swap := make(map[token.Class]Range, len(f.cfg.Swap))
	for c, r := range f.cfg.Swap {
		swap[c] = r
	}
	minutes := f.rnd.Between(int(f.cfg.MinWorkTime/time.Minute), int(f.cfg.MaxWorkTime/time.Minute))
	return Policy{
		ActionCount: f.rnd.Between(f.cfg.MinActionCount, f.cfg.MaxActionCount),
		WorkTime:    time.Duration(minutes) * time.Minute,
		Swap:        swap,
		MinReserve:  f.cfg.MinReserve,
	}
}

func (f *Factory) bridge(acc *Account) *BridgeRoute {
	if acc.EVMKey == nil {
		return nil
	}
	wb, ok := f.cfg.Bridges[acc.EVMAddress.Hex()]
	if !ok {
		wb, ok = f.cfg.Bridges[strings.ToLower(acc.EVMAddress.Hex())]
	}
	if !ok {
		wb, ok = f.cfg.Bridges[string(acc.Address)]
	}
	if !ok {
		if f.cfg.DefaultBridge == nil {
			return nil
		}
		wb = *f.cfg.DefaultBridge
	}

	chain := strings.ToLower(wb.FromChain)
	id, ok := f.cfg.ChainIDs[chain]
	if !ok {
		log.Warn().Str("account", acc.Label()).Str("chain", wb.FromChain).Msg("account: unknown bridge chain, bridge disabled")
		return nil
	}
	return &BridgeRoute{
		FromChain: chain,
		ChainID:   id,
		Currency:  strings.ToLower(wb.Currency),
		Amount:    f.sizer.Range(f.cfg.BridgeAmount.Min, f.cfg.BridgeAmount.Max),
	}
}

// String renders a policy for start-up logs.
func (p Policy) String() string {
	return fmt.Sprintf("actions=%d work=%s reserve=%s", p.ActionCount, p.WorkTime, p.MinReserve)
}
