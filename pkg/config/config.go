// Package config holds the engine configuration. The constants the source
// material leaves open (bounce payload budget, rent price, admission credit)
// are deliberately configuration, not hardcoded.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/emberchain/ember/pkg/types"
)

// Config is the top-level engine configuration, stored as TOML.
type Config struct {
	API  *APIConfig  `toml:"api"`
	Repo *RepoConfig `toml:"repo"`
	Exec *ExecConfig `toml:"exec"`
}

// APIConfig configures the JSON-RPC surface.
type APIConfig struct {
	ListenAddress string `toml:"listenAddress"`
}

// RepoConfig configures on-disk storage.
type RepoConfig struct {
	Path string `toml:"path"`
}

// ExecConfig configures the transaction executor.
type ExecConfig struct {
	// RentPricePerByte is charged per stored byte per elapsed tick, before
	// the compute phase of any transaction touching the account.
	RentPricePerByte types.TokenAmount `toml:"rentPricePerByte"`
	// FreezeGracePeriod is how long, in ticks, a frozen account survives
	// without a top-up before deletion.
	FreezeGracePeriod types.Tick `toml:"freezeGracePeriod"`
	// AdmissionGasCredit is the gas an external message may consume before
	// the contract calls Accept. Exhaustion before accept discards the
	// message with no state change.
	AdmissionGasCredit int64 `toml:"admissionGasCredit"`
	// GasPricePerUnit converts gas used into native value at commit.
	GasPricePerUnit types.TokenAmount `toml:"gasPricePerUnit"`
	// BounceBodyBudget caps the bytes of the original body echoed in a
	// bounce message. The selector always survives; arguments beyond the
	// budget are dropped.
	BounceBodyBudget int `toml:"bounceBodyBudget"`
	// BounceFee is deducted from the value a bounce message returns. If
	// the value cannot cover it, the bounce is silently dropped.
	BounceFee types.TokenAmount `toml:"bounceFee"`
	// MessageSendFee is charged per SendMessage action in addition to the
	// attached value.
	MessageSendFee types.TokenAmount `toml:"messageSendFee"`
	// Gas prices for individual compute operations.
	Prices PriceList `toml:"prices"`
}

// PriceList prices compute operations in gas units.
type PriceList struct {
	// MethodInvocation is charged once per dispatch.
	MethodInvocation int64 `toml:"methodInvocation"`
	// StateReadByte and StateWriteByte meter state decode/encode traffic.
	StateReadByte  int64 `toml:"stateReadByte"`
	StateWriteByte int64 `toml:"stateWriteByte"`
	// ActionStaged is charged per buffered action.
	ActionStaged int64 `toml:"actionStaged"`
}

// NewDefaultConfig returns the default configuration.
func NewDefaultConfig() *Config {
	return &Config{
		API: &APIConfig{
			ListenAddress: "127.0.0.1:3453",
		},
		Repo: &RepoConfig{
			Path: "~/.ember",
		},
		Exec: &ExecConfig{
			RentPricePerByte:   1,
			FreezeGracePeriod:  86_400,
			AdmissionGasCredit: 10_000,
			GasPricePerUnit:    1,
			BounceBodyBudget:   256,
			BounceFee:          10,
			MessageSendFee:     10,
			Prices: PriceList{
				MethodInvocation: 500,
				StateReadByte:    1,
				StateWriteByte:   3,
				ActionStaged:     100,
			},
		},
	}
}

// ReadFile loads a config, overlaying file values onto the defaults.
func ReadFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}
	return cfg, nil
}

// WriteFile persists the config as TOML.
func (c *Config) WriteFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "failed to open config %s", path)
	}
	defer f.Close() // nolint: errcheck

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	return nil
}
