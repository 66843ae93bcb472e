package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"main/internal/feed"
	"main/internal/mm"
	"main/internal/persist"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/shadow"
)

// FileConfig mirrors the JSON config layout. Durations are milliseconds,
// percent-like values are basis points, prices and quantities are in the
// symbol's scaled integer units.
type FileConfig struct {
	Registry RegistryConfig     `json:"registry"`
	Risk     RiskConfig         `json:"risk"`
	Shadow   ShadowConfig       `json:"shadow"`
	Strategy StrategyConfig     `json:"strategy"`
	Feed     FeedConfig         `json:"feed"`
	Persist  PersistConfig      `json:"persist"`
	Features FeatureFlagsConfig `json:"features"`
}

// RegistryConfig defines venue and symbol mappings.
type RegistryConfig struct {
	Venues  []VenueConfig  `json:"venues"`
	Symbols []SymbolConfig `json:"symbols"`
}

// VenueConfig describes a venue entry.
type VenueConfig struct {
	Name string `json:"name"`
}

// SymbolConfig describes a symbol entry.
type SymbolConfig struct {
	Name  string           `json:"name"`
	Venue string           `json:"venue"`
	Scale schema.ScaleSpec `json:"scale"`
}

// RiskConfig is the risk engine section.
type RiskConfig struct {
	Enabled         *bool           `json:"enabled"`
	MaxDrawdownBps  schema.Bps      `json:"maxDrawdownBps"`
	WindowMs        int64           `json:"windowMs"`
	StopDurationMs  int64           `json:"stopDurationMs"`
	CooldownMs      int64           `json:"cooldownMs"`
	MinTradesForDD  int             `json:"minTradesForDrawdown"`
	MaxBaseRatioBps schema.Bps      `json:"maxBaseRatioBps"`
	MaxLossNotional schema.Notional `json:"maxLossNotional"`
	MaxLossBps      schema.Bps      `json:"maxLossBps"`
}

// ShadowConfig is the execution simulator section.
type ShadowConfig struct {
	LatencyMs           int64       `json:"latencyMs"`
	MarketLatencyMs     int64       `json:"marketLatencyMs"`
	SlippageBps         schema.Bps  `json:"slippageBps"`
	AlphaBps            *schema.Bps `json:"alphaBps"`
	PostOnlyReject      *bool       `json:"postOnlyReject"`
	SimulateMarketFills *bool       `json:"simulateMarketFills"`
	PartialFills        *bool       `json:"partialFills"`
	TakerFeeBps         schema.Bps  `json:"takerFeeBps"`
	MakerFeeBps         schema.Bps  `json:"makerFeeBps"`
}

// StrategyConfig is the market-making loop section.
type StrategyConfig struct {
	Symbol                string          `json:"symbol"`
	InitialCash           schema.Notional `json:"initialCash"`
	QuoteSize             schema.Notional `json:"quoteSize"`
	CapitalUsageBps       schema.Bps      `json:"capitalUsageBps"`
	MinSpreadBps          schema.Bps      `json:"minSpreadBps"`
	CancelTimeoutMs       int64           `json:"cancelTimeoutMs"`
	ReorderIntervalMs     int64           `json:"reorderIntervalMs"`
	TickIntervalMs        int64           `json:"tickIntervalMs"`
	AggressiveTake        bool            `json:"aggressiveTake"`
	AggressiveBps         schema.Bps      `json:"aggressiveBps"`
	InventoryTargetBps    schema.Bps      `json:"inventoryTargetBps"`
	InventoryToleranceBps schema.Bps      `json:"inventoryToleranceBps"`
	PostOnly              bool            `json:"postOnly"`
}

// FeedConfig selects and shapes the market-data source.
type FeedConfig struct {
	// Source is "binance" or "synthetic".
	Source    string        `json:"source"`
	Synthetic SyntheticPart `json:"synthetic"`
}

// SyntheticPart shapes the synthetic random walk.
type SyntheticPart struct {
	BasePrice  schema.Price    `json:"basePrice"`
	BaseSize   schema.Quantity `json:"baseSize"`
	Spread     schema.Price    `json:"spread"`
	StepBps    schema.Bps      `json:"stepBps"`
	IntervalMs int64           `json:"intervalMs"`
	TradeEvery int             `json:"tradeEvery"`
	Seed       int64           `json:"seed"`
}

// PersistConfig selects event sinks.
type PersistConfig struct {
	JournalDir string         `json:"journalDir"`
	Postgres   PostgresConfig `json:"postgres"`
}

// PostgresConfig enables the postgres sink when a database is named.
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
}

// Enabled reports whether the postgres sink should be wired.
func (c PostgresConfig) Enabled() bool { return c.Database != "" }

// FeatureFlagsConfig captures optional runtime flags.
type FeatureFlagsConfig struct {
	EnableStatusReport *bool `json:"enableStatusReport"`
	EnableJournal      *bool `json:"enableJournal"`
}

// FeatureFlags are resolved runtime flags.
type FeatureFlags struct {
	EnableStatusReport bool
	EnableJournal      bool
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Registry     *schema.Registry
	Symbol       schema.Symbol
	Risk         risk.Config
	Shadow       shadow.Config
	Strategy     mm.Config
	InitialCash  schema.Notional
	TickInterval time.Duration
	FeedSource   string
	Synthetic    feed.SyntheticConfig
	Journal      persist.JournalConfig
	Postgres     PostgresConfig
	Features     FeatureFlags
}

// Load reads a JSON config file and resolves every section, failing on
// the first invalid value.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg)
}

// Resolve validates a parsed config and converts it to runtime types.
func Resolve(cfg FileConfig) (Loaded, error) {
	registry, err := buildRegistry(cfg.Registry)
	if err != nil {
		return Loaded{}, err
	}

	symbol, err := resolveSymbol(cfg.Strategy.Symbol, registry)
	if err != nil {
		return Loaded{}, err
	}

	riskCfg, err := resolveRisk(cfg.Risk)
	if err != nil {
		return Loaded{}, err
	}

	shadowCfg, err := resolveShadow(cfg.Shadow)
	if err != nil {
		return Loaded{}, err
	}

	mmCfg, tickInterval, err := resolveStrategy(cfg.Strategy, symbol)
	if err != nil {
		return Loaded{}, err
	}

	feedSource, synthetic, err := resolveFeed(cfg.Feed)
	if err != nil {
		return Loaded{}, err
	}

	if cfg.Strategy.InitialCash <= 0 {
		return Loaded{}, fmt.Errorf("strategy.initialCash must be > 0")
	}

	return Loaded{
		Registry:     registry,
		Symbol:       symbol,
		Risk:         riskCfg,
		Shadow:       shadowCfg,
		Strategy:     mmCfg,
		InitialCash:  cfg.Strategy.InitialCash,
		TickInterval: tickInterval,
		FeedSource:   feedSource,
		Synthetic:    synthetic,
		Journal:      persist.JournalConfig{Dir: cfg.Persist.JournalDir},
		Postgres:     cfg.Persist.Postgres,
		Features:     resolveFeatures(cfg.Features),
	}, nil
}

func buildRegistry(cfg RegistryConfig) (*schema.Registry, error) {
	reg := schema.NewRegistry()
	for _, venue := range cfg.Venues {
		if _, err := reg.AddVenue(venue.Name); err != nil {
			return nil, err
		}
	}
	for _, sym := range cfg.Symbols {
		venueID, ok := reg.VenueIDByName(sym.Venue)
		if !ok {
			return nil, fmt.Errorf("venue not found: %s", sym.Venue)
		}
		if sym.Scale.PriceScale < 0 || sym.Scale.QuantityScale < 0 {
			return nil, fmt.Errorf("invalid scale for %s: scale must be >= 0", sym.Name)
		}
		if _, err := reg.AddSymbol(sym.Name, venueID, sym.Scale); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func resolveSymbol(name string, reg *schema.Registry) (schema.Symbol, error) {
	if name == "" {
		return schema.Symbol{}, fmt.Errorf("strategy.symbol is empty")
	}
	id, ok := reg.SymbolIDByName(name)
	if !ok {
		return schema.Symbol{}, fmt.Errorf("strategy symbol not in registry: %s", name)
	}
	symbol, _ := reg.Symbol(id)
	return symbol, nil
}

func resolveRisk(cfg RiskConfig) (risk.Config, error) {
	out := risk.DefaultConfig()
	if cfg.Enabled != nil {
		out.Enabled = *cfg.Enabled
	}
	if cfg.MaxDrawdownBps != 0 {
		out.MaxDrawdownBps = cfg.MaxDrawdownBps
	}
	if cfg.WindowMs != 0 {
		out.Window = time.Duration(cfg.WindowMs) * time.Millisecond
	}
	if cfg.StopDurationMs != 0 {
		out.StopDuration = time.Duration(cfg.StopDurationMs) * time.Millisecond
	}
	if cfg.CooldownMs != 0 {
		out.Cooldown = time.Duration(cfg.CooldownMs) * time.Millisecond
	}
	out.MinTradesForDD = cfg.MinTradesForDD
	out.MaxBaseRatioBps = cfg.MaxBaseRatioBps
	out.MaxLossNotional = cfg.MaxLossNotional
	out.MaxLossBps = cfg.MaxLossBps

	if out.MaxDrawdownBps <= 0 || out.MaxDrawdownBps > schema.Bps(schema.BpsScale) {
		return risk.Config{}, fmt.Errorf("risk.maxDrawdownBps out of range: %d", out.MaxDrawdownBps)
	}
	if out.Window <= 0 || out.StopDuration <= 0 {
		return risk.Config{}, fmt.Errorf("risk window and stop duration must be > 0")
	}
	if cfg.WindowMs < 0 || cfg.StopDurationMs < 0 || cfg.CooldownMs < 0 {
		return risk.Config{}, fmt.Errorf("risk durations must be >= 0")
	}
	return out, nil
}

func resolveShadow(cfg ShadowConfig) (shadow.Config, error) {
	out := shadow.DefaultConfig()
	if cfg.LatencyMs != 0 {
		out.Latency = time.Duration(cfg.LatencyMs) * time.Millisecond
	}
	if cfg.MarketLatencyMs != 0 {
		out.MarketLatency = time.Duration(cfg.MarketLatencyMs) * time.Millisecond
	}
	if cfg.SlippageBps != 0 {
		out.SlippageBps = cfg.SlippageBps
	}
	if cfg.AlphaBps != nil {
		out.AlphaBps = *cfg.AlphaBps
	}
	if cfg.PostOnlyReject != nil {
		out.PostOnlyReject = *cfg.PostOnlyReject
	}
	if cfg.SimulateMarketFills != nil {
		out.SimulateMarketFills = *cfg.SimulateMarketFills
	}
	if cfg.PartialFills != nil {
		out.PartialFills = *cfg.PartialFills
	}
	out.TakerFeeBps = cfg.TakerFeeBps
	out.MakerFeeBps = cfg.MakerFeeBps

	if cfg.LatencyMs < 0 || cfg.MarketLatencyMs < 0 {
		return shadow.Config{}, fmt.Errorf("shadow latencies must be >= 0")
	}
	if out.SlippageBps < 0 || out.SlippageBps > schema.Bps(schema.BpsScale) {
		return shadow.Config{}, fmt.Errorf("shadow.slippageBps out of range: %d", out.SlippageBps)
	}
	if out.AlphaBps < 0 || out.AlphaBps > schema.Bps(schema.BpsScale) {
		return shadow.Config{}, fmt.Errorf("shadow.alphaBps out of range: %d", out.AlphaBps)
	}
	if out.TakerFeeBps < 0 || out.MakerFeeBps < 0 {
		return shadow.Config{}, fmt.Errorf("shadow fees must be >= 0")
	}
	return out, nil
}

func resolveStrategy(cfg StrategyConfig, symbol schema.Symbol) (mm.Config, time.Duration, error) {
	out := mm.DefaultConfig()
	out.SymbolID = symbol.ID
	out.Symbol = symbol.Name
	out.PriceStep = symbol.Scale.PriceStep
	out.QtyStep = symbol.Scale.QuantityStep
	out.QuoteSize = cfg.QuoteSize
	if cfg.CapitalUsageBps != 0 {
		out.CapitalUsageBps = cfg.CapitalUsageBps
	}
	if cfg.MinSpreadBps != 0 {
		out.MinSpreadBps = cfg.MinSpreadBps
	}
	if cfg.CancelTimeoutMs != 0 {
		out.CancelTimeout = time.Duration(cfg.CancelTimeoutMs) * time.Millisecond
	}
	if cfg.ReorderIntervalMs != 0 {
		out.ReorderInterval = time.Duration(cfg.ReorderIntervalMs) * time.Millisecond
	}
	out.AggressiveTake = cfg.AggressiveTake
	out.AggressiveBps = cfg.AggressiveBps
	if cfg.InventoryTargetBps != 0 {
		out.InventoryTargetBps = cfg.InventoryTargetBps
	}
	if cfg.InventoryToleranceBps != 0 {
		out.InventoryToleranceBps = cfg.InventoryToleranceBps
	}
	out.PostOnly = cfg.PostOnly

	if err := out.Validate(); err != nil {
		return mm.Config{}, 0, err
	}

	tickInterval := 100 * time.Millisecond
	if cfg.TickIntervalMs != 0 {
		if cfg.TickIntervalMs < 0 {
			return mm.Config{}, 0, fmt.Errorf("strategy.tickIntervalMs must be > 0")
		}
		tickInterval = time.Duration(cfg.TickIntervalMs) * time.Millisecond
	}
	return out, tickInterval, nil
}

func resolveFeed(cfg FeedConfig) (string, feed.SyntheticConfig, error) {
	source := cfg.Source
	if source == "" {
		source = "synthetic"
	}
	switch source {
	case "binance":
		return source, feed.SyntheticConfig{}, nil
	case "synthetic":
		out := feed.DefaultSyntheticConfig()
		out.BasePrice = cfg.Synthetic.BasePrice
		if cfg.Synthetic.BaseSize != 0 {
			out.BaseSize = cfg.Synthetic.BaseSize
		}
		if cfg.Synthetic.Spread != 0 {
			out.Spread = cfg.Synthetic.Spread
		}
		if cfg.Synthetic.StepBps != 0 {
			out.StepBps = cfg.Synthetic.StepBps
		}
		if cfg.Synthetic.IntervalMs != 0 {
			out.Interval = time.Duration(cfg.Synthetic.IntervalMs) * time.Millisecond
		}
		if cfg.Synthetic.TradeEvery != 0 {
			out.TradeEvery = cfg.Synthetic.TradeEvery
		}
		out.Seed = cfg.Synthetic.Seed
		if out.BasePrice <= 0 {
			return "", feed.SyntheticConfig{}, fmt.Errorf("feed.synthetic.basePrice must be > 0")
		}
		return source, out, nil
	default:
		return "", feed.SyntheticConfig{}, fmt.Errorf("unknown feed source: %s", source)
	}
}

func resolveFeatures(cfg FeatureFlagsConfig) FeatureFlags {
	flags := FeatureFlags{
		EnableStatusReport: true,
		EnableJournal:      true,
	}
	if cfg.EnableStatusReport != nil {
		flags.EnableStatusReport = *cfg.EnableStatusReport
	}
	if cfg.EnableJournal != nil {
		flags.EnableJournal = *cfg.EnableJournal
	}
	return flags
}
