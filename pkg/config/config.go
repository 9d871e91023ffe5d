package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 策略 ID（与策略包中的 ID 常量一致）
const (
	StrategyCashCow     = "cashcow"
	StrategyTrendKiller = "trendkiller"
	StrategySniper      = "sniper"
)

// SystemConfig 系统级风控配置
type SystemConfig struct {
	Mode                   string        // PAPER / TESTNET / LIVE
	MaxDailyDrawdown       float64       // 最大日回撤（小数），跌破则触发熔断
	LeverageLimit          int           // 全局杠杆上限
	MaxLatencyMs           int64         // 交易所延迟告警阈值（毫秒）
	RiskInterval           time.Duration // 风控循环间隔
	MaxMoonshotAllocation  float64       // 狙击策略单笔最大资金占比
	MaxConsecutiveFailures int           // 组件连续失败次数上限，超过则手动熔断
}

// TrendKillerConfig 趋势策略配置（OI + SuperTrend + CVD）
type TrendKillerConfig struct {
	Allocation              float64
	Timeframe               string
	CandleLimit             int
	SuperTrendLength        int
	SuperTrendMult          float64
	OISurgeThreshold        float64
	CVDConfirmationRequired bool
	Leverage                int
	ScanInterval            time.Duration
	Watchlist               []string
}

// CashCowConfig 资金费率套利配置
type CashCowConfig struct {
	Allocation     float64
	MinFundingRate float64
	MaxBasisRisk   float64
	ScanInterval   time.Duration
	Watchlist      []string
}

// SniperConfig 狙击策略配置（RVOL + 舆情）
type SniperConfig struct {
	Allocation         float64
	RVOLThreshold      float64
	PriceChangeMax     float64
	SentimentThreshold int
	TrailingStopPct    float64
	TakeProfitPct      float64
	StopLossPct        float64
	MinQuoteVolume     float64
	MaxQuoteVolume     float64
	VolumeLookback     int
	MinOrderbookDepth  float64
	MaxSpreadPct       float64
	ScanInterval       time.Duration
	Whitelist          []string // 行情接口失败时的候选池
}

// StrategyConfig 多策略配置
type StrategyConfig struct {
	EnabledStrategies []string
	TrendKiller       TrendKillerConfig
	CashCow           CashCowConfig
	Sniper            SniperConfig
}

// VenueConfig 交易所连接配置
type VenueConfig struct {
	BaseURL           string // 永续 / 主 REST 地址
	SpotBaseURL       string // 现货 REST 地址（Gate 与 BaseURL 相同）
	StreamURL         string // 行情 websocket
	APIKey            string
	APISecret         string
	Testnet           bool
	RequestsPerSecond int
}

// TelegramConfig 告警配置
type TelegramConfig struct {
	BotToken string
	ChatID   string
	BaseURL  string
}

// PerplexityConfig 舆情服务配置
type PerplexityConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// StorageConfig 存储路径配置
type StorageConfig struct {
	StateDir        string
	LedgerPath      string
	PersistenceDir  string
	SecretStorePath string
	SecretStoreKey  string
	SignalTTL       time.Duration
}

// Config 应用配置（启动时构造一次，之后只读）
type Config struct {
	System           SystemConfig
	Strategies       StrategyConfig
	Binance          VenueConfig
	Gate             VenueConfig
	Telegram         TelegramConfig
	Perplexity       PerplexityConfig
	Storage          StorageConfig
	ControlPlaneAddr string
	// ControlPlaneToken 非空时控制面写接口需要 Bearer token（只从环境变量读取）
	ControlPlaneToken string
	MetricsAddr       string
	LogLevel          string
	LogFile           string
	DryRun            bool
	PaperBalance      float64 // dry-run 下余额查询失败时使用的模拟 USDT 余额
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	System struct {
		Mode                   string  `yaml:"mode" json:"mode"`
		MaxDailyDrawdown       float64 `yaml:"maxDailyDrawdown" json:"maxDailyDrawdown"`
		LeverageLimit          int     `yaml:"leverageLimit" json:"leverageLimit"`
		MaxLatencyMs           int64   `yaml:"maxLatencyMs" json:"maxLatencyMs"`
		RiskInterval           string  `yaml:"riskInterval" json:"riskInterval"`
		MaxMoonshotAllocation  float64 `yaml:"maxMoonshotAllocation" json:"maxMoonshotAllocation"`
		MaxConsecutiveFailures int     `yaml:"maxConsecutiveFailures" json:"maxConsecutiveFailures"`
	} `yaml:"system" json:"system"`
	Strategies struct {
		Enabled     []string `yaml:"enabled" json:"enabled"`
		TrendKiller struct {
			Allocation              float64  `yaml:"allocation" json:"allocation"`
			Timeframe               string   `yaml:"timeframe" json:"timeframe"`
			CandleLimit             int      `yaml:"candleLimit" json:"candleLimit"`
			SuperTrendLength        int      `yaml:"supertrendLength" json:"supertrendLength"`
			SuperTrendMult          float64  `yaml:"supertrendMult" json:"supertrendMult"`
			OISurgeThreshold        float64  `yaml:"oiSurgeThreshold" json:"oiSurgeThreshold"`
			CVDConfirmationRequired *bool    `yaml:"cvdConfirmationRequired" json:"cvdConfirmationRequired"`
			Leverage                int      `yaml:"leverage" json:"leverage"`
			ScanInterval            string   `yaml:"scanInterval" json:"scanInterval"`
			Watchlist               []string `yaml:"watchlist" json:"watchlist"`
		} `yaml:"trendkiller" json:"trendkiller"`
		CashCow struct {
			Allocation     float64  `yaml:"allocation" json:"allocation"`
			MinFundingRate float64  `yaml:"minFundingRate" json:"minFundingRate"`
			MaxBasisRisk   float64  `yaml:"maxBasisRisk" json:"maxBasisRisk"`
			ScanInterval   string   `yaml:"scanInterval" json:"scanInterval"`
			Watchlist      []string `yaml:"watchlist" json:"watchlist"`
		} `yaml:"cashcow" json:"cashcow"`
		Sniper struct {
			Allocation         float64  `yaml:"allocation" json:"allocation"`
			RVOLThreshold      float64  `yaml:"rvolThreshold" json:"rvolThreshold"`
			PriceChangeMax     float64  `yaml:"priceChangeMax" json:"priceChangeMax"`
			SentimentThreshold int      `yaml:"sentimentThreshold" json:"sentimentThreshold"`
			TrailingStopPct    float64  `yaml:"trailingStopPct" json:"trailingStopPct"`
			TakeProfitPct      float64  `yaml:"takeProfitPct" json:"takeProfitPct"`
			StopLossPct        float64  `yaml:"stopLossPct" json:"stopLossPct"`
			MinQuoteVolume     float64  `yaml:"minQuoteVolume" json:"minQuoteVolume"`
			MaxQuoteVolume     float64  `yaml:"maxQuoteVolume" json:"maxQuoteVolume"`
			VolumeLookback     int      `yaml:"volumeLookback" json:"volumeLookback"`
			MinOrderbookDepth  float64  `yaml:"minOrderbookDepth" json:"minOrderbookDepth"`
			MaxSpreadPct       float64  `yaml:"maxSpreadPct" json:"maxSpreadPct"`
			ScanInterval       string   `yaml:"scanInterval" json:"scanInterval"`
			Whitelist          []string `yaml:"whitelist" json:"whitelist"`
		} `yaml:"sniper" json:"sniper"`
	} `yaml:"strategies" json:"strategies"`
	Binance  venueFile `yaml:"binance" json:"binance"`
	Gate     venueFile `yaml:"gate" json:"gate"`
	Telegram struct {
		BotToken string `yaml:"botToken" json:"botToken"`
		ChatID   string `yaml:"chatId" json:"chatId"`
		BaseURL  string `yaml:"baseUrl" json:"baseUrl"`
	} `yaml:"telegram" json:"telegram"`
	Perplexity struct {
		APIKey  string `yaml:"apiKey" json:"apiKey"`
		BaseURL string `yaml:"baseUrl" json:"baseUrl"`
		Model   string `yaml:"model" json:"model"`
	} `yaml:"perplexity" json:"perplexity"`
	Storage struct {
		StateDir        string `yaml:"stateDir" json:"stateDir"`
		LedgerPath      string `yaml:"ledgerPath" json:"ledgerPath"`
		PersistenceDir  string `yaml:"persistenceDir" json:"persistenceDir"`
		SecretStorePath string `yaml:"secretStorePath" json:"secretStorePath"`
		SignalTTL       string `yaml:"signalTtl" json:"signalTtl"`
	} `yaml:"storage" json:"storage"`
	ControlPlaneAddr string  `yaml:"controlPlaneAddr" json:"controlPlaneAddr"`
	MetricsAddr      string  `yaml:"metricsAddr" json:"metricsAddr"`
	LogLevel         string  `yaml:"logLevel" json:"logLevel"`
	LogFile          string  `yaml:"logFile" json:"logFile"`
	DryRun           *bool   `yaml:"dryRun" json:"dryRun"`
	PaperBalance     float64 `yaml:"paperBalance" json:"paperBalance"`
}

type venueFile struct {
	BaseURL           string `yaml:"baseUrl" json:"baseUrl"`
	SpotBaseURL       string `yaml:"spotBaseUrl" json:"spotBaseUrl"`
	StreamURL         string `yaml:"streamUrl" json:"streamUrl"`
	APIKey            string `yaml:"apiKey" json:"apiKey"`
	APISecret         string `yaml:"apiSecret" json:"apiSecret"`
	Testnet           *bool  `yaml:"testnet" json:"testnet"`
	RequestsPerSecond int    `yaml:"requestsPerSecond" json:"requestsPerSecond"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		System: SystemConfig{
			Mode:                   "PAPER",
			MaxDailyDrawdown:       0.10,
			LeverageLimit:          5,
			MaxLatencyMs:           500,
			RiskInterval:           5 * time.Second,
			MaxMoonshotAllocation:  0.05,
			MaxConsecutiveFailures: 10,
		},
		Strategies: StrategyConfig{
			EnabledStrategies: []string{StrategyCashCow, StrategyTrendKiller, StrategySniper},
			TrendKiller: TrendKillerConfig{
				Allocation:              0.30,
				Timeframe:               "15m",
				CandleLimit:             100,
				SuperTrendLength:        10,
				SuperTrendMult:          3.0,
				OISurgeThreshold:        1.05,
				CVDConfirmationRequired: true,
				Leverage:                10,
				ScanInterval:            5 * time.Minute,
				Watchlist: []string{
					"BTCUSDT", "ETHUSDT", "SOLUSDT", "DOGEUSDT",
					"XRPUSDT", "AVAXUSDT", "LINKUSDT", "ARBUSDT",
				},
			},
			CashCow: CashCowConfig{
				Allocation:     0.40,
				MinFundingRate: 0.0001,
				MaxBasisRisk:   0.01,
				ScanInterval:   30 * time.Second,
				Watchlist:      []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "DOGEUSDT", "XRPUSDT"},
			},
			Sniper: SniperConfig{
				Allocation:         0.30,
				RVOLThreshold:      5.0,
				PriceChangeMax:     0.05,
				SentimentThreshold: 70,
				TrailingStopPct:    0.05,
				TakeProfitPct:      1.0,
				StopLossPct:        0.20,
				MinQuoteVolume:     5_000_000,
				MaxQuoteVolume:     50_000_000,
				VolumeLookback:     10,
				MinOrderbookDepth:  100,
				MaxSpreadPct:       2.0,
				ScanInterval:       10 * time.Second,
				Whitelist: []string{
					"BTC_USDT", "ETH_USDT", "XRP_USDT", "DOGE_USDT", "SOL_USDT",
					"ADA_USDT", "AVAX_USDT", "DOT_USDT", "LINK_USDT",
				},
			},
		},
		Binance: VenueConfig{
			BaseURL:           "https://testnet.binancefuture.com",
			SpotBaseURL:       "https://testnet.binance.vision",
			StreamURL:         "wss://fstream.binancefuture.com/ws/!markPrice@arr@1s",
			Testnet:           true,
			RequestsPerSecond: 20,
		},
		Gate: VenueConfig{
			BaseURL:           "https://api-testnet.gateapi.io/api/v4",
			SpotBaseURL:       "https://api-testnet.gateapi.io/api/v4",
			Testnet:           true,
			RequestsPerSecond: 10,
		},
		Telegram: TelegramConfig{BaseURL: "https://api.telegram.org"},
		Perplexity: PerplexityConfig{
			BaseURL: "https://api.perplexity.ai",
			Model:   "sonar-pro",
		},
		Storage: StorageConfig{
			StateDir:       "data/state",
			LedgerPath:     "data/ledger.db",
			PersistenceDir: "data/persistence",
			SignalTTL:      5 * time.Minute,
		},
		ControlPlaneAddr: "127.0.0.1:8088",
		MetricsAddr:      "127.0.0.1:9090",
		LogLevel:         "info",
		LogFile:          "logs/blackpanther.log",
		DryRun:           true,
		PaperBalance:     10000,
	}
}

// LoadFromFile 从指定文件加载配置
// 优先级：环境变量 > 配置文件 > 默认值。filePath 为空时只使用环境变量和默认值。
func LoadFromFile(filePath string) (*Config, error) {
	cfg := Default()
	if filePath != "" {
		cf, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
		if err := cfg.applyFile(cf); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	return &configFile, nil
}

func (c *Config) applyFile(cf *ConfigFile) error {
	s := &c.System
	setString(&s.Mode, cf.System.Mode)
	setFloat(&s.MaxDailyDrawdown, cf.System.MaxDailyDrawdown)
	setInt(&s.LeverageLimit, cf.System.LeverageLimit)
	if cf.System.MaxLatencyMs > 0 {
		s.MaxLatencyMs = cf.System.MaxLatencyMs
	}
	setFloat(&s.MaxMoonshotAllocation, cf.System.MaxMoonshotAllocation)
	setInt(&s.MaxConsecutiveFailures, cf.System.MaxConsecutiveFailures)
	if err := setDuration(&s.RiskInterval, cf.System.RiskInterval, "system.riskInterval"); err != nil {
		return err
	}

	st := &c.Strategies
	if cf.Strategies.Enabled != nil {
		st.EnabledStrategies = normalizeStrategies(cf.Strategies.Enabled)
	}

	tk, tkf := &st.TrendKiller, cf.Strategies.TrendKiller
	setFloat(&tk.Allocation, tkf.Allocation)
	setString(&tk.Timeframe, tkf.Timeframe)
	setInt(&tk.CandleLimit, tkf.CandleLimit)
	setInt(&tk.SuperTrendLength, tkf.SuperTrendLength)
	setFloat(&tk.SuperTrendMult, tkf.SuperTrendMult)
	setFloat(&tk.OISurgeThreshold, tkf.OISurgeThreshold)
	if tkf.CVDConfirmationRequired != nil {
		tk.CVDConfirmationRequired = *tkf.CVDConfirmationRequired
	}
	setInt(&tk.Leverage, tkf.Leverage)
	setList(&tk.Watchlist, tkf.Watchlist)
	if err := setDuration(&tk.ScanInterval, tkf.ScanInterval, "strategies.trendkiller.scanInterval"); err != nil {
		return err
	}

	cc, ccf := &st.CashCow, cf.Strategies.CashCow
	setFloat(&cc.Allocation, ccf.Allocation)
	setFloat(&cc.MinFundingRate, ccf.MinFundingRate)
	setFloat(&cc.MaxBasisRisk, ccf.MaxBasisRisk)
	setList(&cc.Watchlist, ccf.Watchlist)
	if err := setDuration(&cc.ScanInterval, ccf.ScanInterval, "strategies.cashcow.scanInterval"); err != nil {
		return err
	}

	sn, snf := &st.Sniper, cf.Strategies.Sniper
	setFloat(&sn.Allocation, snf.Allocation)
	setFloat(&sn.RVOLThreshold, snf.RVOLThreshold)
	setFloat(&sn.PriceChangeMax, snf.PriceChangeMax)
	setInt(&sn.SentimentThreshold, snf.SentimentThreshold)
	setFloat(&sn.TrailingStopPct, snf.TrailingStopPct)
	setFloat(&sn.TakeProfitPct, snf.TakeProfitPct)
	setFloat(&sn.StopLossPct, snf.StopLossPct)
	setFloat(&sn.MinQuoteVolume, snf.MinQuoteVolume)
	setFloat(&sn.MaxQuoteVolume, snf.MaxQuoteVolume)
	setInt(&sn.VolumeLookback, snf.VolumeLookback)
	setFloat(&sn.MinOrderbookDepth, snf.MinOrderbookDepth)
	setFloat(&sn.MaxSpreadPct, snf.MaxSpreadPct)
	setList(&sn.Whitelist, snf.Whitelist)
	if err := setDuration(&sn.ScanInterval, snf.ScanInterval, "strategies.sniper.scanInterval"); err != nil {
		return err
	}

	applyVenue(&c.Binance, cf.Binance)
	applyVenue(&c.Gate, cf.Gate)

	setString(&c.Telegram.BotToken, cf.Telegram.BotToken)
	setString(&c.Telegram.ChatID, cf.Telegram.ChatID)
	setString(&c.Telegram.BaseURL, cf.Telegram.BaseURL)
	setString(&c.Perplexity.APIKey, cf.Perplexity.APIKey)
	setString(&c.Perplexity.BaseURL, cf.Perplexity.BaseURL)
	setString(&c.Perplexity.Model, cf.Perplexity.Model)

	setString(&c.Storage.StateDir, cf.Storage.StateDir)
	setString(&c.Storage.LedgerPath, cf.Storage.LedgerPath)
	setString(&c.Storage.PersistenceDir, cf.Storage.PersistenceDir)
	setString(&c.Storage.SecretStorePath, cf.Storage.SecretStorePath)
	if err := setDuration(&c.Storage.SignalTTL, cf.Storage.SignalTTL, "storage.signalTtl"); err != nil {
		return err
	}

	setString(&c.ControlPlaneAddr, cf.ControlPlaneAddr)
	setString(&c.MetricsAddr, cf.MetricsAddr)
	setString(&c.LogLevel, cf.LogLevel)
	setString(&c.LogFile, cf.LogFile)
	if cf.DryRun != nil {
		c.DryRun = *cf.DryRun
	}
	setFloat(&c.PaperBalance, cf.PaperBalance)
	return nil
}

func applyVenue(v *VenueConfig, f venueFile) {
	setString(&v.BaseURL, f.BaseURL)
	setString(&v.SpotBaseURL, f.SpotBaseURL)
	setString(&v.StreamURL, f.StreamURL)
	setString(&v.APIKey, f.APIKey)
	setString(&v.APISecret, f.APISecret)
	setInt(&v.RequestsPerSecond, f.RequestsPerSecond)
	if f.Testnet != nil {
		v.Testnet = *f.Testnet
	}
}

// applyEnv 环境变量覆盖（密钥只建议通过环境变量 / .env / secretstore 提供）
func (c *Config) applyEnv() {
	c.System.Mode = getEnv("MODE", c.System.Mode)
	c.System.LeverageLimit = parseIntEnv("MAX_LEVERAGE", c.System.LeverageLimit)
	c.System.MaxDailyDrawdown = parseFloatEnv("MAX_DAILY_DRAWDOWN", c.System.MaxDailyDrawdown)
	c.System.MaxMoonshotAllocation = parseFloatEnv("MAX_POSITION_SIZE", c.System.MaxMoonshotAllocation)
	c.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", c.LogLevel))
	c.DryRun = parseBoolEnv("DRY_RUN", c.DryRun)

	c.Binance.APIKey = getEnv("BINANCE_API_KEY", c.Binance.APIKey)
	c.Binance.APISecret = getEnv("BINANCE_API_SECRET", c.Binance.APISecret)
	c.Binance.APIKey = getEnv("BINANCE_FUTURES_API_KEY", c.Binance.APIKey)
	c.Binance.APISecret = getEnv("BINANCE_FUTURES_API_SECRET", c.Binance.APISecret)
	c.Binance.Testnet = parseBoolEnv("BINANCE_TESTNET", c.Binance.Testnet)
	c.Gate.APIKey = getEnv("GATEIO_API_KEY", c.Gate.APIKey)
	c.Gate.APISecret = getEnv("GATEIO_API_SECRET", c.Gate.APISecret)
	c.Gate.Testnet = parseBoolEnv("GATEIO_TESTNET", c.Gate.Testnet)

	c.Telegram.BotToken = getEnv("TELEGRAM_BOT_TOKEN", c.Telegram.BotToken)
	c.Telegram.ChatID = getEnv("TELEGRAM_CHAT_ID", c.Telegram.ChatID)
	c.Perplexity.APIKey = getEnv("PERPLEXITY_API_KEY", c.Perplexity.APIKey)

	c.Storage.SecretStorePath = getEnv("SECRET_STORE_PATH", c.Storage.SecretStorePath)
	c.Storage.SecretStoreKey = getEnv("SECRET_STORE_KEY", c.Storage.SecretStoreKey)
	c.ControlPlaneToken = getEnv("CONTROL_PLANE_TOKEN", c.ControlPlaneToken)

	if v := os.Getenv("ENABLED_STRATEGIES"); v != "" {
		c.Strategies.EnabledStrategies = parseStrategyList(v)
	} else {
		enabled := make([]string, 0, 3)
		for _, item := range []struct {
			id  string
			env string
		}{
			{StrategyCashCow, "CASH_COW_ENABLED"},
			{StrategyTrendKiller, "TREND_KILLER_ENABLED"},
			{StrategySniper, "SNIPER_ENABLED"},
		} {
			if parseBoolEnv(item.env, c.IsEnabled(item.id)) {
				enabled = append(enabled, item.id)
			}
		}
		c.Strategies.EnabledStrategies = enabled
	}
}

// IsEnabled 策略是否启用
func (c *Config) IsEnabled(id string) bool {
	for _, s := range c.Strategies.EnabledStrategies {
		if s == id {
			return true
		}
	}
	return false
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.System.MaxDailyDrawdown <= 0 || c.System.MaxDailyDrawdown >= 1 {
		return fmt.Errorf("system.maxDailyDrawdown 必须在 0 到 1 之间")
	}
	if c.System.LeverageLimit <= 0 {
		return fmt.Errorf("system.leverageLimit 必须大于 0")
	}
	if c.System.MaxLatencyMs <= 0 {
		return fmt.Errorf("system.maxLatencyMs 必须大于 0")
	}
	if c.System.RiskInterval <= 0 {
		return fmt.Errorf("system.riskInterval 必须大于 0")
	}
	if len(c.Strategies.EnabledStrategies) == 0 {
		return fmt.Errorf("至少需要启用一个策略")
	}

	total := 0.0
	for _, name := range c.Strategies.EnabledStrategies {
		switch name {
		case StrategyTrendKiller:
			tk := c.Strategies.TrendKiller
			total += tk.Allocation
			if tk.SuperTrendLength <= 0 || tk.SuperTrendMult <= 0 {
				return fmt.Errorf("trendkiller supertrend 参数必须大于 0")
			}
			if tk.OISurgeThreshold <= 1 {
				return fmt.Errorf("trendkiller.oiSurgeThreshold 必须大于 1")
			}
			if tk.CandleLimit <= tk.SuperTrendLength+1 {
				return fmt.Errorf("trendkiller.candleLimit 必须大于 supertrendLength+1")
			}
			if len(tk.Watchlist) == 0 {
				return fmt.Errorf("trendkiller.watchlist 不能为空")
			}
		case StrategyCashCow:
			cc := c.Strategies.CashCow
			total += cc.Allocation
			if cc.MinFundingRate <= 0 {
				return fmt.Errorf("cashcow.minFundingRate 必须大于 0")
			}
			if cc.MaxBasisRisk <= 0 {
				return fmt.Errorf("cashcow.maxBasisRisk 必须大于 0")
			}
			if len(cc.Watchlist) == 0 {
				return fmt.Errorf("cashcow.watchlist 不能为空")
			}
		case StrategySniper:
			sn := c.Strategies.Sniper
			total += sn.Allocation
			if sn.RVOLThreshold <= 0 || sn.PriceChangeMax <= 0 {
				return fmt.Errorf("sniper rvol/priceChange 阈值必须大于 0")
			}
			if sn.SentimentThreshold < 0 || sn.SentimentThreshold > 100 {
				return fmt.Errorf("sniper.sentimentThreshold 必须在 0 到 100 之间")
			}
			if sn.TrailingStopPct <= 0 || sn.StopLossPct <= 0 {
				return fmt.Errorf("sniper 止损参数必须大于 0")
			}
			if sn.MinQuoteVolume >= sn.MaxQuoteVolume {
				return fmt.Errorf("sniper.minQuoteVolume 必须小于 maxQuoteVolume")
			}
		default:
			return fmt.Errorf("未知的策略: %s", name)
		}
	}
	if total > 1.0+1e-9 {
		return fmt.Errorf("启用策略的资金占比合计 %.2f 超过 1", total)
	}
	return nil
}

// parseStrategyList 解析策略列表（逗号分隔）
func parseStrategyList(str string) []string {
	return normalizeStrategies(strings.Split(str, ","))
}

func normalizeStrategies(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		s = strings.ReplaceAll(s, "_", "")
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setList(dst *[]string, v []string) {
	if len(v) > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string, field string) error {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s 格式错误 %q: %w", field, v, err)
	}
	*dst = d
	return nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
