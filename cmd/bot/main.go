package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/blackpanther/internal/controlplane/server"
	"github.com/betbot/blackpanther/internal/exchange"
	"github.com/betbot/blackpanther/internal/ledger"
	"github.com/betbot/blackpanther/internal/metrics"
	"github.com/betbot/blackpanther/internal/notify"
	"github.com/betbot/blackpanther/internal/orchestrator"
	"github.com/betbot/blackpanther/internal/ports"
	"github.com/betbot/blackpanther/internal/risk"
	"github.com/betbot/blackpanther/internal/sentiment"
	"github.com/betbot/blackpanther/internal/state"
	_ "github.com/betbot/blackpanther/internal/strategies/all"
	"github.com/betbot/blackpanther/internal/strategies/common"
	"github.com/betbot/blackpanther/pkg/config"
	"github.com/betbot/blackpanther/pkg/logger"
	"github.com/betbot/blackpanther/pkg/persistence"
	"github.com/betbot/blackpanther/pkg/secretstore"
)

func firstExistingFile(paths ...string) (string, bool) {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

func main() {
	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	envFile := flag.String("env", ".env", "环境变量文件（不存在时忽略）")
	flag.Parse()

	if err := logger.InitDefault(); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}

	if _, err := os.Stat(*envFile); err == nil {
		if err := godotenv.Load(*envFile); err != nil {
			logrus.Warnf("加载 %s 失败: %v", *envFile, err)
		}
	}

	path := *configPath
	if path != "" {
		logrus.Infof("使用配置文件: %s", path)
	} else if p, ok := firstExistingFile("yml/config.yaml"); ok {
		path = p
		logrus.Infof("使用默认配置文件: %s", p)
	} else {
		logrus.Warnf("未指定配置文件，且默认 yml/config.yaml 不存在，将使用环境变量和默认值")
	}

	cfg, err := config.LoadFromFile(path)
	if err != nil {
		logrus.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}

	logConfig := logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 30,
		MaxAge:     30,
		Compress:   true,
	}
	if err := logger.Init(logConfig); err != nil {
		logrus.Errorf("重新初始化日志失败: %v", err)
		os.Exit(1)
	}
	defer logger.Close()

	if err := fillSecrets(cfg); err != nil {
		logrus.Errorf("读取密钥库失败: %v", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Errorf("配置无效: %v", err)
		os.Exit(1)
	}

	logrus.Infof("🐆 Black Panther 启动: mode=%s dryRun=%v strategies=%v",
		cfg.System.Mode, cfg.DryRun, cfg.Strategies.EnabledStrategies)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	store, err := state.Open(state.Options{Dir: cfg.Storage.StateDir, SignalTTL: cfg.Storage.SignalTTL})
	if err != nil {
		logrus.Errorf("打开状态存储失败: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	book, err := ledger.Open(cfg.Storage.LedgerPath)
	if err != nil {
		logrus.Errorf("打开交易账本失败: %v", err)
		os.Exit(1)
	}
	defer book.Close()

	// 永续：Binance REST + mark price 推送
	marks := exchange.NewMarkPriceStream(cfg.Binance.StreamURL, os.Getenv("HTTPS_PROXY"), 10*time.Second)
	marks.Run(rootCtx)

	binance := exchange.NewBinance(exchange.BinanceOptions{
		BaseURL:           cfg.Binance.BaseURL,
		SpotBaseURL:       cfg.Binance.SpotBaseURL,
		APIKey:            cfg.Binance.APIKey,
		APISecret:         cfg.Binance.APISecret,
		RequestsPerSecond: cfg.Binance.RequestsPerSecond,
		Marks:             marks,
	})
	gate := exchange.NewGate(exchange.GateOptions{
		BaseURL:           cfg.Gate.BaseURL,
		APIKey:            cfg.Gate.APIKey,
		APISecret:         cfg.Gate.APISecret,
		RequestsPerSecond: cfg.Gate.RequestsPerSecond,
		MinOrderbookDepth: cfg.Strategies.Sniper.MinOrderbookDepth,
		MaxSpreadPct:      cfg.Strategies.Sniper.MaxSpreadPct,
	})

	loadCtx, loadCancel := context.WithTimeout(rootCtx, 20*time.Second)
	if err := binance.LoadSymbolRules(loadCtx); err != nil {
		logrus.Warnf("加载 Binance 交易规则失败，数量精度将使用默认值: %v", err)
	}
	if cfg.IsEnabled(config.StrategySniper) {
		if err := gate.LoadSymbolRules(loadCtx); err != nil {
			logrus.Warnf("加载 Gate 交易规则失败: %v", err)
		}
	}
	loadCancel()

	var (
		gateway ports.Gateway   = binance
		spot    ports.SpotVenue = gate
	)
	if cfg.DryRun {
		logrus.Warnf("🧪 dry-run 模式：订单只记录不发送，模拟余额 $%.2f", cfg.PaperBalance)
		gateway = exchange.NewDryRunGateway(binance, cfg.PaperBalance)
		spot = exchange.NewDryRunSpotVenue(gate, cfg.PaperBalance)
	}

	notifier := notify.NewTelegram(notify.Config{
		BotToken: cfg.Telegram.BotToken,
		ChatID:   cfg.Telegram.ChatID,
		BaseURL:  cfg.Telegram.BaseURL,
	})
	analyst := sentiment.NewClient(sentiment.Config{
		APIKey:  cfg.Perplexity.APIKey,
		BaseURL: cfg.Perplexity.BaseURL,
		Model:   cfg.Perplexity.Model,
	})

	monitor := risk.NewMonitor(risk.Config{
		MaxDailyDrawdown: cfg.System.MaxDailyDrawdown,
		MaxLatencyMs:     float64(cfg.System.MaxLatencyMs),
		MaxBasisRisk:     cfg.Strategies.CashCow.MaxBasisRisk,
		Interval:         cfg.System.RiskInterval,
	}, gateway, store, notifier)
	monitor.UseSpotVenue(spot)

	if addr := strings.TrimSpace(cfg.MetricsAddr); addr != "" {
		if _, err := metrics.StartAsync(rootCtx, addr); err != nil {
			logrus.Warnf("启动 metrics 失败: %v", err)
		}
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Config: cfg,
		Deps: common.Deps{
			Gateway:   gateway,
			Spot:      spot,
			Store:     store,
			Ledger:    book,
			Notifier:  notifier,
			Sentiment: analyst,
		},
		Monitor:     monitor,
		Summaries:   book,
		Persistence: persistence.NewJSONFileService(cfg.Storage.PersistenceDir),
	})
	if err != nil {
		logrus.Errorf("组装策略失败: %v", err)
		os.Exit(1)
	}

	if addr := strings.TrimSpace(cfg.ControlPlaneAddr); addr != "" {
		cp, err := server.New(server.Config{
			Mode:       cfg.System.Mode,
			DryRun:     cfg.DryRun,
			Strategies: orch.StrategyIDs(),
			Token:      cfg.ControlPlaneToken,
		}, store, book, gateway, monitor)
		if err != nil {
			logrus.Errorf("创建控制面失败: %v", err)
			os.Exit(1)
		}
		if _, err := cp.StartAsync(rootCtx, addr); err != nil {
			logrus.Warnf("启动控制面失败: %v", err)
		}
	}

	if err := orch.Start(rootCtx); err != nil {
		logrus.Errorf("启动失败: %v", err)
		os.Exit(1)
	}
	logrus.Info("✅ 已启动，按 Ctrl+C 停止")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logrus.Infof("收到信号 %v，正在关闭...", sig)
	case <-orch.Done():
		logrus.Warn("所有策略已退出，正在关闭...")
	}
	// 先 cancel root ctx，让策略完成当前周期后退出
	rootCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	orch.Shutdown(shutdownCtx)

	logrus.Info("✅ 已停止")
}

// fillSecrets 配置了密钥库时用其中的值覆盖凭证
func fillSecrets(cfg *config.Config) error {
	path := strings.TrimSpace(cfg.Storage.SecretStorePath)
	if path == "" {
		return nil
	}
	key, err := secretstore.ParseKey(cfg.Storage.SecretStoreKey)
	if err != nil {
		return err
	}
	ss, err := secretstore.Open(secretstore.OpenOptions{Path: path, EncryptionKey: key, ReadOnly: true})
	if err != nil {
		return err
	}
	defer ss.Close()

	if err := ss.Fill(map[string]*string{
		secretstore.KeyBinanceAPIKey:    &cfg.Binance.APIKey,
		secretstore.KeyBinanceAPISecret: &cfg.Binance.APISecret,
		secretstore.KeyGateAPIKey:       &cfg.Gate.APIKey,
		secretstore.KeyGateAPISecret:    &cfg.Gate.APISecret,
		secretstore.KeyTelegramToken:    &cfg.Telegram.BotToken,
		secretstore.KeyPerplexityAPIKey: &cfg.Perplexity.APIKey,
	}); err != nil {
		return err
	}
	logrus.Infof("🔐 已从密钥库加载凭证: %s", path)
	return nil
}
