package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arbmesh/config"
	"arbmesh/coordinator"
	"arbmesh/database"
	"arbmesh/event"
	"arbmesh/exchange"
	"arbmesh/executor"
	"arbmesh/fees"
	"arbmesh/lock"
	"arbmesh/logger"
	"arbmesh/metrics"
	"arbmesh/notify"
	"arbmesh/profit"
	"arbmesh/risk"
	"arbmesh/storage"
	"arbmesh/utils"
	"arbmesh/web"
)

// Version 版本号
var Version = "1.2.0"

func main() {
	// 检查版本参数
	if len(os.Args) > 1 && (os.Args[1] == "-version" || os.Args[1] == "--version") {
		fmt.Printf("ArbMesh Arbitrage Engine\n")
		fmt.Printf("Version: %s\n", Version)
		os.Exit(0)
	}

	// 解析调试参数（-debug / --debug）
	debugMode := false
	filteredArgs := []string{os.Args[0]}
	for _, arg := range os.Args[1:] {
		switch arg {
		case "-debug", "--debug":
			debugMode = true
		default:
			filteredArgs = append(filteredArgs, arg)
		}
	}
	os.Args = filteredArgs

	// 1. 最早初始化日志存储（在配置加载之前，使用默认路径）
	logStoragePath := "./logs.db"
	if len(os.Args) > 2 && os.Args[1] == "--log-db" {
		logStoragePath = os.Args[2]
		os.Args = append(os.Args[:1], os.Args[3:]...)
	}

	logStorage, err := storage.NewLogStorage(logStoragePath)
	if err != nil {
		log.Printf("[WARN] 初始化日志存储失败: %v，将继续运行但不保存日志到数据库", err)
		logStorage = nil
	} else {
		logger.InitLogStorage(func(level, message string) {
			logStorage.WriteLog(level, message)
		})
	}

	logger.Info("🚀 ArbMesh 套利执行系统启动...")
	logger.Info("📦 版本号: %s", Version)

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatalf("❌ 加载配置失败: %v", err)
	}

	if err := utils.SetLocation(cfg.System.Timezone); err != nil {
		logger.Warn("⚠️ 加载时区 %s 失败: %v，将使用 UTC", cfg.System.Timezone, err)
		utils.SetLocation("UTC")
	} else {
		logger.Info("✅ 系统时区设置为: %s", cfg.System.Timezone)
	}
	logger.SetLocation(utils.GlobalLocation)

	if debugMode {
		cfg.System.LogLevel = "debug"
	}
	logLevel := logger.ParseLogLevel(cfg.System.LogLevel)
	logger.SetLevel(logLevel)
	logger.Info("日志级别设置为: %s", logLevel.String())

	logger.Info("✅ 配置加载成功: 账户数量=%d, 风控域=%s, 运行模式=%s",
		len(cfg.Venues), cfg.App.RiskDomain, cfg.Trading.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 定期清理日志
	if logStorage != nil && cfg.System.LogRetentionDays > 0 {
		go func() {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					logger.Info("🧹 开始定期清理日志...")
					rows, err := logStorage.CleanupOldLogs(cfg.System.LogRetentionDays)
					if err != nil {
						logger.Warn("⚠️ 清理日志失败: %v", err)
					} else {
						logger.Info("✅ 已清理 %d 条日志（%d 天前）", rows, cfg.System.LogRetentionDays)
					}
				}
			}
		}()
	}

	// 事件总线 & 通知
	logger.Info("🔧 正在初始化事件总线...")
	eventBus := event.NewEventBus(1000)
	logger.Info("🔧 正在初始化通知服务...")
	notifier := notify.NewNotificationService(cfg)

	// 数据库（风控状态/交易回执/事件归档）
	logger.Info("🔧 正在初始化数据库...")
	db, err := database.NewDatabase(cfg)
	if err != nil {
		logger.Fatalf("❌ 初始化数据库失败: %v", err)
	}
	defer db.Close()
	logger.Info("✅ 数据库已初始化 (类型: %s)", cfg.Database.Type)

	// 事件中心
	logger.Info("🔧 正在初始化事件中心...")
	eventCenter := event.NewEventCenter(db, eventBus, notifier, cfg.System.LogRetentionDays)
	eventCenter.Start()
	defer eventCenter.Stop()

	// Prometheus 系统指标采集器
	systemMetricsCollector := metrics.NewSystemMetricsCollector(10 * time.Second)
	systemMetricsCollector.Start()
	defer systemMetricsCollector.Stop()

	// 分布式锁（多实例模式）
	logger.Info("🔧 正在初始化分布式锁...")
	distributedLock, err := lock.NewDistributedLock(cfg)
	if err != nil {
		logger.Fatalf("❌ 初始化分布式锁失败: %v", err)
	}
	defer distributedLock.Close()
	if cfg.DistributedLock.Enabled {
		logger.Info("✅ 分布式锁已启用 (类型: %s)", cfg.DistributedLock.Type)
	} else {
		logger.Info("ℹ️ 分布式锁未启用（单机模式）")
	}

	// 账户协调器
	coord := coordinator.NewCoordinator(cfg, distributedLock, eventBus)

	// 风控管理器
	logger.Info("🔧 正在初始化风控管理器...")
	riskMgr, err := risk.NewManager(cfg, db, eventBus)
	if err != nil {
		logger.Fatalf("❌ 初始化风控管理器失败: %v", err)
	}
	riskMgr.Start()
	defer riskMgr.Stop()

	// 交易所账户
	logger.Info("🔧 正在初始化交易所账户...")
	venues, err := exchange.BuildRegistry(cfg)
	if err != nil {
		logger.Fatalf("❌ 初始化交易所账户失败: %v", err)
	}
	defer venues.Close()
	logger.Info("✅ 交易所账户初始化完成: %v", venues.Accounts())

	// 费率预言机 & 利润模型
	feeOracle := fees.NewOracle(venues, cfg.Fees)
	profitModel := profit.NewModel(cfg.Trading.MinNetProfit)

	// 运行模式控制器
	modeController, err := executor.NewModeController(executor.Mode(cfg.Trading.Mode), eventBus)
	if err != nil {
		logger.Fatalf("❌ 初始化运行模式失败: %v", err)
	}
	if modeController.IsSimulation() {
		logger.Info("🧪 当前为干跑模式，所有订单均为模拟成交")
	} else {
		logger.Info("🔴 当前为实盘模式，订单将真实发送到交易所")
	}

	// 执行器
	deps := executor.NewDeps(venues, feeOracle, profitModel, coord, riskMgr,
		modeController, db, eventBus, cfg.Executor.OrderRateLimit, cfg.Executor.OrderRateBurst)
	crossExecutor := executor.NewCrossExecutor(deps, cfg.Trading.CapitalPerTrade,
		cfg.Trading.QuoteAsset, time.Duration(cfg.Executor.ReversalMaxWait)*time.Second)
	triangularExecutor := executor.NewTriangularExecutor(deps, cfg.Trading.BridgeAsset,
		cfg.Trading.QuoteAsset, cfg.Trading.MinMarginRatio)
	logger.Info("✅ 执行器初始化完成 (跨所 + 三角)")

	// 配置热更新（目前只支持运行模式切换）
	hotReloader := config.NewHotReloader(cfg)
	hotReloader.RegisterCallback(func(oldCfg, newCfg *config.Config, changes []config.ConfigChange) error {
		if oldCfg.Trading.Mode != newCfg.Trading.Mode {
			return modeController.Switch(executor.Mode(newCfg.Trading.Mode))
		}
		return nil
	})
	configWatcher, err := config.NewConfigWatcher(configPath, hotReloader)
	if err != nil {
		logger.Warn("⚠️ 初始化配置监听失败: %v，热更新不可用", err)
	} else {
		if err := configWatcher.Start(ctx); err != nil {
			logger.Warn("⚠️ 启动配置监听失败: %v", err)
		} else {
			defer configWatcher.Stop()
			logger.Info("✅ 配置热更新已启用: %s", configPath)
		}
	}

	// Web 运维接口
	var webServer *web.Server
	if cfg.Web.Enabled {
		webServer = web.NewServer(cfg, riskMgr, coord, modeController, db, logStorage,
			crossExecutor, triangularExecutor)
		webServer.Start()
		logger.Info("🌐 Web 运维接口已启动: http://%s", cfg.Web.Listen)
	} else {
		logger.Info("ℹ️ Web 运维接口未启用（配置中 web.enabled=false）")
	}

	eventBus.Emit(event.EventTypeSystemStart, map[string]interface{}{
		"version": Version,
		"mode":    string(modeController.Current()),
		"domain":  cfg.App.RiskDomain,
	})
	logger.Info("✅ 系统启动完成，等待套利信号...")

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("🔄 收到信号 %v，开始优雅关闭...", sig)

	eventBus.Emit(event.EventTypeSystemStop, map[string]interface{}{
		"version": Version,
	})
	// 给事件中心留出落库时间
	time.Sleep(500 * time.Millisecond)

	if webServer != nil {
		webServer.Stop()
	}
	cancel()
	eventBus.Close()

	if logStorage != nil {
		logStorage.Close()
	}

	logger.Info("✅ 系统已退出")
}
