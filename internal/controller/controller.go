// ============================================================================
// Colony 控制器 - 每個 tick 的協調器
// ============================================================================
//
// Package: internal/controller
// 文件: controller.go
// 功能: 串接持久化、排程器、元資料掃描與指標，驅動每一個 tick
//
// 架構設計:
//   Controller 本身不保存任何跨 tick 的狀態，所有狀態都在 Store 中：
//   - Store: 載入與保存 memory.Memory（快照檔、SQLite 或記憶體）
//   - Manager: 任務排程管線（update → expire → stats → cull → generate → sort → assign → save）
//   - Scanner: 在剩餘的 CPU 預算內推進房間元資料
//   - Journal: 任務生命週期事件日誌（WAL），僅供診斷
//
// 單一 tick 流程:
//   1. Store.Load() 載入記憶；schema 不相容時以全新記憶繼續並記錄警告
//   2. 建立 jobs.Env
//   3. Manager.Tick() 執行排程管線
//   4. Scanner.Scan() 使用剩餘預算推進元資料
//   5. Store.Save() 保存記憶
//   6. Journal.Flush() 將事件寫入磁碟
//
// 拆卸與重建:
//   每個 tick 都從 Store 重新載入，因此進程可以在任意兩個 tick 之間被終止，
//   下次啟動時從最後一次成功保存的狀態繼續。
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/ChuLiYu/colony/internal/jobmanager"
	"github.com/ChuLiYu/colony/internal/jobs"
	"github.com/ChuLiYu/colony/internal/logging"
	"github.com/ChuLiYu/colony/internal/memory"
	"github.com/ChuLiYu/colony/internal/metadata"
	"github.com/ChuLiYu/colony/internal/metrics"
	"github.com/ChuLiYu/colony/internal/settings"
	"github.com/ChuLiYu/colony/internal/storage/wal"
	"github.com/ChuLiYu/colony/internal/world"
)

var (
	ErrStopped = errors.New("controller stopped")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Store persists the memory aggregate between ticks. snapshot.Manager,
// sqlite.Store and InMemoryStore implement it.
type Store interface {
	Load() (*memory.Memory, error)
	Save(mem *memory.Memory) error
}

// Stepper is a host whose clock the controller advances itself.
type Stepper interface {
	Step()
}

// BudgetFunc returns the scanner budget for the current tick.
type BudgetFunc func(view world.View) metadata.Budget

// Options Controller 配置
type Options struct {
	World    world.World        // 遊戲世界
	Store    Store              // 記憶持久化
	Settings *settings.Settings // 調校參數，nil 使用預設值
	Registry *jobs.Registry     // 任務種類，nil 使用 jobs.DefaultRegistry()
	Log      *slog.Logger       // nil 使用 slog.Default()
	Metrics  *metrics.Collector // 可選
	Journal  *wal.WAL           // 可選
	Budget   BudgetFunc         // nil 使用 CPU 比例預算
	Seed     int64              // 與 tick 組合成每個 tick 的亂數種子
	Interval time.Duration      // Run 兩個 tick 之間的間隔
}

// Controller 核心控制器
type Controller struct {
	mu       sync.Mutex // 同一時間只執行一個 tick
	world    world.World
	store    Store
	settings *settings.Settings
	manager  *jobmanager.Manager
	scanner  *metadata.Scanner
	metrics  *metrics.Collector
	journal  *wal.WAL
	budget   BudgetFunc
	base     *slog.Logger // 未加標籤，交給 jobs.Env
	log      *slog.Logger // "main"
	seed     int64
	interval time.Duration
	stopped  bool
}

// TickReport 單一 tick 的結果
type TickReport struct {
	jobmanager.TickResult
	MetadataComplete bool
	Reset            bool // 記憶因 schema 不相容而重建
	Elapsed          time.Duration
}

// ============================================================================
// 核心方法實作
// ============================================================================

// New 建立新的 Controller 實例
func New(opts Options) (*Controller, error) {
	if opts.World == nil {
		return nil, errors.New("controller: world is required")
	}
	if opts.Store == nil {
		return nil, errors.New("controller: store is required")
	}
	if opts.Settings == nil {
		opts.Settings = settings.Defaults()
	}
	if opts.Registry == nil {
		opts.Registry = jobs.DefaultRegistry()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Budget == nil {
		fraction := opts.Settings.Metadata.CPUFraction
		opts.Budget = func(view world.View) metadata.Budget {
			return metadata.NewTickBudget(view, fraction)
		}
	}

	// 避免把 nil 指標包成非 nil 介面
	mopts := jobmanager.Options{Registry: opts.Registry}
	var scanRecorder metadata.Recorder
	if opts.Metrics != nil {
		mopts.Recorder = opts.Metrics
		scanRecorder = opts.Metrics
	}
	if opts.Journal != nil {
		mopts.Journal = opts.Journal
	}

	return &Controller{
		world:    opts.World,
		store:    opts.Store,
		settings: opts.Settings,
		manager:  jobmanager.NewManager(mopts),
		scanner:  metadata.NewScanner(opts.Settings.Metadata, logging.Tagged(opts.Log, "metadata"), scanRecorder),
		metrics:  opts.Metrics,
		journal:  opts.Journal,
		budget:   opts.Budget,
		base:     opts.Log,
		log:      logging.Tagged(opts.Log, "main"),
		seed:     opts.Seed,
		interval: opts.Interval,
	}, nil
}

// Tick 執行一個完整的 tick
//
// 返回值：
//   - TickReport: 本次 tick 的統計
//   - error: 只有持久化失敗（載入或保存）才會回傳錯誤
func (c *Controller) Tick() (TickReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return TickReport{}, ErrStopped
	}

	start := time.Now()
	now := c.world.Time()
	var report TickReport

	// 1. 載入記憶
	mem, err := c.store.Load()
	if err != nil {
		if !errors.Is(err, memory.ErrSchemaMismatch) || mem == nil {
			return report, fmt.Errorf("failed to load memory at tick %d: %w", now, err)
		}
		c.log.Warn("Memory schema changed, starting from empty memory", "tick", now, "error", err)
		report.Reset = true
	}

	// 2. 建立 tick 環境
	rng := rand.New(rand.NewSource(c.seed + int64(now)))
	env := jobs.NewEnv(c.world, mem, c.settings, c.base, rng)

	// 3. 排程管線
	report.TickResult = c.manager.Tick(env, mem)

	// 4. 元資料掃描
	report.MetadataComplete = c.scanner.Scan(c.world, mem, c.budget(c.world))

	// 5. 保存記憶
	mem.Tick = now
	if err := c.store.Save(mem); err != nil {
		return report, fmt.Errorf("failed to save memory at tick %d: %w", now, err)
	}

	// 6. 事件日誌
	if c.journal != nil {
		if err := c.journal.Flush(); err != nil {
			c.log.Error("Failed to flush journal", "tick", now, "error", err)
		}
	}

	report.Elapsed = time.Since(start)
	if c.metrics != nil {
		c.metrics.TickCompleted(now, report.Elapsed)
	}

	c.log.Debug("Tick completed",
		"tick", now,
		"active", report.Active,
		"assigned", report.Assigned,
		"expired", report.Expired,
		"duration", report.Elapsed)
	return report, nil
}

// Run 連續執行 tick，直到 ctx 取消或已執行 maxTicks 個（0 表示不限）。
// 若世界實作 Stepper，每個 tick 之後推進世界時間。
func (c *Controller) Run(ctx context.Context, maxTicks int) error {
	stepper, _ := c.world.(Stepper)

	var ticker *time.Ticker
	if c.interval > 0 {
		ticker = time.NewTicker(c.interval)
		defer ticker.Stop()
	}

	c.log.Info("Controller started", "tick", c.world.Time(), "interval", c.interval, "max_ticks", maxTicks)
	for n := 0; maxTicks <= 0 || n < maxTicks; n++ {
		select {
		case <-ctx.Done():
			c.log.Info("Controller stopping", "tick", c.world.Time(), "ticks_run", n)
			return nil
		default:
		}

		if _, err := c.Tick(); err != nil {
			return err
		}
		if stepper != nil {
			stepper.Step()
		}

		if ticker != nil {
			select {
			case <-ctx.Done():
				c.log.Info("Controller stopping", "tick", c.world.Time(), "ticks_run", n+1)
				return nil
			case <-ticker.C:
			}
		}
	}
	c.log.Info("Controller finished", "tick", c.world.Time(), "ticks_run", maxTicks)
	return nil
}

// Status 從 Store 讀取目前記憶並產生摘要
func (c *Controller) Status() (jobmanager.Summary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mem, err := c.store.Load()
	if err != nil && !errors.Is(err, memory.ErrSchemaMismatch) {
		return jobmanager.Summary{}, err
	}
	return jobmanager.Stats(mem), nil
}

// Stop 停止 Controller 並關閉事件日誌。可重複呼叫。
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true

	if c.journal != nil {
		if err := c.journal.Close(); err != nil {
			c.log.Error("Failed to close journal", "error", err)
		}
	}
	c.log.Info("Controller stopped")
}
