// ============================================================================
// Colony Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集並暴露排程器每個 tick 的運行指標
//
// 指標分類:
//
//   1. 任務計數器 (Counter，依 job_type 標籤)：
//      - colony_jobs_generated_total: 產生的任務數
//      - colony_jobs_assigned_total: 成功分配的任務數
//      - colony_jobs_assign_failed_total: 分配失敗而捨棄的候選任務數
//      - colony_jobs_expired_total: 逾時終止的任務數
//      - colony_jobs_finished_total: 自行結束的任務數
//      - colony_metadata_computed_total: 完成的房間元資料類別 (room, category)
//
//   2. 狀態指標 (Gauge)：
//      - colony_jobs_active: 目前活躍任務數（依 job_type）
//      - colony_job_duration_smoothed_ticks: 平滑後的任務耗時
//      - colony_tick: 最近完成的 tick
//
//   3. 性能指標 (Histogram)：
//      - colony_job_duration_ticks: 任務實際耗時分佈
//      - colony_tick_duration_seconds: 單一 tick 的處理時間
//
// Prometheus 查詢示例:
//
//   # 每種任務的分配失敗率
//   rate(colony_jobs_assign_failed_total[5m]) / rate(colony_jobs_generated_total[5m])
//
// HTTP 端點:
//   通過 /metrics 端點暴露，默認端口 9090
//
// ============================================================================

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "colony"

// Collector Prometheus 指標收集器。實作 jobmanager.Recorder 與 metadata.Recorder。
type Collector struct {
	// 任務相關指標
	jobsGenerated    *prometheus.CounterVec
	jobsAssigned     *prometheus.CounterVec
	jobsAssignFailed *prometheus.CounterVec
	jobsExpired      *prometheus.CounterVec
	jobsFinished     *prometheus.CounterVec
	metadataComputed *prometheus.CounterVec

	// 效能指標
	jobDuration  *prometheus.HistogramVec
	tickDuration prometheus.Histogram

	// 狀態指標
	jobsActive       *prometheus.GaugeVec
	smoothedDuration *prometheus.GaugeVec
	tick             prometheus.Gauge

	mu       sync.Mutex
	seenType map[string]struct{}
}

// NewCollector 創建新的指標收集器並註冊到 reg。reg 為 nil 時使用
// prometheus.DefaultRegisterer。
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	byType := []string{"job_type"}
	c := &Collector{
		jobsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_generated_total",
			Help:      "Total number of jobs produced by factories",
		}, byType),
		jobsAssigned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_assigned_total",
			Help:      "Total number of candidate jobs that claimed an agent",
		}, byType),
		jobsAssignFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_assign_failed_total",
			Help:      "Total number of candidate jobs discarded for lack of an agent",
		}, byType),
		jobsExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_expired_total",
			Help:      "Total number of jobs killed after exceeding their TTL",
		}, byType),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs that became inactive",
		}, byType),
		metadataComputed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_computed_total",
			Help:      "Total number of room metadata categories computed",
		}, []string{"room", "category"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_ticks",
			Help:      "Ticks between job creation and completion",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, byType),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent processing one tick",
			Buckets:   prometheus.DefBuckets,
		}),
		jobsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Current number of active jobs",
		}, byType),
		smoothedDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_duration_smoothed_ticks",
			Help:      "Exponentially smoothed job duration in ticks",
		}, byType),
		tick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tick",
			Help:      "Last completed tick",
		}),
		seenType: make(map[string]struct{}),
	}

	// 註冊所有指標
	reg.MustRegister(
		c.jobsGenerated,
		c.jobsAssigned,
		c.jobsAssignFailed,
		c.jobsExpired,
		c.jobsFinished,
		c.metadataComputed,
		c.jobDuration,
		c.tickDuration,
		c.jobsActive,
		c.smoothedDuration,
		c.tick,
	)
	return c
}

// JobGenerated 記錄工廠產生的任務
func (c *Collector) JobGenerated(jobType string) {
	c.jobsGenerated.WithLabelValues(jobType).Inc()
}

// JobAssigned 記錄成功分配
func (c *Collector) JobAssigned(jobType string) {
	c.jobsAssigned.WithLabelValues(jobType).Inc()
}

// JobAssignFailed 記錄分配失敗
func (c *Collector) JobAssignFailed(jobType string) {
	c.jobsAssignFailed.WithLabelValues(jobType).Inc()
}

// JobExpired 記錄逾時終止
func (c *Collector) JobExpired(jobType string) {
	c.jobsExpired.WithLabelValues(jobType).Inc()
}

// JobFinished 記錄任務結束與平滑耗時
func (c *Collector) JobFinished(jobType string, ticks uint64, smoothed float64) {
	c.jobsFinished.WithLabelValues(jobType).Inc()
	c.jobDuration.WithLabelValues(jobType).Observe(float64(ticks))
	c.smoothedDuration.WithLabelValues(jobType).Set(smoothed)
}

// ActiveJobs 更新活躍任務數。先前出現但本次缺席的類型歸零。
func (c *Collector) ActiveJobs(byType map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for jobType := range c.seenType {
		if _, ok := byType[jobType]; !ok {
			c.jobsActive.WithLabelValues(jobType).Set(0)
		}
	}
	for jobType, n := range byType {
		c.seenType[jobType] = struct{}{}
		c.jobsActive.WithLabelValues(jobType).Set(float64(n))
	}
}

// MetadataComputed 記錄房間元資料類別完成
func (c *Collector) MetadataComputed(room, category string) {
	c.metadataComputed.WithLabelValues(room, category).Inc()
}

// TickCompleted 記錄 tick 編號與處理時間
func (c *Collector) TickCompleted(tick uint64, elapsed time.Duration) {
	c.tick.Set(float64(tick))
	c.tickDuration.Observe(elapsed.Seconds())
}

// StartServer 啟動 Prometheus metrics HTTP 伺服器，直到 ctx 取消
//
// 參數：
//   - ctx: 取消時關閉伺服器
//   - port: HTTP 伺服器端口
//   - gatherer: 指標來源，nil 時使用 prometheus.DefaultGatherer
func StartServer(ctx context.Context, port int, gatherer prometheus.Gatherer) error {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
