package wal

// ============================================================================
// WAL 核心實作
// 職責：
// 1. 追加任務生命週期事件到日誌檔案（append-only）
// 2. 提供重放功能，供 CLI 與診斷工具讀取歷史
// 3. 支援日誌旋轉（快照後清空）
// 4. 批次寫入，每個 tick 結束時由呼叫端 Flush
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ChuLiYu/colony/pkg/types"
)

// FileInterface 定義檔案操作所需的方法
// 這允許在測試中對檔案操作進行模擬
type FileInterface interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
}

// WAL 表示 Write-Ahead Log 實例
type WAL struct {
	mu           sync.Mutex    // 保護並發寫入
	file         FileInterface // WAL 檔案
	encoder      *json.Encoder // JSON 編碼器
	path         string        // WAL 檔案路徑
	seq          uint64        // 當前事件序號
	syncOnAppend bool          // 是否每次追加都強制寫入
	closed       bool

	buffer     []Event // 批次寫入事件緩衝區
	bufferSize int

	now func() time.Time
}

const defaultBufferSize = 256

/*
NewWAL 建立或開啟一個 WAL 實例

行為：
- 如果檔案不存在，建立新檔案，seq 從 0 開始
- 如果檔案已存在，讀取最後一個事件的 seq 並繼續
- 以追加模式（O_APPEND）開啟，確保寫入不覆蓋
*/
func NewWAL(path string, syncOnAppend bool) (*WAL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create wal dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open wal: %w", err)
	}

	var seq uint64
	if stat, statErr := file.Stat(); statErr == nil && stat.Size() > 0 {
		last, err := GetLastEvent(path)
		if err != nil && !errors.Is(err, ErrCorruptedWAL) {
			file.Close()
			return nil, err
		}
		// 損壞的尾端不阻止開啟，序號從最後一個完整事件繼續
		if last != nil {
			seq = last.Seq
		}
	}

	return &WAL{
		file:         file,
		encoder:      json.NewEncoder(file),
		path:         path,
		seq:          seq,
		syncOnAppend: syncOnAppend,
		buffer:       make([]Event, 0, defaultBufferSize),
		bufferSize:   defaultBufferSize,
		now:          time.Now,
	}, nil
}

// Append 追加一個任務事件到 WAL
//
// 行為：
// - 自動遞增 seq
// - 計算 checksum
// - 緩衝區滿或 syncOnAppend 時立即寫入
func (w *WAL) Append(eventType EventType, job *types.Job, tick uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}

	w.seq++
	event := Event{
		Seq:       w.seq,
		Type:      eventType,
		JobID:     job.ID,
		JobType:   job.Type,
		Room:      job.Room,
		Tick:      tick,
		Timestamp: w.now().UnixMilli(),
	}
	event.Checksum = CalculateChecksum(event)
	w.buffer = append(w.buffer, event)

	if w.syncOnAppend || len(w.buffer) >= w.bufferSize {
		return w.flushLocked()
	}
	return nil
}

// Flush 將緩衝的事件寫入並同步到磁碟
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWALClosed
	}
	return w.flushLocked()
}

// Replay 重放所有 WAL 事件
//
// 行為：
// - 先寫出緩衝區，再從頭讀取 WAL 檔案
// - 驗證每個事件的 checksum
// - 呼叫 handler 應用事件，遇到錯誤立即停止
func (w *WAL) Replay(handler EventHandler) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		if err := w.flushLocked(); err != nil {
			return err
		}
	}
	return ReadEvents(w.path, handler)
}

// Rotate 旋轉日誌檔案，舊檔以時間戳記後綴保留
func (w *WAL) Rotate() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return "", ErrWALClosed
	}
	if err := w.flushLocked(); err != nil {
		return "", err
	}
	if err := w.file.Close(); err != nil {
		return "", err
	}

	backupPath := w.path + "." + w.now().Format("20060102_150405.000")
	if err := os.Rename(w.path, backupPath); err != nil {
		return "", fmt.Errorf("failed to rotate wal: %w", err)
	}

	newFile, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to reopen wal: %w", err)
	}

	w.file = newFile
	w.encoder = json.NewEncoder(newFile)
	w.seq = 0
	w.buffer = w.buffer[:0]
	return backupPath, nil
}

// Close 關閉 WAL，關閉後的實例不可再用
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.closed = true
	return w.file.Close()
}

// LastSeq 取得當前的事件序號
func (w *WAL) LastSeq() uint64 {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Path returns the file backing the log.
func (w *WAL) Path() string {
	return w.path
}

// flushLocked 內部方法，假設調用者已經持有 w.mu 鎖
func (w *WAL) flushLocked() error {
	if len(w.buffer) == 0 {
		return nil
	}
	for _, event := range w.buffer {
		if err := w.encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to write wal event %d: %w", event.Seq, err)
		}
	}
	w.buffer = w.buffer[:0]
	return w.file.Sync()
}

// ReadEvents 從檔案讀取所有事件並逐一交給 handler
func ReadEvents(path string, handler EventHandler) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return decodeEvents(file, handler)
}

func decodeEvents(r io.Reader, handler EventHandler) error {
	decoder := json.NewDecoder(r)
	var lastSeq uint64
	for {
		var event Event
		err := decoder.Decode(&event)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &CorruptionError{Seq: lastSeq, Offset: decoder.InputOffset(), Cause: err}
		}
		if !VerifyChecksum(event) {
			return &ChecksumError{Seq: event.Seq, Expected: CalculateChecksum(event), Actual: event.Checksum}
		}
		if err := handler(event); err != nil {
			return err
		}
		lastSeq = event.Seq
	}
}
