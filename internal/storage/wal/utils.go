package wal

// ============================================================================
// WAL 工具函式
// 職責：提供 WAL 相關的輔助功能（讀取、驗證、輸出、統計）
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// GetLastEvent 從 WAL 檔案讀取最後一個完整事件
//
// 從頭到尾掃描，回傳最後一個成功解析的事件。若尾端損壞，
// 同時回傳最後一個完整事件與 ErrCorruptedWAL。
func GetLastEvent(path string) (*Event, error) {
	var last *Event
	err := ReadEvents(path, func(event Event) error {
		e := event
		last = &e
		return nil
	})
	if err != nil {
		return last, err
	}
	if last == nil {
		return nil, ErrEmptyWAL
	}
	return last, nil
}

// CountEvents 計算 WAL 中的事件總數
func CountEvents(path string) (int, error) {
	n := 0
	err := ReadEvents(path, func(Event) error {
		n++
		return nil
	})
	return n, err
}

// ValidateWAL 驗證 WAL 檔案的完整性
//
// 檢查項目：
// - 所有事件的 JSON 格式正確
// - 所有事件的校驗和正確
// - seq 從 1 開始連續且無重複
func ValidateWAL(path string) error {
	var lastSeq uint64
	return ReadEvents(path, func(event Event) error {
		if event.Seq != lastSeq+1 {
			return fmt.Errorf("%w: expected seq %d, got %d", ErrSeqGap, lastSeq+1, event.Seq)
		}
		lastSeq = event.Seq
		return nil
	})
}

// DumpWAL 輸出 WAL 內容（人類可讀格式）
//
//	[seq:1] tick 12 ASSIGN harvest_job harvest_job:R1:10:10:12:4f1c2a9b
func DumpWAL(path string, w io.Writer) error {
	return ReadEvents(path, func(event Event) error {
		_, err := fmt.Fprintf(w, "[seq:%d] tick %d %-6s %s %s (%s)\n",
			event.Seq, event.Tick, event.Type, event.JobType, event.JobID,
			time.UnixMilli(event.Timestamp).UTC().Format(time.RFC3339))
		return err
	})
}

// TruncateWAL 截斷 WAL，只保留 seq 小於指定值的事件，以暫存檔原子替換
func TruncateWAL(path string, seq uint64) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	err = ReadEvents(path, func(event Event) error {
		if event.Seq >= seq {
			return nil
		}
		data, err := marshalLine(event)
		if err != nil {
			return err
		}
		_, err = tmp.Write(data)
		return err
	})
	if err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// WALStats WAL 統計資訊
type WALStats struct {
	TotalEvents    int               `json:"total_events"`
	EventTypes     map[EventType]int `json:"event_types"`
	JobTypes       map[string]int    `json:"job_types"`
	FirstSeq       uint64            `json:"first_seq"`
	LastSeq        uint64            `json:"last_seq"`
	TickRange      [2]uint64         `json:"tick_range"`
	CorruptedCount int               `json:"corrupted_count"`
}

// GetWALStats 取得 WAL 的統計資訊。尾端損壞時回傳已讀取部分的統計，
// CorruptedCount 為 1。
func GetWALStats(path string) (*WALStats, error) {
	stats := &WALStats{
		EventTypes: make(map[EventType]int),
		JobTypes:   make(map[string]int),
	}
	err := ReadEvents(path, func(event Event) error {
		if stats.TotalEvents == 0 {
			stats.FirstSeq = event.Seq
			stats.TickRange[0] = event.Tick
		}
		stats.TotalEvents++
		stats.EventTypes[event.Type]++
		stats.JobTypes[event.JobType]++
		stats.LastSeq = event.Seq
		stats.TickRange[1] = event.Tick
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrCorruptedWAL) || errors.Is(err, ErrChecksumMismatch) {
			stats.CorruptedCount = 1
			return stats, nil
		}
		return nil, err
	}
	return stats, nil
}

func marshalLine(event Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
