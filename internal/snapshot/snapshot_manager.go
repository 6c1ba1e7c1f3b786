package snapshot

// ============================================================================
// 職責說明：
// 1. 將 colony 的持久化記憶 (memory.Memory) 序列化為壓縮快照檔
// 2. 使用原子性寫入（temp file + rename）防止損壞
// 3. 載入時驗證 schema 版本相容性，不相容時回傳全新的空狀態
// 4. 檔案不存在時視為首次啟動
//
// 檔案格式:
//   zstd( header JSON + '\n' + memory JSON )
//   header 可單獨讀取，不需解碼整個記憶
// ============================================================================

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/ChuLiYu/colony/internal/memory"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrCorruptedSnapshot   = errors.New("snapshot file is corrupted")
	ErrIncompatibleVersion = fmt.Errorf("snapshot: %w", memory.ErrSchemaMismatch)
)

// Header 快照標頭
type Header struct {
	SchemaVer int       `json:"schema_ver"`
	Tick      uint64    `json:"tick"`
	Jobs      int       `json:"jobs"`
	WrittenAt time.Time `json:"written_at"`
}

// Manager 快照管理器，實作 controller.Store
type Manager struct {
	path string     // 快照檔案路徑
	mu   sync.Mutex // 保護檔案操作
	now  func() time.Time
}

// NewManager 建立快照管理器實例
func NewManager(path string) *Manager {
	return &Manager{path: path, now: time.Now}
}

// Save 原子性寫入快照
//
// 流程：
// 1. 壓縮寫入同目錄下的臨時檔案並 fsync
// 2. 使用 os.Rename 原子性替換原始檔案
func (m *Manager) Save(mem *memory.Memory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(mem)
}

func (m *Manager) writeLocked(mem *memory.Memory) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), filepath.Base(m.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if err := m.encode(tmp, mem); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	// 原子性重新命名（關鍵步驟）
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return nil
}

func (m *Manager) encode(f *os.File, mem *memory.Memory) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("failed to create encoder: %w", err)
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	header := Header{
		SchemaVer: mem.SchemaVer,
		Tick:      mem.Tick,
		Jobs:      len(mem.Jobs),
		WrittenAt: m.now().UTC(),
	}
	hb, err := json.Marshal(header)
	if err != nil {
		enc.Close()
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		enc.Close()
		return err
	}
	if err := json.NewEncoder(bw).Encode(mem); err != nil {
		enc.Close()
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// Load 載入快照
//
// 行為：
//   - 檔案不存在：回傳空的 Memory（首次啟動）
//   - schema 版本不符：回傳空的 Memory 與 ErrIncompatibleVersion
//   - 檔案損壞：回傳 ErrCorruptedSnapshot
func (m *Manager) Load() (*memory.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return memory.New(), nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}
	defer dec.Close()
	br := bufio.NewReaderSize(dec, 64*1024)

	header, err := readHeader(br)
	if err != nil {
		return nil, err
	}
	if header.SchemaVer != memory.SchemaVersion {
		return memory.New(), fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, header.SchemaVer, memory.SchemaVersion)
	}

	mem := &memory.Memory{}
	if err := json.NewDecoder(br).Decode(mem); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}
	mem.Normalize()
	return mem, nil
}

// ReadHeader 只讀取快照標頭
func (m *Manager) ReadHeader() (Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.Open(m.path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}
	defer dec.Close()
	return readHeader(bufio.NewReader(dec))
}

func readHeader(br *bufio.Reader) (Header, error) {
	var h Header
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("%w: missing header: %v", ErrCorruptedSnapshot, err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("%w: bad header: %v", ErrCorruptedSnapshot, err)
	}
	return h, nil
}

// Exists 檢查快照檔案是否存在
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// GetPath 取得快照檔案路徑（用於測試與除錯）
func (m *Manager) GetPath() string {
	return m.path
}

// SaveWithBackup 寫入快照並保留舊版本備份，只保留最近 keepBackups 個
func (m *Manager) SaveWithBackup(mem *memory.Memory, keepBackups int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Exists() {
		backupPath := fmt.Sprintf("%s.%s", m.path, m.now().Format("20060102_150405.000000"))
		if err := os.Rename(m.path, backupPath); err != nil {
			return fmt.Errorf("failed to backup old snapshot: %w", err)
		}
		if err := m.pruneBackups(keepBackups); err != nil {
			return err
		}
	}
	return m.writeLocked(mem)
}

// Backups lists backup files, oldest first.
func (m *Manager) Backups() ([]string, error) {
	matches, err := filepath.Glob(m.path + ".*")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range matches {
		if isTemp(p, m.path) {
			continue
		}
		out = append(out, p)
	}
	// 時間戳記後綴使字典序等於時間序
	sort.Strings(out)
	return out, nil
}

func (m *Manager) pruneBackups(keep int) error {
	backups, err := m.Backups()
	if err != nil {
		return err
	}
	if keep < 0 {
		keep = 0
	}
	for len(backups) > keep {
		if err := os.Remove(backups[0]); err != nil {
			return fmt.Errorf("failed to prune snapshot backup: %w", err)
		}
		backups = backups[1:]
	}
	return nil
}

func isTemp(p, base string) bool {
	return strings.HasPrefix(p, base+".tmp-")
}
