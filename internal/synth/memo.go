package synth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"

	"github.com/dgnsrekt/readaloud/internal/audio"
)

const (
	memoIndexFile = "memo.index"
	memoExt       = ".pcm"

	// Entries below this size are stored uncompressed.
	memoCompressMin = 1024
)

// DefaultMemoCapacity bounds the memo directory at 256 MB.
const DefaultMemoCapacity = 256 * 1024 * 1024

// Memo is a disk-backed memo for synthesis results, keyed by text and
// voice. A hit never touches the network. Entries are zstd-compressed when
// that helps and evicted oldest-access-first once the byte capacity is
// exceeded. Failures are never memoized.
type Memo struct {
	inner    Client
	dir      string
	capacity int64
	format   audio.PCMFormat

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu    sync.Mutex
	index map[string]*memoEntry
	size  int64
}

var _ Client = (*Memo)(nil)

type memoEntry struct {
	Key        string
	File       string
	Size       int64
	RawSize    int64
	Compressed bool
	LastAccess time.Time
}

// NewMemo wraps inner with a disk memo rooted at dir. A capacity of zero or
// less uses DefaultMemoCapacity.
func NewMemo(inner Client, dir string, capacity int64) (*Memo, error) {
	if capacity <= 0 {
		capacity = DefaultMemoCapacity
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create memo directory: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("unable to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("unable to create zstd decoder: %w", err)
	}

	m := &Memo{
		inner:    inner,
		dir:      dir,
		capacity: capacity,
		format:   audio.DefaultPCMFormat(),
		encoder:  encoder,
		decoder:  decoder,
		index:    make(map[string]*memoEntry),
	}
	m.loadIndex()
	return m, nil
}

// Synthesize returns the memoized clip when present, otherwise delegates to
// the wrapped client and memoizes the result.
func (m *Memo) Synthesize(ctx context.Context, text, voice string) (Result, error) {
	key := memoKey(text, voice)
	if pcm, ok := m.get(key); ok {
		return Result{Audio: pcm, Duration: m.format.Duration(len(pcm))}, nil
	}

	res, err := m.inner.Synthesize(ctx, text, voice)
	if err != nil {
		return Result{}, err
	}

	if err := m.put(key, res.Audio); err != nil {
		log.Debug("memo write failed", "err", err)
	}
	return res, nil
}

// Voices delegates to the wrapped client.
func (m *Memo) Voices(ctx context.Context) ([]Voice, error) {
	return m.inner.Voices(ctx)
}

// Size returns the bytes currently stored on disk.
func (m *Memo) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// Len returns the number of memoized clips.
func (m *Memo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.index)
}

// Close persists the index. The wrapped client is not closed.
func (m *Memo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.saveIndexLocked()
	m.encoder.Close()
	m.decoder.Close()
	return err
}

func (m *Memo) get(key string) ([]byte, bool) {
	m.mu.Lock()
	entry, ok := m.index[key]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	entry.LastAccess = time.Now()
	path := filepath.Join(m.dir, entry.File)
	compressed := entry.Compressed
	m.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		// The entry went missing underneath us; drop it.
		m.drop(key)
		return nil, false
	}

	if compressed {
		data, err = m.decoder.DecodeAll(data, nil)
		if err != nil {
			log.Debug("memo entry corrupt", "file", entry.File, "err", err)
			m.drop(key)
			return nil, false
		}
	}
	return data, true
}

func (m *Memo) put(key string, pcm []byte) error {
	data := pcm
	compressed := false
	if len(pcm) > memoCompressMin {
		if packed := m.encoder.EncodeAll(pcm, nil); len(packed) < len(pcm) {
			data = packed
			compressed = true
		}
	}

	file := key + memoExt
	if err := atomicWrite(filepath.Join(m.dir, file), data); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.index[key]; ok {
		m.size -= old.Size
	}
	m.index[key] = &memoEntry{
		Key:        key,
		File:       file,
		Size:       int64(len(data)),
		RawSize:    int64(len(pcm)),
		Compressed: compressed,
		LastAccess: time.Now(),
	}
	m.size += int64(len(data))
	m.evictLocked()
	return nil
}

func (m *Memo) drop(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.index[key]; ok {
		m.size -= entry.Size
		delete(m.index, key)
		_ = os.Remove(filepath.Join(m.dir, entry.File))
	}
}

// evictLocked removes oldest-access entries until the memo fits its
// capacity again.
func (m *Memo) evictLocked() {
	if m.size <= m.capacity {
		return
	}

	entries := make([]*memoEntry, 0, len(m.index))
	for _, e := range m.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccess.Before(entries[j].LastAccess)
	})

	for _, e := range entries {
		if m.size <= m.capacity {
			break
		}
		m.size -= e.Size
		delete(m.index, e.Key)
		_ = os.Remove(filepath.Join(m.dir, e.File))
		log.Debug("memo evicted entry", "file", e.File, "size", e.Size)
	}
}

// loadIndex restores the index from disk, dropping entries whose files have
// disappeared. A missing or unreadable index starts the memo empty.
func (m *Memo) loadIndex() {
	path := filepath.Join(m.dir, memoIndexFile)
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Debug("memo index unreadable", "err", err)
		}
		return
	}
	defer f.Close()

	var entries []memoEntry
	if err := gob.NewDecoder(f).Decode(&entries); err != nil {
		log.Debug("memo index corrupt", "err", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range entries {
		e := entries[i]
		info, err := os.Stat(filepath.Join(m.dir, e.File))
		if err != nil || info.Size() != e.Size {
			continue
		}
		m.index[e.Key] = &e
		m.size += e.Size
	}
}

func (m *Memo) saveIndexLocked() error {
	entries := make([]memoEntry, 0, len(m.index))
	for _, e := range m.index {
		entries = append(entries, *e)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
		return fmt.Errorf("unable to encode memo index: %w", err)
	}
	return atomicWrite(filepath.Join(m.dir, memoIndexFile), buf.Bytes())
}

// atomicWrite writes data through a temp file and rename so readers never
// see a partial file.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// memoKey derives the entry key for a text and voice pair.
func memoKey(text, voice string) string {
	sum := sha256.Sum256([]byte(text + "|" + voice))
	return hex.EncodeToString(sum[:16])
}
