package dedup

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/vietddude/courier/internal/core/domain"
	"github.com/vietddude/courier/internal/infra/metrics"
)

// magic identifies the on-disk set format.
var magic = [4]byte{'C', 'D', 'S', '1'}

// ErrBadFormat is returned when the persisted file does not decode as
// an ID set.
var ErrBadFormat = errors.New("dedup store: bad file format")

// renameFile is swapped out in tests to inject commit failures.
var renameFile = os.Rename

// Config holds dedup store settings.
type Config struct {
	Path          string
	BackupDir     string // empty: <dir(Path)>/backups
	SaveInterval  time.Duration
	MaxBackups    int
	EncryptionKey string // empty disables encryption at rest
}

// Store is the durable set of record IDs that have already been
// processed. Lookups and inserts are pure memory operations; Save
// persists the set atomically with rotating backups, optionally
// encrypted at rest.
type Store struct {
	path         string
	backupDir    string
	saveInterval time.Duration
	maxBackups   int
	aead         cipher.AEAD // nil when encryption is disabled

	mu       sync.RWMutex
	ids      map[domain.RecordID]struct{}
	lastSave time.Time

	log *slog.Logger
	now func() time.Time
}

// New creates a store. The on-disk state is not touched until Load.
func New(cfg Config) (*Store, error) {
	backupDir := cfg.BackupDir
	if backupDir == "" {
		backupDir = filepath.Join(filepath.Dir(cfg.Path), "backups")
	}

	s := &Store{
		path:         cfg.Path,
		backupDir:    backupDir,
		saveInterval: cfg.SaveInterval,
		maxBackups:   cfg.MaxBackups,
		ids:          make(map[domain.RecordID]struct{}),
		log:          slog.Default().With("component", "dedup"),
		now:          time.Now,
	}

	if cfg.EncryptionKey != "" {
		aead, err := chacha20poly1305.NewX(normalizeKey(cfg.EncryptionKey))
		if err != nil {
			return nil, fmt.Errorf("init cipher: %w", err)
		}
		s.aead = aead
		s.log.Info("Dedup store encryption enabled")
	} else {
		s.log.Warn("Dedup store encryption disabled, set an encryption key to enable it")
	}

	return s, nil
}

// normalizeKey coerces arbitrary key material to the 32 bytes the
// cipher needs: truncated when longer, zero-padded when shorter. The
// padding path is weak key handling inherited from the deployment this
// store replaces, not a recommendation.
func normalizeKey(key string) []byte {
	out := make([]byte, chacha20poly1305.KeySize)
	copy(out, key)
	return out
}

// Seen reports whether an ID has been processed before.
func (s *Store) Seen(id domain.RecordID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Add marks an ID as processed. Idempotent, no I/O.
func (s *Store) Add(id domain.RecordID) {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	size := len(s.ids)
	s.mu.Unlock()
	metrics.DedupStoreSize.Set(float64(size))
}

// Len returns the number of IDs in the set.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Load reads the persisted set from disk. A missing file starts the
// store empty; a corrupt or undecryptable file is moved aside with a
// reason-tagged suffix and the store starts empty. Load never prevents
// process startup.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Info("No existing dedup store, starting empty", "path", s.path)
		s.ids = make(map[domain.RecordID]struct{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("read dedup store: %w", err)
	}

	plain := raw
	if s.aead != nil {
		plain, err = s.decrypt(raw)
		if err != nil {
			s.log.Error("Failed to decrypt dedup store, starting empty", "error", err)
			s.quarantine("decrypt_error")
			s.ids = make(map[domain.RecordID]struct{})
			return nil
		}
	}

	ids, err := decodeSet(plain)
	if err != nil {
		s.log.Error("Failed to decode dedup store, starting empty", "error", err)
		s.quarantine("decode_error")
		s.ids = make(map[domain.RecordID]struct{})
		return nil
	}

	s.ids = ids
	metrics.DedupStoreSize.Set(float64(len(ids)))
	s.log.Info("Loaded dedup store", "path", s.path, "count", len(ids))
	return nil
}

// Save persists the set. Unless forced, saves are rate-limited to one
// per the configured interval. The write is atomic: serialize, encrypt,
// write to a temp file in the target directory, rename over the target.
// A failure at any step before the rename leaves the previous file
// untouched. Only after a successful rename is the backup written and
// old backups pruned.
func (s *Store) Save(force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !force && s.now().Sub(s.lastSave) < s.saveInterval {
		return nil
	}

	data := encodeSet(s.ids)
	if s.aead != nil {
		var err error
		data, err = s.encrypt(data)
		if err != nil {
			return fmt.Errorf("encrypt dedup store: %w", err)
		}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+"_*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := renameFile(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit dedup store: %w", err)
	}

	s.lastSave = s.now()
	s.log.Info("Saved dedup store", "path", s.path, "count", len(s.ids))

	// Backups only follow a committed save.
	if err := s.writeBackup(data); err != nil {
		s.log.Warn("Failed to write dedup store backup", "error", err)
	}
	return nil
}

func (s *Store) encrypt(plain []byte) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plain, nil), nil
}

func (s *Store) decrypt(raw []byte) ([]byte, error) {
	if len(raw) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, sealed := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	return s.aead.Open(nil, nonce, sealed, nil)
}

// quarantine moves the offending file aside so the next save starts clean.
func (s *Store) quarantine(reason string) {
	ts := s.now().Format("20060102_150405")
	dest := fmt.Sprintf("%s.invalid_%s_%s", s.path, reason, ts)
	if err := os.Rename(s.path, dest); err != nil {
		s.log.Error("Could not quarantine dedup store file", "error", err)
		return
	}
	s.log.Warn("Quarantined dedup store file", "dest", dest, "reason", reason)
}

func (s *Store) writeBackup(data []byte) error {
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return err
	}

	base := filepath.Base(s.path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	ts := s.now().Format("20060102_150405.000000000")
	name := filepath.Join(s.backupDir, fmt.Sprintf("%s_%s%s", stem, ts, ext))

	if err := os.WriteFile(name, data, 0o644); err != nil {
		return err
	}
	return s.pruneBackups(stem, ext)
}

// pruneBackups removes the oldest backups beyond the retention count.
func (s *Store) pruneBackups(stem, ext string) error {
	pattern := filepath.Join(s.backupDir, stem+"_*"+ext)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	if len(matches) <= s.maxBackups {
		return nil
	}

	type backup struct {
		path string
		mod  time.Time
	}
	backups := make([]backup, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		backups = append(backups, backup{path: m, mod: info.ModTime()})
	}
	sort.Slice(backups, func(i, j int) bool {
		if backups[i].mod.Equal(backups[j].mod) {
			return backups[i].path < backups[j].path
		}
		return backups[i].mod.Before(backups[j].mod)
	})

	for _, b := range backups[:len(backups)-s.maxBackups] {
		if err := os.Remove(b.path); err != nil {
			s.log.Warn("Could not remove old backup", "path", b.path, "error", err)
		}
	}
	return nil
}

// encodeSet serializes the ID set: magic, count, then 8 bytes per ID
// in little-endian order.
func encodeSet(ids map[domain.RecordID]struct{}) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 12+8*len(ids)))
	buf.Write(magic[:])

	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(ids)))
	buf.Write(n[:])

	for id := range ids {
		binary.LittleEndian.PutUint64(n[:], uint64(id))
		buf.Write(n[:])
	}
	return buf.Bytes()
}

func decodeSet(data []byte) (map[domain.RecordID]struct{}, error) {
	if len(data) < 12 || !bytes.Equal(data[:4], magic[:]) {
		return nil, ErrBadFormat
	}
	count := binary.LittleEndian.Uint64(data[4:12])
	if uint64(len(data)-12) != count*8 {
		return nil, fmt.Errorf("%w: length mismatch", ErrBadFormat)
	}

	ids := make(map[domain.RecordID]struct{}, count)
	for off := 12; off < len(data); off += 8 {
		ids[domain.RecordID(binary.LittleEndian.Uint64(data[off:off+8]))] = struct{}{}
	}
	return ids, nil
}
