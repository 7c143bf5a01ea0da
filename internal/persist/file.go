package persist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/vecsync/internal/ledger"
	"github.com/hyperjump/vecsync/internal/vector"
	"go.uber.org/zap"
)

const (
	manifestName = "MANIFEST"
	lockName     = "LOCK"
	indexPrefix  = "index-"
	ledgerPrefix = "ledger-"
)

// manifest names the current generation of data files. Replacing it by rename is
// the commit point of Save.
type manifest struct {
	Generation   string    `json:"generation"`
	Sequence     uint64    `json:"sequence"`
	IndexType    string    `json:"index_type"`
	Dimension    int       `json:"dimension"`
	Count        int       `json:"count"`
	IndexFile    string    `json:"index_file"`
	LedgerFile   string    `json:"ledger_file"`
	IndexSHA256  string    `json:"index_sha256"`
	LedgerSHA256 string    `json:"ledger_sha256"`
	SavedAt      time.Time `json:"saved_at"`
}

// FileStore keeps the pair as generation-named files in a directory. A MANIFEST file
// points at the committed generation; files of other generations are garbage.
type FileStore struct {
	dir  string
	opts options
	mu   sync.Mutex
}

// NewFileStore returns a store rooted at dir. The directory is created on first Save or Lock.
func NewFileStore(dir string, opts ...Option) *FileStore {
	return &FileStore{dir: dir, opts: buildOptions(opts)}
}

// Dir returns the store directory.
func (s *FileStore) Dir() string { return s.dir }

// Load reads the generation named by MANIFEST and verifies it.
func (s *FileStore) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.readManifest()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return absent(), nil
		}
		return corrupt(err), nil
	}
	pair, err := s.readGeneration(m)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		// A concurrent Save may have committed a new generation and removed ours.
		if next, merr := s.readManifest(); merr == nil && next.Generation != m.Generation {
			pair, err = s.readGeneration(next)
		}
	}
	if err != nil {
		return corrupt(err), nil
	}
	return loaded(pair), nil
}

func (s *FileStore) readManifest() (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, manifestName))
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if m.Generation == "" || m.IndexFile == "" || m.LedgerFile == "" {
		return nil, errors.New("manifest: missing generation or file names")
	}
	return &m, nil
}

func (s *FileStore) readGeneration(m *manifest) (*Pair, error) {
	indexData, err := readVerified(filepath.Join(s.dir, m.IndexFile), m.IndexSHA256)
	if err != nil {
		return nil, fmt.Errorf("index file: %w", err)
	}
	ledgerData, err := readVerified(filepath.Join(s.dir, m.LedgerFile), m.LedgerSHA256)
	if err != nil {
		return nil, fmt.Errorf("ledger file: %w", err)
	}
	idx, err := vector.Decode(m.IndexType, indexData)
	if err != nil {
		return nil, fmt.Errorf("index file: %w", err)
	}
	if idx.Dimensions() != m.Dimension || idx.Size() != m.Count {
		return nil, fmt.Errorf("index file holds %d vectors of dimension %d, manifest says %d of %d",
			idx.Size(), idx.Dimensions(), m.Count, m.Dimension)
	}
	led := ledger.New()
	if err := json.Unmarshal(ledgerData, led); err != nil {
		return nil, fmt.Errorf("ledger file: %w", err)
	}
	pair := &Pair{Index: idx, Ledger: led}
	if err := pair.Validate(); err != nil {
		return nil, err
	}
	return pair, nil
}

func readVerified(path, wantSum string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if got := checksum(data); got != wantSum {
		return nil, fmt.Errorf("checksum mismatch: got %s, want %s", got, wantSum)
	}
	return data, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Save writes a new generation and commits it by renaming MANIFEST into place.
// On failure the new generation's files are removed and the old MANIFEST is untouched.
func (s *FileStore) Save(ctx context.Context, pair *Pair) error {
	if err := ctx.Err(); err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	if err := pair.Validate(); err != nil {
		return &PersistenceError{Op: "validate", Err: err}
	}
	indexData, err := pair.Index.MarshalBinary()
	if err != nil {
		return &PersistenceError{Op: "encode index", Err: err}
	}
	ledgerData, err := json.Marshal(pair.Ledger)
	if err != nil {
		return &PersistenceError{Op: "encode ledger", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return &PersistenceError{Op: "create directory", Err: err}
	}
	var seq uint64 = 1
	if prev, err := s.readManifest(); err == nil {
		seq = prev.Sequence + 1
	}

	gen := uuid.NewString()
	m := manifest{
		Generation:   gen,
		Sequence:     seq,
		IndexType:    pair.Index.Type(),
		Dimension:    pair.Index.Dimensions(),
		Count:        pair.Index.Size(),
		IndexFile:    indexPrefix + gen + ".bin",
		LedgerFile:   ledgerPrefix + gen + ".json",
		IndexSHA256:  checksum(indexData),
		LedgerSHA256: checksum(ledgerData),
		SavedAt:      time.Now().UTC(),
	}
	manifestData, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "encode manifest", Err: err}
	}

	newFiles := []string{
		filepath.Join(s.dir, m.IndexFile),
		filepath.Join(s.dir, m.LedgerFile),
	}
	if err := s.commit(newFiles, indexData, ledgerData, manifestData); err != nil {
		for _, f := range newFiles {
			_ = os.Remove(f)
		}
		return err
	}
	s.removeStale(m)
	return nil
}

func (s *FileStore) commit(files []string, indexData, ledgerData, manifestData []byte) error {
	if err := writeFileSync(files[0], indexData); err != nil {
		return &PersistenceError{Op: "write index", Err: err}
	}
	if err := writeFileSync(files[1], ledgerData); err != nil {
		return &PersistenceError{Op: "write ledger", Err: err}
	}
	tmp := filepath.Join(s.dir, manifestName+".tmp")
	if err := writeFileSync(tmp, manifestData); err != nil {
		_ = os.Remove(tmp)
		return &PersistenceError{Op: "write manifest", Err: err}
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, manifestName)); err != nil {
		_ = os.Remove(tmp)
		return &PersistenceError{Op: "commit manifest", Err: err}
	}
	if err := syncDir(s.dir); err != nil {
		s.opts.logger.Warn("failed to sync index directory", zap.String("dir", s.dir), zap.Error(err))
	}
	return nil
}

// removeStale deletes data files that do not belong to the committed generation,
// including leftovers of interrupted saves.
func (s *FileStore) removeStale(current manifest) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if name == current.IndexFile || name == current.LedgerFile {
			continue
		}
		if !strings.HasPrefix(name, indexPrefix) && !strings.HasPrefix(name, ledgerPrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			s.opts.logger.Warn("failed to remove old index generation", zap.String("file", name), zap.Error(err))
		}
	}
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// Lock takes the directory's LOCK file.
func (s *FileStore) Lock(ctx context.Context) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, &PersistenceError{Op: "lock", Err: err}
	}
	unlock, err := acquireLockFile(filepath.Join(s.dir, lockName), s.opts.staleAfter, s.opts.logger)
	if err != nil {
		return nil, &PersistenceError{Op: "lock", Err: err}
	}
	return unlock, nil
}

// Describe reports the directory and its size.
func (s *FileStore) Describe() Info {
	usage, err := DiskUsageBytes(s.dir)
	if err != nil {
		s.opts.logger.Debug("disk usage unavailable", zap.String("dir", s.dir), zap.Error(err))
	}
	return Info{Backend: "file", Paths: []string{s.dir}, DiskUsageBytes: usage}
}

// Close is a no-op; FileStore holds no open handles between calls.
func (s *FileStore) Close() error {
	return nil
}
