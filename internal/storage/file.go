package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "flightwatch/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl      (append-only JSON Lines)
//   - <prefix>.deliveries.jsonl (append-only JSON Lines)
//
// Prune rewrites each file through a temp file and rename.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditPath    string
	deliveryPath string
	auditFile    *os.File
	deliveryFile *os.File
}

var errFileClosed = errors.New("file store closed")

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		auditPath:    prefix + ".audit.jsonl",
		deliveryPath: prefix + ".deliveries.jsonl",
	}
	var err error
	if s.auditFile, err = openAppend(s.auditPath); err != nil {
		return nil, err
	}
	if s.deliveryFile, err = openAppend(s.deliveryPath); err != nil {
		_ = s.auditFile.Close()
		return nil, err
	}
	return s, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	if s.deliveryFile != nil {
		errs = append(errs, s.deliveryFile.Close())
		s.deliveryFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errFileClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) AppendDelivery(ctx context.Context, e DeliveryEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	e.Text = clipText(e.Text)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveryFile == nil {
		return errFileClosed
	}
	return json.NewEncoder(s.deliveryFile).Encode(e)
}

func (s *fileStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil, errFileClosed
	}

	f, err := os.Open(s.auditPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// ring of the last `limit` entries
	ring := make([]AuditEntry, 0, limit)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if len(ring) == limit {
			copy(ring, ring[1:])
			ring = ring[:limit-1]
		}
		ring = append(ring, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	out := make([]AuditEntry, len(ring))
	for i := range ring {
		out[i] = ring[len(ring)-1-i]
	}
	return out, nil
}

func (s *fileStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil || s.deliveryFile == nil {
		return 0, errFileClosed
	}

	keep := func(line []byte) bool {
		var rec struct {
			At time.Time `json:"at"`
		}
		if err := json.Unmarshal(line, &rec); err != nil {
			return false
		}
		return !rec.At.Before(before)
	}

	var total int64
	n, f, err := rewriteJSONL(s.auditPath, s.auditFile, keep)
	s.auditFile = f
	total += n
	if err != nil {
		return total, err
	}
	n, f, err = rewriteJSONL(s.deliveryPath, s.deliveryFile, keep)
	s.deliveryFile = f
	total += n
	if total > 0 {
		s.log.Debug("file store pruned", logx.Int64("removed", total))
	}
	return total, err
}

// rewriteJSONL drops lines rejected by keep and returns a fresh append
// handle. On failure the old handle stays in use.
func rewriteJSONL(path string, cur *os.File, keep func([]byte) bool) (int64, *os.File, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, cur, err
	}
	defer in.Close()

	tmp := path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, cur, err
	}
	w := bufio.NewWriter(out)

	var removed int64
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if !keep(line) {
			removed++
			continue
		}
		_, _ = w.Write(line)
		_ = w.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return 0, cur, err
	}
	if removed == 0 {
		_ = out.Close()
		_ = os.Remove(tmp)
		return 0, cur, nil
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return 0, cur, err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, cur, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, cur, err
	}
	_ = cur.Close()
	nf, err := openAppend(path)
	if err != nil {
		return removed, nil, err
	}
	return removed, nf, nil
}
