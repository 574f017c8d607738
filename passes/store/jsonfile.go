package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type fileDocument struct {
	LastID      uint64       `json:"last_id"`
	Submissions []Submission `json:"submissions"`
}

// JSONFile keeps the whole store in one JSON document that is rewritten on
// every mutation. Suited to small deployments that want a hand-inspectable file.
type JSONFile struct {
	*PendingTable

	path string
	mu   sync.Mutex
	doc  fileDocument
}

// OpenJSONFile loads path. A missing or undecodable document yields a fresh store.
func OpenJSONFile(path string) (*JSONFile, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: json path required", ErrStorage)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, storageErr("create data dir", err)
		}
	}
	store := &JSONFile{PendingTable: NewPendingTable(), path: path}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, storageErr("read data file", err)
	default:
		if err := json.Unmarshal(raw, &store.doc); err != nil {
			slog.Warn("pass data file unreadable, starting fresh", slog.String("path", path), slog.Any("error", err))
			store.doc = fileDocument{}
		}
	}
	return store, nil
}

func (s *JSONFile) flush(doc fileDocument) error {
	encoded, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *JSONFile) Counter(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.LastID, nil
}

func (s *JSONFile) IncrementCounter(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.doc
	next.LastID++
	if err := s.flush(next); err != nil {
		return 0, storageErr("persist counter", err)
	}
	s.doc = next
	return next.LastID, nil
}

func (s *JSONFile) Submission(_ context.Context, identity string) (Submission, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.doc.Submissions {
		if sub.Identity == identity {
			return sub, true, nil
		}
	}
	return Submission{}, false, nil
}

func (s *JSONFile) AppendSubmission(_ context.Context, sub Submission) error {
	if strings.TrimSpace(sub.Identity) == "" {
		return ErrIdentityRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.doc.Submissions {
		if existing.Identity == sub.Identity {
			return ErrDuplicateSubmission
		}
	}
	next := fileDocument{LastID: s.doc.LastID}
	next.Submissions = append(append(make([]Submission, 0, len(s.doc.Submissions)+1), s.doc.Submissions...), sub)
	if err := s.flush(next); err != nil {
		return storageErr("persist submission", err)
	}
	s.doc = next
	return nil
}

func (s *JSONFile) Submissions(context.Context) ([]Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Submission, len(s.doc.Submissions))
	copy(out, s.doc.Submissions)
	return out, nil
}

func (s *JSONFile) Close() error { return nil }
