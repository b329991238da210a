// Package permission persists per-tool-call permission decisions so the
// agent reply loop can skip re-asking for a call it has already been
// granted or denied, as described in §4.4 of the runtime specification.
package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Category names the permission categories a tool's calls can be given.
// Store does not read it, and the agent's permission gate consults the
// store for every extension call whatever its category.
type Category string

const (
	// AlwaysAllow names calls that are allowed without asking.
	AlwaysAllow Category = "always_allow"
	// AskBefore names calls that need a stored or freshly granted decision.
	AskBefore Category = "ask_before"
	// NeverAllow names calls that are always refused.
	NeverAllow Category = "never_allow"
)

// Record is one persisted permission decision.
type Record struct {
	ToolName  string    `json:"tool_name"`
	ArgsHash  string    `json:"args_hash"`
	Allowed   bool      `json:"allowed"`
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// IsExpired reports whether r's grant has lapsed. A zero ExpiresAt means
// the grant never expires.
func (r Record) IsExpired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// key uniquely identifies a (tool, arguments) pair within the store.
func (r Record) key() string { return r.ToolName + "\x00" + r.ArgsHash }

type storeData struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

// Store is a file-backed table of (tool_name, hash(arguments)) -> most
// recent non-expired decision. All mutation goes through an in-process
// mutex; persistence uses write-tmp-then-rename so a crash mid-write never
// corrupts the file a concurrent reader sees.
//
// sha256 hashes the canonical argument JSON rather than blake3: no pack
// example vendors a blake3 binding, and this store's hashes are an
// in-process dedup key, not an adversarial commitment, so sha256's extra
// cost is immaterial. See DESIGN.md.
type Store struct {
	mu   sync.RWMutex
	path string

	records map[string]Record

	watcher    *fsnotify.Watcher
	watchMu    sync.Mutex
	watchStop  chan struct{}
	watchDone  chan struct{}
	onChange   func()
}

// NewStore opens (or creates) the permission store backed by the JSON file
// at path.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, records: make(map[string]Record)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("permission: read store: %w", err)
	}

	var sd storeData
	if err := json.Unmarshal(data, &sd); err != nil {
		return fmt.Errorf("permission: parse store: %w", err)
	}

	records := make(map[string]Record, len(sd.Records))
	for _, r := range sd.Records {
		records[r.key()] = r
	}

	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
	return nil
}

func (s *Store) persist() error {
	s.mu.RLock()
	records := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].ToolName != records[j].ToolName {
			return records[i].ToolName < records[j].ToolName
		}
		return records[i].ArgsHash < records[j].ArgsHash
	})

	data, err := json.MarshalIndent(storeData{Version: 1, Records: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("permission: marshal store: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("permission: create dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("permission: write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("permission: rename temp file: %w", err)
	}
	return nil
}

// HashArguments returns the stable hash of a tool call's canonical JSON
// arguments, used as half of a Record's lookup key.
func HashArguments(arguments json.RawMessage) (string, error) {
	canonical, err := canonicalize(arguments)
	if err != nil {
		return "", fmt.Errorf("permission: canonicalize arguments: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize produces a byte-stable JSON encoding of arguments by
// decoding into a generic value (which sorts object keys on re-encode via
// encoding/json's map handling) and re-marshaling.
func canonicalize(arguments json.RawMessage) ([]byte, error) {
	if len(arguments) == 0 {
		arguments = []byte("{}")
	}
	var decoded any
	if err := json.Unmarshal(arguments, &decoded); err != nil {
		return nil, err
	}
	return json.Marshal(decoded)
}

// Lookup returns the most recent non-expired decision for (toolName,
// argsHash), if any.
func (s *Store) Lookup(toolName, argsHash string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[Record{ToolName: toolName, ArgsHash: argsHash}.key()]
	if !ok || r.IsExpired(time.Now()) {
		return Record{}, false
	}
	return r, true
}

// Grant records a decision and persists the store. ttl of zero means the
// grant never expires.
func (s *Store) Grant(toolName, argsHash string, allowed bool, ttl time.Duration) error {
	r := Record{
		ToolName:  toolName,
		ArgsHash:  argsHash,
		Allowed:   allowed,
		GrantedAt: time.Now(),
	}
	if ttl > 0 {
		r.ExpiresAt = r.GrantedAt.Add(ttl)
	}

	s.mu.Lock()
	s.records[r.key()] = r
	s.mu.Unlock()

	return s.persist()
}

// Revoke removes any stored decision for (toolName, argsHash).
func (s *Store) Revoke(toolName, argsHash string) error {
	key := Record{ToolName: toolName, ArgsHash: argsHash}.key()

	s.mu.Lock()
	_, existed := s.records[key]
	delete(s.records, key)
	s.mu.Unlock()

	if !existed {
		return nil
	}
	return s.persist()
}

// Prune drops every expired record and persists the result. Callers may
// run this periodically to keep the file from growing unbounded with
// stale, time-limited grants.
func (s *Store) Prune() error {
	now := time.Now()

	s.mu.Lock()
	changed := false
	for k, r := range s.records {
		if r.IsExpired(now) {
			delete(s.records, k)
			changed = true
		}
	}
	s.mu.Unlock()

	if !changed {
		return nil
	}
	return s.persist()
}

// Watch starts an fsnotify watch on the store's file so external edits
// (e.g. a human hand-editing the permission file) are reloaded into
// memory. onChange, if non-nil, is invoked after every successful reload.
// Watch is idempotent; calling it twice is a no-op.
func (s *Store) Watch(onChange func()) error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("permission: create watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		watcher.Close()
		return fmt.Errorf("permission: create dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("permission: watch dir: %w", err)
	}

	s.watcher = watcher
	s.onChange = onChange
	s.watchStop = make(chan struct{})
	s.watchDone = make(chan struct{})

	go s.watchLoop()
	return nil
}

func (s *Store) watchLoop() {
	defer close(s.watchDone)

	for {
		select {
		case <-s.watchStop:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.load(); err != nil {
				continue
			}
			if s.onChange != nil {
				s.onChange()
			}
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watch loop, if running.
func (s *Store) Close() error {
	s.watchMu.Lock()
	watcher := s.watcher
	stop := s.watchStop
	done := s.watchDone
	s.watcher = nil
	s.watchMu.Unlock()

	if watcher == nil {
		return nil
	}
	close(stop)
	err := watcher.Close()
	<-done
	return err
}
