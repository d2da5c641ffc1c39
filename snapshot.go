package migrator

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// CurrentSnapshotVersion is the highest snapshot version this build
// understands. Loading a snapshot with a higher Version fails with
// ErrSnapshotUnsupportedVersion.
const CurrentSnapshotVersion = 1

// snapshotWire is the on-disk JSON shape (§6: "Snapshot file"), keyed
// by lower-cased name for each name-addressed map.
type snapshotWire struct {
	Version    int                          `json:"Version"`
	Tables     map[string]*tableWire        `json:"Tables"`
	Sequences  map[string]*Sequence         `json:"Sequences"`
	Procedures map[string]*StoredProcedure  `json:"Procedures"`
}

type tableWire struct {
	Name    string             `json:"Name"`
	Schema  string             `json:"Schema"`
	Columns map[string]*Column `json:"Columns"`
	Indexes []Index            `json:"Indexes"`
}

// Snapshot is the decoded, in-memory form of a persisted schema,
// ready to be fed to the Differ as the "target" schema.
type Snapshot struct {
	Version int
	Schema  *Schema
}

// SnapshotStore loads and saves snapshots addressed by migration
// identifier, under <codePath>/Dao/Migrations/<id>/schema.bin, per §6.
// Uses the same gzip-wrapped encoding approach as compression.go.
type SnapshotStore struct {
	codePath string
	log      Logger
}

// NewSnapshotStore returns a store rooted at codePath (the directory
// containing Dao/Migrations).
func NewSnapshotStore(codePath string, log Logger) *SnapshotStore {
	if log == nil {
		log = NopLogger
	}
	return &SnapshotStore{codePath: codePath, log: log}
}

func (s *SnapshotStore) migrationsDir() string {
	return filepath.Join(s.codePath, "Dao", "Migrations")
}

func (s *SnapshotStore) snapshotPath(identifier string) string {
	return filepath.Join(s.migrationsDir(), identifier, "schema.bin")
}

// Save gzip-compresses snap as JSON and writes it to the migration's
// schema.bin, creating the migration directory if needed.
func (s *SnapshotStore) Save(identifier string, snap *Snapshot) error {
	wire := toWire(snap)
	raw, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return fmt.Errorf("gzip snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("gzip snapshot: %w", err)
	}

	dir := filepath.Join(s.migrationsDir(), identifier)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create migration dir: %w", err)
	}
	if err := os.WriteFile(s.snapshotPath(identifier), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	s.log.Debug("snapshot saved", F("migration", identifier), F("bytes", buf.Len()))
	return nil
}

// Load reads and decodes the snapshot for identifier, or
// ErrSnapshotNotFound if no schema.bin exists for it.
func (s *SnapshotStore) Load(identifier string) (*Snapshot, error) {
	path := s.snapshotPath(identifier)
	compressed, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	defer gz.Close()
	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}

	var wire snapshotWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	if wire.Version > CurrentSnapshotVersion {
		return nil, ErrSnapshotUnsupportedVersion
	}

	return fromWire(&wire), nil
}

// TargetFor returns the snapshot of the last entry in applied (oldest
// first, per §4.6 ListApplied ordering), or the chronologically-first
// migration directory on disk when applied is empty, so first-time
// script generation still has a baseline to diff against.
func (s *SnapshotStore) TargetFor(applied []string) (*Snapshot, error) {
	if len(applied) > 0 {
		return s.Load(applied[len(applied)-1])
	}

	entries, err := os.ReadDir(s.migrationsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("list migrations dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, ErrSnapshotNotFound
	}
	sort.Strings(names) // migration ids are zero-padded YYYYMMDDHHMMSS prefixes, so lexical == chronological
	return s.Load(names[0])
}

func toWire(snap *Snapshot) *snapshotWire {
	w := &snapshotWire{
		Version:    snap.Version,
		Tables:     make(map[string]*tableWire),
		Sequences:  make(map[string]*Sequence),
		Procedures: make(map[string]*StoredProcedure),
	}
	for _, name := range snap.Schema.Tables.Keys() {
		t, _ := snap.Schema.Tables.Get(name)
		tw := &tableWire{Name: t.Name, Schema: t.Schema, Columns: make(map[string]*Column), Indexes: t.Indexes}
		for _, cname := range t.Columns.Keys() {
			c, _ := t.Columns.Get(cname)
			tw.Columns[toLowerKey(cname)] = c
		}
		w.Tables[toLowerKey(name)] = tw
	}
	for _, name := range snap.Schema.Sequences.Keys() {
		v, _ := snap.Schema.Sequences.Get(name)
		w.Sequences[toLowerKey(name)] = v
	}
	for _, name := range snap.Schema.Procedures.Keys() {
		v, _ := snap.Schema.Procedures.Get(name)
		w.Procedures[toLowerKey(name)] = v
	}
	return w
}

func fromWire(w *snapshotWire) *Snapshot {
	schema := NewSchema()
	for key, tw := range w.Tables {
		t := &Table{Name: tw.Name, Schema: tw.Schema, Columns: newCIMap[*Column](), Indexes: tw.Indexes}
		if t.Name == "" {
			t.Name = key
		}
		for ckey, c := range tw.Columns {
			if c.Name == "" {
				c.Name = ckey
			}
			t.Columns.Set(c.Name, c)
		}
		schema.Tables.Set(t.QualifiedName(), t)
	}
	for key, s := range w.Sequences {
		if s.Name == "" {
			s.Name = key
		}
		schema.Sequences.Set(s.Name, s)
	}
	for key, p := range w.Procedures {
		if p.Name == "" {
			p.Name = key
		}
		schema.Procedures.Set(p.Name, p)
	}
	return &Snapshot{Version: w.Version, Schema: schema}
}

func toLowerKey(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
