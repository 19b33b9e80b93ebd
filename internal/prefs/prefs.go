// Package prefs persists per-device preferences and named profiles under
// the daemon's config dir, one YAML file per device serial. A watcher
// reloads records when the files change on disk.
package prefs

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// LayerRecord is one persisted animation layer.
type LayerRecord struct {
	Renderer string         `yaml:"renderer"`
	ZIndex   int            `yaml:"zindex"`
	Traits   map[string]any `yaml:"traits,omitempty"`
}

// LEDRecord is the persisted state of one LED zone.
type LEDRecord struct {
	Color      string  `yaml:"color,omitempty"`
	On         *bool   `yaml:"on,omitempty"`
	Brightness float64 `yaml:"brightness,omitempty"`
	Mode       string  `yaml:"mode,omitempty"`
}

// Record is the per-device preference snapshot.
type Record struct {
	Brightness float64              `yaml:"brightness"`
	Effect     string               `yaml:"effect,omitempty"`
	EffectArgs map[string]any       `yaml:"effect_args,omitempty"`
	LEDs       map[string]LEDRecord `yaml:"leds,omitempty"`
	Layers     []LayerRecord        `yaml:"layers,omitempty"`
}

// Profile is a named snapshot of a record.
type Profile struct {
	Name      string    `yaml:"name"`
	CreatedAt time.Time `yaml:"created_at"`
	Record    Record    `yaml:"record"`
}

type deviceFile struct {
	Prefs    Record    `yaml:"prefs"`
	Profiles []Profile `yaml:"profiles,omitempty"`
}

// Store reads and writes preference files under dir.
type Store struct {
	dir string
	log zerolog.Logger

	mu      sync.Mutex
	cache   map[string]*deviceFile
	watcher *fsnotify.Watcher

	// OnReload fires with the device serial when a file changes on disk.
	OnReload func(serial string)
}

// NewStore opens (and creates) the preference directory.
func NewStore(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{
		dir:   dir,
		log:   log.With().Str("component", "prefs").Logger(),
		cache: make(map[string]*deviceFile),
	}, nil
}

func (s *Store) path(serial string) string {
	return filepath.Join(s.dir, serial+".yaml")
}

func (s *Store) loadLocked(serial string) *deviceFile {
	if f, ok := s.cache[serial]; ok {
		return f
	}
	f := &deviceFile{Prefs: Record{Brightness: 80}}
	if b, err := os.ReadFile(s.path(serial)); err == nil {
		if err := yaml.Unmarshal(b, f); err != nil {
			s.log.Warn().Err(err).Str("serial", serial).Msg("corrupt preference file, using defaults")
		}
	}
	s.cache[serial] = f
	return f
}

func (s *Store) saveLocked(serial string) {
	f := s.cache[serial]
	if f == nil {
		return
	}
	b, err := yaml.Marshal(f)
	if err == nil {
		err = os.WriteFile(s.path(serial), b, 0o644)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("serial", serial).Msg("failed to persist preferences")
	}
}

// Get returns the preference record for a serial.
func (s *Store) Get(serial string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(serial).Prefs
}

// Put replaces and persists the record for a serial.
func (s *Store) Put(serial string, rec Record) {
	s.mu.Lock()
	f := s.loadLocked(serial)
	f.Prefs = rec
	s.saveLocked(serial)
	s.mu.Unlock()
}

// SaveProfile snapshots the current record under a name.
func (s *Store) SaveProfile(serial, name string) Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.loadLocked(serial)
	p := Profile{Name: name, CreatedAt: time.Now(), Record: f.Prefs}

	kept := f.Profiles[:0]
	for _, existing := range f.Profiles {
		if existing.Name != name {
			kept = append(kept, existing)
		}
	}
	f.Profiles = append(kept, p)
	s.saveLocked(serial)
	return p
}

// Profiles lists the saved profiles for a serial.
func (s *Store) Profiles(serial string) []Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.loadLocked(serial)
	out := make([]Profile, len(f.Profiles))
	copy(out, f.Profiles)
	return out
}

// RestoreProfile copies a named profile back into the active record.
func (s *Store) RestoreProfile(serial, name string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.loadLocked(serial)
	for _, p := range f.Profiles {
		if p.Name == name {
			f.Prefs = p.Record
			s.saveLocked(serial)
			return p.Record, true
		}
	}
	return Record{}, false
}

// Watch starts reloading records when files change on disk.
func (s *Store) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return err
	}
	s.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				name := filepath.Base(ev.Name)
				if !strings.HasSuffix(name, ".yaml") {
					continue
				}
				serial := strings.TrimSuffix(name, ".yaml")
				s.mu.Lock()
				delete(s.cache, serial)
				s.mu.Unlock()
				s.log.Debug().Str("serial", serial).Msg("preferences changed on disk")
				if s.OnReload != nil {
					s.OnReload(serial)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Warn().Err(err).Msg("preference watcher error")
			}
		}
	}()
	return nil
}

// Close stops the watcher.
func (s *Store) Close() {
	if s.watcher != nil {
		s.watcher.Close()
	}
}
