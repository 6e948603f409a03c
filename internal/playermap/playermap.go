package playermap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Entry maps a voice-channel user to the table: who is playing and which
// character they play.
type Entry struct {
	Player    string `yaml:"player"`
	Character string `yaml:"character"`
}

// Store holds the per-guild player maps, optionally persisted as one YAML
// file per guild (guild_<id>.yaml) under a configured directory. An empty
// directory means in-memory only.
type Store struct {
	dir string

	mu     sync.RWMutex
	guilds map[string]map[string]Entry
}

func NewStore(dir string) *Store {
	s := &Store{
		dir:    dir,
		guilds: make(map[string]map[string]Entry),
	}
	s.loadAll()
	return s
}

func (s *Store) loadAll() {
	if s.dir == "" {
		log.Info().Msg("No player map directory configured, starting empty")
		return
	}

	files, err := filepath.Glob(filepath.Join(s.dir, "guild_*.yaml"))
	if err != nil || len(files) == 0 {
		log.Info().Str("dir", s.dir).Msg("No player map files found")
		return
	}

	total := 0
	for _, file := range files {
		base := strings.TrimSuffix(filepath.Base(file), ".yaml")
		guildID := strings.TrimPrefix(base, "guild_")
		if guildID == "" || guildID == base {
			log.Warn().Str("file", file).Msg("Skipping player map file with unexpected name")
			continue
		}

		data, err := os.ReadFile(file)
		if err != nil {
			log.Error().Err(err).Str("file", file).Msg("Failed to read player map file")
			continue
		}

		entries := make(map[string]Entry)
		if err := yaml.Unmarshal(data, &entries); err != nil {
			log.Error().Err(err).Str("file", file).Msg("Failed to parse player map file")
			continue
		}

		s.guilds[guildID] = entries
		total += len(entries)

		log.Debug().
			Str("guild_id", guildID).
			Str("file", file).
			Int("entries", len(entries)).
			Msg("Loaded player map")
	}

	log.Info().
		Str("dir", s.dir).
		Int("guilds", len(s.guilds)).
		Int("entries", total).
		Msg("Player maps loaded")
}

// Resolve looks up the player/character labels for a speaker. The second
// return is false when the speaker is unmapped.
func (s *Store) Resolve(guildID, userID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	guild, ok := s.guilds[guildID]
	if !ok {
		return Entry{}, false
	}
	entry, ok := guild[userID]
	return entry, ok
}

// Refresh replaces a guild's map with the given member snapshot and persists
// it when a directory is configured.
func (s *Store) Refresh(guildID string, members map[string]Entry) error {
	snapshot := make(map[string]Entry, len(members))
	for id, e := range members {
		snapshot[id] = e
	}

	s.mu.Lock()
	s.guilds[guildID] = snapshot
	s.mu.Unlock()

	log.Info().
		Str("guild_id", guildID).
		Int("entries", len(snapshot)).
		Msg("Refreshed player map")

	if s.dir == "" {
		return nil
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create player map directory: %w", err)
	}

	data, err := yaml.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal player map: %w", err)
	}

	path := filepath.Join(s.dir, fmt.Sprintf("guild_%s.yaml", guildID))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write player map: %w", err)
	}

	log.Info().Str("guild_id", guildID).Str("file", path).Msg("Saved player map")
	return nil
}
