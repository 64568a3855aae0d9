// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// DefaultDebounce coalesces bursts of file events into one reload.
const DefaultDebounce = 200 * time.Millisecond

// =============================================================================
// YAML FILE STORE
// =============================================================================

// FileStore serves settings loaded from a YAML file. With Watch, the file
// is reloaded whenever it changes; an invalid file is logged and the last
// good settings are kept.
type FileStore struct {
	path     string
	mem      *Memory
	log      zerolog.Logger
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
	reloads int
}

// LoadFile parses and validates the YAML settings file at path.
func LoadFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return s, nil
}

// SaveFile writes s to path as YAML.
func SaveFile(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := util.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// Defaults returns the settings written on first run: one reasoning and
// one general DeepSeek model, plus a Qwen model, with an assistant each.
func Defaults() Settings {
	return Settings{
		Models: []model.ModelSpec{
			{
				ID:           "deepseek-reasoner",
				Name:         "DeepSeek R1",
				ProviderType: model.ProviderDeepSeek,
				Abilities:    []model.ModelAbility{model.AbilityReasoning, model.AbilityStreaming},
			},
			{
				ID:           "deepseek-chat",
				Name:         "DeepSeek V3",
				ProviderType: model.ProviderDeepSeek,
				Abilities:    []model.ModelAbility{model.AbilityTool, model.AbilityStreaming},
			},
			{
				ID:           "qwen-plus",
				Name:         "Qwen Plus",
				ProviderType: model.ProviderQwen,
				Abilities:    []model.ModelAbility{model.AbilityReasoning, model.AbilityVision, model.AbilityStreaming},
			},
		},
		Assistants: []model.Assistant{
			{ID: "default", Name: "Assistant", ModelID: "deepseek-chat"},
			{ID: "reasoner", Name: "Reasoner", ModelID: "deepseek-reasoner"},
			{ID: "qwen", Name: "Qwen", ModelID: "qwen-plus", ThinkingBudget: model.Int(model.ReasoningLow.Budget())},
		},
	}
}

// EnsureFile writes Defaults to path when no file exists there. It reports
// whether a file was created.
func EnsureFile(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if err := SaveFile(path, Defaults()); err != nil {
		return false, err
	}
	return true, nil
}

// NewFileStore loads path and returns a store serving its contents.
func NewFileStore(path string) (*FileStore, error) {
	s, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{
		path:     path,
		mem:      NewMemory(s),
		log:      zerolog.Nop(),
		debounce: DefaultDebounce,
	}, nil
}

// WithLogger sets the logger used for reload events.
func (f *FileStore) WithLogger(log zerolog.Logger) *FileStore {
	f.log = log.With().Str("component", "settings").Logger()
	return f
}

// GetAssistant implements Store.
func (f *FileStore) GetAssistant(ctx context.Context, id string) (model.Assistant, error) {
	return f.mem.GetAssistant(ctx, id)
}

// GetModel implements Store.
func (f *FileStore) GetModel(ctx context.Context, id string) (model.ModelSpec, error) {
	return f.mem.GetModel(ctx, id)
}

// Snapshot returns the settings currently served.
func (f *FileStore) Snapshot() Settings {
	return f.mem.Snapshot()
}

// Reload re-reads the file. On failure the current settings are kept.
func (f *FileStore) Reload() error {
	s, err := LoadFile(f.path)
	if err != nil {
		return err
	}
	f.mem.Replace(s)

	f.mu.Lock()
	f.reloads++
	f.mu.Unlock()
	f.log.Info().Str("path", f.path).Int("assistants", len(s.Assistants)).Int("models", len(s.Models)).Msg("settings reloaded")
	return nil
}

// Reloads returns how many successful reloads have happened.
func (f *FileStore) Reloads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloads
}

// =============================================================================
// WATCHING
// =============================================================================

// Watch starts reloading the file on change. The parent directory is
// watched so that editors replacing the file by rename are seen.
func (f *FileStore) Watch() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", f.path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.watcher = watcher
	f.cancel = cancel
	f.done = make(chan struct{})
	go f.processEvents(ctx, watcher, f.done)
	return nil
}

// Close stops watching.
func (f *FileStore) Close() error {
	f.mu.Lock()
	watcher, cancel, done := f.watcher, f.cancel, f.done
	f.watcher, f.cancel, f.done = nil, nil, nil
	f.mu.Unlock()

	if watcher == nil {
		return nil
	}
	cancel()
	err := watcher.Close()
	<-done
	return err
}

func (f *FileStore) processEvents(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	target := filepath.Clean(f.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(f.debounce)
			} else {
				timer.Reset(f.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := f.Reload(); err != nil {
				f.log.Warn().Err(err).Str("path", f.path).Msg("settings reload failed, keeping last good settings")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.log.Warn().Err(err).Msg("settings watcher error")
		}
	}
}
