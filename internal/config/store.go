package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"toolgate/internal/api"
	"toolgate/pkg/logging"
)

// reloadDebounce is how long to wait after a filesystem event before
// reloading, so editors that write in several steps cause one reload.
const reloadDebounce = 500 * time.Millisecond

// Store holds the live configuration and keeps it fresh by watching the
// config file. Reloads only swap the descriptor set; they never touch
// established connections. Updated descriptors become visible to the next
// connect.
type Store struct {
	path string

	mu  sync.RWMutex
	cfg Config
}

// NewStore loads the initial configuration from path.
func NewStore(path string) (*Store, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, cfg: cfg}, nil
}

// Config returns the current configuration.
func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Servers returns deep copies of the current server descriptors, so callers
// can mutate them (discovery results, registration credentials) without
// racing a reload.
func (s *Store) Servers() []*api.ServerDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	servers := make([]*api.ServerDescriptor, 0, len(s.cfg.Servers))
	for _, server := range s.cfg.Servers {
		servers = append(servers, copyDescriptor(server))
	}
	return servers
}

// Server returns a deep copy of the descriptor with the given id.
func (s *Store) Server(id string) (*api.ServerDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, server := range s.cfg.Servers {
		if server.ID == id {
			return copyDescriptor(server), true
		}
	}
	return nil, false
}

// Watch starts watching the config file for changes until ctx is done. The
// watch covers the file's directory because editors typically replace the
// file rather than write it in place.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go s.processEvents(ctx, watcher)

	logging.Info("ConfigStore", "Watching %s for configuration changes", s.path)
	return nil
}

func (s *Store) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var reload *time.Timer
	defer func() {
		if reload != nil {
			reload.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if reload != nil {
				reload.Stop()
			}
			reload = time.AfterFunc(reloadDebounce, s.reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("ConfigStore", err, "Filesystem watcher error")
		}
	}
}

func (s *Store) reload() {
	cfg, err := LoadConfig(s.path)
	if err != nil {
		logging.Error("ConfigStore", err, "Reload of %s failed, keeping previous configuration", s.path)
		return
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	logging.Info("ConfigStore", "Configuration reloaded from %s (%d servers)", s.path, len(cfg.Servers))
}

func copyDescriptor(desc *api.ServerDescriptor) *api.ServerDescriptor {
	out := *desc
	if desc.Headers != nil {
		out.Headers = make(map[string]string, len(desc.Headers))
		for k, v := range desc.Headers {
			out.Headers[k] = v
		}
	}
	if desc.OAuth != nil {
		oauthCopy := *desc.OAuth
		if desc.OAuth.Scopes != nil {
			oauthCopy.Scopes = append([]string(nil), desc.OAuth.Scopes...)
		}
		out.OAuth = &oauthCopy
	}
	return &out
}
