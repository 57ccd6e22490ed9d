package credential

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/logging"
)

// FileProvider serves a token stored in a file and reloads it whenever the
// file is written, replaced or removed. The host's login flow owns the
// file; the provider only reads it.
type FileProvider struct {
	path      string
	validator Validator
	logger    *zap.Logger

	mu      sync.RWMutex
	token   string
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewFileProvider reads path once and starts watching its directory. A
// missing file yields no token until it appears.
func NewFileProvider(path string, validator Validator, logger *zap.Logger) (*FileProvider, error) {
	if validator == nil {
		validator = Opaque{}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create token watcher: %w", err)
	}
	// Watch the directory: editors and login flows usually replace the
	// file with a rename, which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch token directory: %w", err)
	}

	p := &FileProvider{
		path:      filepath.Clean(path),
		validator: validator,
		logger:    logging.OrNop(logger),
		watcher:   watcher,
		done:      make(chan struct{}),
	}
	p.reload()

	p.wg.Add(1)
	go p.watch()
	return p, nil
}

func (p *FileProvider) Token() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token, p.token != ""
}

func (p *FileProvider) WellFormed(token string) bool {
	return p.validator.Validate(token) == nil
}

// Close stops watching the file.
func (p *FileProvider) Close() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	close(p.done)
	err := p.watcher.Close()
	p.wg.Wait()
	return err
}

func (p *FileProvider) watch() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != p.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				p.reload()
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("token watcher error", zap.Error(err))
		}
	}
}

func (p *FileProvider) reload() {
	data, err := os.ReadFile(p.path)
	token := ""
	if err == nil {
		token = strings.TrimSpace(string(data))
	} else if !os.IsNotExist(err) {
		p.logger.Warn("read token file", zap.String("path", p.path), zap.Error(err))
	}

	p.mu.Lock()
	changed := token != p.token
	p.token = token
	p.mu.Unlock()

	if changed {
		p.logger.Debug("token reloaded", zap.String("path", p.path), logging.TokenPresence(token))
	}
}
