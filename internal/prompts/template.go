package prompts

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FallbackTemplate is used whenever the template file cannot be read.
const FallbackTemplate = "You are a helpful assistant. Tools: {tool_schemas}"

// DefaultTemplatePath is where the base system template is looked up.
const DefaultTemplatePath = "prompts/agent/system.md"

// TemplateSource yields the current base system template.
type TemplateSource interface {
	Template() string
}

// StaticTemplate is a fixed template.
type StaticTemplate string

// Template implements TemplateSource.
func (s StaticTemplate) Template() string { return string(s) }

// FileTemplate serves a template file and can follow edits to it.
type FileTemplate struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	content string
}

// NewFileTemplate reads path once. A missing or unreadable file is not an
// error; the fallback template is served until the file appears.
func NewFileTemplate(path string, logger *slog.Logger) *FileTemplate {
	if logger == nil {
		logger = slog.Default()
	}
	t := &FileTemplate{path: path, logger: logger, content: FallbackTemplate}
	t.reload()
	return t
}

// Template implements TemplateSource.
func (t *FileTemplate) Template() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.content
}

// Path returns the watched file path.
func (t *FileTemplate) Path() string { return t.path }

func (t *FileTemplate) reload() {
	data, err := os.ReadFile(t.path)
	content := string(data)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		t.logger.Warn("system template not found, using fallback", "path", t.path)
		content = FallbackTemplate
	case err != nil:
		t.logger.Error("failed to read system template, using fallback", "path", t.path, "error", err)
		content = FallbackTemplate
	}
	t.mu.Lock()
	t.content = content
	t.mu.Unlock()
}

// Watch reloads the template whenever its file is written, created, renamed
// or removed. It watches the parent directory so atomic saves are seen, and
// debounces bursts of events. It returns when ctx is done.
func (t *FileTemplate) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(t.path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return err
	}
	t.logger.Debug("watching system template", "path", absPath)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	const debounce = 200 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				t.logger.Info("system template changed", "path", absPath, "op", event.Op.String())
				t.reload()
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.logger.Error("template watcher error", "error", err)
		}
	}
}
