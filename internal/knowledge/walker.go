package knowledge

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	gitignore "github.com/sabhiram/go-gitignore"
)

// DefaultIgnorePatterns are directories and files never ingested.
var DefaultIgnorePatterns = []string{
	".git",
	"node_modules",
	"vendor",
	"__pycache__",
	".cache",
	".idea",
	".vscode",
	".DS_Store",
	"*.bleve",
}

// IgnoreFiles are read from the walk root, in order.
var IgnoreFiles = []string{".gitignore", ".kbignore"}

// Ingestible file extensions.
var documentExts = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
}

// FileInfo describes a discovered document file.
type FileInfo struct {
	Path      string // absolute
	RelPath   string
	Hash      string
	SizeBytes int64
	Content   []byte
}

// WalkError is a per-file failure that does not stop the walk.
type WalkError struct {
	Path string
	Err  error
}

func (e *WalkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// WalkResult contains the results of a walk.
type WalkResult struct {
	Files  []FileInfo
	Errors []WalkError
}

// Walker discovers ingestible documents under a root directory.
type Walker struct {
	root          string
	concurrency   int
	maxFileBytes  int64
	ignoreMatcher gitignore.IgnoreParser
}

// NewWalker creates a walker honoring default, .gitignore and .kbignore patterns.
func NewWalker(root string) (*Walker, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}

	patterns := append([]string{}, DefaultIgnorePatterns...)
	for _, name := range IgnoreFiles {
		lines, err := readIgnoreLines(filepath.Join(abs, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		patterns = append(patterns, lines...)
	}

	return &Walker{
		root:          abs,
		concurrency:   4,
		maxFileBytes:  4 << 20,
		ignoreMatcher: gitignore.CompileIgnoreLines(patterns...),
	}, nil
}

// Root returns the absolute walk root.
func (w *Walker) Root() string { return w.root }

func readIgnoreLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// Walk discovers and reads every ingestible file, sorted by relative path.
func (w *Walker) Walk(ctx context.Context) (WalkResult, error) {
	paths := make(chan string, 64)
	results := make(chan FileInfo, 64)
	errs := make(chan WalkError, 64)

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				info, err := w.readFile(path)
				if err != nil {
					errs <- WalkError{Path: path, Err: err}
					continue
				}
				results <- info
			}
		}()
	}

	var res WalkResult
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for results != nil || errs != nil {
			select {
			case info, ok := <-results:
				if !ok {
					results = nil
					continue
				}
				res.Files = append(res.Files, info)
			case e, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				res.Errors = append(res.Errors, e)
			}
		}
	}()

	walkErr := filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			errs <- WalkError{Path: path, Err: err}
			return nil
		}
		if path == w.root {
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			errs <- WalkError{Path: path, Err: err}
			return nil
		}
		if w.ignoreMatcher.MatchesPath(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !documentExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		select {
		case paths <- path:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	close(paths)
	wg.Wait()
	close(results)
	close(errs)
	<-collected

	if walkErr != nil {
		return res, walkErr
	}
	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].RelPath < res.Files[j].RelPath })
	return res, nil
}

func (w *Walker) readFile(path string) (FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.Size() > w.maxFileBytes {
		return FileInfo{}, fmt.Errorf("file too large (%d bytes)", stat.Size())
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to read file: %w", err)
	}
	rel, _ := filepath.Rel(w.root, path)
	sum := sha256.Sum256(content)
	return FileInfo{
		Path:      path,
		RelPath:   filepath.ToSlash(rel),
		Hash:      hex.EncodeToString(sum[:]),
		SizeBytes: stat.Size(),
		Content:   content,
	}, nil
}
