// ABOUTME: Files pack exposing a sandboxed slice of the filesystem.
// ABOUTME: Every path is validated against the allowed root, including symlink targets.

package files

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/halcyard/toolgate/internal/provider"
)

// NewPack creates the files pack rooted at allowedDir. All tool paths must
// resolve inside allowedDir or the call fails.
func NewPack(allowedDir string, logger *slog.Logger) (*provider.Pack, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(allowedDir)
	if err != nil {
		return nil, fmt.Errorf("resolving allowed directory: %w", err)
	}
	// Resolve the root itself so symlink comparisons are apples to apples.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if info, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("allowed directory: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("allowed directory %q is not a directory", abs)
	}

	h := &handlers{root: abs, logger: logger.With("component", "files")}

	return &provider.Pack{
		ID:      "files",
		Version: "1.0.0",
		Tools: []*provider.Tool{
			{
				Descriptor: provider.Descriptor{
					Name:        "read_file",
					Description: "Read the contents of a file, optionally only the first or last N lines",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"head":{"type":"integer","description":"Return first N lines"},"tail":{"type":"integer","description":"Return last N lines"}},"required":["path"]}`),
					Idempotent:  true,
				},
				Handler: h.readFile,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "write_file",
					Description: "Create or overwrite a file with new content",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`),
					Idempotent:  true,
				},
				Handler: h.writeFile,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "list_directory",
					Description: "List files and directories at a path",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
					Idempotent:  true,
				},
				Handler: h.listDirectory,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "create_directory",
					Description: "Create a directory, including missing parents",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
					Idempotent:  true,
				},
				Handler: h.createDirectory,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "move_file",
					Description: "Move or rename a file or directory",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"source":{"type":"string"},"destination":{"type":"string"}},"required":["source","destination"]}`),
					Idempotent:  false,
				},
				Handler: h.moveFile,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "search_files",
					Description: "Recursively find files whose name contains a pattern",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"pattern":{"type":"string"},"exclude_patterns":{"type":"array","items":{"type":"string"}}},"required":["path","pattern"]}`),
					Idempotent:  true,
				},
				Handler: h.searchFiles,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "get_file_info",
					Description: "Retrieve metadata about a file or directory",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
					Idempotent:  true,
				},
				Handler: h.getFileInfo,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "list_allowed_directories",
					Description: "List directories this pack is allowed to access",
					InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
					Idempotent:  true,
				},
				Handler: h.listAllowedDirectories,
			},
		},
	}, nil
}

type handlers struct {
	root   string
	logger *slog.Logger
}

// validatePath resolves a requested path and rejects anything outside the
// root, including symlinks whose target escapes. For paths that don't exist
// yet, the parent's resolved location is checked instead.
func (h *handlers) validatePath(requested string) (string, error) {
	p := strings.TrimSpace(requested)
	if p == "" || strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("invalid path")
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(h.root, p)
	}
	p = filepath.Clean(p)
	if !h.within(p) {
		return "", fmt.Errorf("access denied: path outside allowed directory: %s", p)
	}

	real, err := filepath.EvalSymlinks(p)
	if err == nil {
		if !h.within(real) {
			return "", fmt.Errorf("access denied: symlink target outside allowed directory: %s", real)
		}
		return real, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	// The path doesn't exist yet. Walk up to the nearest existing ancestor
	// so a create can add several missing levels at once; the walk always
	// terminates because the root itself exists.
	ancestor := filepath.Dir(p)
	for {
		real, resolveErr := filepath.EvalSymlinks(ancestor)
		if resolveErr == nil {
			if !h.within(real) {
				return "", fmt.Errorf("access denied: parent directory outside allowed directory: %s", real)
			}
			return p, nil
		}
		if !os.IsNotExist(resolveErr) {
			return "", fmt.Errorf("resolving parent directory: %w", resolveErr)
		}
		next := filepath.Dir(ancestor)
		if next == ancestor {
			return "", fmt.Errorf("resolving parent directory: %w", resolveErr)
		}
		ancestor = next
	}
}

func (h *handlers) within(p string) bool {
	return p == h.root || strings.HasPrefix(p, h.root+string(filepath.Separator))
}

type readFileInput struct {
	Path string `json:"path"`
	Head int    `json:"head"`
	Tail int    `json:"tail"`
}

func (h *handlers) readFile(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in readFileInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.Head > 0 && in.Tail > 0 {
		return nil, fmt.Errorf("cannot specify both head and tail")
	}

	path, err := h.validatePath(in.Path)
	if err != nil {
		return nil, err
	}

	var content string
	switch {
	case in.Head > 0:
		content, err = headFile(path, in.Head)
	case in.Tail > 0:
		content, err = tailFile(path, in.Tail)
	default:
		var b []byte
		b, err = os.ReadFile(path)
		content = string(b)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return json.Marshal(map[string]any{"content": content})
}

func headFile(path string, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for len(lines) < n && scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

func tailFile(path string, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

type writeFileInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// writeFile writes atomically: content lands in a temp file in the target
// directory and is renamed into place.
func (h *handlers) writeFile(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in writeFileInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	path, err := h.validatePath(in.Path)
	if err != nil {
		return nil, err
	}

	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.New().String())
	if err := os.WriteFile(tmp, []byte(in.Content), 0644); err != nil {
		return nil, fmt.Errorf("writing file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("replacing file: %w", err)
	}

	h.logger.Info("file written", "path", path, "bytes", len(in.Content))
	return json.Marshal(map[string]any{"message": fmt.Sprintf("wrote %d bytes to %s", len(in.Content), in.Path)})
}

type pathInput struct {
	Path string `json:"path"`
}

func (h *handlers) listDirectory(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in pathInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	path, err := h.validatePath(in.Path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("listing directory: %w", err)
	}

	formatted := make([]string, 0, len(entries))
	for _, e := range entries {
		prefix := "[FILE]"
		if e.IsDir() {
			prefix = "[DIR]"
		}
		formatted = append(formatted, prefix+" "+e.Name())
	}
	return json.Marshal(map[string]any{"content": strings.Join(formatted, "\n")})
}

func (h *handlers) createDirectory(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in pathInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	path, err := h.validatePath(in.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}
	return json.Marshal(map[string]any{"message": fmt.Sprintf("created directory %s", in.Path)})
}

type moveFileInput struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

func (h *handlers) moveFile(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in moveFileInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	src, err := h.validatePath(in.Source)
	if err != nil {
		return nil, err
	}
	dst, err := h.validatePath(in.Destination)
	if err != nil {
		return nil, err
	}
	if err := os.Rename(src, dst); err != nil {
		return nil, fmt.Errorf("moving file: %w", err)
	}
	return json.Marshal(map[string]any{"message": fmt.Sprintf("moved %s to %s", in.Source, in.Destination)})
}

type searchFilesInput struct {
	Path            string   `json:"path"`
	Pattern         string   `json:"pattern"`
	ExcludePatterns []string `json:"exclude_patterns"`
}

// searchFiles matches file names case-insensitively by substring; exclude
// patterns are globs applied to the path relative to the search root.
func (h *handlers) searchFiles(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in searchFilesInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	root, err := h.validatePath(in.Path)
	if err != nil {
		return nil, err
	}
	pattern := strings.ToLower(in.Pattern)

	var results []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		for _, exclude := range in.ExcludePatterns {
			if ok, _ := filepath.Match(exclude, rel); ok {
				return nil
			}
		}
		if strings.Contains(strings.ToLower(d.Name()), pattern) {
			results = append(results, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching files: %w", err)
	}
	sort.Strings(results)

	content := "No matches found"
	if len(results) > 0 {
		content = strings.Join(results, "\n")
	}
	return json.Marshal(map[string]any{"content": content, "count": len(results)})
}

func (h *handlers) getFileInfo(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in pathInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	path, err := h.validatePath(in.Path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	return json.Marshal(map[string]any{
		"size":         info.Size(),
		"modified":     info.ModTime().UTC().Format("2006-01-02T15:04:05Z07:00"),
		"is_directory": info.IsDir(),
		"is_file":      info.Mode().IsRegular(),
		"permissions":  fmt.Sprintf("%03o", info.Mode().Perm()),
	})
}

func (h *handlers) listAllowedDirectories(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(map[string]any{"directories": []string{h.root}})
}
