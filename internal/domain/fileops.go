package domain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opencli/daemon/internal/audit"
	"github.com/opencli/daemon/internal/policy"
)

const (
	maxFileReadBytes = 1 << 20 // 1 MiB
	maxListEntries   = 500
)

// FileOpsDomain implements read/write/list/edit file tasks, rooted under a
// configured base directory. Every operation resolves symlinks before
// checking containment, so a symlink planted inside the root cannot be
// used to escape it.
type FileOpsDomain struct {
	root   string
	policy policy.Checker
}

func NewFileOpsDomain(root string, p policy.Checker) *FileOpsDomain {
	return &FileOpsDomain{root: root, policy: p}
}

func (d *FileOpsDomain) ID() string { return "fileops" }

func (d *FileOpsDomain) TaskTypes() []string {
	return []string{
		"fileops_read",
		"fileops_write",
		"fileops_list",
		"fileops_edit",
	}
}

func (d *FileOpsDomain) DisplayConfigs() map[string]DisplayConfig {
	return map[string]DisplayConfig{
		"fileops_read":  {CardType: "file", Icon: "file-text", TitleTemplate: "Read {{path}}", Color: "#495057"},
		"fileops_write": {CardType: "file", Icon: "file-plus", TitleTemplate: "Write {{path}}", Color: "#495057"},
		"fileops_list":  {CardType: "file", Icon: "folder", TitleTemplate: "List {{path}}", Color: "#495057"},
		"fileops_edit":  {CardType: "file", Icon: "edit", TitleTemplate: "Edit {{path}}", Color: "#495057"},
	}
}

// resolvePath resolves rawPath relative to the domain root and guards
// against traversal. New files (that don't exist yet) resolve their
// parent directory instead, matching the write-file case.
func (d *FileOpsDomain) resolvePath(rawPath string) (string, error) {
	candidate := filepath.Join(d.root, rawPath)

	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		parent, perr := filepath.EvalSymlinks(filepath.Dir(candidate))
		if perr != nil {
			return "", fmt.Errorf("resolve path: %w", err)
		}
		resolved = filepath.Join(parent, filepath.Base(candidate))
	}

	rootResolved, err := filepath.EvalSymlinks(d.root)
	if err != nil {
		rootResolved = d.root
	}
	rootAbs, err := filepath.Abs(rootResolved)
	if err != nil {
		return "", err
	}
	resolvedAbs, err := filepath.Abs(resolved)
	if err != nil {
		return "", err
	}
	if resolvedAbs != rootAbs && !strings.HasPrefix(resolvedAbs, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes allowed root: %s", rawPath)
	}
	return resolvedAbs, nil
}

func (d *FileOpsDomain) checkCapability(cap string) error {
	if d.policy == nil {
		return nil
	}
	if !d.policy.AllowCapability(cap) {
		return fmt.Errorf("capability %s is not permitted by policy", cap)
	}
	return nil
}

func (d *FileOpsDomain) ExecuteTask(ctx context.Context, taskType string, taskData map[string]any) TaskResult {
	rawPath, _ := taskData["path"].(string)

	switch taskType {
	case "fileops_read":
		return d.read(rawPath)
	case "fileops_write":
		content, _ := taskData["content"].(string)
		return d.write(rawPath, content)
	case "fileops_list":
		return d.list(rawPath)
	case "fileops_edit":
		find, _ := taskData["find"].(string)
		replace, _ := taskData["replace"].(string)
		return d.edit(rawPath, find, replace)
	default:
		return Fail(fmt.Sprintf("fileops domain does not handle %s", taskType))
	}
}

func (d *FileOpsDomain) read(rawPath string) TaskResult {
	if err := d.checkCapability("tools.fileops_read"); err != nil {
		audit.Record("deny", "tools.fileops_read", err.Error(), d.policyVersion(), rawPath)
		return Fail(err.Error())
	}
	resolved, err := d.resolvePath(rawPath)
	if err != nil {
		return Fail(err.Error())
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return Fail(fmt.Sprintf("stat %s: %v", rawPath, err))
	}
	if info.Size() > maxFileReadBytes {
		return Fail(fmt.Sprintf("file %s exceeds maximum read size", rawPath))
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return Fail(fmt.Sprintf("read %s: %v", rawPath, err))
	}
	audit.Record("allow", "tools.fileops_read", "", d.policyVersion(), rawPath)
	return Ok(map[string]any{"path": rawPath, "content": string(data), "bytes": len(data)})
}

func (d *FileOpsDomain) write(rawPath, content string) TaskResult {
	if err := d.checkCapability("tools.fileops_write"); err != nil {
		audit.Record("deny", "tools.fileops_write", err.Error(), d.policyVersion(), rawPath)
		return Fail(err.Error())
	}
	resolved, err := d.resolvePath(rawPath)
	if err != nil {
		return Fail(err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return Fail(fmt.Sprintf("create parent dirs for %s: %v", rawPath, err))
	}
	tmp := resolved + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return Fail(fmt.Sprintf("write %s: %v", rawPath, err))
	}
	if err := os.Rename(tmp, resolved); err != nil {
		_ = os.Remove(tmp)
		return Fail(fmt.Sprintf("finalize write %s: %v", rawPath, err))
	}
	audit.Record("allow", "tools.fileops_write", "", d.policyVersion(), rawPath)
	return Ok(map[string]any{"path": rawPath, "bytes": len(content)})
}

type fileEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

func (d *FileOpsDomain) list(rawPath string) TaskResult {
	if err := d.checkCapability("tools.fileops_read"); err != nil {
		return Fail(err.Error())
	}
	resolved, err := d.resolvePath(rawPath)
	if err != nil {
		return Fail(err.Error())
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return Fail(fmt.Sprintf("list %s: %v", rawPath, err))
	}
	out := make([]fileEntry, 0, len(entries))
	for i, e := range entries {
		if i >= maxListEntries {
			break
		}
		info, err := e.Info()
		size := int64(0)
		if err == nil {
			size = info.Size()
		}
		out = append(out, fileEntry{Name: e.Name(), IsDir: e.IsDir(), Size: size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return Ok(map[string]any{"path": rawPath, "entries": out})
}

func (d *FileOpsDomain) edit(rawPath, find, replace string) TaskResult {
	if err := d.checkCapability("tools.fileops_write"); err != nil {
		return Fail(err.Error())
	}
	resolved, err := d.resolvePath(rawPath)
	if err != nil {
		return Fail(err.Error())
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return Fail(fmt.Sprintf("read %s: %v", rawPath, err))
	}
	updated := strings.ReplaceAll(string(data), find, replace)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return Fail(fmt.Sprintf("write %s: %v", rawPath, err))
	}
	return Ok(map[string]any{"path": rawPath, "bytes": len(updated)})
}

func (d *FileOpsDomain) policyVersion() string {
	if d.policy == nil {
		return ""
	}
	return d.policy.PolicyVersion()
}
