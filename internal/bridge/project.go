package bridge

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ProjectDescriptor is published to <projectRoot>/.unityctl/bridge.json so
// the CLI and editor-plugin can find a running Bridge out-of-process.
type ProjectDescriptor struct {
	ProjectID string `json:"projectId"`
	Port      int    `json:"port"`
	PID       int    `json:"pid"`
}

// ComputeProjectID derives a stable, deterministic project ID from an
// absolute project path: "proj-" + first 8 hex chars of SHA-256(path).
// On Windows the path is lower-cased before hashing so the CLI (which may
// see a different case from the shell) and the editor plugin (which
// resolves paths through Unity's own APIs) agree byte-for-byte.
func ComputeProjectID(absolutePath string) string {
	canon := canonicalizeForHash(absolutePath)
	sum := sha256.Sum256([]byte(canon))
	return "proj-" + fmt.Sprintf("%x", sum[:4])
}

func canonicalizeForHash(p string) string {
	if runtime.GOOS == "windows" {
		return strings.ToLower(p)
	}
	return p
}

// descriptorPath returns <projectRoot>/.unityctl/bridge.json.
func descriptorPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".unityctl", "bridge.json")
}

// WriteDescriptor atomically (temp-file-then-rename) writes the descriptor
// to <projectRoot>/.unityctl/bridge.json. It is never removed on clean
// shutdown so a future Bridge restart can still be found by a stale
// editor-plugin connection attempt.
func WriteDescriptor(projectRoot string, d ProjectDescriptor) error {
	path := descriptorPath(projectRoot)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".bridge-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp descriptor: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp descriptor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp descriptor: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename descriptor into place: %w", err)
	}
	return nil
}

// ReadDescriptor reads the descriptor from <projectRoot>/.unityctl/bridge.json.
// Both the CLI and the editor-plugin must tolerate a missing file.
func ReadDescriptor(projectRoot string) (*ProjectDescriptor, error) {
	data, err := os.ReadFile(descriptorPath(projectRoot))
	if err != nil {
		return nil, err
	}
	var d ProjectDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}
	return &d, nil
}
