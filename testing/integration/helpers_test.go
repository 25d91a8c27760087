package integration

import (
	"os"
	"path/filepath"
	"testing"
)

// spool writes data to a dotfile and renames it into dir, the way a
// producer hands an action to a SpoolWatcher.
func spool(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	tmp := filepath.Join(dir, "."+name)
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		t.Fatalf("failed to rename %s: %v", name, err)
	}
}
