package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

// auditFilePragmas are the connection options applied to every on-disk audit
// database. WAL keeps the recorder's writes from blocking snapshot reads.
const auditFilePragmas = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"

// FileDSN turns the configured audit database path into a SQLite DSN. The
// path is made absolute so the daemon behaves the same regardless of its
// working directory.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve audit path: %w", err)
	}
	return "file:" + abs + "?" + auditFilePragmas, nil
}
