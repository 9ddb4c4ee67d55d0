package monitor

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// TransactionLog captures every output line of one encoder run. It is
// removed after a clean run and left behind otherwise for postmortem.
type TransactionLog struct {
	path string
	f    *os.File
	w    *bufio.Writer
}

// OpenTransactionLog creates <dir>/<prog>-<name>-<salt>.log
func OpenTransactionLog(dir, prog, name string) (*TransactionLog, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	salt := strings.SplitN(uuid.NewString(), "-", 2)[0]
	path := filepath.Join(dir, fmt.Sprintf("%s-%s-%s.log", prog, sanitize(name), salt))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction log: %w", err)
	}
	return &TransactionLog{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// Path returns the log file location
func (l *TransactionLog) Path() string { return l.path }

// Write appends one line
func (l *TransactionLog) Write(line string) {
	l.w.WriteString(line)
	l.w.WriteByte('\n')
}

// Close flushes the log, deleting it when keep is false
func (l *TransactionLog) Close(keep bool) error {
	l.w.Flush()
	err := l.f.Close()
	if !keep {
		return os.Remove(l.path)
	}
	return err
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, name)
}
