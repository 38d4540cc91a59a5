package logger

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Clean removes log files in the active directory that are empty or whose
// last write is older than maxAge. The file currently written to is kept.
func Clean(now time.Time, maxAge time.Duration) (int, error) {
	logMu.Lock()
	dir := logDir
	active := ""
	if logFile != nil {
		active = logFile.Name()
	}
	enabled := fileLogging
	logMu.Unlock()
	if !enabled || dir == "" {
		return 0, nil
	}

	ents, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, ent := range ents {
		name := ent.Name()
		if ent.IsDir() || !strings.HasPrefix(name, FilePrefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		p := filepath.Join(dir, name)
		if p == active {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		if info.Size() == 0 || now.Sub(info.ModTime()) > maxAge {
			if err := os.Remove(p); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
