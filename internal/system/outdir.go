// Package system holds the filesystem and host helpers used around a wrapped
// run: creating timestamped output directories, removing evicted ones and
// reporting host memory.
package system

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// OutputDirPerm grants owner and group full access, nothing to others.
const OutputDirPerm = 0o770

// TimestampLayout formats the date part of an output directory name.
const TimestampLayout = "2006-01-02_15:04:05"

// RunDirSuffixLen is the most OutputDirName appends to a base with a
// trailing slash: timestamp, "_PID-" and a pid of up to ten digits.
const RunDirSuffixLen = len(TimestampLayout) + len("_PID-") + 10

// FixPath returns path with exactly one trailing slash.
func FixPath(path string) string {
	if path == "" {
		return ""
	}
	return strings.TrimRight(path, "/") + "/"
}

// OutputDirName returns <base>/<YYYY-MM-DD_HH:MM:SS>_PID-<pid>.
func OutputDirName(base string, t time.Time, pid int) string {
	return FixPath(base) + t.Format(TimestampLayout) + "_PID-" + strconv.Itoa(pid)
}

// CreateOutputDir creates the run directory for the given time and pid and
// returns its path. The base directory must already exist.
func CreateOutputDir(base string, t time.Time, pid int) (string, error) {
	if base == "" {
		return "", errors.New("output base directory is not configured")
	}
	dir := OutputDirName(base, t, pid)
	if err := os.Mkdir(dir, OutputDirPerm); err != nil {
		return "", fmt.Errorf("creating output directory %s: %w", dir, err)
	}
	return dir, nil
}

// EnsureBaseDir creates the output base directory and any missing parents.
func EnsureBaseDir(base string) error {
	if err := os.MkdirAll(base, OutputDirPerm); err != nil {
		return fmt.Errorf("creating output base directory %s: %w", base, err)
	}
	return nil
}

// RemoveOutputDir recursively removes exactly path and returns the number of
// bytes it held. A path that is already gone is not an error. Relative paths
// and the filesystem root are refused.
func RemoveOutputDir(path string) (int64, error) {
	clean := filepath.Clean(path)
	if path == "" || !filepath.IsAbs(clean) {
		return 0, fmt.Errorf("refusing to remove %q: not an absolute path", path)
	}
	if clean == string(filepath.Separator) {
		return 0, fmt.Errorf("refusing to remove %q: filesystem root", path)
	}

	size, _ := DirSize(clean)
	if err := os.RemoveAll(clean); err != nil {
		return 0, fmt.Errorf("removing %s: %w", clean, err)
	}
	return size, nil
}

// DirSize calculates the total size of a directory recursively
func DirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// FormatSize formats a byte size into a human-readable string
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// Age returns how long ago dir's timestamp says it was created, parsed from
// its name. ok is false for names not produced by OutputDirName.
func Age(dir string, now time.Time) (age time.Duration, ok bool) {
	name := filepath.Base(dir)
	i := strings.Index(name, "_PID-")
	if i < 0 {
		return 0, false
	}
	t, err := time.ParseInLocation(TimestampLayout, name[:i], now.Location())
	if err != nil {
		return 0, false
	}
	return now.Sub(t), true
}
