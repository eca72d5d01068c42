// Package common provides shared constants, types, and utilities
// used across the VPN Guard application.
package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// GenerateID generates a unique identifier suitable for profile IDs.
func GenerateID() string {
	return uuid.NewString()
}

// userDir resolves an application directory under the user's home and
// creates it with owner-only permissions.
func userDir(elem ...string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", WrapError(err, "failed to get home directory")
	}

	dir := filepath.Join(append([]string{homeDir}, elem...)...)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", WrapError(err, "failed to create "+dir)
	}
	return dir, nil
}

// GetConfigDir returns the application configuration directory,
// creating it if needed.
func GetConfigDir() (string, error) {
	return userDir(".config", ConfigDirName)
}

// GetDataDir returns the application data directory, creating it if
// needed. The history database lives here.
func GetDataDir() (string, error) {
	return userDir(".local", "share", ConfigDirName)
}

// ExpandHome expands a leading "~/" in path to the user's home directory.
// Paths without the prefix are returned unchanged.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return homeDir
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// FileExists checks if a file exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FormatBytes renders a byte count in a compact human-readable form.
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// StringInSlice checks if a string is in a slice.
func StringInSlice(s string, slice []string) bool {
	for _, item := range slice {
		if item == s {
			return true
		}
	}
	return false
}
