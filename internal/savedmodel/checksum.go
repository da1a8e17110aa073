package savedmodel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// ChecksumFile returns the hex SHA-256 of the file at path.
func ChecksumFile(path string) (string, error) {
	//nolint:gosec // G304: path is inside an export directory
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ValidateChecksum compares the checksum of path against stored.
// An empty stored value skips the check.
func ValidateChecksum(path, stored string) error {
	if stored == "" {
		return nil
	}
	computed, err := ChecksumFile(path)
	if err != nil {
		return err
	}
	if computed != stored {
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, path)
	}
	return nil
}
