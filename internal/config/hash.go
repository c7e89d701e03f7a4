package config

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/zeebo/blake3"
)

// HashSuffix is appended to the config path to form the integrity sidecar.
const HashSuffix = ".b3"

var (
	ErrHashMismatch = errors.New("config hash mismatch")
	ErrHashMissing  = errors.New("config hash sidecar missing")
)

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", errors.Wrap(err, "read file")
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashPath returns the sidecar path for configPath.
func HashPath(configPath string) string {
	return configPath + HashSuffix
}

// WriteHash records the current hash of configPath in its sidecar and
// returns the hash.
func WriteHash(configPath string) (string, error) {
	hash, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return "", err
	}
	content := hash + "  " + filepath.Base(configPath) + "\n"
	if err := os.WriteFile(HashPath(configPath), []byte(content), 0o600); err != nil {
		return "", errors.Wrap(err, "write config hash")
	}
	return hash, nil
}

// VerifyHash checks configPath against its sidecar. A missing sidecar is an
// error only when required.
func VerifyHash(configPath string, required bool) error {
	return verifyConfigHash(configPath, required)
}

func verifyConfigHash(configPath string, required bool) error {
	raw, err := os.ReadFile(HashPath(configPath))
	if err != nil {
		if os.IsNotExist(err) {
			if required {
				return errors.WithHint(
					errors.Mark(errors.Newf("%s not found", filepath.Base(HashPath(configPath))), ErrHashMissing),
					"Run: promptq config hash")
			}
			return nil
		}
		return errors.Wrap(err, "read config hash")
	}

	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return errors.Mark(errors.Newf("%s is empty", filepath.Base(HashPath(configPath))), ErrHashMismatch)
	}
	expected := fields[0]

	actual, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return err
	}
	if actual != expected {
		return errors.WithHint(
			errors.Mark(errors.Newf("hash mismatch for %s: expected %s, got %s", filepath.Base(configPath), expected, actual), ErrHashMismatch),
			"If you edited the config intentionally, run: promptq config hash")
	}
	return nil
}
