package storage

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrRemoteFilesystem is returned when the job database would live on a
// network mount where SQLite file locking is unreliable.
var ErrRemoteFilesystem = errors.New("database path is on a network filesystem")

var remoteFilesystems = map[string]bool{
	"afpfs":  true,
	"cifs":   true,
	"nfs":    true,
	"smbfs":  true,
	"smb2":   true,
	"webdav": true,
}

// CheckLocalFilesystem refuses database paths on network mounts. The atomic
// claim relies on SQLite's file locks, which network filesystems do not
// honour.
func CheckLocalFilesystem(path string) error {
	return checkLocalFilesystem(path, filesystemName)
}

func checkLocalFilesystem(path string, detect func(string) (string, error)) error {
	if path == "" {
		return errors.New("sqlite path is empty")
	}

	existing, err := closestExistingAncestor(path)
	if err != nil {
		return errors.Wrapf(err, "resolve database path %q", path)
	}

	fsName, err := detect(existing)
	if err != nil {
		return errors.Wrapf(err, "detect filesystem for %q", existing)
	}

	if isRemoteFilesystem(fsName) {
		return errors.WithHint(
			errors.Mark(errors.Newf("database path %q is on %s", path, fsName), ErrRemoteFilesystem),
			"SQLite requires a local filesystem for reliable locking; set state.path (or --db) to a local file",
		)
	}
	return nil
}

func closestExistingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", errors.Wrapf(err, "stat %q", dir)
		}
		if filepath.Dir(dir) == dir {
			return "", errors.Newf("no existing parent for %q", abs)
		}
	}
}

func isRemoteFilesystem(name string) bool {
	return remoteFilesystems[strings.ToLower(strings.TrimSpace(name))]
}
