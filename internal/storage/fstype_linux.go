//go:build linux

package storage

import (
	"strconv"
	"syscall"

	"github.com/cockroachdb/errors"
)

// statfs f_type magic numbers for remote filesystems.
var linuxRemoteMagic = map[uint64]string{
	0x6969:     "nfs",
	0xFF534D42: "cifs",
	0x517B:     "smbfs",
	0xFE534D42: "smb2",
}

func filesystemName(path string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", errors.Wrapf(err, "statfs %q", path)
	}
	magic := uint64(st.Type)
	if name, ok := linuxRemoteMagic[magic]; ok {
		return name, nil
	}
	return "0x" + strconv.FormatUint(magic, 16), nil
}
