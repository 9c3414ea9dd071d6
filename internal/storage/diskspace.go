package storage

import (
	"errors"

	"golang.org/x/sys/unix"
)

var ErrInsufficientSpace = errors.New("insufficient disk space")

type DiskSpace struct {
	TotalBytes     uint64
	AvailableBytes uint64
}

func GetDiskSpace(path string) (*DiskSpace, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return nil, err
	}

	totalBytes := stat.Blocks * uint64(stat.Bsize)
	availableBytes := stat.Bavail * uint64(stat.Bsize)

	return &DiskSpace{TotalBytes: totalBytes, AvailableBytes: availableBytes}, nil
}

// BytesToGB converts a byte count to gigabytes.
func BytesToGB(b uint64) float64 {
	return float64(b) / (1024 * 1024 * 1024)
}
