package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// DiskUsageBytes sums the on-disk size of the given paths. Directories,
// such as a collection's data directory or a bleve index, are walked
// recursively. Missing paths contribute zero so callers can pass paths
// that may not have been created yet.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
