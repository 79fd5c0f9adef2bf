package storage

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Backup writes a zip archive holding every blob and the cached photo and
// header snapshots. It returns the archive path.
func Backup(outDir string, blobs *BlobStore, local *LocalStore) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	timestamp := time.Now().Format("20060102-1504")
	zipPath := filepath.Join(outDir, "retrocms-backup-"+timestamp+".zip")

	// Remove old zip if exists
	if _, err := os.Stat(zipPath); err == nil {
		if err := os.Remove(zipPath); err != nil {
			return "", err
		}
	}

	zipFile, err := os.Create(zipPath)
	if err != nil {
		return "", err
	}
	defer zipFile.Close()

	zipWriter := zip.NewWriter(zipFile)

	if local != nil {
		for _, key := range []Key{KeyPhotos, KeyHeaderImages} {
			data, ok := local.Raw(key)
			if !ok {
				continue
			}
			w, err := zipWriter.Create("cache/" + key.String() + ".json")
			if err != nil {
				return "", err
			}
			if _, err := w.Write(data); err != nil {
				return "", err
			}
		}
	}

	if blobs != nil {
		blobs.mutex.RLock()
		err := filepath.WalkDir(blobs.dataDir, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			rel, err := filepath.Rel(blobs.dataDir, p)
			if err != nil {
				return err
			}
			return addFile(zipWriter, "blobs/"+filepath.ToSlash(rel), p)
		})
		blobs.mutex.RUnlock()
		if err != nil {
			return "", fmt.Errorf("archive blobs: %w", err)
		}
	}

	if err := zipWriter.Close(); err != nil {
		return "", err
	}
	return zipPath, nil
}

func addFile(zw *zip.Writer, name, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
