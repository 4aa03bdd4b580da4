package artifact

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ZipDir bundles the contents of srcDir into a zip archive at dstFile.
// Entries are DEFLATE-compressed, carry unix permissions 0o755, include
// directory entries, and use paths relative to srcDir. When dstFile lies
// inside srcDir, the walk skips it, so the archive never contains itself.
func ZipDir(srcDir, dstFile string) error {
	out, err := os.Create(dstFile)
	if err != nil {
		return fmt.Errorf("artifact: create archive %s: %w", dstFile, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	walkErr := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		// Never zip the archive into itself when it is produced in place.
		if p == dstFile {
			return nil
		}
		name := filepath.ToSlash(rel)

		if d.IsDir() {
			hdr := &zip.FileHeader{Name: name + "/"}
			hdr.SetMode(fs.ModeDir | 0o755)
			_, err := zw.CreateHeader(hdr)
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
		hdr.SetMode(0o755)
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if walkErr != nil {
		zw.Close()
		return fmt.Errorf("artifact: zip %s: %w", srcDir, walkErr)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("artifact: finish archive %s: %w", dstFile, err)
	}
	return nil
}
