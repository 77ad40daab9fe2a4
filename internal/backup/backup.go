// Package backup archives the printwatch database and configuration into a
// tar.gz file and restores them.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/HerbHall/printwatch/internal/store"
	"github.com/HerbHall/printwatch/internal/version"
)

// ManifestName is the archive entry describing the backup.
const ManifestName = "manifest.json"

// maxEntrySize bounds a single restored file.
const maxEntrySize = 4 << 30

// Manifest records what a backup contains.
type Manifest struct {
	CreatedAt time.Time `json:"created_at"`
	Version   string    `json:"version"`
	Database  string    `json:"database"`
	Config    string    `json:"config,omitempty"`
}

// ErrExists is returned by Restore when a target file exists and force is
// not set.
var ErrExists = errors.New("file already exists")

// Backup writes a tar.gz archive holding the SQLite database, the optional
// config file and a manifest. The WAL is checkpointed first so the database
// file is self-contained.
func Backup(ctx context.Context, dbPath, configPath, outputPath string) (Manifest, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return Manifest{}, fmt.Errorf("database file not found: %w", err)
	}
	if err := checkpointWAL(ctx, dbPath); err != nil {
		return Manifest{}, fmt.Errorf("WAL checkpoint failed: %w", err)
	}

	m := Manifest{
		CreatedAt: time.Now().UTC(),
		Version:   version.Short(),
		Database:  filepath.Base(dbPath),
	}
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			m.Config = filepath.Base(configPath)
		}
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return Manifest{}, fmt.Errorf("creating output file: %w", err)
	}
	if err := writeArchive(out, m, dbPath, configPath); err != nil {
		out.Close()
		os.Remove(outputPath)
		return Manifest{}, err
	}
	if err := out.Close(); err != nil {
		return Manifest{}, fmt.Errorf("closing output file: %w", err)
	}
	return m, nil
}

func writeArchive(w io.Writer, m Manifest, dbPath, configPath string) error {
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)

	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    ManifestName,
		Mode:    0o644,
		Size:    int64(len(manifest)),
		ModTime: m.CreatedAt,
	}); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if _, err := tw.Write(manifest); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	if err := addFileToTar(tw, dbPath, m.Database); err != nil {
		return fmt.Errorf("adding database to archive: %w", err)
	}
	if m.Config != "" {
		if err := addFileToTar(tw, configPath, m.Config); err != nil {
			return fmt.Errorf("adding config to archive: %w", err)
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gw.Close()
}

// Restore extracts an archive written by Backup into dataDir. Existing files
// are only replaced when force is set. Entries outside dataDir are rejected.
func Restore(ctx context.Context, inputPath, dataDir string, force bool) (Manifest, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return Manifest{}, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return Manifest{}, fmt.Errorf("reading archive: %w", err)
	}
	defer gr.Close()

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("creating data dir: %w", err)
	}

	var m Manifest
	tr := tar.NewReader(gr)
	for {
		if err := ctx.Err(); err != nil {
			return m, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return m, fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name, err := entryName(hdr.Name)
		if err != nil {
			return m, err
		}
		if name == ManifestName {
			if err := json.NewDecoder(io.LimitReader(tr, 1<<20)).Decode(&m); err != nil {
				return m, fmt.Errorf("decoding manifest: %w", err)
			}
			continue
		}
		if err := extractFile(tr, filepath.Join(dataDir, name), hdr.Size, force); err != nil {
			return m, err
		}
	}
	if m.Database == "" {
		return m, errors.New("archive has no manifest")
	}
	return m, nil
}

// entryName returns the cleaned base name of an archive entry, rejecting
// paths that would escape the target directory.
func entryName(name string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, "/") || strings.Contains(clean, "/") {
		return "", fmt.Errorf("invalid archive entry %q", name)
	}
	return clean, nil
}

func extractFile(r io.Reader, dest string, size int64, force bool) error {
	if size > maxEntrySize {
		return fmt.Errorf("archive entry %s too large", filepath.Base(dest))
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	out, err := os.OpenFile(dest, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s: %w (use --force to overwrite)", dest, ErrExists)
		}
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := io.CopyN(out, r, size); err != nil {
		out.Close()
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return out.Close()
}

// checkpointWAL flushes the WAL into the main database file.
func checkpointWAL(ctx context.Context, dbPath string) error {
	db, err := store.New(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Checkpoint(ctx)
}

// addFileToTar adds a single file to the tar archive under the given name.
func addFileToTar(tw *tar.Writer, filePath, archiveName string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = archiveName

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	_, err = io.Copy(tw, f)
	return err
}
