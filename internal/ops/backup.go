package ops

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Yoak3n/ducker/internal/store"
	"github.com/Yoak3n/ducker/internal/task"
)

const manifestName = "manifest.json"

var (
	ErrNoData       = errors.New("no task data found")
	ErrTargetExists = errors.New("restore target already holds task data")
	ErrCorrupt      = errors.New("backup archive is corrupt")
)

// Manifest is the first entry of every archive and lists the sha256 of each
// data file it carries.
type Manifest struct {
	CreatedAt time.Time         `json:"created_at"`
	Files     map[string]string `json:"files"`
}

// DataFiles returns the names of the task data files present in dataDir:
// the sqlite database with its journal files, and the JSON file store.
func DataFiles(dataDir string) ([]string, error) {
	candidates := []string{
		store.DBFile,
		store.DBFile + "-wal",
		store.DBFile + "-shm",
		task.DataFile,
	}
	var out []string
	for _, name := range candidates {
		info, err := os.Stat(filepath.Join(dataDir, name))
		switch {
		case errors.Is(err, os.ErrNotExist):
			continue
		case err != nil:
			return nil, err
		case info.Mode().IsRegular():
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func fileSum(path string) (string, error) {
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

// Backup archives the task data files of dataDir into a .tar.gz at
// archivePath. The archive is written to a temp file and renamed into place.
func Backup(dataDir, archivePath string, now time.Time) (Manifest, error) {
	dataDir = filepath.Clean(strings.TrimSpace(dataDir))
	archivePath = filepath.Clean(strings.TrimSpace(archivePath))
	if dataDir == "" || archivePath == "" {
		return Manifest{}, fmt.Errorf("data dir and archive path are required")
	}
	names, err := DataFiles(dataDir)
	if err != nil {
		return Manifest{}, err
	}
	if len(names) == 0 {
		return Manifest{}, fmt.Errorf("%w in %s", ErrNoData, dataDir)
	}

	m := Manifest{CreatedAt: now.UTC(), Files: make(map[string]string, len(names))}
	for _, name := range names {
		sum, err := fileSum(filepath.Join(dataDir, name))
		if err != nil {
			return Manifest{}, err
		}
		m.Files[name] = sum
	}

	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return Manifest{}, err
	}
	tmp := archivePath + ".tmp"
	if err := writeArchive(tmp, dataDir, names, m); err != nil {
		_ = os.Remove(tmp)
		return Manifest{}, err
	}
	if err := os.Rename(tmp, archivePath); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func writeArchive(path, dataDir string, names []string, m Manifest) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    manifestName,
		Mode:    0o644,
		Size:    int64(len(raw)),
		ModTime: m.CreatedAt,
	}); err != nil {
		return err
	}
	if _, err := tw.Write(raw); err != nil {
		return err
	}

	for _, name := range names {
		if err := addFile(tw, dataDir, name); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addFile(tw *tar.Writer, dataDir, name string) error {
	src, err := os.Open(filepath.Join(dataDir, name))
	if err != nil {
		return err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, src)
	return err
}

// Restore unpacks archivePath into targetDir and checks every file against
// the manifest. Existing data in targetDir is only replaced when force is
// set.
func Restore(archivePath, targetDir string, force bool) (Manifest, error) {
	archivePath = filepath.Clean(strings.TrimSpace(archivePath))
	targetDir = filepath.Clean(strings.TrimSpace(targetDir))
	if archivePath == "" || targetDir == "" {
		return Manifest{}, fmt.Errorf("archive path and target dir are required")
	}
	if !force {
		existing, err := DataFiles(targetDir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Manifest{}, err
		}
		if len(existing) > 0 {
			return Manifest{}, fmt.Errorf("%w: %s", ErrTargetExists, targetDir)
		}
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return Manifest{}, err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return Manifest{}, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	m, err := readManifest(tr)
	if err != nil {
		return Manifest{}, err
	}

	seen := map[string]bool{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Manifest{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name, err := sanitizeArchiveRelPath(hdr.Name)
		if err != nil {
			return Manifest{}, err
		}
		want, ok := m.Files[name]
		if !ok {
			return Manifest{}, fmt.Errorf("%w: %s is not in the manifest", ErrCorrupt, name)
		}
		if err := extract(tr, filepath.Join(targetDir, name), want); err != nil {
			return Manifest{}, err
		}
		seen[name] = true
	}
	for name := range m.Files {
		if !seen[name] {
			return Manifest{}, fmt.Errorf("%w: %s missing", ErrCorrupt, name)
		}
	}
	return m, nil
}

func readManifest(tr *tar.Reader) (Manifest, error) {
	hdr, err := tr.Next()
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if hdr.Name != manifestName {
		return Manifest{}, fmt.Errorf("%w: first entry is %q, want %s", ErrCorrupt, hdr.Name, manifestName)
	}
	var m Manifest
	if err := json.NewDecoder(tr).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("%w: manifest: %v", ErrCorrupt, err)
	}
	return m, nil
}

// extract writes r next to outPath, verifies the checksum, then renames it
// over outPath.
func extract(r io.Reader, outPath, wantSum string) error {
	tmp := outPath + ".restore"
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(dst, h), r); err != nil {
		_ = dst.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != wantSum {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: checksum mismatch for %s", ErrCorrupt, filepath.Base(outPath))
	}
	return os.Rename(tmp, outPath)
}

// Digest hashes the task data files of dir by name and content. Two
// directories holding the same data have the same digest.
func Digest(dir string) (string, error) {
	names, err := DataFiles(dir)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, name := range names {
		sum, err := fileSum(filepath.Join(dir, name))
		if err != nil {
			return "", err
		}
		_, _ = fmt.Fprintf(h, "%s %s\n", name, sum)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sanitizeArchiveRelPath(name string) (string, error) {
	name = filepath.Clean(strings.TrimSpace(name))
	if name == "." || name == "" {
		return "", fmt.Errorf("invalid archive entry path")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("invalid absolute archive entry path: %s", name)
	}
	if strings.HasPrefix(name, ".."+string(filepath.Separator)) || name == ".." {
		return "", fmt.Errorf("invalid archive entry path traversal: %s", name)
	}
	if strings.ContainsRune(name, filepath.Separator) {
		return "", fmt.Errorf("unexpected nested archive entry: %s", name)
	}
	return name, nil
}
