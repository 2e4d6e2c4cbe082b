// Package fs discovers ingestion sources on disk.
package fs

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"ragkb/internal/domain"
)

// Walker expands files and directories into ingestion sources, filtering
// directory contents with include and exclude globs.
type Walker struct {
	includes []string
	excludes []string
}

func NewWalker(includes, excludes []string) *Walker {
	if len(includes) == 0 {
		includes = []string{"**/*"}
	}
	return &Walker{
		includes: includes,
		excludes: excludes,
	}
}

type FileInfo struct {
	Path    string // absolute
	RelPath string // slash-separated, relative to the walked root
	ModTime int64
	Size    int64
}

// Walk returns the files under root that match the globs, sorted by path.
func (w *Walker) Walk(root string) ([]FileInfo, error) {
	var files []FileInfo

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if relPath != "." && (w.shouldExclude(relPath) || w.shouldExclude(relPath+"/")) {
				return filepath.SkipDir
			}
			return nil
		}

		if !w.shouldInclude(relPath) || w.shouldExclude(relPath) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, FileInfo{
			Path:    path,
			RelPath: relPath,
			ModTime: info.ModTime().Unix(),
			Size:    info.Size(),
		})
		return nil
	})

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, err
}

// Sources turns paths into ingestion sources. A file is taken as given and
// identified by its cleaned path; a directory is walked and each match is
// identified by its path relative to that directory. Content is read
// later by the ingestion pipeline.
func (w *Walker) Sources(paths []string) ([]domain.Source, error) {
	var sources []domain.Source
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}

		if !info.IsDir() {
			label := filepath.ToSlash(filepath.Clean(p))
			sources = append(sources, domain.Source{ID: label, Source: label, Kind: KindForPath(p), Path: p})
			continue
		}

		files, err := w.Walk(p)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			sources = append(sources, domain.Source{
				ID:     f.RelPath,
				Source: f.RelPath,
				Kind:   KindForPath(f.Path),
				Path:   f.Path,
				Meta:   map[string]any{"path": f.RelPath},
			})
		}
	}
	return sources, nil
}

func (w *Walker) shouldInclude(path string) bool {
	for _, pattern := range w.includes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func (w *Walker) shouldExclude(path string) bool {
	for _, pattern := range w.excludes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

// KindForPath infers a document kind from the file extension.
func KindForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return domain.KindCSV
	case ".tsv":
		return domain.KindTSV
	case ".md", ".markdown":
		return domain.KindMarkdown
	default:
		return domain.KindText
	}
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
