package fileshare

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"go.senan.xyz/taglib"
)

// ErrNotFound is returned for names that are not in the catalog.
var ErrNotFound = fmt.Errorf("item not in catalog: %w", fs.ErrNotExist)

var audioExts = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".flac": true,
	".m4a":  true,
	".ogg":  true,
	".wma":  true,
}

// FileInfo contains file metadata. Audio fields are zero when taglib cannot
// read the file.
type FileInfo struct {
	Path            string `json:"-"`
	Size            int64  `json:"size"`
	BitRate         uint   `json:"bitRate,omitempty"`
	DurationSeconds uint   `json:"durationSeconds,omitempty"`
	SampleRate      uint   `json:"sampleRate,omitempty"`
}

// SharedFile is one shareable item, keyed by its base name.
type SharedFile struct {
	Name string   `json:"name"`
	Info FileInfo `json:"info"`
}

// Shared is the catalog of items in one music folder. It is read-only from
// the transfer server's point of view; Refresh replaces the whole listing.
type Shared struct {
	dir    string
	mu     sync.RWMutex
	files  map[string]SharedFile
	names  []string
	logger *slog.Logger
}

// NewShared scans dir. A scan failure leaves an empty catalog and is logged.
func NewShared(dir string, logger *slog.Logger) *Shared {
	shared := &Shared{
		dir:    dir,
		files:  make(map[string]SharedFile),
		logger: logger,
	}

	if err := shared.Refresh(); err != nil {
		shared.logger.Warn("Warning: Error refreshing shares", "dir", dir, "err", err)
	}

	shared.logger.Info("Shared initialized", "dir", dir, "numFiles", len(shared.names))
	return shared
}

// Refresh lists the regular files directly inside the share folder.
func (s *Shared) Refresh() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("could not scan folder %s: %w", s.dir, err)
	}

	files := make(map[string]SharedFile, len(entries))
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		info, err := getAudioMetadata(path)
		if err != nil {
			s.logger.Debug("could not read audio metadata", "path", path, "err", err)
			stat, statErr := entry.Info()
			if statErr != nil {
				s.logger.Error("could not stat file", "path", path, "err", statErr)
				continue
			}
			info = FileInfo{Path: path, Size: stat.Size()}
		}
		files[entry.Name()] = SharedFile{Name: entry.Name(), Info: info}
		names = append(names, entry.Name())
	}
	slices.Sort(names)

	s.mu.Lock()
	s.files = files
	s.names = names
	s.mu.Unlock()
	return nil
}

// Items returns the catalog names in sorted order.
func (s *Shared) Items() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.names)
}

func (s *Shared) Files() []SharedFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files := make([]SharedFile, 0, len(s.names))
	for _, name := range s.names {
		files = append(files, s.files[name])
	}
	return files
}

// Lookup resolves an item by exact name.
func (s *Shared) Lookup(name string) (SharedFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[name]
	return f, ok
}

// Open opens the item's bytes. Only names present in the catalog resolve, so
// a request can never reach outside the share folder.
func (s *Shared) Open(name string) (io.ReadCloser, int64, error) {
	f, ok := s.Lookup(name)
	if !ok {
		return nil, 0, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	file, err := os.Open(f.Info.Path)
	if err != nil {
		return nil, 0, err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, err
	}
	return file, stat.Size(), nil
}

// Search returns files whose name matches every criterion of query;
// '-' in front of a criterion excludes names containing it.
func (s *Shared) Search(query string) []SharedFile {
	var results []SharedFile
	for _, file := range s.Files() {
		if matches(file.Name, query) {
			results = append(results, file)
		}
	}
	return results
}

func matches(str, query string) bool {
	str = strings.ToLower(str)
	criteria := strings.Fields(strings.ToLower(query))

	for _, criterion := range criteria {
		if strings.HasPrefix(criterion, "-") {
			if strings.Contains(str, criterion[1:]) {
				return false
			}
		} else if !strings.Contains(str, criterion) {
			return false
		}
	}
	return true
}

// extracts audio file metadata using taglib
func getAudioMetadata(path string) (FileInfo, error) {
	info := FileInfo{Path: path}

	stat, err := os.Stat(path)
	if err != nil {
		return info, fmt.Errorf("failed to get file stats: %w", err)
	}
	if !stat.Mode().IsRegular() {
		return info, fmt.Errorf("path is not a regular file: %s", path)
	}
	info.Size = stat.Size()

	ext := strings.ToLower(filepath.Ext(path))
	if !audioExts[ext] {
		return info, fmt.Errorf("file is not a supported audio format: %s", ext)
	}

	props, err := taglib.ReadProperties(path)
	if err != nil {
		return info, fmt.Errorf("failed to read properties: %w", err)
	}

	info.BitRate = props.Bitrate
	info.SampleRate = props.SampleRate
	info.DurationSeconds = uint(props.Length.Seconds())

	return info, nil
}
