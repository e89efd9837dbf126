package playout

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logs "github.com/danmuck/tvremote/internal/logging"
	"github.com/danmuck/tvremote/internal/remote"
)

// Media is one file in a media directory. Directory points back at its
// owner, so a directory and its files form a cycle.
type Media struct {
	*remote.Object
}

func NewMedia(fileName string, size int64, duration time.Duration) *Media {
	m := &Media{}
	m.Object = remote.NewObject(MediaType, m)
	m.Set("MediaName", strings.TrimSuffix(fileName, filepath.Ext(fileName)))
	m.Set("FileName", fileName)
	m.Set("FileSize", size)
	m.Set("Duration", duration)
	m.Set("LastUpdated", time.Now().UTC())
	m.Set("MediaStatus", MediaAvailable)
	return m
}

func (m *Media) FileName() string {
	return remote.GetAs[string](m.Object, "FileName")
}

func (m *Media) MediaName() string {
	return remote.GetAs[string](m.Object, "MediaName")
}

func (m *Media) Directory() *MediaDirectory {
	d, _ := m.Get("Directory").(*MediaDirectory)
	return d
}

// clone copies the file description, not the directory link.
func (m *Media) clone() *Media {
	c := NewMedia(m.FileName(), remote.GetAs[int64](m.Object, "FileSize"), remote.GetAs[time.Duration](m.Object, "Duration"))
	c.Set("MediaName", m.MediaName())
	return c
}

// MediaDirectory is a watched folder of media.
type MediaDirectory struct {
	*remote.Object

	// filesMu serializes read-modify-write of Files.
	filesMu sync.Mutex
}

func NewMediaDirectory(name, folder string, primary bool) *MediaDirectory {
	d := &MediaDirectory{}
	d.Object = remote.NewObject(DirectoryType, d)
	d.Set("DirectoryName", name)
	d.Set("Folder", folder)
	d.Set("IsPrimary", primary)
	return d
}

func (d *MediaDirectory) Name() string {
	return remote.GetAs[string](d.Object, "DirectoryName")
}

func (d *MediaDirectory) Folder() string {
	return remote.GetAs[string](d.Object, "Folder")
}

func (d *MediaDirectory) Files() []*Media {
	return remote.RefsAs[*Media](d.Object, "Files")
}

// Find returns the media with fileName, or nil.
func (d *MediaDirectory) Find(fileName string) *Media {
	for _, m := range d.Files() {
		if strings.EqualFold(m.FileName(), fileName) {
			return m
		}
	}
	return nil
}

// AddMedia links m into the directory. Files stay sorted by file name.
func (d *MediaDirectory) AddMedia(m *Media) {
	d.filesMu.Lock()
	files := d.Files()
	files = append(files, m)
	sort.SliceStable(files, func(i, j int) bool {
		return strings.ToLower(files[i].FileName()) < strings.ToLower(files[j].FileName())
	})
	d.Set("Files", remote.RefList(files))
	d.filesMu.Unlock()
	m.Set("Directory", d)
}

// RemoveMedia unlinks m; it reports whether m was present.
func (d *MediaDirectory) RemoveMedia(m *Media) bool {
	d.filesMu.Lock()
	files := d.Files()
	kept := files[:0]
	for _, f := range files {
		if f != m {
			kept = append(kept, f)
		}
	}
	removed := len(kept) != len(files)
	if removed {
		d.Set("Files", remote.RefList(kept))
	}
	d.filesMu.Unlock()
	if removed {
		m.Set("Directory", nil)
	}
	return removed
}

// Scan adds a Media for every regular file in Folder not already listed.
func (d *MediaDirectory) Scan() (int, error) {
	entries, err := os.ReadDir(d.Folder())
	if err != nil {
		return 0, err
	}
	var added int
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if d.Find(entry.Name()) != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			logs.Warnf("playout.MediaDirectory.Scan stat file=%q err=%v", entry.Name(), err)
			continue
		}
		m := NewMedia(entry.Name(), info.Size(), 0)
		m.Set("LastUpdated", info.ModTime().UTC())
		d.AddMedia(m)
		added++
	}
	logs.Debugf("playout.MediaDirectory.Scan folder=%q added=%d", d.Folder(), added)
	return added, nil
}

// getFilesQuery answers GetFiles(filter?): files whose name contains the
// optional case-insensitive filter.
func getFilesQuery(_ context.Context, target remote.Replicable, args remote.Values) (any, error) {
	d := target.(*MediaDirectory)
	var filter string
	if args.Len() > 0 {
		f, err := remote.Arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		filter = strings.ToLower(f)
	}
	out := make([]*Media, 0)
	for _, m := range d.Files() {
		if filter == "" || strings.Contains(strings.ToLower(m.FileName()), filter) {
			out = append(out, m)
		}
	}
	return out, nil
}
