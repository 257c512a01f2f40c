package linker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

type File struct {
	Name     string
	Contents []byte

	Parent *File

	release func() error
}

func NewFileFromBytes(name string, contents []byte) *File {
	return &File{Name: name, Contents: contents}
}

// OpenFile maps path into memory read-only.
func OpenFile(path string) (*File, error) {
	contents, release, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	return &File{Name: path, Contents: contents, release: release}, nil
}

// Close releases the mapping. Archive members share their parent's
// mapping and have nothing to release.
func (f *File) Close() error {
	if f.release == nil {
		return nil
	}
	err := f.release()
	f.release = nil
	f.Contents = nil
	return err
}

func (f *File) DisplayName() string {
	if f.Parent != nil {
		return fmt.Sprintf("%s(%s)", f.Parent.Name, f.Name)
	}
	return f.Name
}

type libraryKey struct {
	name        string
	searchFirst string
	allowShared bool
}

// LibraryResolver turns -l names into paths. Lookups are cached because
// toolchains repeat -lc, -lgcc and friends several times per link.
type LibraryResolver struct {
	paths []string
	cache *lru.Cache[libraryKey, string]
}

func NewLibraryResolver(paths []string) *LibraryResolver {
	cache, err := lru.New[libraryKey, string](256)
	if err != nil {
		panic(err)
	}
	return &LibraryResolver{paths: paths, cache: cache}
}

func (r *LibraryResolver) Find(name string, searchFirst string, allowShared bool) (string, error) {
	key := libraryKey{name: name, searchFirst: searchFirst, allowShared: allowShared}
	if path, ok := r.cache.Get(key); ok {
		return path, nil
	}

	dirs := r.paths
	if searchFirst != "" {
		dirs = append([]string{searchFirst}, r.paths...)
	}

	var candidates []string
	if exact, ok := strings.CutPrefix(name, ":"); ok {
		candidates = []string{exact}
	} else {
		if allowShared {
			candidates = append(candidates, "lib"+name+".so")
		}
		candidates = append(candidates, "lib"+name+".a")
	}

	for _, dir := range dirs {
		for _, c := range candidates {
			path := filepath.Join(dir, c)
			if st, err := os.Stat(path); err == nil && st.Mode().IsRegular() {
				r.cache.Add(key, path)
				return path, nil
			}
		}
	}

	return "", configErrorf("library not found: -l%s", name)
}
