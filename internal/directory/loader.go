package directory

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader reads directory documents from a single file or a folder. Folder
// loads merge files in sorted order, later files winning on duplicate ids.
type Loader struct {
	folder string
	file   string
}

// NewLoader configures the document source; file takes precedence over folder
// when both are set.
func NewLoader(folder, path string) *Loader {
	return &Loader{folder: folder, file: path}
}

type document struct {
	Tenants map[string]string `koanf:"tenants"`
	Users   map[string]string `koanf:"users"`
}

// Load reads every configured document into one snapshot. A loader with no
// source returns an empty snapshot: the directory is optional, lookups just
// miss into placeholders.
func (l *Loader) Load(ctx context.Context) (Snapshot, error) {
	files, err := l.resolveFiles(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snapshot := Snapshot{
		Tenants: make(map[string]string),
		Users:   make(map[string]string),
	}
	for _, path := range files {
		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		default:
		}
		doc, err := loadDocument(path)
		if err != nil {
			return Snapshot{}, err
		}
		for id, name := range doc.Tenants {
			snapshot.Tenants[id] = name
		}
		for id, name := range doc.Users {
			snapshot.Users[id] = name
		}
		snapshot.Sources = append(snapshot.Sources, path)
	}
	return snapshot, nil
}

func (l *Loader) resolveFiles(ctx context.Context) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if l.file != "" {
		info, err := os.Stat(l.file)
		if err != nil {
			return nil, fmt.Errorf("directory: file %s: %w", l.file, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("directory: file %s: expected a file, found directory", l.file)
		}
		return []string{l.file}, nil
	}
	if l.folder == "" {
		return nil, nil
	}
	stat, err := os.Stat(l.folder)
	if err != nil {
		return nil, fmt.Errorf("directory: folder %s: %w", l.folder, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("directory: folder %s is not a directory", l.folder)
	}
	var files []string
	err = filepath.WalkDir(l.folder, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !isSupportedFile(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("directory: walk folder %s: %w", l.folder, err)
	}
	sort.Strings(files)
	return files, nil
}

func loadDocument(path string) (document, error) {
	parser, err := parserFor(path)
	if err != nil {
		return document{}, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return document{}, fmt.Errorf("directory: load %s: %w", path, err)
	}
	var doc document
	if err := k.Unmarshal("", &doc); err != nil {
		return document{}, fmt.Errorf("directory: decode %s: %w", path, err)
	}
	return doc, nil
}

func parserFor(path string) (koanf.Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("directory: unsupported file extension %s", ext)
	}
}

func isSupportedFile(path string) bool {
	_, err := parserFor(path)
	return err == nil
}
