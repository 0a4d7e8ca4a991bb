package objectstore

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
)

// LocalConfig configures the local-filesystem backend, adapted from
// friggdb/backend/local.Config.
type LocalConfig struct {
	Path string `yaml:"path"`
}

// localStore stores objects as files under a root directory, mirroring
// friggdb/backend/local's readerWriter but keyed by an arbitrary slash-
// separated key instead of (blockID, tenantID).
type localStore struct {
	root string
}

// NewLocal returns an ObjectStore rooted at cfg.Path, creating it if
// necessary (friggdb/backend/local.New's os.MkdirAll on construction).
func NewLocal(cfg LocalConfig) (ObjectStore, error) {
	if err := os.MkdirAll(cfg.Path, os.ModePerm); err != nil {
		return nil, err
	}
	return &localStore{root: cfg.Path}, nil
}

func (l *localStore) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

func (l *localStore) Put(_ context.Context, key string, data []byte) error {
	p := l.path(key)
	if err := os.MkdirAll(filepath.Dir(p), os.ModePerm); err != nil {
		return err
	}
	return ioutil.WriteFile(p, data, 0644)
}

func (l *localStore) PutStream(ctx context.Context, key string, r io.Reader, _ int64) error {
	p := l.path(key)
	if err := os.MkdirAll(filepath.Dir(p), os.ModePerm); err != nil {
		return err
	}
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return err
	}
	return f.Close()
}

func (l *localStore) Get(_ context.Context, key string) ([]byte, error) {
	b, err := ioutil.ReadFile(l.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return b, err
}

func (l *localStore) GetRange(_ context.Context, key string, offset, length int64) ([]byte, error) {
	f, err := os.OpenFile(l.path(key), os.O_RDONLY, 0644)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	b := make([]byte, length)
	n, err := f.ReadAt(b, offset)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return b[:n], nil
}

func (l *localStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	root := l.root
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (l *localStore) Delete(_ context.Context, key string) error {
	err := os.Remove(l.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
