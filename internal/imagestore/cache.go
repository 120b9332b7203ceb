package imagestore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Cache はローカルディスク上の画像キャッシュ。
// 永続ストレージが使えない場合の画像解決と配信に使用する。
type Cache struct {
	dir string
}

// NewCache はキャッシュディレクトリを作成してCacheを返す。
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("キャッシュディレクトリの作成に失敗しました: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Dir はキャッシュディレクトリのパスを返す。
func (c *Cache) Dir() string {
	return c.dir
}

// Write は画像を書き込み、キャッシュ内のファイル名を返す。
func (c *Cache) Write(name string, data []byte) (string, error) {
	name = filepath.Base(name)
	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("キャッシュファイルの作成に失敗しました: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("キャッシュファイルの書き込みに失敗しました: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("キャッシュファイルの書き込みに失敗しました: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(c.dir, name)); err != nil {
		return "", fmt.Errorf("キャッシュファイルの配置に失敗しました: %w", err)
	}
	return name, nil
}

// Read はキャッシュ内のファイルを読み込む。
// ディレクトリ外を指す名前は拒否する。
func (c *Cache) Read(name string) ([]byte, error) {
	if name == "" || strings.Contains(name, "..") || filepath.Base(name) != name {
		return nil, fmt.Errorf("不正なキャッシュファイル名です: %q", name)
	}
	return os.ReadFile(filepath.Join(c.dir, name))
}
