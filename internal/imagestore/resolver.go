package imagestore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/campusfind/internal/imaging"
	"github.com/hitoshi/campusfind/internal/model"
	"github.com/hitoshi/campusfind/internal/oracle"
	"github.com/hitoshi/campusfind/internal/security"
)

// fetchTimeout は公開URLから画像を取得する際のタイムアウト。
const fetchTimeout = 10 * time.Second

// CachePathPrefix はキャッシュ画像を配信するURLパスの接頭辞。
const CachePathPrefix = "/uploads/"

// Stored は保存済み画像の参照を表す。
type Stored struct {
	Key        string
	URL        string
	CachedPath string
}

// Library は画像の保存と解決をまとめて扱う。
// storeがnilの場合はローカルキャッシュのみを使用する。
type Library struct {
	store  Store
	cache  *Cache
	guard  security.SSRFGuardService
	fetch  *http.Client
	logger *slog.Logger
}

// NewLibrary はLibraryの新しいインスタンスを生成する。
func NewLibrary(store Store, cache *Cache, guard security.SSRFGuardService, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Library{store: store, cache: cache, guard: guard, logger: logger}
	if guard != nil {
		l.fetch = guard.NewSafeClient(fetchTimeout)
	}
	return l
}

// Save は正規化済み画像を永続ストレージとローカルキャッシュに保存する。
// キャッシュへの書き込み失敗はログに記録し、保存自体は失敗させない。
func (l *Library) Save(ctx context.Context, img *imaging.Normalized) (Stored, error) {
	key := fmt.Sprintf("items/%s.jpg", uuid.NewString())
	var stored Stored

	if l.store != nil {
		url, err := l.store.Put(ctx, key, img.Data, img.MIME)
		if err != nil {
			return Stored{}, err
		}
		stored.Key = key
		stored.URL = url
	}

	if l.cache != nil {
		name, err := l.cache.Write(uuid.NewString()+".jpg", img.Data)
		if err != nil {
			if l.store == nil {
				return Stored{}, err
			}
			l.logger.Warn("画像キャッシュの書き込みに失敗しました", slog.String("error", err.Error()))
		} else {
			stored.CachedPath = name
			if stored.URL == "" {
				stored.URL = CachePathPrefix + name
			}
		}
	}

	if stored.Key == "" && stored.CachedPath == "" {
		return Stored{}, fmt.Errorf("画像の保存先が設定されていません")
	}
	return stored, nil
}

// Resolve はアイテムの画像を推論用に解決する。
// ストレージのキー、公開URL、ローカルキャッシュの順に試し、いずれも失敗した場合はfalseを返す。
func (l *Library) Resolve(ctx context.Context, item *model.Item) (oracle.Image, bool) {
	if item.ImageKey != "" && l.store != nil {
		data, err := l.store.Get(ctx, item.ImageKey)
		if err == nil {
			return oracle.Image{Data: data, MIME: imaging.OutputMIME}, true
		}
		l.logger.Warn("ストレージから画像を取得できません",
			slog.String("item_id", item.ID),
			slog.String("error", err.Error()),
		)
	}

	if item.ImageURL != "" && l.fetch != nil && l.guard.ValidateURL(item.ImageURL) == nil {
		data, err := l.download(ctx, item.ImageURL)
		if err == nil {
			return oracle.Image{Data: data, MIME: http.DetectContentType(data)}, true
		}
		l.logger.Warn("公開URLから画像を取得できません",
			slog.String("item_id", item.ID),
			slog.String("error", err.Error()),
		)
	}

	if item.CachedImagePath != "" && l.cache != nil {
		data, err := l.cache.Read(item.CachedImagePath)
		if err == nil {
			return oracle.Image{Data: data, MIME: imaging.OutputMIME}, true
		}
		l.logger.Debug("キャッシュに画像がありません", slog.String("item_id", item.ID))
	}
	return oracle.Image{}, false
}

func (l *Library) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.fetch.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxObjectBytes))
}
