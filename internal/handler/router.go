package handler

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/campusfind/internal/imagestore"
	"github.com/hitoshi/campusfind/internal/middleware"
	"github.com/hitoshi/campusfind/internal/security"
)

// HealthChecker はヘルスチェックで疎通を確認する依存先のインターフェース。
// *sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	JWTSecret         string
	UserEnsurer       middleware.UserEnsurer
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	StatusRecorder    middleware.StatusRecorder

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	ImageCacheDir  string

	// ドメイン
	ItemService  ItemServiceInterface
	ClaimService ClaimServiceInterface
	Drafter      MessageDrafter
	Inbox        InboxInterface
	UserService  UserServiceInterface
	Sanitizer    security.TextSanitizer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → SecurityHeaders → CORS → Auth → RateLimit(General) [→ RateLimit(Claim)]
//
// /health、/metrics、/uploads/* は認証チェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	itemHandler := NewItemHandler(deps.ItemService)
	claimHandler := NewClaimHandler(deps.ClaimService, deps.Drafter, deps.Sanitizer)
	notificationHandler := NewNotificationHandler(deps.Inbox)
	userHandler := NewUserHandler(deps.UserService)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	if deps.ImageCacheDir != "" {
		prefix := strings.TrimSuffix(imagestore.CachePathPrefix, "/")
		files := http.StripPrefix(imagestore.CachePathPrefix, http.FileServer(noDirFS{http.Dir(deps.ImageCacheDir)}))
		r.Handle(prefix+"/*", files)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.JWTSecret, deps.UserEnsurer))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/items", func(r chi.Router) {
			r.Post("/", itemHandler.CreateItem)
			r.Get("/", itemHandler.ListItems)
			r.Get("/my", itemHandler.ListMyItems)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", itemHandler.GetItem)
				r.Post("/analyze", itemHandler.AnalyzeItem)
				r.Get("/matches", itemHandler.GetMatches)
			})
		})

		r.Route("/api/claims", func(r chi.Router) {
			r.Get("/item/{itemID}", claimHandler.ListItemClaims)

			// 状態を変える操作と推論を伴う操作にはクレーム専用のレート制限を追加
			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.ClaimMiddleware())
				r.Post("/", claimHandler.SubmitClaim)
				r.Post("/verify", claimHandler.VerifyClaim)
				r.Post("/draft-message", claimHandler.DraftMessage)
				r.Post("/{id}/respond", claimHandler.RespondClaim)
			})
		})

		r.Route("/api/notifications", func(r chi.Router) {
			r.Get("/", notificationHandler.ListNotifications)
			r.Post("/read", notificationHandler.MarkRead)
			r.Post("/token", notificationHandler.SaveDeviceToken)
		})

		r.Route("/api/users", func(r chi.Router) {
			r.Get("/me", userHandler.GetMe)
			r.Get("/leaderboard", userHandler.GetLeaderboard)
		})
	})

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// noDirFS はディレクトリ一覧を返さないhttp.FileSystem。
type noDirFS struct {
	fs http.FileSystem
}

func (n noDirFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if stat.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
