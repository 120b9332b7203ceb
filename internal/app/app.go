package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/campusfind/internal/claim"
	"github.com/hitoshi/campusfind/internal/config"
	"github.com/hitoshi/campusfind/internal/database"
	"github.com/hitoshi/campusfind/internal/handler"
	"github.com/hitoshi/campusfind/internal/imagestore"
	"github.com/hitoshi/campusfind/internal/item"
	"github.com/hitoshi/campusfind/internal/logger"
	"github.com/hitoshi/campusfind/internal/matching"
	"github.com/hitoshi/campusfind/internal/metrics"
	"github.com/hitoshi/campusfind/internal/middleware"
	"github.com/hitoshi/campusfind/internal/model"
	"github.com/hitoshi/campusfind/internal/notify"
	"github.com/hitoshi/campusfind/internal/oracle"
	"github.com/hitoshi/campusfind/internal/repository"
	"github.com/hitoshi/campusfind/internal/security"
	"github.com/hitoshi/campusfind/internal/tagging"
	"github.com/hitoshi/campusfind/internal/user"
	"github.com/hitoshi/campusfind/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定値のログレベルを反映する
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// services はDB接続から組み立てたサービス群を保持する。
type services struct {
	items      *item.Service
	claims     *claim.Service
	inbox      *notify.Inbox
	user       *user.Service
	drafter    *tagging.Drafter
	dispatcher *notify.Dispatcher
	sanitizer  security.TextSanitizer
	registry   *prometheus.Registry
	collector  *metrics.Collector
}

// buildServices はリポジトリ、推論クライアント、画像ストア、通知をワイヤリングする。
func buildServices(cfg *config.Config, db *sql.DB) (*services, error) {
	log := slog.Default()

	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	itemRepo := repository.NewPostgresItemRepo(db)
	claimRepo := repository.NewPostgresClaimRepo(db)
	readRepo := repository.NewPostgresNotificationReadRepo(db)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard(publicHost(cfg.StoragePublicURL))
	sanitizer := security.NewTextSanitizer()

	// 4. 推論クライアント（プロセス全体で共有）
	oracleClient := oracle.Shared(oracle.Config{
		APIKey:            cfg.OracleAPIKey,
		BaseURL:           cfg.OracleBaseURL,
		Model:             cfg.OracleModel,
		Timeout:           cfg.OracleTimeout,
		RequestsPerMinute: cfg.OracleRPM,
	}, oracle.WithMetrics(collector), oracle.WithLogger(logger.Component("oracle")))
	if !oracleClient.Enabled() {
		log.Warn("oracle API key is not set; tagging and matching will use fallbacks")
	}

	// 5. 画像ストア
	cache, err := imagestore.NewCache(cfg.ImageCacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image cache: %w", err)
	}
	var store imagestore.Store
	if cfg.StorageEnabled() {
		store = imagestore.NewS3Store(imagestore.S3Config{
			Endpoint:  cfg.StorageEndpoint,
			Bucket:    cfg.StorageBucket,
			AccessKey: cfg.StorageAccessKey,
			SecretKey: cfg.StorageSecretKey,
			Region:    cfg.StorageRegion,
			PublicURL: cfg.StoragePublicURL,
		})
	} else {
		log.Warn("object storage is not configured; images are kept in the local cache only",
			slog.String("dir", cfg.ImageCacheDir),
		)
	}
	library := imagestore.NewLibrary(store, cache, ssrfGuard, logger.Component("imagestore"))

	// 6. 通知
	var sender notify.Sender = notify.NopSender{}
	if cfg.NotificationsEnabled() {
		sender = notify.NewFCMSender(cfg.FCMProjectID, cfg.FCMCredentialsFile)
	}
	dispatcher := notify.NewDispatcher(userRepo, sender, collector, logger.Component("notify"), cfg.NotifyTimeout)
	inbox := notify.NewInbox(claimRepo, readRepo, userRepo)

	// 7. ドメインサービス
	extractor := tagging.NewExtractor(oracleClient, collector, logger.Component("tagging"))
	drafter := tagging.NewDrafter(oracleClient, logger.Component("tagging"))
	scorer := matching.NewScorer(oracleClient, library,
		matching.WithPacing(cfg.MatchPacing),
		matching.WithMetrics(collector),
		matching.WithLogger(logger.Component("matching")),
	)

	return &services{
		items:      item.NewService(itemRepo, extractor, library, scorer, sanitizer, cfg.MatchCandidateLimit, logger.Component("item")),
		claims:     claim.NewService(claimRepo, itemRepo, dispatcher, collector, logger.Component("claim")),
		inbox:      inbox,
		user:       user.NewService(userRepo),
		drafter:    drafter,
		dispatcher: dispatcher,
		sanitizer:  sanitizer,
		registry:   registry,
		collector:  collector,
	}, nil
}

// publicHost は画像の公開URLのホスト名を返す。未設定や不正な値の場合は空文字。
func publicHost(publicURL string) string {
	u, err := url.Parse(publicURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	slog.Info("database connection established")
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. サービスの初期化
	svc, err := buildServices(cfg, db)
	if err != nil {
		return err
	}

	// 3. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitClaim))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		JWTSecret:         cfg.JWTSecret,
		UserEnsurer:       svc.user,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		StatusRecorder:    svc.collector,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(svc.registry),
		ImageCacheDir:  cfg.ImageCacheDir,

		ItemService:  svc.items,
		ClaimService: svc.claims,
		Drafter:      svc.drafter,
		Inbox:        svc.inbox,
		UserService:  svc.user,
		Sanitizer:    svc.sanitizer,
	}

	router := handler.NewRouter(deps)

	// 4. HTTPサーバーの起動
	// マッチングは候補ごとに推論を待つため書き込みタイムアウトを長めに取る
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 5. 既読通知の日次削除ジョブ
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	go cleanup.NewReadPruneJob(db, logger.Component("cleanup")).Start(jobCtx, 24*time.Hour)

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// 配信中の通知を待つ
	svc.dispatcher.Wait()

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// rollbackが0の場合はすべての未適用マイグレーションを順番に適用し、
// 正の値の場合は直近のrollback件を取り消す。
func runMigrate(cfg *config.Config, rollback int) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("rollback", rollback),
	)

	var (
		version uint
		err     error
	)
	if rollback > 0 {
		version, err = database.Rollback(cfg.DatabaseURL, rollback)
	} else {
		version, err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// runRetag はアイテムのタグ抽出を報告者として再実行する。
func runRetag(cfg *config.Config, w io.Writer, itemID string) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	svc, err := buildServices(cfg, db)
	if err != nil {
		return err
	}

	current, err := svc.items.Get(ctx, itemID)
	if err != nil {
		return fmt.Errorf("failed to load item: %w", err)
	}
	updated, err := svc.items.Reanalyze(ctx, current.UserID, itemID)
	if err != nil {
		return fmt.Errorf("retag failed: %w", err)
	}

	fmt.Fprintf(w, "item %s: category=%s color=%s brand=%s features=%v\n",
		updated.ID, updated.Category, updated.Color, updated.Brand, updated.DistinctiveFeatures)
	return nil
}

// runLeaderboard は信頼スコアの上位ユーザーを表形式で出力する。
func runLeaderboard(cfg *config.Config, w io.Writer) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	users, err := user.NewService(repository.NewPostgresUserRepo(db)).Leaderboard(context.Background())
	if err != nil {
		return fmt.Errorf("failed to load leaderboard: %w", err)
	}
	fmt.Fprintln(w, renderLeaderboard(users))
	return nil
}

// renderLeaderboard はランキングを罫線付きの表に整形する。
func renderLeaderboard(users []*model.User) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Rank", "Name", "Trust Score"})
	for i, u := range users {
		tw.AppendRow(table.Row{strconv.Itoa(i + 1), u.Name, strconv.Itoa(u.TrustScore)})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(dsn string) string {
	if len(dsn) > 20 {
		return dsn[:12] + "***@..."
	}
	return "***"
}
