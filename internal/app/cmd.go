package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hitoshi/campusfind/internal/config"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandRetag はアイテムのタグ抽出を手動で再実行することを示す。
	CommandRetag Command = "retag"
	// CommandLeaderboard は信頼スコアのランキングを表示することを示す。
	CommandLeaderboard Command = "leaderboard"
)

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。サブコマンドがない場合はserveとして起動する。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.Execute()
}

// NewRootCommand はcampusfindのルートコマンドを生成する。
// ログはwに出力し、表形式の結果はコマンドの標準出力に書き込む。
func NewRootCommand(w io.Writer) *cobra.Command {
	serve := func(cmd *cobra.Command, args []string) error {
		cfg, err := initCommand(w, CommandServe)
		if err != nil {
			return err
		}
		return runServe(cfg)
	}

	root := &cobra.Command{
		Use:           "campusfind",
		Short:         "CampusFind lost and found API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve,
	}

	root.AddCommand(&cobra.Command{
		Use:   string(CommandServe),
		Short: "Start the API server",
		Args:  cobra.NoArgs,
		RunE:  serve,
	})

	var rollback int
	migrateCmd := &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rollback < 0 {
				return fmt.Errorf("--rollback must not be negative: %d", rollback)
			}
			cfg, err := initCommand(w, CommandMigrate)
			if err != nil {
				return err
			}
			return runMigrate(cfg, rollback)
		},
	}
	migrateCmd.Flags().IntVar(&rollback, "rollback", 0, "Roll back the given number of migrations instead of applying")
	root.AddCommand(migrateCmd)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	root.AddCommand(&cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Probe the local /health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			port := os.Getenv("SERVER_PORT")
			if port == "" {
				port = "8080"
			}
			return runHealthcheck(port)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   string(CommandRetag) + " <item-id>",
		Short: "Re-run tag extraction for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initCommand(w, CommandRetag)
			if err != nil {
				return err
			}
			return runRetag(cfg, cmd.OutOrStdout(), args[0])
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   string(CommandLeaderboard),
		Short: "Print the most trusted users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initCommand(w, CommandLeaderboard)
			if err != nil {
				return err
			}
			return runLeaderboard(cfg, cmd.OutOrStdout())
		},
	})

	return root
}

// initCommand は設定とログを初期化し、起動ログを出力する。
func initCommand(w io.Writer, cmd Command) (*config.Config, error) {
	cfg, err := Init(w)
	if err != nil {
		return nil, fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)
	return cfg, nil
}
