package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nao1215/oauth-gateway/internal/config"
	"github.com/nao1215/oauth-gateway/internal/gateway"
	"github.com/nao1215/oauth-gateway/pkg/logging"
	"github.com/nao1215/oauth-gateway/pkg/pkce"
)

// newRootCmd はゲートウェイを起動するルートコマンドを生成する。
// 設定は環境変数から読み込み、フラグが指定されていればそちらを優先する。
func newRootCmd() *cobra.Command {
	var (
		port     string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "OAuth2/OIDC認証ゲートウェイを起動する",
		Long: `GitHubとGoogleの認可コードを検証し、ゲートウェイ独自のアクセストークンと
リフレッシュトークンを発行するHTTPサーバーを起動します。
設定は環境変数（JWT_SECRET, GITHUB_CLIENT_ID など）から読み込みます。`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}

			logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

			server, err := gateway.NewServer(cfg, logger)
			if err != nil {
				return fmt.Errorf("Gatewayサーバーの初期化に失敗: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "リッスンポート（PORTより優先）")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "ログレベル debug/info/warn/error（LOG_LEVELより優先）")

	cmd.AddCommand(newPKCECmd())
	cmd.SetContext(context.Background())
	return cmd
}

// newPKCECmd は動作確認用のcode_verifierとcode_challengeを出力するコマンドを生成する。
func newPKCECmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pkce",
		Short: "PKCEのcode_verifierとcode_challenge(S256)を生成する",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			verifier := pkce.GenerateVerifier()
			fmt.Fprintf(cmd.OutOrStdout(), "code_verifier=%s\ncode_challenge=%s\ncode_challenge_method=%s\n",
				verifier, pkce.Challenge(verifier), pkce.MethodS256)
		},
	}
}
