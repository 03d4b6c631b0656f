package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/oauth-gateway/internal/config"
	"github.com/nao1215/oauth-gateway/internal/provider"
	"github.com/nao1215/oauth-gateway/internal/provider/github"
	"github.com/nao1215/oauth-gateway/internal/provider/google"
	"github.com/nao1215/oauth-gateway/pkg/audit"
	"github.com/nao1215/oauth-gateway/pkg/httpclient"
	"github.com/nao1215/oauth-gateway/pkg/middleware"
	"github.com/nao1215/oauth-gateway/pkg/token"
)

// Server は認証ゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// service は認証フローを組み立てる。
	service *Service
	// providers は設定済みのIDプロバイダ。
	providers *provider.Registry
	// codec はセッショントークンの発行と検証を行う。
	codec *token.Codec
	// upstream は認証済みリクエストの転送先。nilならプロキシを無効にする。
	upstream *httpclient.Client
	// logger は構造化ロガー。
	logger *slog.Logger
	// shutdownTimeout はグレースフルシャットダウンの待ち時間。
	shutdownTimeout time.Duration
}

// Options はServerの構成要素。
type Options struct {
	Port            string
	FrontendURL     string
	Codec           *token.Codec
	Providers       *provider.Registry
	Upstream        *httpclient.Client
	Logger          *slog.Logger
	ShutdownTimeout time.Duration
	// Audit は監査イベントの記録先。nilならLoggerに書き出す。
	Audit           audit.Recorder
}

// New は構成要素を受け取ってServerを生成する。
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	providers := opts.Providers
	if providers == nil {
		providers = provider.NewRegistry()
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	var serviceOpts []ServiceOption
	if opts.Audit != nil {
		serviceOpts = append(serviceOpts, WithRecorder(opts.Audit))
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS([]string{opts.FrontendURL}))

	s := &Server{
		router:          router,
		port:            opts.Port,
		service:         NewService(providers, opts.Codec, logger, serviceOpts...),
		providers:       providers,
		codec:           opts.Codec,
		upstream:        opts.Upstream,
		logger:          logger,
		shutdownTimeout: shutdownTimeout,
	}
	s.setupRoutes()
	return s
}

// NewServer は設定からプロバイダやトークンCodecを組み立ててServerを生成する。
// クライアントIDとシークレットが揃っているプロバイダだけを登録する。
func NewServer(cfg config.Config, logger *slog.Logger) (*Server, error) {
	codec, err := token.NewCodec(cfg.JWTSecret, token.WithIssuer(cfg.TokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("トークンCodecの初期化に失敗: %w", err)
	}

	// 外向き通信はすべてこのクライアントのタイムアウトに従う
	outbound := &http.Client{Timeout: cfg.OutboundTimeout}

	var list []provider.Provider
	if cfg.GitHub.Enabled() {
		list = append(list, github.New(cfg.GitHub.Provider(),
			github.WithHTTPClient(outbound),
			github.WithLogger(logger.With("provider", github.Name)),
		))
	}
	if cfg.Google.Enabled() {
		list = append(list, google.New(cfg.Google.Provider(),
			google.WithHTTPClient(outbound),
			google.WithLogger(logger.With("provider", google.Name)),
		))
	}
	registry := provider.NewRegistry(list...)

	var upstream *httpclient.Client
	if cfg.UpstreamURL != "" {
		upstream = httpclient.New(cfg.UpstreamURL, httpclient.WithHTTPClient(outbound))
	}

	logger.Info("プロバイダを登録", "providers", registry.Names(), "proxy", upstream != nil)

	return New(Options{
		Port:            cfg.Port,
		FrontendURL:     cfg.FrontendURL,
		Codec:           codec,
		Providers:       registry,
		Upstream:        upstream,
		Logger:          logger,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}), nil
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされたらグレースフルに停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("ゲートウェイを起動", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		s.logger.Info("ゲートウェイを停止")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// OAuth2認証エンドポイント（認証不要）
	auth := s.router.Group("/auth")
	{
		auth.POST("/github", s.handleAuthenticate(github.Name))
		auth.POST("/google", s.handleAuthenticate(google.Name))
		auth.GET("/github/login", s.handleLogin(github.Name))
		auth.GET("/google/login", s.handleLogin(google.Name))
		auth.POST("/refresh", s.handleRefresh())
		auth.GET("/me", s.handleMe())
	}

	// 認証必須のアップストリームへのプロキシ
	if s.upstream != nil {
		api := s.router.Group("/api")
		api.Use(middleware.JWTAuth(s.codec))
		api.Any("/*path", s.handleProxy())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "oauth-gateway"})
	})
}

// authRequest は POST /auth/{provider} のリクエストボディ。
type authRequest struct {
	Code          string `json:"code" binding:"required"`
	State         string `json:"state"`
	CodeVerifier  string `json:"code_verifier"`
	CodeChallenge string `json:"code_challenge"`
}

// refreshRequest は POST /auth/refresh のリクエストボディ。
type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// handleAuthenticate は認可コードを受け取りセッショントークンを返すハンドラを返す。
func (s *Server) handleAuthenticate(providerName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req authRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		result, err := s.service.Authenticate(c.Request.Context(), providerName, provider.AuthorizationRequest{
			Code:          req.Code,
			CodeVerifier:  req.CodeVerifier,
			CodeChallenge: req.CodeChallenge,
			State:         req.State,
		})
		switch {
		case err == nil:
			c.JSON(http.StatusOK, result)
		case errors.Is(err, ErrProviderNotConfigured):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Provider not configured"})
		case errors.Is(err, ErrAuthFailed):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Authentication failed"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
	}
}

// handleLogin はプロバイダの認可画面へリダイレクトするハンドラを返す。
// stateが指定されなければUUIDを採番する。code_challengeはそのまま引き渡す。
func (s *Server) handleLogin(providerName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := s.providers.Get(providerName)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Provider not configured"})
			return
		}
		state := c.Query("state")
		if state == "" {
			state = uuid.NewString()
		}
		c.Redirect(http.StatusTemporaryRedirect, p.AuthCodeURL(state, c.Query("code_challenge")))
	}
}

// handleRefresh はリフレッシュトークンから新しいトークンの組を返すハンドラを返す。
func (s *Server) handleRefresh() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid refresh token"})
			return
		}

		pair, err := s.service.RefreshSession(c.Request.Context(), req.RefreshToken)
		if err != nil {
			s.logger.InfoContext(c.Request.Context(), "リフレッシュを拒否", "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid refresh token"})
			return
		}
		c.JSON(http.StatusOK, pair)
	}
}

// handleMe は認証済みユーザーの情報を返すハンドラを返す。
func (s *Server) handleMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := middleware.BearerToken(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		user, err := s.service.WhoAmI(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// handleProxy はアップストリームへリクエストを転送するハンドラを返す。
// Authorization、Content-Type、リクエストIDと認証済みユーザーIDを引き継ぐ。
func (s *Server) handleProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Param("path")
		if c.Request.URL.RawQuery != "" {
			path += "?" + c.Request.URL.RawQuery
		}

		header := http.Header{}
		if ct := c.GetHeader("Content-Type"); ct != "" {
			header.Set("Content-Type", ct)
		}
		header.Set("Authorization", c.GetHeader("Authorization"))
		header.Set(middleware.HeaderRequestID, middleware.GetRequestID(c))

		ctx := httpclient.WithUserID(c.Request.Context(), middleware.GetUserID(c))
		resp, err := s.upstream.Forward(ctx, c.Request.Method, path, c.Request.Body, header)
		if err != nil {
			s.logger.ErrorContext(ctx, "プロキシエラー", "path", path, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Upstream unavailable"})
			return
		}
		defer resp.Body.Close()

		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/json"
		}
		c.Status(resp.StatusCode)
		c.Header("Content-Type", contentType)
		if _, err := io.Copy(c.Writer, resp.Body); err != nil {
			s.logger.WarnContext(ctx, "プロキシレスポンスの転送に失敗", "path", path, "error", err)
		}
	}
}
