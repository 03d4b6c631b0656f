package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout は外向き通信1回あたりのタイムアウト既定値。
const DefaultTimeout = 5 * time.Second

// maxErrorBody はStatusErrorに保持するレスポンスボディの最大バイト数。
const maxErrorBody = 512

// Client は外部サービス呼び出し用のHTTPクライアント。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は接続先のベースURL。
	baseURL string
}

// Option はClientの設定を変更する。
type Option func(*Client)

// WithTimeout はリクエストのタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient は内部で使用する*http.Clientを差し替える。
// 他のClientとコネクションプールを共有したい場合に使う。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New は新しいHTTPクライアントを生成する。
// baseURLには接続先のベースURL（例: "https://api.github.com"）を指定する。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		baseURL: baseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HTTPClient は内部の*http.Clientを返す。
// oauth2やoidcなど、*http.Clientを受け取るライブラリに渡すために使う。
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// BaseURL は接続先のベースURLを返す。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StatusError は2xx以外のレスポンスを表す。
// ボディはログ出力用で、クライアントへ返してはならない。
type StatusError struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Body はレスポンスボディの先頭部分。
	Body string
}

// Error はエラーメッセージを返す。
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTPエラー: status=%d", e.StatusCode)
}

// GetJSON は指定パスにGETリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}

// Forward は任意のリクエストを送信し、レスポンスをそのまま返す。
// ステータスコードの判定は呼び出し側が行う。呼び出し側はBodyを閉じること。
func (c *Client) Forward(ctx context.Context, method, path string, body io.Reader, header http.Header) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	return resp, nil
}

// newRequest はコンテキストの値をヘッダーに反映したリクエストを作る。
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}

	if tok, ok := ctx.Value(contextKeyBearerToken).(string); ok && tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if userID, ok := ctx.Value(contextKeyUserID).(string); ok && userID != "" {
		req.Header.Set(HeaderUserID, userID)
	}
	return req, nil
}

// HeaderUserID は認証済みユーザーIDを伝播するHTTPヘッダー。
const HeaderUserID = "X-User-ID"

// contextKey はコンテキストキーの型。
type contextKey string

const (
	// contextKeyBearerToken はAuthorizationヘッダーに載せるトークンのキー。
	contextKeyBearerToken contextKey = "bearer_token"
	// contextKeyUserID はX-User-IDヘッダーに載せるユーザーIDのキー。
	contextKeyUserID contextKey = "user_id"
)

// WithBearerToken はリクエストに付与するBearerトークンをコンテキストに設定する。
func WithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, contextKeyBearerToken, token)
}

// WithUserID はアップストリームへ伝播するユーザーIDをコンテキストに設定する。
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKeyUserID, userID)
}
