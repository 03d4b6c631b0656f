package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// testPayload はテスト用のレスポンスペイロード。
type testPayload struct {
	// Login はテスト用のログイン名フィールド。
	Login string `json:"login"`
	// ID はテスト用の数値フィールド。
	ID int64 `json:"id"`
}

// TestNew はNew関数でクライアントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("既定のタイムアウトが5秒であること", func(t *testing.T) {
		t.Parallel()

		client := New("https://api.github.com")
		if client.BaseURL() != "https://api.github.com" {
			t.Errorf("BaseURL() = %q, want %q", client.BaseURL(), "https://api.github.com")
		}
		if client.HTTPClient().Timeout != DefaultTimeout {
			t.Errorf("Timeout = %v, want %v", client.HTTPClient().Timeout, DefaultTimeout)
		}
	})

	t.Run("WithTimeoutでタイムアウトを変更できること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost", WithTimeout(2*time.Second))
		if client.HTTPClient().Timeout != 2*time.Second {
			t.Errorf("Timeout = %v, want 2s", client.HTTPClient().Timeout)
		}
	})

	t.Run("WithHTTPClientで共有クライアントを使えること", func(t *testing.T) {
		t.Parallel()

		shared := &http.Client{Timeout: time.Second}
		client := New("http://localhost", WithHTTPClient(shared))
		if client.HTTPClient() != shared {
			t.Error("WithHTTPClientで渡したクライアントが使われていない")
		}
	})
}

// TestGetJSON はGetJSON関数を検証する。
func TestGetJSON(t *testing.T) {
	t.Parallel()

	t.Run("正常にGETリクエストを送信してレスポンスを取得できること", func(t *testing.T) {
		t.Parallel()

		var gotMethod, gotPath, gotAccept string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotPath = r.URL.Path
			gotAccept = r.Header.Get("Accept")
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(testPayload{Login: "octocat", ID: 1})
		}))
		defer ts.Close()

		var result testPayload
		if err := New(ts.URL).GetJSON(context.Background(), "/user", &result); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}

		if gotMethod != http.MethodGet {
			t.Errorf("Method = %q, want %q", gotMethod, http.MethodGet)
		}
		if gotPath != "/user" {
			t.Errorf("Path = %q, want %q", gotPath, "/user")
		}
		if gotAccept != "application/json" {
			t.Errorf("Accept = %q, want %q", gotAccept, "application/json")
		}
		if result.Login != "octocat" || result.ID != 1 {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("2xx以外はStatusErrorになること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"Bad credentials"}`))
		}))
		defer ts.Close()

		err := New(ts.URL).GetJSON(context.Background(), "/user", &testPayload{})
		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			t.Fatalf("StatusErrorが返るべきだが %v が返った", err)
		}
		if statusErr.StatusCode != http.StatusUnauthorized {
			t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, http.StatusUnauthorized)
		}
		if !strings.Contains(statusErr.Body, "Bad credentials") {
			t.Errorf("Body = %q", statusErr.Body)
		}
		if strings.Contains(statusErr.Error(), "Bad credentials") {
			t.Error("エラーメッセージにレスポンスボディが含まれている")
		}
	})

	t.Run("不正なJSONレスポンスでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{invalid json}`))
		}))
		defer ts.Close()

		if err := New(ts.URL).GetJSON(context.Background(), "/user", &testPayload{}); err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("タイムアウトを超えるとエラーが返ること", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer ts.Close()
		defer close(release)

		client := New(ts.URL, WithTimeout(50*time.Millisecond))
		if err := client.GetJSON(context.Background(), "/slow", nil); err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("接続できないサーバーに対してエラーが返ること", func(t *testing.T) {
		t.Parallel()

		if err := New("http://127.0.0.1:1").GetJSON(context.Background(), "/user", nil); err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestWithBearerToken はWithBearerToken関数を検証する。
func TestWithBearerToken(t *testing.T) {
	t.Parallel()

	t.Run("コンテキストのトークンがAuthorizationヘッダーになること", func(t *testing.T) {
		t.Parallel()

		var gotAuth string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			w.Write([]byte(`{}`))
		}))
		defer ts.Close()

		ctx := WithBearerToken(context.Background(), "gho_abc")
		if err := New(ts.URL).GetJSON(ctx, "/user", &testPayload{}); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}
		if gotAuth != "Bearer gho_abc" {
			t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer gho_abc")
		}
	})

	t.Run("トークンが無ければAuthorizationヘッダーを付けないこと", func(t *testing.T) {
		t.Parallel()

		gotAuth := "unset"
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			w.Write([]byte(`{}`))
		}))
		defer ts.Close()

		if err := New(ts.URL).GetJSON(context.Background(), "/user", &testPayload{}); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}
		if gotAuth != "" {
			t.Errorf("Authorization = %q, want empty", gotAuth)
		}
	})
}

// TestForward はForward関数を検証する。
func TestForward(t *testing.T) {
	t.Parallel()

	t.Run("メソッドとボディとヘッダーを転送しユーザーIDを伝播すること", func(t *testing.T) {
		t.Parallel()

		var gotMethod, gotBody, gotType, gotUser string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
			gotType = r.Header.Get("Content-Type")
			gotUser = r.Header.Get(HeaderUserID)
			w.WriteHeader(http.StatusAccepted)
		}))
		defer ts.Close()

		ctx := WithUserID(context.Background(), "583231")
		header := http.Header{"Content-Type": []string{"application/json"}}
		resp, err := New(ts.URL).Forward(ctx, http.MethodPut, "/items/1", strings.NewReader(`{"a":1}`), header)
		if err != nil {
			t.Fatalf("Forward()でエラーが発生: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusAccepted {
			t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusAccepted)
		}
		if gotMethod != http.MethodPut {
			t.Errorf("Method = %q", gotMethod)
		}
		if gotBody != `{"a":1}` {
			t.Errorf("Body = %q", gotBody)
		}
		if gotType != "application/json" {
			t.Errorf("Content-Type = %q", gotType)
		}
		if gotUser != "583231" {
			t.Errorf("%s = %q, want %q", HeaderUserID, gotUser, "583231")
		}
	})

	t.Run("2xx以外もエラーにせずそのまま返すこと", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer ts.Close()

		resp, err := New(ts.URL).Forward(context.Background(), http.MethodGet, "/missing", nil, nil)
		if err != nil {
			t.Fatalf("Forward()でエラーが発生: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusNotFound)
		}
	})
}
