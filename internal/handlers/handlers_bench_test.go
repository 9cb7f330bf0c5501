package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Rorqualx/pagehook/internal/config"
	"github.com/Rorqualx/pagehook/internal/cookiejar"
	"github.com/Rorqualx/pagehook/internal/intercept"
	"github.com/Rorqualx/pagehook/internal/types"
	"github.com/Rorqualx/pagehook/internal/userscript"
)

// BenchmarkRequestParsing measures the request body path every command takes.
func BenchmarkRequestParsing(b *testing.B) {
	cookies := make([]types.Cookie, 20)
	for i := range cookies {
		cookies[i] = types.Cookie{
			Name:   "cookie" + string(rune('a'+i)),
			Value:  strings.Repeat("x", 100),
			Domain: "example.com",
			Path:   "/",
		}
	}
	reqBody, _ := json.Marshal(types.Request{
		Cmd:     types.CmdCookiesSet,
		Cookies: cookies,
	})

	b.Run("DirectUnmarshal", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var req types.Request
			_ = json.Unmarshal(reqBody, &req)
		}
	})

	b.Run("WithPooledBuffer", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			buf := getBuffer()
			_, _ = io.Copy(buf, bytes.NewReader(reqBody))
			var req types.Request
			_ = json.Unmarshal(buf.Bytes(), &req)
			putBuffer(buf)
		}
	})
}

// BenchmarkFetchResponseEncode measures encoding a typical fetched document.
func BenchmarkFetchResponseEncode(b *testing.B) {
	resp := types.Response{
		Status:    types.StatusOK,
		Message:   "Request fetched",
		StartTime: 1234567890123,
		EndTime:   1234567890456,
		Version:   "dev",
		Fetch: &types.FetchResult{
			URL:         "https://example.com/",
			Intercepted: true,
			Status:      200,
			Reason:      "OK",
			MIMEType:    "text/html",
			Encoding:    "utf-8",
			Headers:     map[string]string{"content-type": "text/html; charset=utf-8"},
			Response:    strings.Repeat("x", 10000),
			Injected:    true,
		},
	}

	b.Run("WithPool", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			buf := getResponseBuffer()
			_ = json.NewEncoder(buf).Encode(resp)
			putResponseBuffer(buf)
		}
	})

	b.Run("WithoutPool", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = json.Marshal(resp)
		}
	})
}

// BenchmarkCookieCommands measures routing overhead for commands that
// never leave the process.
func BenchmarkCookieCommands(b *testing.B) {
	scripts, err := userscript.NewManager("", false)
	if err != nil {
		b.Fatal(err)
	}
	defer scripts.Close()
	d := intercept.NewDispatcher(intercept.Options{}, cookiejar.New(), scripts, nil, nil)
	defer d.Close()
	h := New(d, scripts, nil, &config.Config{DefaultTimeout: time.Second, MaxTimeout: time.Second})

	set, _ := json.Marshal(types.Request{
		Cmd:     types.CmdCookiesSet,
		Cookies: []types.Cookie{{Name: "sid", Value: "abc", Domain: "example.com"}},
	})
	get, _ := json.Marshal(types.Request{Cmd: types.CmdCookiesGet, URL: "https://example.com/"})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, body := range [][]byte{set, get} {
			req := httptest.NewRequest(http.MethodPost, "/v1", bytes.NewReader(body))
			h.ServeHTTP(httptest.NewRecorder(), req)
		}
	}
}
