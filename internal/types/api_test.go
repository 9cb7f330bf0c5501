package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// TestRequestJSONFieldNames verifies request JSON field names are camelCase
func TestRequestJSONFieldNames(t *testing.T) {
	mainFrame := false
	req := Request{
		Cmd:        CmdRequestFetch,
		URL:        "https://example.com",
		Method:     "POST",
		Headers:    map[string]string{"Accept": "text/html"},
		PostData:   "key=value",
		MaxTimeout: 60000,
		MainFrame:  &mainFrame,
		Gesture:    true,
		Origin:     OriginScript,
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	jsonStr := string(data)

	expectedFields := []string{
		`"cmd"`,
		`"url"`,
		`"method"`,
		`"headers"`,
		`"postData"`,
		`"maxTimeout"`,
		`"mainFrame"`,
		`"userGesture"`,
		`"origin"`,
	}

	for _, field := range expectedFields {
		if !strings.Contains(jsonStr, field) {
			t.Errorf("Expected field %s not found in JSON: %s", field, jsonStr)
		}
	}

	incorrectFields := []string{
		`"post_data"`,
		`"main_frame"`,
		`"max_timeout"`,
	}

	for _, field := range incorrectFields {
		if strings.Contains(jsonStr, field) {
			t.Errorf("Unexpected field %s found in JSON: %s", field, jsonStr)
		}
	}
}

func TestResponseJSONFieldNames(t *testing.T) {
	resp := Response{
		Status:    StatusOK,
		Message:   "Fetched",
		StartTime: 1705432800000,
		EndTime:   1705432801000,
		Version:   "1.0.0",
		Fetch: &FetchResult{
			URL:      "https://example.com",
			Status:   200,
			Reason:   "OK",
			MIMEType: "text/html",
			Encoding: "utf-8",
		},
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Failed to marshal response: %v", err)
	}

	jsonStr := string(data)

	expectedFields := []string{
		`"status"`,
		`"message"`,
		`"startTimestamp"`,
		`"endTimestamp"`,
		`"version"`,
		`"fetch"`,
		`"mimeType"`,
		`"encoding"`,
		`"intercepted"`,
	}

	for _, field := range expectedFields {
		if !strings.Contains(jsonStr, field) {
			t.Errorf("Expected field %s not found in JSON: %s", field, jsonStr)
		}
	}

	for _, field := range []string{`"render"`, `"cookies"`, `"scripts"`} {
		if strings.Contains(jsonStr, field) {
			t.Errorf("Unexpected empty field %s found in JSON: %s", field, jsonStr)
		}
	}
}

func TestRequestIsMainFrame(t *testing.T) {
	var req Request
	if !req.IsMainFrame() {
		t.Error("Expected absent mainFrame to default to true")
	}

	if err := json.Unmarshal([]byte(`{"cmd":"request.fetch","url":"https://a.test","mainFrame":false}`), &req); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if req.IsMainFrame() {
		t.Error("Expected mainFrame=false to be honoured")
	}
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr string
	}{
		{name: "fetch ok", req: Request{Cmd: CmdRequestFetch, URL: "https://example.com"}},
		{name: "fetch allows other schemes", req: Request{Cmd: CmdRequestFetch, URL: "data:text/html,hi"}},
		{name: "render rejects other schemes", req: Request{Cmd: CmdPageRender, URL: "file:///etc/passwd"}, wantErr: "scheme"},
		{name: "missing cmd", req: Request{}, wantErr: "cmd is required"},
		{name: "unknown cmd", req: Request{Cmd: "request.get"}, wantErr: "Unknown command"},
		{name: "fetch requires url", req: Request{Cmd: CmdRequestFetch}, wantErr: "url is required"},
		{name: "cookies.get without url", req: Request{Cmd: CmdCookiesGet}},
		{name: "bad origin", req: Request{Cmd: CmdCookiesGet, Origin: "ftp"}, wantErr: "origin"},
		{name: "negative timeout", req: Request{Cmd: CmdScriptsList, MaxTimeout: -1}, wantErr: "negative"},
		{name: "timeout too large", req: Request{Cmd: CmdScriptsList, MaxTimeout: MaxTimeoutMs + 1}, wantErr: "maxTimeout"},
		{
			name:    "cookie without domain",
			req:     Request{Cmd: CmdCookiesSet, Cookies: []Cookie{{Name: "a", Value: "1"}}},
			wantErr: "domain is required",
		},
		{
			name:    "cookie path traversal",
			req:     Request{Cmd: CmdCookiesSet, Cookies: []Cookie{{Name: "a", Domain: "a.test", Path: "/../x"}}},
			wantErr: "..",
		},
		{
			name:    "long method",
			req:     Request{Cmd: CmdRequestFetch, URL: "https://a.test", Method: strings.Repeat("G", MaxMethodLength+1)},
			wantErr: "method",
		},
		{
			name:    "post data too large",
			req:     Request{Cmd: CmdRequestFetch, URL: "https://a.test", PostData: strings.Repeat("x", MaxPostDataLength+1)},
			wantErr: "postData",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestFetchErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := NewFetchError(-6, "connect", "https://a.test", cause)

	if !errors.Is(err, ErrFetchFailed) {
		t.Error("Expected FetchError to match ErrFetchFailed")
	}
	if !errors.Is(err, cause) {
		t.Error("Expected FetchError to match its cause")
	}

	var fe *FetchError
	if !errors.As(error(err), &fe) || fe.Code != -6 {
		t.Errorf("errors.As failed or wrong code: %+v", fe)
	}
	if !strings.Contains(err.Error(), "connect") {
		t.Errorf("Error() = %q, want kind in message", err.Error())
	}
}
