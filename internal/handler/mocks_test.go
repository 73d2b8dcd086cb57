package handler

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/hitoshi/cloudstore/internal/auth"
	"github.com/hitoshi/cloudstore/internal/files"
)

// --- モック定義 ---

type mockBroker struct {
	authCodeURLFn func(ctx context.Context, state, nonce string) (string, error)
	exchangeFn    func(ctx context.Context, code, nonce string) (*auth.Identity, error)
	logoutURL     string
}

func (m *mockBroker) AuthCodeURL(ctx context.Context, state, nonce string) (string, error) {
	if m.authCodeURLFn != nil {
		return m.authCodeURLFn(ctx, state, nonce)
	}
	return "https://idp.example.com/authorize?state=" + state + "&nonce=" + nonce, nil
}

func (m *mockBroker) Exchange(ctx context.Context, code, nonce string) (*auth.Identity, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code, nonce)
	}
	return &auth.Identity{Subject: "sub-1", Email: "alice@example.com"}, nil
}

func (m *mockBroker) LogoutURL(ctx context.Context) string {
	return m.logoutURL
}

type mockSessions struct {
	saved   string
	saveErr error
	cleared bool
}

func (m *mockSessions) Save(w http.ResponseWriter, user string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = user
	return nil
}

func (m *mockSessions) Clear(w http.ResponseWriter) {
	m.cleared = true
}

type recordingLogins struct {
	results []string
}

func (r *recordingLogins) RecordLogin(result string) {
	r.results = append(r.results, result)
}

type uploadCall struct {
	user        string
	filename    string
	body        string
	contentType string
}

// mockFileService は呼び出しを記録し、任意のエラーを返すFileService。
type mockFileService struct {
	mu sync.Mutex

	listFn      func(ctx context.Context, user string) ([]files.File, error)
	uploadErr   error
	downloadErr error
	deleteErr   error

	uploads   []uploadCall
	downloads []string
	deletes   []string
	lists     []string
}

func (m *mockFileService) List(ctx context.Context, user string) ([]files.File, error) {
	m.mu.Lock()
	m.lists = append(m.lists, user)
	m.mu.Unlock()
	if m.listFn != nil {
		return m.listFn(ctx, user)
	}
	return nil, nil
}

func (m *mockFileService) Upload(ctx context.Context, user, filename string, body io.Reader, contentType string) (files.File, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return files.File{}, err
	}
	m.mu.Lock()
	m.uploads = append(m.uploads, uploadCall{user: user, filename: filename, body: string(data), contentType: contentType})
	m.mu.Unlock()
	if m.uploadErr != nil {
		return files.File{}, m.uploadErr
	}
	return files.File{Name: filename, Key: files.ObjectKey(user, filename)}, nil
}

func (m *mockFileService) DownloadURL(ctx context.Context, user, filename string) (string, error) {
	m.mu.Lock()
	m.downloads = append(m.downloads, files.Prefix(user)+filename)
	m.mu.Unlock()
	if m.downloadErr != nil {
		return "", m.downloadErr
	}
	return "https://bucket.s3.amazonaws.com/" + files.Prefix(user) + filename + "?X-Amz-Signature=abc", nil
}

func (m *mockFileService) Delete(ctx context.Context, user, filename string) error {
	m.mu.Lock()
	m.deletes = append(m.deletes, files.Prefix(user)+filename)
	m.mu.Unlock()
	return m.deleteErr
}

func (m *mockFileService) storeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads) + len(m.downloads) + len(m.deletes) + len(m.lists)
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.err
}

// containsStr はsにsubstrが含まれるかを返す。
func containsStr(s, substr string) bool {
	return strings.Contains(s, substr)
}

// findCookie はレスポンスから指定名のCookieを探す。
func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
