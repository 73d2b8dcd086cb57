package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hitoshi/cloudstore/internal/files"
	"github.com/hitoshi/cloudstore/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

// timeLayout はファイル一覧に表示するアップロード日時の書式。
const timeLayout = "2006-01-02 15:04:05"

var templateFuncs = template.FuncMap{
	"pathEscape": url.PathEscape,
	"bytes": func(n int64) string {
		if n < 0 {
			n = 0
		}
		return humanize.IBytes(uint64(n))
	},
	"datetime": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(timeLayout)
	},
}

// pageData は全ページ共通のテンプレートデータ。
type pageData struct {
	User      string
	CSRFToken string
	Files     []files.File
	Message   string
}

// renderer はページごとにベースレイアウトと組み合わせたテンプレートを保持する。
type renderer struct {
	pages map[string]*template.Template
}

func newRenderer() (*renderer, error) {
	pages := map[string]*template.Template{}
	for _, name := range []string{"landing", "index", "error"} {
		tmpl, err := template.New(name).Funcs(templateFuncs).ParseFS(templateFS, "templates/base.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	return &renderer{pages: pages}, nil
}

// mustRenderer はテンプレートは埋め込みで実行時に変化しないため、失敗時はpanicする。
func mustRenderer() *renderer {
	r, err := newRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

// render はバッファに描画してから書き出す。描画途中の失敗で不完全なHTMLを返さない。
func (rd *renderer) render(w http.ResponseWriter, status int, page string, data pageData) {
	var buf bytes.Buffer
	if err := rd.pages[page].ExecuteTemplate(&buf, "base", data); err != nil {
		slog.Error("failed to render template",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// renderError は汎用のエラーページを返す。詳細はログにのみ残す。
func (rd *renderer) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	user, _ := session.UserFromContext(r.Context())
	rd.render(w, status, "error", pageData{User: user, Message: message})
}
