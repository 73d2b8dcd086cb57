package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/cloudstore/internal/files"
	"github.com/hitoshi/cloudstore/internal/middleware"
	"github.com/hitoshi/cloudstore/internal/session"
)

// uploadFieldName はアップロードフォームのファイルフィールド名。
const uploadFieldName = "file"

// FileService はファイルハンドラーが必要とするサービスインターフェース。
type FileService interface {
	List(ctx context.Context, user string) ([]files.File, error)
	Upload(ctx context.Context, user, filename string, body io.Reader, contentType string) (files.File, error)
	DownloadURL(ctx context.Context, user, filename string) (string, error)
	Delete(ctx context.Context, user, filename string) error
}

// FileHandlerConfig はファイルハンドラーの設定。
type FileHandlerConfig struct {
	// UploadMaxBytes はリクエストボディの上限。0以下は無制限。
	UploadMaxBytes int64
}

// FileHandler はトップページとファイル操作のHTTPハンドラー。
type FileHandler struct {
	service FileService
	pages   *renderer
	config  FileHandlerConfig
}

// NewFileHandler はFileHandlerを生成する。
func NewFileHandler(service FileService, config FileHandlerConfig) *FileHandler {
	return &FileHandler{
		service: service,
		pages:   mustRenderer(),
		config:  config,
	}
}

// Index はログイン済みならファイル一覧を、未ログインならランディングページを返す。
// GET /
func (h *FileHandler) Index(w http.ResponseWriter, r *http.Request) {
	user, ok := session.UserFromContext(r.Context())
	if !ok {
		h.pages.render(w, http.StatusOK, "landing", pageData{})
		return
	}

	list, err := h.service.List(r.Context(), user)
	if err != nil {
		h.internalError(w, r, "failed to list files", err)
		return
	}

	h.pages.render(w, http.StatusOK, "index", pageData{
		User:      user,
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		Files:     list,
	})
}

// Upload はmultipartボディのファイルパートをバッファせずにオブジェクトストアへ転送する。
// ファイルが含まれない場合は何もせずトップページへ戻す。
// POST /upload
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user, _ := session.UserFromContext(r.Context())

	if h.config.UploadMaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.config.UploadMaxBytes)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		slog.Warn("upload request is not multipart", slog.String("error", err.Error()))
		redirectHome(w, r)
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			redirectHome(w, r)
			return
		}
		if err != nil {
			h.uploadError(w, r, err)
			return
		}
		if part.FormName() != uploadFieldName {
			part.Close()
			continue
		}

		filename := part.FileName()
		if filename == "" {
			part.Close()
			redirectHome(w, r)
			return
		}

		_, err = h.service.Upload(r.Context(), user, filename, part, part.Header.Get("Content-Type"))
		part.Close()
		if err != nil {
			h.uploadError(w, r, err)
			return
		}
		redirectHome(w, r)
		return
	}
}

// Download は署名付きURLへリダイレクトする。
// GET /download/{filename}
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	user, _ := session.UserFromContext(r.Context())

	target, err := h.service.DownloadURL(r.Context(), user, wildcardName(r))
	if errors.Is(err, files.ErrInvalidFilename) {
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}
	if err != nil {
		h.internalError(w, r, "failed to generate download URL", err)
		return
	}

	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// Delete はファイルを削除してトップページへ戻す。
// GET /delete/{filename}
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, _ := session.UserFromContext(r.Context())

	err := h.service.Delete(r.Context(), user, wildcardName(r))
	if err != nil && !errors.Is(err, files.ErrInvalidFilename) {
		h.internalError(w, r, "failed to delete file", err)
		return
	}

	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

func (h *FileHandler) uploadError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		slog.Warn("upload exceeds size limit",
			slog.Int64("limit", maxErr.Limit),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		h.pages.renderError(w, r, http.StatusRequestEntityTooLarge, "The file is too large.")
		return
	}
	h.internalError(w, r, "failed to upload file", err)
}

func (h *FileHandler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	user, _ := session.UserFromContext(r.Context())
	slog.Error(msg,
		slog.String("error", err.Error()),
		slog.String("user", user),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)
	h.pages.renderError(w, r, http.StatusInternalServerError, "Something went wrong. Please try again later.")
}

// redirectHome はフォーム送信後にGETでトップページへ戻す。
func redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// wildcardName はルートのワイルドカード部分をファイル名として取り出す。
// エスケープが残っている場合は1度だけデコードする。
func wildcardName(r *http.Request) string {
	raw := chi.URLParam(r, "*")
	if name, err := url.PathUnescape(raw); err == nil {
		return name
	}
	return raw
}
