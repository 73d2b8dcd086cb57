// Package files はユーザーごとの名前空間に閉じたファイル操作を提供する。
//
// 全てのオブジェクトキーは "<ユーザーのメールアドレス>/<ファイル名>" の形で、
// Prefixを先頭に付けて組み立てる。これがユーザー間の唯一の分離境界となる。
// アップロード時はファイル名をサニタイズし、ダウンロードと削除では一覧に
// 表示された名前をそのまま使う。
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/cloudstore/internal/metrics"
	"github.com/hitoshi/cloudstore/internal/security"
	"github.com/hitoshi/cloudstore/internal/storage"
)

// DefaultDownloadURLTTL はダウンロードURLのデフォルト有効期間。
const DefaultDownloadURLTTL = 300 * time.Second

// fallbackFilename はサニタイズ後に空になったアップロードに付ける名前。
const fallbackFilename = "unnamed"

var (
	// ErrInvalidFilename はファイル名が空、絶対パス、".."を含むなど
	// ユーザーのプレフィックス外を指し得ることを示す。
	ErrInvalidFilename = errors.New("invalid filename")
	// ErrNoUser はユーザーが指定されていないことを示す。
	ErrNoUser = errors.New("user is required")
)

// File はユーザーに表示する1ファイル。
type File struct {
	Name         string
	Key          string
	Size         int64
	LastModified time.Time
}

// Config はファイルサービスの設定。
type Config struct {
	DownloadURLTTL time.Duration
}

// Service はユーザーのプレフィックスに閉じたファイル操作を提供する。
type Service struct {
	store   storage.ObjectStore
	metrics metrics.MetricsCollector
	config  Config
}

// NewService はServiceを生成する。
func NewService(store storage.ObjectStore, collector metrics.MetricsCollector, config Config) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if config.DownloadURLTTL <= 0 {
		config.DownloadURLTTL = DefaultDownloadURLTTL
	}
	return &Service{
		store:   store,
		metrics: collector,
		config:  config,
	}
}

// Prefix はユーザーの名前空間のキープレフィックスを返す。
func Prefix(user string) string {
	return user + "/"
}

// ObjectKey はユーザーとファイル名からアップロード先のオブジェクトキーを組み立てる。
// ファイル名は必ずサニタイズされるため、結果のキーは常にPrefix(user)で始まり
// 以降にパス区切りを含まない。
func ObjectKey(user, filename string) string {
	return Prefix(user) + security.SanitizeFilename(filename)
}

// List はユーザーのファイル一覧を返す。
// プレフィックス自体のキーや、プレフィックス以降が空のキーは除外する。
func (s *Service) List(ctx context.Context, user string) ([]File, error) {
	if user == "" {
		return nil, ErrNoUser
	}

	prefix := Prefix(user)
	start := time.Now()
	objects, err := s.store.List(ctx, prefix)
	s.metrics.RecordStorageOperation("list", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	result := make([]File, 0, len(objects))
	for _, obj := range objects {
		name, ok := strings.CutPrefix(obj.Key, prefix)
		if !ok || name == "" {
			continue
		}
		result = append(result, File{
			Name:         name,
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	return result, nil
}

// Upload はbodyをユーザーの名前空間に保存する。
// 既存の同名ファイルは上書きされる。
func (s *Service) Upload(ctx context.Context, user, filename string, body io.Reader, contentType string) (File, error) {
	if user == "" {
		return File{}, ErrNoUser
	}

	name := security.SanitizeFilename(filename)
	if name == "" {
		name = fallbackFilename
	}
	key := ObjectKey(user, name)

	start := time.Now()
	err := s.store.Upload(ctx, key, body, contentType)
	s.metrics.RecordStorageOperation("upload", err, time.Since(start))
	if err != nil {
		return File{}, fmt.Errorf("failed to upload file: %w", err)
	}

	slog.Info("file uploaded",
		slog.String("user", user),
		slog.String("key", key),
	)
	return File{Name: name, Key: key}, nil
}

// DownloadURL はユーザーのファイルを読み出す期限付き署名URLを返す。
func (s *Service) DownloadURL(ctx context.Context, user, filename string) (string, error) {
	key, err := s.scopedKey(user, filename)
	if err != nil {
		return "", err
	}

	start := time.Now()
	url, err := s.store.PresignGet(ctx, key, s.config.DownloadURLTTL)
	s.metrics.RecordStorageOperation("presign", err, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("failed to generate download URL: %w", err)
	}
	return url, nil
}

// Delete はユーザーのファイルを削除する。存在しない場合も成功とする。
func (s *Service) Delete(ctx context.Context, user, filename string) error {
	key, err := s.scopedKey(user, filename)
	if err != nil {
		return err
	}

	start := time.Now()
	err = s.store.Delete(ctx, key)
	s.metrics.RecordStorageOperation("delete", err, time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	slog.Info("file deleted",
		slog.String("user", user),
		slog.String("key", key),
	)
	return nil
}

// scopedKey は一覧に表示された名前から既存ファイルのキーを組み立てる。
// 名前は書き換えずに検証のみ行う。アップロード以外の経路で作られたキーも
// 一覧に現れるため、サニタイズすると別のオブジェクトを指してしまう。
func (s *Service) scopedKey(user, filename string) (string, error) {
	if user == "" {
		return "", ErrNoUser
	}
	if !validStoredName(filename) {
		return "", ErrInvalidFilename
	}
	return Prefix(user) + filename, nil
}

// validStoredName はnameがユーザーのプレフィックスの外を指し得ないことを確認する。
func validStoredName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.ContainsAny(name, "\\\x00") {
		return false
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return false
		}
	}
	return true
}
