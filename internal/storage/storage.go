// Package storage はオブジェクトストアへのアクセスを提供する。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// センチネルエラー
var (
	// ErrNotFound はオブジェクトが存在しないことを示す。
	ErrNotFound = errors.New("object not found")
	// ErrAccessDenied は権限不足を示す。
	ErrAccessDenied = errors.New("access denied")
	// ErrBucketNotFound はバケットが存在しないことを示す。
	ErrBucketNotFound = errors.New("bucket not found")
	// ErrInvalidCredentials は認証情報が不正であることを示す。
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Object はオブジェクトストア上の1オブジェクトのメタデータ。
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore はキー単位でオブジェクトを操作するストアのインターフェース。
// キーのスコープ付けは呼び出し側の責務とする。
type ObjectStore interface {
	// List はprefixで始まるオブジェクトを1ページ分返す。
	List(ctx context.Context, prefix string) ([]Object, error)
	// Upload はbodyをストリームしてkeyに保存する。既存のキーは上書きする。
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
	// PresignGet はkeyを読み出すための期限付き署名URLを生成する。
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Delete はkeyを削除する。存在しないキーの削除も成功とする。
	Delete(ctx context.Context, key string) error
}

// Error はストア操作の失敗に操作名とキーを付与する。
type Error struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("s3 %s: %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("s3 %s: %s: %v", e.Op, e.Bucket, e.Err)
}

// Unwrap はerrors.Is/Asのために元のエラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}
