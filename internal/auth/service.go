// Package auth はOpenID Connectによる外部IdPでの認証フローを提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
)

var (
	// ErrMissingIDToken はトークンレスポンスにid_tokenが含まれないことを示す。
	ErrMissingIDToken = errors.New("no id_token in token response")
	// ErrNonceMismatch はIDトークンのnonceがログイン開始時の値と一致しないことを示す。
	ErrNonceMismatch = errors.New("id_token nonce mismatch")
	// ErrMissingEmail はIDトークンにemailクレームが含まれないことを示す。
	ErrMissingEmail = errors.New("id_token has no email claim")
)

// Identity はIdPから取得した認証済みユーザーの情報。
type Identity struct {
	Subject string
	Email   string
}

// Broker は外部IdPとの認可コードフローを扱うインターフェース。
type Broker interface {
	// AuthCodeURL はIdPの認可エンドポイントへのリダイレクトURLを生成する。
	AuthCodeURL(ctx context.Context, state, nonce string) (string, error)
	// Exchange は認可コードをトークンに交換し、IDトークンを検証してユーザー情報を返す。
	Exchange(ctx context.Context, code, nonce string) (*Identity, error)
	// LogoutURL はIdPのログアウトエンドポイントのURLを返す。
	LogoutURL(ctx context.Context) string
}

// RandomToken はstateやnonceに使う暗号的に安全なランダム値を生成する。
func RandomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
