// Package security はファイル名のサニタイズと外部通信の保護を提供する。
package security

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

// unsafeFilenameChars はオブジェクトキーに含めない文字。
var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// markupPolicy はファイル名からHTMLマークアップを取り除くポリシー。
// bluemondayのPolicyは並行利用に対して安全。
var markupPolicy = bluemonday.StrictPolicy()

// SanitizeFilename はアップロードされたファイル名をオブジェクトキーに使える形に変換する。
//
// 変換手順:
//   - NFKD正規化し、ASCII以外の文字を落とす
//   - HTMLマークアップを除去する
//   - パス区切り文字（/ と \）を空白に置き換え、空白の連続を "_" で連結する
//   - [A-Za-z0-9_.-] 以外の文字を削除する
//   - 先頭と末尾の "." と "_" を取り除く
//
// 結果には "/" が含まれないため、".." セグメントは生成されない。
// 全ての文字が除去された場合は空文字列を返す。
// 同一入力に対して常に同一出力を返し、出力を再度渡しても変化しない。
func SanitizeFilename(name string) string {
	name = norm.NFKD.String(name)
	name = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, name)

	name = html.UnescapeString(markupPolicy.Sanitize(name))

	name = strings.NewReplacer("/", " ", `\`, " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")

	return strings.Trim(name, "._")
}
