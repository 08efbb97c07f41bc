// Package signature реализует подпись сообщений платёжного шлюза.
// Строка для подписи собирается из пар key=value, соединённых через '&',
// в порядке, заданном протоколом шлюза (не по алфавиту).
// Подпись — HMAC-SHA256 в нижнем регистре hex.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Field — одно поле канонической строки подписи.
type Field struct {
	Key   string
	Value string
}

// Fields — упорядоченный набор полей. Порядок значим.
type Fields []Field

// F — короткий конструктор Field.
func F(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Canonical возвращает строку "k1=v1&k2=v2..." в порядке полей.
// Отсутствующее значение передаётся как пустая строка, поле не пропускается.
func (f Fields) Canonical() string {
	var b strings.Builder
	for i, field := range f {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(field.Key)
		b.WriteByte('=')
		b.WriteString(field.Value)
	}
	return b.String()
}

// Sign вычисляет HMAC-SHA256 от канонической строки и возвращает lowercase hex.
func Sign(fields Fields, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fields.Canonical()))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify пересчитывает подпись и сравнивает её с переданной за постоянное время.
// Любое расхождение (включая пустую подпись) даёт false, ошибок не бывает.
func Verify(fields Fields, secret, provided string) bool {
	if provided == "" {
		return false
	}
	expected := Sign(fields, secret)
	return hmac.Equal([]byte(expected), []byte(provided))
}
