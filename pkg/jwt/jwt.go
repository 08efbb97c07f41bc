// Package jwt валидирует RS256 токены, выданные сервисом аккаунтов.
// Движку нужен только публичный ключ: он проверяет подпись, издателя,
// срок действия и отзыв токена.
package jwt

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken — подпись, формат или срок действия не прошли проверку.
	ErrInvalidToken = errors.New("невалидный токен")

	// ErrTokenRevoked — токен отозван.
	ErrTokenRevoked = errors.New("токен отозван")
)

// Claims содержит данные токена.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

// Config — параметры Validator.
type Config struct {
	PublicKeyPath string // PEM с публичным ключом
	Issuer        string // Ожидаемый iss; пусто — не проверяется
}

// Validator проверяет токены публичным ключом.
type Validator struct {
	publicKey   *rsa.PublicKey
	issuer      string
	revocations *Revocations
}

// NewValidator загружает публичный ключ и создаёт Validator.
func NewValidator(cfg Config) (*Validator, error) {
	key, err := LoadPublicKey(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки публичного ключа: %w", err)
	}
	return NewValidatorFromKey(key, cfg.Issuer), nil
}

// NewValidatorFromKey создаёт Validator из готового ключа.
func NewValidatorFromKey(key *rsa.PublicKey, issuer string) *Validator {
	return &Validator{publicKey: key, issuer: issuer}
}

// SetRevocations включает проверку отзыва токенов.
func (v *Validator) SetRevocations(r *Revocations) {
	v.revocations = r
}

// ValidateToken проверяет подпись, алгоритм, срок и издателя.
// Контекст нужен для проверки отзыва в Redis.
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.publicKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: отсутствует user_id", ErrInvalidToken)
	}

	if v.revocations != nil {
		if err := v.revocations.Verify(ctx, claims); err != nil {
			return nil, err
		}
	}

	return claims, nil
}

// LoadPublicKey загружает RSA публичный ключ из PEM (PKIX или PKCS#1).
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", path, err)
	}
	return ParsePublicKeyPEM(data)
}

// ParsePublicKeyPEM разбирает RSA публичный ключ из PEM.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("не удалось декодировать PEM блок")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}

	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("ключ не является RSA публичным ключом")
	}
	return rsaKey, nil
}
