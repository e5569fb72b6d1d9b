package otp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	step   = 30 // секунд на одно окно
	digits = 6
)

// ErrCodeDerivation — секрет не декодируется. Это ошибка конфигурации, не ретраим.
var ErrCodeDerivation = errors.New("code derivation failed")

type CodeDerivationError struct {
	Reason string
	Err    error
}

func (e *CodeDerivationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrCodeDerivation, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrCodeDerivation, e.Reason)
}

func (e *CodeDerivationError) Unwrap() error { return ErrCodeDerivation }

// normalizeSecret: убираем пробелы, верхний регистр, добиваем '=' до кратности 8.
func normalizeSecret(secret string) string {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	if rem := len(s) % 8; rem != 0 {
		s += strings.Repeat("=", 8-rem)
	}
	return s
}

// Code выдаёт 6-значный код для окна floor(t/30).
func Code(secret string, t time.Time) (string, error) {
	norm := normalizeSecret(secret)
	if norm == "" {
		return "", &CodeDerivationError{Reason: "empty secret"}
	}
	key, err := base32.StdEncoding.DecodeString(norm)
	if err != nil {
		return "", &CodeDerivationError{Reason: "secret is not base32", Err: err}
	}

	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], uint64(t.Unix()/step))

	mac := hmac.New(sha1.New, key)
	_, _ = mac.Write(counter[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

// Provider — генератор кодов под один секрет.
type Provider struct {
	secret string
	now    func() time.Time
}

func NewProvider(secret string) *Provider {
	return &Provider{secret: secret, now: time.Now}
}

// WithClock — для тестов.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	p.now = now
	return p
}

func (p *Provider) Enabled() bool {
	return p != nil && strings.TrimSpace(p.secret) != ""
}

func (p *Provider) Code() (string, error) {
	return Code(p.secret, p.now())
}

// Validate вызываем на старте: битый секрет должен уронить запуск, а не цикл.
func (p *Provider) Validate() error {
	if !p.Enabled() {
		return nil
	}
	_, err := p.Code()
	return err
}

// Mask — в логах показываем только первые две цифры.
func Mask(code string) string {
	if len(code) <= 2 {
		return strings.Repeat("*", len(code))
	}
	return code[:2] + strings.Repeat("*", len(code)-2)
}
