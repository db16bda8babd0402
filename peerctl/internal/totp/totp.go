// Package totp generates per-peer TOTP secrets and their enrollment artifacts.
//
// Secrets are 20 random bytes encoded as unpadded base32 (32 characters),
// which is what authenticator apps and the server's RequireToken line expect.
package totp

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"fmt"
	"io"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/xlzd/gotp"
)

const (
	PassphraseBytes = 20

	Digits    = 6
	Period    = 30
	Precision = 15

	// qrModulePixels is the size of one QR module; a negative size tells
	// go-qrcode to scale by module.
	qrModulePixels = 10
)

var ErrInvalidPassphrase = errors.New("passphrase is not valid base32")

// Generator reads PassphraseBytes from Rand for every new secret.
type Generator struct {
	Rand io.Reader
}

func NewGenerator() Generator {
	return Generator{Rand: rand.Reader}
}

func (g Generator) GeneratePassphrase() (string, error) {
	src := g.Rand
	if src == nil {
		src = rand.Reader
	}
	buf := make([]byte, PassphraseBytes)
	if _, err := io.ReadFull(src, buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return base32.StdEncoding.EncodeToString(buf), nil
}

// EnrollmentURI builds the otpauth URI shown to the peer as a QR code.
// Values are inserted verbatim.
func EnrollmentURI(username, passphrase, issuer string) string {
	return fmt.Sprintf("otpauth://totp/%s?secret=%s&issuer=%s", username, passphrase, issuer)
}

// RequireToken is the server-side token requirement for a passphrase.
func RequireToken(passphrase string) string {
	return fmt.Sprintf("totp-sha1:%s,digits=%d,period=%d,precision=%d", passphrase, Digits, Period, Precision)
}

// QRCode renders uri as a PNG.
func QRCode(uri string) ([]byte, error) {
	png, err := qrcode.Encode(uri, qrcode.Medium, -qrModulePixels)
	if err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}
	return png, nil
}

// CheckToken reports whether code is the current token for passphrase.
func CheckToken(passphrase, code string) (bool, error) {
	if err := validatePassphrase(passphrase); err != nil {
		return false, err
	}
	want := gotp.NewDefaultTOTP(passphrase).Now()
	code = strings.TrimSpace(code)
	return subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1, nil
}

// gotp panics on undecodable secrets.
func validatePassphrase(passphrase string) error {
	if passphrase == "" {
		return ErrInvalidPassphrase
	}
	s := strings.ToUpper(passphrase)
	if pad := len(s) % 8; pad != 0 {
		s += strings.Repeat("=", 8-pad)
	}
	if _, err := base32.StdEncoding.DecodeString(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPassphrase, err)
	}
	return nil
}
