package render

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"wg-peerctl/peerctl/internal/backend"
	"wg-peerctl/peerctl/internal/totp"
)

const (
	artifactMode = 0o600
	dirMode      = 0o700
)

// Writer puts rendered artifacts on disk. Files whose content is already
// up to date are left alone.
type Writer struct {
	PeerDir string
	Log     logrus.FieldLogger
}

func PeerConfigPath(dir, issuer, username string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.conf", issuer, username))
}

func PeerQRCodePath(dir, issuer, username string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s-totp.png", issuer, username))
}

// WritePeer writes the peer's config and, for TOTP peers, the enrollment
// QR code.
func (w Writer) WritePeer(doc *backend.Document, username string, peer *backend.Peer) error {
	conf, err := PeerConfig(doc, peer)
	if err != nil {
		return fmt.Errorf("peer %s: %w", username, err)
	}
	if err := os.MkdirAll(w.PeerDir, dirMode); err != nil {
		return fmt.Errorf("ensure peer config dir: %w", err)
	}
	issuer := doc.Server.Issuer

	if err := w.write(PeerConfigPath(w.PeerDir, issuer, username), []byte(conf)); err != nil {
		return err
	}

	if !peer.TOTPEnabled() {
		return nil
	}
	png, err := totp.QRCode(totp.EnrollmentURI(username, peer.PassphraseValue(), issuer))
	if err != nil {
		return fmt.Errorf("peer %s: %w", username, err)
	}
	return w.write(PeerQRCodePath(w.PeerDir, issuer, username), png)
}

func (w Writer) WriteAllPeers(doc *backend.Document) error {
	return doc.Peers.Each(func(username string, peer *backend.Peer) error {
		return w.WritePeer(doc, username, peer)
	})
}

// WriteServer writes the server config to path and returns its content.
func (w Writer) WriteServer(path string, doc *backend.Document) (string, error) {
	text, err := ServerConfig(doc)
	if err != nil {
		return "", err
	}
	if err := w.write(path, []byte(text)); err != nil {
		return "", err
	}
	return text, nil
}

func (w Writer) write(path string, data []byte) error {
	log := w.logger().WithField("path", path)

	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, data) {
		log.Debug("Artifact unchanged")
		return nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).Debug("Could not read existing artifact")
	}

	if err := os.WriteFile(path, data, artifactMode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	log.Debug("Wrote artifact")
	return nil
}

func (w Writer) logger() logrus.FieldLogger {
	if w.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		return l
	}
	return w.Log
}
