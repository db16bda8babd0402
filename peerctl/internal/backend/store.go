// Package backend owns the YAML backend file: the server record and the
// peer map every artifact is rendered from.
//
// A Store is opened once per invocation. Opening never fails on a missing
// or unreadable file; the caller gets a fresh document instead, initialized
// with default server settings and repaired so that every peer carries a
// keypair. Mutations only mark the store as changed; nothing is persisted
// until Save is called, and the caller only saves a changed store.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"wg-peerctl/peerctl/internal/wireguard"
)

const fileMode = 0o600

type PassphraseGenerator interface {
	GeneratePassphrase() (string, error)
}

// PeerWriter renders the artifacts of a single peer. AddPeer calls it as
// soon as the peer is inserted.
type PeerWriter interface {
	WritePeer(doc *Document, username string, peer *Peer) error
}

type Store struct {
	Path        string
	Keys        wireguard.KeyGenerator
	Passphrases PassphraseGenerator
	Artifacts   PeerWriter
	Log         logrus.FieldLogger

	doc     *Document
	changed bool
}

// Load reads and decodes the backend file. Errors are returned as is; the
// caller decides whether to fall back to an empty document.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read backend: %w", err)
	}

	doc := NewDocument()
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse backend: %w", err)
	}
	if doc.Peers == nil {
		doc.Peers = NewPeers()
	}
	return doc, nil
}

// Save writes doc to path through a temp file in the same directory.
func Save(path string, doc *Document) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode backend: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode backend: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("ensure backend dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp backend: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp backend: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp backend: %w", err)
	}
	if err := os.Chmod(tmpName, fileMode); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod backend: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace backend: %w", err)
	}
	return nil
}

// Open loads the backend file, falling back to an empty document on any
// load error, then initializes and repairs it.
//
// Only a missing or blank file marks the initialized document as changed.
// A file that fails to decode is never replaced unless a later mutation
// marks the store changed.
func (s *Store) Open(ctx context.Context) error {
	log := s.logger().WithField("path", s.Path)

	fresh := false
	doc, err := Load(s.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Debug("Backend file does not exist, starting from an empty document")
		doc, fresh = NewDocument(), true
	case err != nil:
		log.WithError(err).Warn("Could not load backend file, using an empty document")
		doc = NewDocument()
	default:
		fresh = doc.Server == nil && doc.Peers.Len() == 0
	}
	s.doc = doc
	s.changed = false

	if err := s.InitializeIfEmpty(ctx); err != nil {
		return err
	}
	if fresh {
		s.changed = true
	}
	return s.RepairPeers(ctx)
}

// InitializeIfEmpty fills in the default server record and a fresh server
// keypair when the document has no server record. It does not mark the
// store changed.
func (s *Store) InitializeIfEmpty(ctx context.Context) error {
	if s.doc == nil {
		return ErrNotOpen
	}
	if s.doc.Peers == nil {
		s.doc.Peers = NewPeers()
	}
	if s.doc.Server != nil {
		return nil
	}

	kp, err := s.Keys.GenerateKeypair(ctx)
	if err != nil {
		return err
	}
	server := DefaultServer()
	server.PrivateKey = kp.Private
	server.PublicKey = kp.Public
	s.doc.Server = &server

	s.logger().WithField("path", s.Path).Debug("Initialized server with default settings")
	return nil
}

// RepairPeers backfills missing keypairs and empty passphrases.
func (s *Store) RepairPeers(ctx context.Context) error {
	if s.doc == nil {
		return ErrNotOpen
	}
	return s.doc.Peers.Each(func(username string, peer *Peer) error {
		if !peer.hasKeys() {
			s.logger().WithField("username", username).Debug("Generating new keys for user")
			kp, err := s.Keys.GenerateKeypair(ctx)
			if err != nil {
				return err
			}
			peer.PrivateKey = kp.Private
			peer.PublicKey = kp.Public
			s.changed = true
		}

		if peer.TOTPEnabled() && peer.PassphraseValue() == "" {
			s.logger().WithField("username", username).Debug("Generating new passphrase for user")
			passphrase, err := s.Passphrases.GeneratePassphrase()
			if err != nil {
				return err
			}
			peer.Passphrase = &passphrase
			s.changed = true
		}
		return nil
	})
}

func (s *Store) Save() error {
	if s.doc == nil {
		return ErrNotOpen
	}
	if err := Save(s.Path, s.doc); err != nil {
		return err
	}
	s.logger().WithField("path", s.Path).Debug("Saved backend")
	return nil
}

func (s *Store) Document() *Document {
	return s.doc
}

// Changed reports whether the in-memory document differs from the file.
func (s *Store) Changed() bool {
	return s.changed
}

func (s *Store) logger() logrus.FieldLogger {
	if s.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		return l
	}
	return s.Log
}
