package backend

import (
	"context"

	"github.com/sirupsen/logrus"
)

// AddPeer inserts a new peer with a fresh keypair and, when enableTOTP is
// set, a fresh passphrase. The peer's artifacts are written right away.
func (s *Store) AddPeer(ctx context.Context, username, ipAddress string, enableTOTP bool) (*Peer, error) {
	if s.doc == nil {
		return nil, ErrNotOpen
	}
	if _, ok := s.doc.Peers.Get(username); ok {
		return nil, &PeerError{Username: username, Err: ErrDuplicateUsername}
	}

	kp, err := s.Keys.GenerateKeypair(ctx)
	if err != nil {
		return nil, err
	}
	peer := &Peer{
		IPAddress:  ipAddress,
		PrivateKey: kp.Private,
		PublicKey:  kp.Public,
	}
	if enableTOTP {
		passphrase, err := s.Passphrases.GeneratePassphrase()
		if err != nil {
			return nil, err
		}
		peer.Passphrase = &passphrase
	}

	s.doc.Peers.Set(username, peer)
	s.changed = true
	s.logger().WithFields(logrus.Fields{"username": username, "totp": enableTOTP}).Debug("Added peer")

	if s.Artifacts != nil {
		if err := s.Artifacts.WritePeer(s.doc, username, peer); err != nil {
			return peer, err
		}
	}
	return peer, nil
}

// RemovePeer drops a peer from the map. Artifacts already rendered for it
// are left on disk.
func (s *Store) RemovePeer(username string) error {
	if s.doc == nil {
		return ErrNotOpen
	}
	if !s.doc.Peers.Delete(username) {
		return &PeerError{Username: username, Err: ErrUnknownUsername}
	}
	s.changed = true
	s.logger().WithField("username", username).Debug("Removed peer")
	return nil
}

// Peer looks up a single peer.
func (s *Store) Peer(username string) (*Peer, error) {
	if s.doc == nil {
		return nil, ErrNotOpen
	}
	peer, ok := s.doc.Peers.Get(username)
	if !ok {
		return nil, &PeerError{Username: username, Err: ErrUnknownUsername}
	}
	return peer, nil
}
