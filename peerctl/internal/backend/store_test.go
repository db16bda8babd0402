package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wg-peerctl/peerctl/internal/wireguard"
)

type countingKeys struct {
	calls int
	err   error
}

func (k *countingKeys) GenerateKeypair(context.Context) (wireguard.Keypair, error) {
	if k.err != nil {
		return wireguard.Keypair{}, k.err
	}
	k.calls++
	return wireguard.Keypair{
		Private: fmt.Sprintf("priv-%d", k.calls),
		Public:  fmt.Sprintf("pub-%d", k.calls),
	}, nil
}

type fixedPassphrases struct {
	calls int
}

func (p *fixedPassphrases) GeneratePassphrase() (string, error) {
	p.calls++
	return strings.Repeat("A", 31) + fmt.Sprint(p.calls%8+2), nil
}

type recordingWriter struct {
	written []string
	err     error
}

func (w *recordingWriter) WritePeer(_ *Document, username string, _ *Peer) error {
	w.written = append(w.written, username)
	return w.err
}

func newTestStore(t *testing.T, content string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backend.yaml")
	if content != "" {
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write backend: %v", err)
		}
	}
	return &Store{
		Path:        path,
		Keys:        &countingKeys{},
		Passphrases: &fixedPassphrases{},
		Artifacts:   &recordingWriter{},
	}
}

const populatedBackend = `server:
  dns: 1.1.1.1
  host: vpn.example.org
  keepalive: 15
  mtu: 1380
  port: 443
  privkey: server-priv
  pubkey: server-pub
  routes: 10.0.0.0/8
  tunnel_address: 10.8.0.1/24
  issuer: Example
peers:
  zed:
    ip_address: 10.8.0.9
    privkey: zed-priv
    pubkey: zed-pub
  alice:
    ip_address: 10.8.0.2/32
    privkey: alice-priv
    pubkey: alice-pub
    passphrase: ABCDEFGHIJKLMNOPQRSTUVWXYZ234567
`

func TestOpenMissingFileInitializesDefaults(t *testing.T) {
	s := newTestStore(t, "")

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	doc := s.Document()
	if doc.Server == nil {
		t.Fatal("expected server record")
	}
	if doc.Server.Port != 51820 || doc.Server.MTU != 1400 || doc.Server.Keepalive != 25 {
		t.Fatalf("unexpected defaults: %+v", doc.Server)
	}
	if doc.Server.PrivateKey != "priv-1" || doc.Server.PublicKey != "pub-1" {
		t.Fatalf("expected generated server keys, got %q/%q", doc.Server.PrivateKey, doc.Server.PublicKey)
	}
	if doc.Server.Issuer != "Acme Inc." {
		t.Fatalf("unexpected issuer %q", doc.Server.Issuer)
	}
	if doc.Peers.Len() != 0 {
		t.Fatalf("expected no peers, got %d", doc.Peers.Len())
	}
	if !s.Changed() {
		t.Fatal("document for a missing file must be marked changed")
	}
}

func TestOpenFallsBackOnBrokenFile(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantChanged bool
	}{
		{name: "blank", content: " \n", wantChanged: true},
		{name: "garbage", content: "server: [unterminated\n"},
		{name: "scalar", content: "just a string\n"},
		{name: "sequence", content: "- a\n- b\n"},
		{name: "peers as list", content: "peers:\n  - alice\n"},
		{name: "scalar peer", content: "peers:\n  alice: 10.0.0.2\n"},
		{name: "tab indent", content: "peers:\n  alice:\n    ip_address: 10.0.0.2\n\tbob:\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, tt.content)
			if err := s.Open(context.Background()); err != nil {
				t.Fatalf("Open: %v", err)
			}
			if s.Document().Server == nil || s.Document().Server.Port != 51820 {
				t.Fatalf("expected default server, got %+v", s.Document().Server)
			}
			if s.Changed() != tt.wantChanged {
				t.Fatalf("expected changed=%v, got %v", tt.wantChanged, s.Changed())
			}
		})
	}
}

func TestInitializeIfEmptyDoesNotMarkChanged(t *testing.T) {
	s := newTestStore(t, populatedBackend)
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Document().Server = nil

	if err := s.InitializeIfEmpty(context.Background()); err != nil {
		t.Fatalf("InitializeIfEmpty: %v", err)
	}
	if s.Document().Server == nil {
		t.Fatal("expected server record")
	}
	if s.Changed() {
		t.Fatal("initialization alone must not mark the store changed")
	}
}

func TestLoadReturnsErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestOpenKeepsPopulatedDocument(t *testing.T) {
	s := newTestStore(t, populatedBackend)

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Changed() {
		t.Fatal("valid document must not be marked changed")
	}
	doc := s.Document()
	if doc.Server.Host != "vpn.example.org" || doc.Server.Port != 443 {
		t.Fatalf("server not loaded: %+v", doc.Server)
	}
	if got := strings.Join(doc.Peers.Names(), ","); got != "zed,alice" {
		t.Fatalf("expected file order zed,alice, got %s", got)
	}
	alice, _ := doc.Peers.Get("alice")
	if !alice.TOTPEnabled() || alice.PassphraseValue() != "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567" {
		t.Fatalf("alice passphrase not loaded: %+v", alice)
	}
	zed, _ := doc.Peers.Get("zed")
	if zed.TOTPEnabled() {
		t.Fatal("zed must not have TOTP enabled")
	}
}

func TestRepairPeers(t *testing.T) {
	s := newTestStore(t, `server:
  privkey: server-priv
  pubkey: server-pub
peers:
  nokeys:
    ip_address: 10.0.0.2
    privkey: only-priv
  placeholder:
  emptysecret:
    ip_address: 10.0.0.4
    privkey: keep-priv
    pubkey: keep-pub
    passphrase:
  quoted:
    ip_address: 10.0.0.5
    privkey: keep-priv
    pubkey: keep-pub
    passphrase: ""
`)

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !s.Changed() {
		t.Fatal("repaired document must be marked changed")
	}

	doc := s.Document()
	for _, name := range []string{"nokeys", "placeholder"} {
		p, ok := doc.Peers.Get(name)
		if !ok {
			t.Fatalf("peer %s missing", name)
		}
		if p.PrivateKey == "" || p.PublicKey == "" {
			t.Errorf("peer %s not repaired: %+v", name, p)
		}
		if p.PrivateKey == "only-priv" {
			t.Errorf("peer %s must get a fresh keypair", name)
		}
		if p.TOTPEnabled() {
			t.Errorf("peer %s must not gain a passphrase", name)
		}
	}

	for _, name := range []string{"emptysecret", "quoted"} {
		p, _ := doc.Peers.Get(name)
		if p.PrivateKey != "keep-priv" {
			t.Errorf("peer %s keys must be kept", name)
		}
		if len(p.PassphraseValue()) != 32 {
			t.Errorf("peer %s passphrase not regenerated: %q", name, p.PassphraseValue())
		}
	}
}

func TestRepairPeersPropagatesKeyToolError(t *testing.T) {
	s := newTestStore(t, `server:
  privkey: a
  pubkey: b
peers:
  bob:
    ip_address: 10.0.0.2
`)
	s.Keys = &countingKeys{err: wireguard.ErrToolNotFound}

	if err := s.Open(context.Background()); !wireguard.IsToolNotFound(err) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	s := newTestStore(t, populatedBackend)
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		t.Fatalf("read saved backend: %v", err)
	}
	if string(data) != populatedBackend {
		t.Fatalf("saved backend differs:\n%s\nwant:\n%s", data, populatedBackend)
	}

	info, err := os.Stat(s.Path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected mode 0600, got %v", info.Mode().Perm())
	}
}

func TestSaveEmptyPeers(t *testing.T) {
	s := newTestStore(t, "")
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	doc, err := Load(s.Path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Server == nil || doc.Server.Port != 51820 || doc.Server.MTU != 1400 {
		t.Fatalf("unexpected server after reload: %+v", doc.Server)
	}
	if doc.Peers == nil || doc.Peers.Len() != 0 {
		t.Fatalf("expected empty peer map after reload")
	}

	data, _ := os.ReadFile(s.Path)
	if !strings.Contains(string(data), "peers: {}") {
		t.Fatalf("expected empty peer mapping in:\n%s", data)
	}
}

func TestStoreNotOpen(t *testing.T) {
	s := &Store{}
	if err := s.Save(); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
	if err := s.RemovePeer("x"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
}
