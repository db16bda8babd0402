// Package render turns the backend document into WireGuard configuration
// text. Each artifact is built as a list of lines and finished by one
// shared normalization step.
package render

import (
	"errors"
	"strconv"
	"strings"

	"wg-peerctl/peerctl/internal/backend"
	"wg-peerctl/peerctl/internal/totp"
)

const hostSuffix = "/32"

// ErrNoServer is returned when a document has no server record to render
// against.
var ErrNoServer = errors.New("backend document has no server record")

// NormalizeAddress appends /32 unless the address already ends with it.
// The address itself is not validated.
func NormalizeAddress(addr string) string {
	if strings.HasSuffix(addr, hostSuffix) {
		return addr
	}
	return addr + hostSuffix
}

// ServerConfigLines builds the server's [Interface] stanza followed by a
// commented [Peer] stanza per peer, in map order.
func ServerConfigLines(doc *backend.Document) ([]string, error) {
	if doc == nil || doc.Server == nil {
		return nil, ErrNoServer
	}
	server := doc.Server
	lines := []string{
		"[Interface]",
		kv("Address", server.TunnelAddress),
		kv("PrivateKey", server.PrivateKey),
	}

	for _, username := range doc.Peers.Names() {
		peer, _ := doc.Peers.Get(username)
		lines = append(lines,
			"",
			"# "+username,
			"[Peer]",
			kv("AllowedIPs", NormalizeAddress(peer.IPAddress)),
			kv("PersistentKeepalive", strconv.Itoa(server.Keepalive)),
			kv("PublicKey", peer.PublicKey),
		)
		if peer.TOTPEnabled() {
			lines = append(lines, kv("RequireToken", totp.RequireToken(peer.PassphraseValue())))
		}
	}
	return lines, nil
}

func ServerConfig(doc *backend.Document) (string, error) {
	lines, err := ServerConfigLines(doc)
	if err != nil {
		return "", err
	}
	return finish(lines), nil
}

// PeerConfigLines builds a client config pointing at the server.
func PeerConfigLines(server *backend.Server, peer *backend.Peer) ([]string, error) {
	if server == nil {
		return nil, ErrNoServer
	}
	return []string{
		"[Interface]",
		kv("Address", NormalizeAddress(peer.IPAddress)),
		kv("DNS", server.DNS),
		kv("MTU", strconv.Itoa(server.MTU)),
		kv("PrivateKey", peer.PrivateKey),
		"",
		"[Peer]",
		kv("AllowedIPs", server.Routes),
		kv("Endpoint", server.Host+":"+strconv.Itoa(server.Port)),
		kv("PersistentKeepalive", strconv.Itoa(server.Keepalive)),
		kv("PublicKey", server.PublicKey),
	}, nil
}

func PeerConfig(doc *backend.Document, peer *backend.Peer) (string, error) {
	if doc == nil {
		return "", ErrNoServer
	}
	lines, err := PeerConfigLines(doc.Server, peer)
	if err != nil {
		return "", err
	}
	return finish(lines), nil
}

func kv(key, value string) string {
	return key + " = " + value
}

// finish trims every line and the whole text, and ends it with exactly
// one newline.
func finish(lines []string) string {
	trimmed := make([]string, len(lines))
	for i, line := range lines {
		trimmed[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(trimmed, "\n")) + "\n"
}
