package backend

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Server is the singleton server record. Field order is the on-disk order.
type Server struct {
	DNS           string `yaml:"dns"`
	Host          string `yaml:"host"`
	Keepalive     int    `yaml:"keepalive"`
	MTU           int    `yaml:"mtu"`
	Port          int    `yaml:"port"`
	PrivateKey    string `yaml:"privkey"`
	PublicKey     string `yaml:"pubkey"`
	Routes        string `yaml:"routes"`
	TunnelAddress string `yaml:"tunnel_address"`
	Issuer        string `yaml:"issuer"`
}

func DefaultServer() Server {
	return Server{
		DNS:           "8.8.8.8",
		Host:          "example.com",
		Keepalive:     25,
		MTU:           1400,
		Port:          51820,
		Routes:        "0.0.0.0/0",
		TunnelAddress: "10.0.0.1/32",
		Issuer:        "Acme Inc.",
	}
}

// Peer is one VPN client. A non-nil Passphrase means TOTP is enabled,
// even when the stored value is empty.
type Peer struct {
	IPAddress  string  `yaml:"ip_address"`
	PrivateKey string  `yaml:"privkey"`
	PublicKey  string  `yaml:"pubkey"`
	Passphrase *string `yaml:"passphrase,omitempty"`
}

func (p *Peer) TOTPEnabled() bool {
	return p.Passphrase != nil
}

func (p *Peer) PassphraseValue() string {
	if p.Passphrase == nil {
		return ""
	}
	return *p.Passphrase
}

func (p *Peer) hasKeys() bool {
	return p.PrivateKey != "" && p.PublicKey != ""
}

func (p *Peer) UnmarshalYAML(value *yaml.Node) error {
	if isNull(value) {
		*p = Peer{}
		return nil
	}

	type plain Peer
	var decoded plain
	if err := value.Decode(&decoded); err != nil {
		return err
	}
	*p = Peer(decoded)

	// `passphrase:` with no value still marks TOTP as enabled.
	if p.Passphrase == nil && value.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(value.Content); i += 2 {
			if value.Content[i].Value == "passphrase" {
				p.Passphrase = new(string)
				break
			}
		}
	}
	return nil
}

// Peers is the username -> peer map, kept in insertion order.
type Peers struct {
	names  []string
	byName map[string]*Peer
}

func NewPeers() *Peers {
	return &Peers{byName: make(map[string]*Peer)}
}

func (ps *Peers) Len() int {
	if ps == nil {
		return 0
	}
	return len(ps.names)
}

func (ps *Peers) Names() []string {
	if ps == nil {
		return nil
	}
	out := make([]string, len(ps.names))
	copy(out, ps.names)
	return out
}

func (ps *Peers) Get(username string) (*Peer, bool) {
	if ps == nil {
		return nil, false
	}
	p, ok := ps.byName[username]
	return p, ok
}

// Set replaces an existing entry in place or appends a new one.
func (ps *Peers) Set(username string, peer *Peer) {
	if ps.byName == nil {
		ps.byName = make(map[string]*Peer)
	}
	if _, ok := ps.byName[username]; !ok {
		ps.names = append(ps.names, username)
	}
	ps.byName[username] = peer
}

func (ps *Peers) Delete(username string) bool {
	if _, ok := ps.byName[username]; !ok {
		return false
	}
	delete(ps.byName, username)
	for i, name := range ps.names {
		if name == username {
			ps.names = append(ps.names[:i], ps.names[i+1:]...)
			break
		}
	}
	return true
}

// Each visits peers in order and stops at the first error.
func (ps *Peers) Each(fn func(username string, peer *Peer) error) error {
	if ps == nil {
		return nil
	}
	for _, name := range ps.names {
		if err := fn(name, ps.byName[name]); err != nil {
			return err
		}
	}
	return nil
}

func (ps *Peers) UnmarshalYAML(value *yaml.Node) error {
	*ps = Peers{byName: make(map[string]*Peer)}
	if isNull(value) {
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: peers must be a mapping", value.Line)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		peer := &Peer{}
		if err := peer.UnmarshalYAML(val); err != nil {
			return fmt.Errorf("peer %q: %w", key.Value, err)
		}
		ps.Set(key.Value, peer)
	}
	return nil
}

func (ps Peers) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, name := range ps.names {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}
		val := &yaml.Node{}
		if err := val.Encode(ps.byName[name]); err != nil {
			return nil, fmt.Errorf("peer %q: %w", name, err)
		}
		node.Content = append(node.Content, key, val)
	}
	return node, nil
}

// Document is the whole backend file.
type Document struct {
	Server *Server `yaml:"server,omitempty"`
	Peers  *Peers  `yaml:"peers"`
}

func NewDocument() *Document {
	return &Document{Peers: NewPeers()}
}

func isNull(n *yaml.Node) bool {
	return n == nil || (n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null")
}
