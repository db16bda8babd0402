package render

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// Summary counts the stanzas of a rendered config.
type Summary struct {
	Interfaces int
	Peers      int
}

// Summarize parses rendered config text back as INI.
func Summarize(text string) (Summary, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		AllowNonUniqueSections: true,
	}, []byte(text))
	if err != nil {
		return Summary{}, fmt.Errorf("parse config: %w", err)
	}

	var s Summary
	for _, section := range cfg.Sections() {
		switch section.Name() {
		case "Interface":
			s.Interfaces++
		case "Peer":
			s.Peers++
		}
	}
	return s, nil
}

// VerifyServerConfig checks that text has one [Interface] stanza and one
// [Peer] stanza per peer.
func VerifyServerConfig(text string, peers int) error {
	s, err := Summarize(text)
	if err != nil {
		return err
	}
	if s.Interfaces != 1 {
		return fmt.Errorf("server config has %d [Interface] sections, want 1", s.Interfaces)
	}
	if s.Peers != peers {
		return fmt.Errorf("server config has %d [Peer] sections, want %d", s.Peers, peers)
	}
	return nil
}
