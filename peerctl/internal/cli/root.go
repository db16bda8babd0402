package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"wg-peerctl/peerctl/internal/backend"
	"wg-peerctl/peerctl/internal/config"
	"wg-peerctl/peerctl/internal/render"
	"wg-peerctl/peerctl/internal/totp"
	"wg-peerctl/peerctl/internal/wireguard"
)

type action int

const (
	actionNone action = iota
	actionAddPeer
	actionRemovePeer
	actionWritePeerConfigs
	actionWriteServerConfig
	actionCheckToken
)

type rootOptions struct {
	config.Options

	AddPeer           bool
	RemovePeer        bool
	WritePeerConfigs  bool
	WriteServerConfig bool
	CheckToken        string

	Username  string
	IPAddress string
	TOTP      bool
}

func (o *rootOptions) action() action {
	switch {
	case o.AddPeer:
		return actionAddPeer
	case o.RemovePeer:
		return actionRemovePeer
	case o.WritePeerConfigs:
		return actionWritePeerConfigs
	case o.WriteServerConfig:
		return actionWriteServerConfig
	case o.CheckToken != "":
		return actionCheckToken
	default:
		return actionNone
	}
}

// validateRequest trims the username and IP address in place, then checks
// the per-action arguments.
func (o *rootOptions) validateRequest() error {
	o.Username = strings.TrimSpace(o.Username)
	o.IPAddress = strings.TrimSpace(o.IPAddress)

	act := o.action()
	switch act {
	case actionAddPeer, actionRemovePeer, actionCheckToken:
		if o.Username == "" {
			return config.ErrUsernameRequired
		}
	}
	if act == actionAddPeer && o.IPAddress == "" {
		return config.ErrIPAddressRequired
	}
	return nil
}

// NewRootCommand builds the peerctl command with defaults taken from d.
func NewRootCommand(d config.Defaults) *cobra.Command {
	opts := &rootOptions{Options: d.Options()}

	cmd := &cobra.Command{
		Use:          "peerctl",
		Short:        "Create WireGuard peers and update server config",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Logger = config.NewLogger(opts.Debug, cmd.ErrOrStderr())
			if cmd.Flags().Changed("num-rand-bytes") {
				opts.Logger.WithField("num_rand_bytes", opts.NumRandBytes).
					Debugf("Ignoring --num-rand-bytes, passphrases use %d bytes", totp.PassphraseBytes)
			}
			return run(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&opts.AddPeer, "add-peer", "a", false, "add a new peer")
	f.BoolVarP(&opts.RemovePeer, "remove-peer", "r", false, "remove an existing peer")
	f.BoolVar(&opts.WritePeerConfigs, "write-peer-configs", false, "create peer config files from backend file")
	f.BoolVar(&opts.WriteServerConfig, "write-server-config", false, "create server config file from backend file")
	f.StringVar(&opts.CheckToken, "check-token", "", "verify a TOTP code for --username")
	cmd.MarkFlagsMutuallyExclusive("add-peer", "remove-peer", "write-peer-configs", "write-server-config", "check-token")

	f.StringVarP(&opts.Username, "username", "u", "", "username to annotate peer")
	f.StringVarP(&opts.IPAddress, "ip-address", "i", "", "ip address for the new peer")
	f.BoolVarP(&opts.TOTP, "totp", "t", false, "generate secret for TOTP 2-factor-authentication")

	f.StringVar(&opts.BackendFile, "backend-file", opts.BackendFile, "backend YAML file")
	f.StringVar(&opts.ServerConfigFilename, "server-config-filename", opts.ServerConfigFilename, "server config filename")
	f.StringVar(&opts.PeerConfigDirectory, "peer-config-directory", opts.PeerConfigDirectory, "peer config directory")
	f.IntVar(&opts.NumRandBytes, "num-rand-bytes", opts.NumRandBytes, "number of random bytes (ignored)")
	f.StringVar(&opts.KeyTool, "key-tool", opts.KeyTool, `key generation binary, or "builtin"`)
	f.BoolVar(&opts.Verify, "verify", false, "parse the written server config back and check its sections")
	f.BoolVarP(&opts.Debug, "debug", "d", false, "print debug messages")

	return cmd
}

func run(cmd *cobra.Command, opts *rootOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if err := opts.validateRequest(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	log := opts.Logger

	writer := render.Writer{PeerDir: opts.PeerConfigDirectory, Log: log}
	store := &backend.Store{
		Path:        opts.BackendFile,
		Keys:        wireguard.NewKeyGenerator(opts.KeyTool),
		Passphrases: totp.NewGenerator(),
		Artifacts:   writer,
		Log:         log,
	}
	if err := store.Open(ctx); err != nil {
		return err
	}

	switch opts.action() {
	case actionAddPeer:
		if _, err := store.AddPeer(ctx, opts.Username, opts.IPAddress, opts.TOTP); err != nil {
			return err
		}
		if err := writeServerConfig(writer, opts, store.Document(), log); err != nil {
			return err
		}
	case actionRemovePeer:
		if err := store.RemovePeer(opts.Username); err != nil {
			return err
		}
		if err := writeServerConfig(writer, opts, store.Document(), log); err != nil {
			return err
		}
	case actionWritePeerConfigs:
		if err := writer.WriteAllPeers(store.Document()); err != nil {
			return err
		}
	case actionWriteServerConfig:
		if err := writeServerConfig(writer, opts, store.Document(), log); err != nil {
			return err
		}
	case actionCheckToken:
		if err := checkToken(cmd, store, opts.Username, opts.CheckToken); err != nil {
			return err
		}
	}

	if store.Changed() {
		return store.Save()
	}
	log.Debug("Backend unchanged, skipping write")
	return nil
}

func writeServerConfig(w render.Writer, opts *rootOptions, doc *backend.Document, log logrus.FieldLogger) error {
	text, err := w.WriteServer(opts.ServerConfigFilename, doc)
	if err != nil {
		return err
	}
	if opts.Verify {
		if err := render.VerifyServerConfig(text, doc.Peers.Len()); err != nil {
			return err
		}
		log.WithField("peers", doc.Peers.Len()).Debug("Server config verified")
	}
	return nil
}

var errNoPassphrase = errors.New("TOTP is not enabled for user")

func checkToken(cmd *cobra.Command, store *backend.Store, username, code string) error {
	peer, err := store.Peer(username)
	if err != nil {
		return err
	}
	if !peer.TOTPEnabled() {
		return fmt.Errorf("%w: %s", errNoPassphrase, username)
	}
	ok, err := totp.CheckToken(peer.PassphraseValue(), code)
	if err != nil {
		return fmt.Errorf("user %s: %w", username, err)
	}
	if !ok {
		return fmt.Errorf("invalid token for user: %s", username)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "valid")
	return nil
}
