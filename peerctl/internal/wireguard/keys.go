package wireguard

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

const (
	DefaultKeyTool = "wg"
	// BuiltinKeyTool selects the in-process generator instead of a binary.
	BuiltinKeyTool = "builtin"
)

var ErrToolNotFound = errors.New("key tool is not installed")

// Keypair is a WireGuard keypair in its base64 text form.
type Keypair struct {
	Private string
	Public  string
}

type KeyGenerator interface {
	GenerateKeypair(ctx context.Context) (Keypair, error)
}

// NewKeyGenerator returns the generator named by tool: BuiltinKeyTool or
// a path/name of a `wg`-compatible binary.
func NewKeyGenerator(tool string) KeyGenerator {
	tool = strings.TrimSpace(tool)
	if tool == BuiltinKeyTool {
		return BuiltinKeyGenerator{}
	}
	if tool == "" {
		tool = DefaultKeyTool
	}
	return ExecKeyGenerator{Binary: tool}
}

// ExecKeyGenerator runs `<Binary> genkey` and pipes the result into
// `<Binary> pubkey`.
type ExecKeyGenerator struct {
	Binary string
}

func (g ExecKeyGenerator) GenerateKeypair(ctx context.Context) (Keypair, error) {
	bin := g.Binary
	if bin == "" {
		bin = DefaultKeyTool
	}

	privOut, err := exec.CommandContext(ctx, bin, "genkey").Output()
	if err != nil {
		return Keypair{}, toolError(bin, "genkey", err)
	}
	priv := strings.TrimSpace(string(privOut))
	if priv == "" {
		return Keypair{}, fmt.Errorf("%s genkey: empty private key", bin)
	}

	pubCmd := exec.CommandContext(ctx, bin, "pubkey")
	pubCmd.Stdin = strings.NewReader(priv + "\n")
	pubOut, err := pubCmd.Output()
	if err != nil {
		return Keypair{}, toolError(bin, "pubkey", err)
	}
	pub := strings.TrimSpace(string(pubOut))

	if _, err := wgtypes.ParseKey(priv); err != nil {
		return Keypair{}, fmt.Errorf("%s genkey: parse private key: %w", bin, err)
	}
	if _, err := wgtypes.ParseKey(pub); err != nil {
		return Keypair{}, fmt.Errorf("%s pubkey: parse public key: %w", bin, err)
	}
	return Keypair{Private: priv, Public: pub}, nil
}

func toolError(bin, sub string, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", bin, ErrToolNotFound)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if stderr := strings.TrimSpace(string(exitErr.Stderr)); stderr != "" {
			return fmt.Errorf("%s %s: %w: %s", bin, sub, err, stderr)
		}
	}
	return fmt.Errorf("%s %s: %w", bin, sub, err)
}

// BuiltinKeyGenerator derives keys with wgtypes, no binary required.
type BuiltinKeyGenerator struct{}

func (BuiltinKeyGenerator) GenerateKeypair(context.Context) (Keypair, error) {
	key, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return Keypair{}, fmt.Errorf("generate key: %w", err)
	}
	return Keypair{Private: key.String(), Public: key.PublicKey().String()}, nil
}

// IsToolNotFound reports whether err means the key binary is missing.
func IsToolNotFound(err error) bool {
	return errors.Is(err, ErrToolNotFound)
}
