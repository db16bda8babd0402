package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	EnvPrefix = "PEERCTL"

	DefaultBackendFile          = "/etc/128technology/tunsafe/tunsafe-backend.yaml"
	DefaultServerConfigFilename = "/etc/128technology/tunsafe/tunsafe1.conf"
	DefaultPeerConfigDirectory  = "/tmp/tunsafe/"
	DefaultNumRandBytes         = 20
	DefaultKeyTool              = "wg"
)

var (
	ErrUsernameRequired  = errors.New("username is required for this operation")
	ErrIPAddressRequired = errors.New("ip address for new peer is required")
)

// Defaults are the path and tool settings before flags are applied.
type Defaults struct {
	BackendFile          string `split_words:"true"`
	ServerConfigFilename string `split_words:"true"`
	PeerConfigDirectory  string `split_words:"true"`
	NumRandBytes         int    `split_words:"true"`
	KeyTool              string `split_words:"true"`
}

// BuiltinDefaults returns the settings used when no environment overrides
// them.
func BuiltinDefaults() Defaults {
	return Defaults{
		BackendFile:          DefaultBackendFile,
		ServerConfigFilename: DefaultServerConfigFilename,
		PeerConfigDirectory:  DefaultPeerConfigDirectory,
		NumRandBytes:         DefaultNumRandBytes,
		KeyTool:              DefaultKeyTool,
	}
}

// LoadDefaults reads optional .env files and PEERCTL_* variables on top of
// BuiltinDefaults. Unset variables keep the builtin value.
func LoadDefaults(envFiles ...string) (Defaults, error) {
	_ = godotenv.Load(envFiles...)

	d := BuiltinDefaults()
	if err := envconfig.Process(EnvPrefix, &d); err != nil {
		return Defaults{}, fmt.Errorf("failed to process env config: %w", err)
	}
	return d, nil
}

// Options carries everything a single invocation needs. It is passed
// explicitly; nothing here is global.
type Options struct {
	BackendFile          string `validate:"required"`
	ServerConfigFilename string `validate:"required"`
	PeerConfigDirectory  string `validate:"required"`
	// NumRandBytes is accepted for compatibility; passphrases always use
	// 20 bytes.
	NumRandBytes int    `validate:"gte=1"`
	KeyTool      string `validate:"required"`
	Debug        bool
	Verify       bool

	Logger *logrus.Logger `validate:"-"`
}

func (d Defaults) Options() Options {
	return Options{
		BackendFile:          d.BackendFile,
		ServerConfigFilename: d.ServerConfigFilename,
		PeerConfigDirectory:  d.PeerConfigDirectory,
		NumRandBytes:         d.NumRandBytes,
		KeyTool:              d.KeyTool,
	}
}

var validate = validator.New()

func (o Options) Validate() error {
	var result *multierror.Error

	if err := validate.Struct(o); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			result = multierror.Append(result, fieldError(fe))
		}
	}
	if o.Logger == nil {
		result = multierror.Append(result, errors.New("logger is required"))
	}

	return result.ErrorOrNil()
}

func fieldError(fe validator.FieldError) error {
	name := flagName(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s must not be empty", name)
	case "gte":
		return fmt.Errorf("%s must be >= %s", name, fe.Param())
	default:
		return fmt.Errorf("%s is invalid (%s)", name, fe.Tag())
	}
}

// flagName maps a field name such as BackendFile to backend-file.
func flagName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

// NewLogger builds the invocation's logger; debug enables diagnostics.
func NewLogger(debug bool, out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if debug {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}
