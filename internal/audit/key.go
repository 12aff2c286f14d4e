package audit

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/argon2"

	dErrors "devguard/pkg/domain-errors"
)

// DefaultKeyEnv names the environment variable holding the shadow key.
const DefaultKeyEnv = "DEVGUARD_SHADOW_KEY"

// Argon2id parameters for passphrase keys.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	minSaltLen   = 8
)

// Key is the process-lifetime shadow key. There is no rotation: entries are
// readable only while the same key is configured.
type Key struct {
	Bytes []byte
	// Ephemeral is true when the key was generated for this run only; shadow
	// entries written under it are unreadable after restart.
	Ephemeral bool
	// Derived is true when the key was stretched from a passphrase.
	Derived bool
}

// KeyOptions controls how the key is resolved at startup.
type KeyOptions struct {
	// EnvName defaults to DefaultKeyEnv.
	EnvName string
	// Salt is used to stretch passphrase values.
	Salt string
	// AllowEphemeral permits a random key when the variable is unset.
	AllowEphemeral bool
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// LoadKey resolves the shadow key once at process start. A 64 character hex
// value is used as the raw key; any other value is treated as a passphrase
// and stretched with Argon2id. A missing value is an error unless
// AllowEphemeral is set.
func LoadKey(opts KeyOptions) (Key, error) {
	if opts.EnvName == "" {
		opts.EnvName = DefaultKeyEnv
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}

	value := strings.TrimSpace(opts.Getenv(opts.EnvName))
	if value == "" {
		if !opts.AllowEphemeral {
			return Key{}, dErrors.Newf(dErrors.CodeInvalidInput,
				"%s is not set; refusing to start without a shadow key (set audit.allow_ephemeral_key to override)", opts.EnvName)
		}
		key := make([]byte, KeySize)
		if _, err := rand.Read(key); err != nil {
			return Key{}, fmt.Errorf("generate ephemeral key: %w", err)
		}
		return Key{Bytes: key, Ephemeral: true}, nil
	}
	return ParseKey(value, opts.Salt)
}

// ParseKey turns a configured value into a key.
func ParseKey(value, salt string) (Key, error) {
	if len(value) == hex.EncodedLen(KeySize) {
		if raw, err := hex.DecodeString(value); err == nil {
			return Key{Bytes: raw}, nil
		}
	}
	if len(salt) < minSaltLen {
		return Key{}, dErrors.Newf(dErrors.CodeInvalidInput, "passphrase keys need a salt of at least %d bytes", minSaltLen)
	}
	derived := argon2.IDKey([]byte(value), []byte(salt), argonTime, argonMemory, argonThreads, KeySize)
	return Key{Bytes: derived, Derived: true}, nil
}
