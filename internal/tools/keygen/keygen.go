// Package keygen generates Ed25519 client keypairs and can sign a sample
// request for exercising the signed write path from the command line.
package keygen

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openagora/agora/internal/signing"
)

// Config holds keygen configuration.
type Config struct {
	// PrivateKey, when set, signs a sample request instead of generating a keypair.
	PrivateKey string
	Method     string
	Path       string
	Body       string
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	fs.StringVar(&cfg.PrivateKey, "sign", "", "hex private key: sign a request instead of generating a keypair")
	fs.StringVar(&cfg.Method, "method", "POST", "request method for -sign")
	fs.StringVar(&cfg.Path, "path", "", "request path for -sign")
	fs.StringVar(&cfg.Body, "body", "", "request body for -sign")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes key generation or request signing and writes the result to out.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}
	if strings.TrimSpace(cfg.PrivateKey) == "" {
		return generate(out, reader)
	}
	return sign(cfg, out)
}

func generate(out io.Writer, reader io.Reader) error {
	pub, priv, err := ed25519.GenerateKey(reader)
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}
	if _, err := fmt.Fprintf(out, "public=%s\n", hex.EncodeToString(pub)); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "private=%s\n", hex.EncodeToString(priv))
	return err
}

func sign(cfg Config, out io.Writer) error {
	raw, err := hex.DecodeString(strings.TrimSpace(cfg.PrivateKey))
	if err != nil || len(raw) != ed25519.PrivateKeySize {
		return errors.New("sign: private key must be 64 hex-encoded bytes")
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return errors.New("sign: -path is required")
	}

	priv := ed25519.PrivateKey(raw)
	pub := priv.Public().(ed25519.PublicKey)
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	nonce := uuid.NewString()

	message := signing.Canonical(cfg.Method, cfg.Path, timestamp, nonce, []byte(cfg.Body))
	sig := ed25519.Sign(priv, message)

	lines := []string{
		"X-Pubkey: " + hex.EncodeToString(pub),
		"X-Signature: " + hex.EncodeToString(sig),
		"X-Timestamp: " + timestamp,
		"X-Nonce: " + nonce,
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}
