// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed keeps the push token encrypted at rest with age
// (filippo.io/age). An operator generates an x25519 identity once,
// seals the token to its public key, and points the configuration at
// both files; the runner decrypts the token in memory at the start of
// each run.
//
// Sealed files hold base64-encoded age ciphertext on one line, so they
// survive copy and paste through terminals and config management.
// Identity files use age's own format (AGE-SECRET-KEY-1... with
// optional "#" comment lines), so keys from age-keygen work too.
package sealed

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"filippo.io/age"
)

// Keypair is an age x25519 identity and its recipient.
type Keypair struct {
	// PrivateKey is in AGE-SECRET-KEY-1... form. Never log it.
	PrivateKey string

	// PublicKey is the age1... recipient. Safe to publish.
	PublicKey string
}

// GenerateKeypair returns a new x25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}
	return &Keypair{
		PrivateKey: identity.String(),
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// IdentityFile renders k in the age-keygen file layout.
func (k *Keypair) IdentityFile(created time.Time) string {
	return fmt.Sprintf("# created: %s\n# public key: %s\n%s\n",
		created.UTC().Format(time.RFC3339), k.PublicKey, k.PrivateKey)
}

// Encrypt encrypts plaintext to the given age1... recipients and
// returns standard base64 ciphertext. At least one recipient is
// required.
func Encrypt(plaintext []byte, recipientKeys []string) (string, error) {
	if len(recipientKeys) == 0 {
		return "", fmt.Errorf("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(key))
		if err != nil {
			return "", fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext.Bytes()), nil
}

// Decrypt decrypts base64 ciphertext with any of identities.
func Decrypt(ciphertext string, identities ...age.Identity) ([]byte, error) {
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities to decrypt with")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return nil, fmt.Errorf("decoding base64 ciphertext: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(raw), identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return plaintext, nil
}

// LoadIdentities parses the identity file at path. The file must not
// be readable by group or others.
func LoadIdentities(path string) ([]age.Identity, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("identity file: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("identity file %s has mode %04o; it must not be accessible to group or others", path, info.Mode().Perm())
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("identity file: %w", err)
	}
	defer file.Close()
	identities, err := age.ParseIdentities(file)
	if err != nil {
		return nil, fmt.Errorf("parsing identity file %s: %w", path, err)
	}
	return identities, nil
}

// ReadToken decrypts the sealed file at sealedPath with the identity
// file at identityPath and returns the token with surrounding
// whitespace removed. An empty token is an error.
func ReadToken(sealedPath, identityPath string) (string, error) {
	identities, err := LoadIdentities(identityPath)
	if err != nil {
		return "", err
	}
	ciphertext, err := os.ReadFile(sealedPath)
	if err != nil {
		return "", fmt.Errorf("sealed token: %w", err)
	}
	plaintext, err := Decrypt(string(ciphertext), identities...)
	if err != nil {
		return "", fmt.Errorf("sealed token %s: %w", sealedPath, err)
	}
	token := strings.TrimSpace(string(plaintext))
	if token == "" {
		return "", fmt.Errorf("sealed token %s decrypts to an empty token", sealedPath)
	}
	return token, nil
}

// ParsePublicKey validates an age1... recipient string.
func ParsePublicKey(publicKey string) error {
	if _, err := age.ParseX25519Recipient(publicKey); err != nil {
		return fmt.Errorf("invalid age public key: %w", err)
	}
	return nil
}
