// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/statfeed/statfeed/cmd/statfeed/cli"
	"github.com/statfeed/statfeed/lib/sealed"
)

func tokenCommand(std streams, now func() time.Time) *cli.Command {
	return &cli.Command{
		Name:    "token",
		Summary: "Manage the sealed push token",
		Description: `Keep the push token encrypted at rest. Generate an identity once with
"keygen", seal the token to its public key with "seal", then set
auth.identity_file and auth.sealed_token_file in the configuration.`,
		Subcommands: []*cli.Command{
			tokenKeygenCommand(std, now),
			tokenSealCommand(std),
			tokenCheckCommand(std),
		},
	}
}

type keygenParams struct {
	Output string `flag:"output,o" desc:"identity file to create (mode 0600, must not exist)"`
}

func tokenKeygenCommand(std streams, now func() time.Time) *cli.Command {
	var params keygenParams
	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate an age identity",
		Description: `Generate an x25519 identity. The identity is written to --output
(or stdout when omitted) and the public key is printed.`,
		Usage: "statfeed token keygen [--output FILE]",
		Examples: []cli.Example{
			{Description: "Create the runner identity", Command: "statfeed token keygen -o /etc/statfeed/identity.txt"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("keygen", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			keypair, err := sealed.GenerateKeypair()
			if err != nil {
				return err
			}
			identity := keypair.IdentityFile(now())
			if params.Output == "" {
				_, err := io.WriteString(std.stdout, identity)
				return err
			}
			if err := writeSecretFile(params.Output, identity); err != nil {
				return err
			}
			fmt.Fprintf(std.stdout, "public key: %s\n", keypair.PublicKey)
			return nil
		},
	}
}

type sealParams struct {
	Recipients []string `flag:"recipient,r" desc:"age1... public key to seal to (repeatable)"`
	Output     string   `flag:"output,o" desc:"sealed token file to create (default: stdout)"`
}

func tokenSealCommand(std streams) *cli.Command {
	var params sealParams
	return &cli.Command{
		Name:    "seal",
		Summary: "Encrypt a token to one or more public keys",
		Description: `Read the token from stdin and seal it to every --recipient. On a
terminal the token is read without echo.`,
		Usage: "statfeed token seal --recipient KEY [--output FILE]",
		Examples: []cli.Example{
			{Description: "Seal a token from the environment", Command: "printenv GITHUB_TOKEN | statfeed token seal -r age1... -o token.sealed"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("seal", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			if len(params.Recipients) == 0 {
				return errors.New("at least one --recipient is required")
			}
			for _, recipient := range params.Recipients {
				if err := sealed.ParsePublicKey(recipient); err != nil {
					return err
				}
			}
			token, err := readToken(std)
			if err != nil {
				return err
			}
			ciphertext, err := sealed.Encrypt([]byte(token), params.Recipients)
			if err != nil {
				return err
			}
			if params.Output == "" {
				_, err := fmt.Fprintln(std.stdout, ciphertext)
				return err
			}
			return writeSecretFile(params.Output, ciphertext+"\n")
		},
	}
}

func tokenCheckCommand(std streams) *cli.Command {
	var params configParams
	return &cli.Command{
		Name:    "check",
		Summary: "Verify the configured token can be read",
		Description: `Resolve the push token the way a run does (sealed file or
environment variable) and report where it came from. The token itself
is never printed.`,
		Usage: "statfeed token check [--config FILE]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("check", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			cfg, err := params.load(false)
			if err != nil {
				return err
			}
			token, err := cfg.Token()
			if err != nil {
				return err
			}
			source := "environment variable " + cfg.Auth.TokenEnv
			if cfg.Auth.SealedTokenFile != "" {
				source = "sealed file " + cfg.Auth.SealedTokenFile
			}
			if token == "" {
				fmt.Fprintf(std.stdout, "no token from %s; pushes use git's own credentials\n", source)
				return nil
			}
			fmt.Fprintf(std.stdout, "token read from %s (%d characters)\n", source, len(token))
			return nil
		},
	}
}

// readToken reads the token from stdin, without echo on a terminal.
func readToken(std streams) (string, error) {
	if file, ok := std.stdin.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		fmt.Fprint(os.Stderr, "token: ")
		secret, err := term.ReadPassword(int(file.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading token: %w", err)
		}
		return validToken(string(secret))
	}
	data, err := io.ReadAll(std.stdin)
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return validToken(string(data))
}

func validToken(raw string) (string, error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		return "", errors.New("empty token on stdin")
	}
	if strings.ContainsAny(token, "\r\n") {
		return "", errors.New("token must be a single line")
	}
	return token, nil
}

// writeSecretFile creates path with mode 0600, refusing to overwrite.
func writeSecretFile(path, content string) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := file.WriteString(content); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return file.Close()
}
