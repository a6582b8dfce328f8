// Command arbseal seals a secret (such as the OAuth password) with a
// passphrase so arbbot can read it from oauth.password_file.
//
//	ARBBOT_OAUTH_PASSPHRASE=... arbseal -out oauth.sealed < password.txt
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/alanyoungcy/stratoarb/internal/crypto"
)

func main() {
	out := flag.String("out", "", "file to write the sealed secret to")
	flag.Parse()

	if err := run(*out); err != nil {
		fmt.Fprintf(os.Stderr, "arbseal: %v\n", err)
		os.Exit(1)
	}
}

func run(out string) error {
	if out == "" {
		return fmt.Errorf("-out is required")
	}
	passphrase := os.Getenv("ARBBOT_OAUTH_PASSPHRASE")
	if passphrase == "" {
		return fmt.Errorf("ARBBOT_OAUTH_PASSPHRASE is not set")
	}

	secret, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && secret == "" {
		return fmt.Errorf("read secret from stdin: %w", err)
	}
	secret = strings.TrimRight(secret, "\r\n")

	blob, err := crypto.Seal(secret, passphrase)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, blob, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	return nil
}
