package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/tokensource"
)

// authCommand returns the 'auth' subcommand for managing provider authentication.
func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage provider authentication",
		Commands: []*cli.Command{
			authSetKeyCommand(),
			authClearKeyCommand(),
		},
	}
}

// authSetKeyCommand returns the 'auth set-key' subcommand.
func authSetKeyCommand() *cli.Command {
	return &cli.Command{
		Name:   "set-key",
		Usage:  "Save the Anthropic API key to the OS keyring",
		Action: authSetKeyAction,
	}
}

// authClearKeyCommand returns the 'auth clear-key' subcommand.
func authClearKeyCommand() *cli.Command {
	return &cli.Command{
		Name:   "clear-key",
		Usage:  "Remove the Anthropic API key from the OS keyring",
		Action: authClearKeyAction,
	}
}

func authSetKeyAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"), os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Auth.Storage == config.KeyStorageEnv {
		return fmt.Errorf("cannot set key with env storage (read-only). Configure keyring storage or set %s", tokensource.EnvVar)
	}

	key, err := readSecureInput(ctx, "Enter Anthropic API key: ")
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	if err := tokensource.NewKeyringStore().Write(key); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}

	fmt.Println()
	fmt.Println("API key saved to OS keyring")

	return nil
}

func authClearKeyAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"), os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Auth.Storage == config.KeyStorageEnv {
		return fmt.Errorf("cannot clear key with env storage (read-only)")
	}

	// Clear via empty string write to maintain the storage abstraction
	if err := tokensource.NewKeyringStore().Write(""); err != nil {
		return fmt.Errorf("failed to clear key: %w", err)
	}

	fmt.Println()
	fmt.Println("API key cleared from OS keyring")

	return nil
}

// readSecureInput reads user input with hidden display and context cancellation support.
// Goroutine+select pattern required because term.ReadPassword has no native context support.
func readSecureInput(ctx context.Context, prompt string) (string, error) {
	fmt.Print(prompt)
	defer fmt.Println()

	type result struct {
		value string
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		inputBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		resultCh <- result{value: string(inputBytes), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return "", fmt.Errorf("failed to read input: %w", res.err)
		}
		return res.value, nil
	}
}
