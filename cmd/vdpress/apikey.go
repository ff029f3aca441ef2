package main

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "API key commands",
}

var apikeyHashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Hash an API key for api.api_key_hash",
	RunE:  runAPIKeyHash,
}

const minAPIKeyLength = 16

func init() {
	apikeyCmd.AddCommand(apikeyHashCmd)
}

func runAPIKeyHash(cmd *cobra.Command, args []string) error {
	fmt.Print("Enter API key: ")
	key, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return fmt.Errorf("failed to read key: %w", err)
	}
	fmt.Println()

	fmt.Print("Confirm API key: ")
	confirm, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return fmt.Errorf("failed to read key: %w", err)
	}
	fmt.Println()

	hash, err := hashAPIKey(string(key), string(confirm))
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func hashAPIKey(key, confirm string) (string, error) {
	if key != confirm {
		return "", fmt.Errorf("keys do not match")
	}
	if len(key) < minAPIKeyLength {
		return "", fmt.Errorf("API key must be at least %d characters", minAPIKeyLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(hash), nil
}
