package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/codefionn/deskrelay/internal/client"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	sendToken   string
	sendURL     string
	sendTimeout time.Duration
)

// sendCmd sends one command and prints the envelope.
var sendCmd = &cobra.Command{
	Use:   "send <action> [key=value ...]",
	Short: "Send one command to a running server",
	Long: `Send one command and print the response envelope.

Values are parsed as JSON when possible, so x=10 sends a number and
keys='["ctrl","c"]' sends a list. The token is taken from --token, the
configuration, or prompted for.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		params, err := client.ParseParams(args[1:])
		if err != nil {
			return err
		}

		token := sendToken
		if token == "" {
			token = cfg.AuthToken
		}
		if token == "" {
			if token, err = promptForToken("Token: "); err != nil {
				return err
			}
		}

		url := sendURL
		if url == "" {
			url = "ws://" + cfg.Addr() + "/"
		}

		c, err := client.Dial(cmd.Context(), &client.Config{
			URL:            url,
			Token:          token,
			ConnectTimeout: 10 * time.Second,
			RequestTimeout: sendTimeout,
		})
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.Call(cmd.Context(), args[0], params)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))

		if !resp.IsOK() {
			return fmt.Errorf("server returned %s", resp.Code())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendToken, "token", "", "Shared token (defaults to auth_token / DESKRELAY_AUTH_TOKEN)")
	sendCmd.Flags().StringVar(&sendURL, "url", "", "Server URL (defaults to ws://<host>:<port>/ from the config)")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 60*time.Second, "Request timeout")
}

func promptForToken(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	fmt.Fprint(os.Stderr, prompt)

	if term.IsTerminal(fd) {
		bytes, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytes)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
