package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func (r *runner) loginCommand() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewReader(r.stdin)

			if username == "" {
				fmt.Fprint(r.stderr, "Username: ")
				line, err := readLine(in)
				if err != nil {
					return fmt.Errorf("failed to read username: %w", err)
				}
				username = line
			}

			if password == "" {
				p, err := r.readPassword(in)
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = p
			}

			if err := r.app.Client.Login(cmd.Context(), username, password); err != nil {
				return err
			}

			fmt.Fprintf(r.stdout, "Logged in as %s\n", username)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")

	return cmd
}

// readPassword reads without echo from a terminal, or a plain line
// otherwise.
func (r *runner) readPassword(in *bufio.Reader) (string, error) {
	fmt.Fprint(r.stderr, "Password: ")

	if f, ok := r.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(r.stderr)
		return string(b), err
	}

	return readLine(in)
}

func readLine(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (r *runner) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r.app.Client.Logout(cmd.Context())
			fmt.Fprintln(r.stdout, "Logged out")
			return nil
		},
	}
}

type sessionStatus struct {
	Authenticated bool       `json:"authenticated" yaml:"authenticated"`
	Expired       bool       `json:"expired" yaml:"expired"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
}

func (r *runner) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a session is stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var status sessionStatus

			if pair, ok := r.app.Tokens.Tokens(); ok {
				expiry := pair.Expiry()
				status.Authenticated = true
				status.Expired = pair.Expired(time.Now())
				status.ExpiresAt = &expiry
			}

			return r.write(r.stdout, status)
		},
	}
}
