package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

// lineEnding terminates a stored payload unless --raw is given, matching
// what a terminal sends for Enter.
const lineEnding = "\r"

func newSecretCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage step payloads kept in the OS keyring",
		Long: "Scenario steps may name a keyring entry with payload_keyring instead of carrying the " +
			"payload in the file. These commands create and remove such entries.",
	}
	cmd.AddCommand(newSecretSetCmd(d), newSecretDeleteCmd(d))
	return cmd
}

func newSecretSetCmd(d *deps) *cobra.Command {
	var (
		fromStdin bool
		raw       bool
	)

	cmd := &cobra.Command{
		Use:   "set NAME",
		Short: "Store a payload under NAME",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			var value string
			if fromStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read payload from stdin: %w", err)
				}
				value = strings.TrimRight(line, "\r\n")
			} else {
				var err error
				if value, err = d.prompt(name); err != nil {
					return fmt.Errorf("prompt: %w", err)
				}
			}
			if value == "" {
				return errors.New("payload must not be empty")
			}
			if !raw {
				value += lineEnding
			}

			if err := d.secrets().StoreSecret(name, []byte(value)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored secret %s\n", name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read the payload from the first line of stdin instead of prompting")
	cmd.Flags().BoolVar(&raw, "raw", false, "Store the payload exactly as entered, without a trailing carriage return")
	return cmd
}

func newSecretDeleteCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Remove the payload stored under NAME",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := d.secrets().DeleteSecret(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted secret %s\n", args[0])
			return nil
		},
	}
}

// promptSecret asks for a payload on the terminal without echoing it.
func promptSecret(name string) (string, error) {
	var value string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(fmt.Sprintf("Payload for %s", name)).
				Description("Typed characters are not shown").
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("payload must not be empty")
					}
					return nil
				}).
				Value(&value),
		),
	)

	if err := form.Run(); err != nil {
		return "", err
	}
	return value, nil
}
