package main

import (
	"errors"

	"github.com/spf13/cobra"
)

// withMessage replaces cobra's generic argument-count error with message.
func withMessage(check cobra.PositionalArgs, message string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if check(cmd, args) != nil {
			return errors.New(message)
		}
		return nil
	}
}

func requireAtLeastArgs(min int, message string) cobra.PositionalArgs {
	return withMessage(cobra.MinimumNArgs(min), message)
}

func requireExactlyArgs(count int, message string) cobra.PositionalArgs {
	return withMessage(cobra.ExactArgs(count), message)
}
