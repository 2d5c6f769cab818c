// Copyright 2026 Socratic Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage credentials in the OS keyring",
	Long: `Secret stores provider credentials in the operating system keyring so
they never live in config files. Stored secrets fill any credential the
flags and environment leave empty.

Known keys: ` + strings.Join(ListAvailableSecretKeys(), ", "),
}

var secretSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a secret",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateSecretKey(args[0]); err != nil {
			return err
		}
		if err := SaveSecretToKeyring(args[0], args[1]); err != nil {
			return fmt.Errorf("failed to store secret: %w", err)
		}
		fmt.Printf("stored %s\n", args[0])
		return nil
	},
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove a secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateSecretKey(args[0]); err != nil {
			return err
		}
		if err := DeleteSecretFromKeyring(args[0]); err != nil {
			return fmt.Errorf("failed to delete secret: %w", err)
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

var secretListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known secret keys and whether each is set",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, key := range ListAvailableSecretKeys() {
			state := "unset"
			if _, err := GetSecretFromKeyring(key); err == nil {
				state = "set"
			}
			fmt.Printf("%-28s %s\n", key, state)
		}
		return nil
	},
}

func init() {
	secretCmd.AddCommand(secretSetCmd, secretDeleteCmd, secretListCmd)
	rootCmd.AddCommand(secretCmd)
}

func validateSecretKey(key string) error {
	for _, known := range ListAvailableSecretKeys() {
		if known == key {
			return nil
		}
	}
	return fmt.Errorf("unknown secret key %q (known: %s)", key, strings.Join(ListAvailableSecretKeys(), ", "))
}
