package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSyncCmd)
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect or sync the cached profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the cached profile, revalidating against the server when online",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := getManager()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		profile, err := mgr.LoadProfile(ctx)
		if profile == nil {
			if err != nil {
				return err
			}
			fmt.Println("No profile. Run 'blu login' and 'blu register' first.")
			return nil
		}
		if err != nil {
			// Stale cache plus a refresh failure: show what we have.
			fmt.Fprintf(os.Stderr, "Warning: showing cached data (%v)\n", err)
		}

		out, marshalErr := json.MarshalIndent(profile, "", "  ")
		if marshalErr != nil {
			return marshalErr
		}
		fmt.Println(string(out))
		return nil
	},
}

var profileSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Force a revalidation of the cached profile from the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := getManager()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if _, err := mgr.LoadProfile(ctx); err != nil {
			return err
		}
		fmt.Println("Profile synced.")
		return nil
	},
}
