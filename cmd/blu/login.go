package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	blu "github.com/blusocial/blu-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <phone>",
	Short: "Request an OTP for a phone number",
	Long:  "Request a one-time password for the given phone number (E.164, e.g. +919876543210).\nThe number is remembered locally for 'blu verify'.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := getManager()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := mgr.RequestOTP(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("OTP sent to %s. Run 'blu verify <code>' to continue.\n", args[0])
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <code>",
	Short: "Verify the OTP sent to your phone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := getManager()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		registered, err := mgr.VerifyOTP(ctx, args[0])
		if err != nil {
			var fields blu.FieldErrors
			if errors.As(err, &fields) {
				for k, v := range fields {
					fmt.Printf("  %s: %s\n", k, v)
				}
				return errors.New("verification rejected")
			}
			return err
		}

		if registered {
			fmt.Println("Verified. Profile cached locally; run 'blu profile show'.")
		} else {
			fmt.Println("Verified. No account yet; run 'blu register' to create one.")
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the local session and cached profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := getManager()
		mgr.ClearSession()
		fmt.Println("Session cleared.")
		return nil
	},
}
