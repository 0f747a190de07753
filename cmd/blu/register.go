package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	blu "github.com/blusocial/blu-go"
	"github.com/spf13/cobra"
)

var registerFlags struct {
	firstName string
	lastName  string
	email     string
	age       string
	gender    string
}

func init() {
	registerCmd.Flags().StringVar(&registerFlags.firstName, "first-name", "", "first name (required)")
	registerCmd.Flags().StringVar(&registerFlags.lastName, "last-name", "", "last name (required)")
	registerCmd.Flags().StringVar(&registerFlags.email, "email", "", "email address (required)")
	registerCmd.Flags().StringVar(&registerFlags.age, "age", "", "age (required)")
	registerCmd.Flags().StringVar(&registerFlags.gender, "gender", "", "gender (required)")
	registerCmd.MarkFlagRequired("first-name")
	registerCmd.MarkFlagRequired("last-name")
	registerCmd.MarkFlagRequired("email")
	registerCmd.MarkFlagRequired("age")
	registerCmd.MarkFlagRequired("gender")
	rootCmd.AddCommand(registerCmd)
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new account for the verified phone number",
	Long:  "Create an account for the phone number verified with 'blu verify'.\nAccepting the terms is implied by running this command.",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := getManager()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		profile, err := mgr.Register(ctx, &blu.RegisterPayload{
			FirstName:      registerFlags.firstName,
			LastName:       registerFlags.lastName,
			Email:          registerFlags.email,
			Age:            registerFlags.age,
			Gender:         registerFlags.gender,
			TermsCondition: true,
		})
		if err != nil {
			var fields blu.FieldErrors
			if errors.As(err, &fields) {
				fmt.Println("Registration rejected:")
				for k, v := range fields {
					fmt.Printf("  %s: %s\n", k, v)
				}
				return errors.New("fix the fields above and retry")
			}
			return err
		}

		fmt.Printf("Registered %s %s. Profile cached locally.\n", profile.FirstName, profile.LastName)
		return nil
	},
}
