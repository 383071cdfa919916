package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func consentCmd() *cobra.Command {
	var user string

	consentRoot := &cobra.Command{
		Use:   "consent",
		Short: "Manage eBay user consent on a running server",
		Long: "Seller APIs (account, inventory) need a user token obtained through eBay's\n" +
			"consent page. initiate prints the URL to open; after granting access, pass\n" +
			"the URL the browser lands on to complete. With the ops API reachable at the\n" +
			"keyset's redirect URL, the callback completes on its own.",
	}
	consentRoot.PersistentFlags().StringVar(&user, "user", "", "consent user (default: the single local user)")

	consentRoot.AddCommand(
		consentStatusCmd(&user),
		consentInitiateCmd(&user),
		consentCompleteCmd(),
		consentRevokeCmd(&user),
	)

	return consentRoot
}

func consentStatusCmd(user *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a user token grants the seller scopes",
		RunE: func(_ *cobra.Command, _ []string) error {
			st, err := newClient().ConsentStatus(context.Background(), *user)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return outputJSON(st)
			}
			return printConsentStatus(st)
		},
	}
}

func consentInitiateCmd(user *string) *cobra.Command {
	var scopes []string

	c := &cobra.Command{
		Use:   "initiate",
		Short: "Start a consent flow and print the authorization URL",
		Example: `  ebay-mcp consent initiate
  ebay-mcp consent initiate --scope https://api.ebay.com/oauth/api_scope/sell.inventory`,
		RunE: func(_ *cobra.Command, _ []string) error {
			start, err := newClient().InitiateConsent(context.Background(), *user, scopes)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return outputJSON(start)
			}
			fmt.Println("Open this URL in a browser and grant access:")
			fmt.Println()
			fmt.Println("  " + start.AuthorizationURL)
			fmt.Println()
			fmt.Printf("The link expires at %s.\n", start.ExpiresAt.Local().Format(timeFormat))
			fmt.Println("Then run: ebay-mcp consent complete '<redirect URL>'")
			return nil
		},
	}
	c.Flags().StringSliceVar(&scopes, "scope", nil, "scope to request (repeatable; default: seller scopes)")
	return c
}

func consentCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <redirect_url>",
		Short: "Exchange the redirect URL's authorization code for a user token",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			res, err := newClient().CompleteConsent(context.Background(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			if jsonOutput() {
				return outputJSON(res)
			}
			fmt.Printf("Consent complete. Scopes: %d, token expires %s.\n", len(res.Scopes), res.ExpiresAt)
			return nil
		},
	}
}

func consentRevokeCmd(user *string) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke",
		Short: "Delete the stored user token",
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := newClient().RevokeConsent(context.Background(), *user); err != nil {
				return err
			}
			fmt.Println("User token revoked.")
			return nil
		},
	}
}
