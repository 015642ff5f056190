package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/Farengier/aircon-market/internal/api"
	"github.com/Farengier/aircon-market/internal/favorites"
	"github.com/Farengier/aircon-market/internal/session"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		snap := current.session.Snapshot()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "state: %s\n", snap.State())
		if snap.User != nil {
			fmt.Fprintf(out, "role:  %s\n", roleName(snap.Role()))
		}
		fmt.Fprintf(out, "favorites: %d/%d\n", len(current.favorites.All()), favorites.Capacity)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with email and password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		u, err := current.login(cmd.Context(), email, password)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s)\n", displayName(u), roleName(u.Role))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !current.session.IsLoggedIn() {
			fmt.Fprintln(cmd.OutOrStdout(), "not logged in")
			return nil
		}
		current.session.Logout(cmd.Context())
		fmt.Fprintln(cmd.OutOrStdout(), "logged out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the profile of the logged in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !current.session.IsLoggedIn() {
			return fmt.Errorf("not logged in")
		}
		u, err := current.api.Profile(cmd.Context())
		if err != nil {
			return fmt.Errorf("profile request failed: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "id:    %s\n", u.ID)
		fmt.Fprintf(out, "name:  %s\n", u.Name)
		fmt.Fprintf(out, "email: %s\n", u.Email)
		fmt.Fprintf(out, "role:  %s\n", roleName(u.Role))
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a client account, or a company account with --company",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		flags := cmd.Flags()
		r := api.Registration{Role: session.RoleClient}
		r.Name, _ = flags.GetString("name")
		r.Email, _ = flags.GetString("email")
		r.Password, _ = flags.GetString("password")
		r.Phone, _ = flags.GetString("phone")
		if company, _ := flags.GetBool("company"); company {
			r.Role = session.RoleCompany
		}

		if err := current.api.Register(cmd.Context(), r); err != nil {
			return err
		}
		if r.Role == session.RoleCompany {
			fmt.Fprintln(cmd.OutOrStdout(), "company registered, waiting for approval")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "account created, you can log in now")
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset-password",
	Short: "Reset a forgotten password with a code sent to the account phone",
}

var resetSendCmd = &cobra.Command{
	Use:   "send-code",
	Short: "Send a reset code to the account phone",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		email, phone := resetIdentity(cmd)
		if err := current.api.SendResetCode(cmd.Context(), email, phone); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "code sent")
		return nil
	},
}

var resetVerifyCmd = &cobra.Command{
	Use:   "verify <code>",
	Short: "Check a reset code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, phone := resetIdentity(cmd)
		if err := current.api.VerifyResetCode(cmd.Context(), email, phone, args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "code is valid")
		return nil
	},
}

var resetSetCmd = &cobra.Command{
	Use:   "set <code>",
	Short: "Set a new password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, phone := resetIdentity(cmd)
		password, _ := cmd.Flags().GetString("password")
		if err := current.api.ResetPassword(cmd.Context(), email, phone, args[0], password); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "password updated")
		return nil
	},
}

var favoritesCmd = &cobra.Command{
	Use:   "favorites",
	Short: "Manage favorite products",
}

var favoritesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List favorite products, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		printProducts(cmd.OutOrStdout(), current.favorites.All())
		return nil
	},
}

var favoritesToggleCmd = &cobra.Command{
	Use:   "toggle <product-id>",
	Short: "Add a product to favorites or remove it if already there",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		brand, _ := cmd.Flags().GetString("brand")
		price, _ := cmd.Flags().GetFloat64("price")

		added, err := current.favorites.Toggle(cmd.Context(), favorites.Product{
			ID:    args[0],
			Name:  name,
			Brand: brand,
			Price: price,
		})
		if err != nil {
			return err
		}
		if added {
			fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", args[0])
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
		}
		return nil
	},
}

var favoritesRemoveCmd = &cobra.Command{
	Use:   "remove <product-id>",
	Short: "Remove a product from favorites",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := current.favorites.Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
		return nil
	},
}

func init() {
	loginCmd.Flags().String("email", "", "account email")
	loginCmd.Flags().String("password", "", "account password")
	_ = loginCmd.MarkFlagRequired("email")
	_ = loginCmd.MarkFlagRequired("password")

	registerCmd.Flags().String("name", "", "display name")
	registerCmd.Flags().String("email", "", "account email")
	registerCmd.Flags().String("password", "", "account password")
	registerCmd.Flags().String("phone", "", "contact phone, required for companies")
	registerCmd.Flags().Bool("company", false, "register a company")
	_ = registerCmd.MarkFlagRequired("name")
	_ = registerCmd.MarkFlagRequired("email")

	resetCmd.PersistentFlags().String("email", "", "account email")
	resetCmd.PersistentFlags().String("phone", "", "account phone")
	_ = resetCmd.MarkPersistentFlagRequired("email")
	_ = resetCmd.MarkPersistentFlagRequired("phone")
	resetSetCmd.Flags().String("password", "", "new password")
	_ = resetSetCmd.MarkFlagRequired("password")
	resetCmd.AddCommand(resetSendCmd, resetVerifyCmd, resetSetCmd)

	favoritesToggleCmd.Flags().String("name", "", "product name")
	favoritesToggleCmd.Flags().String("brand", "", "product brand")
	favoritesToggleCmd.Flags().Float64("price", 0, "product price")

	favoritesCmd.AddCommand(favoritesListCmd, favoritesToggleCmd, favoritesRemoveCmd)
}

func printProducts(w io.Writer, products []favorites.Product) {
	if len(products) == 0 {
		fmt.Fprintln(w, "no favorite products")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tBRAND\tPRICE")
	for _, p := range products {
		price := ""
		if p.Price != 0 {
			price = strconv.FormatFloat(p.Price, 'f', 2, 64)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Brand, price)
	}
	_ = tw.Flush()
}

func resetIdentity(cmd *cobra.Command) (email, phone string) {
	email, _ = cmd.Flags().GetString("email")
	phone, _ = cmd.Flags().GetString("phone")
	return email, phone
}

func roleName(r session.Role) string {
	if r == session.RoleNone {
		return "none"
	}
	return string(r)
}

func displayName(u *session.User) string {
	if u.Name != "" {
		return u.Name
	}
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}
