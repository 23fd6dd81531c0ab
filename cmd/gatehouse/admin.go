package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/charadev96/gatehouse/internal/client"
	"github.com/charadev96/gatehouse/internal/client/domain"
	"github.com/charadev96/gatehouse/internal/client/repository"
	"github.com/charadev96/gatehouse/internal/shared/log"
)

var (
	flagProfile string
	flagServer  string
	flagToken   string
	flagYes     bool
)

func addClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&flagProfile, "profile", "default", "Saved profile to use")
	cmd.PersistentFlags().StringVar(&flagServer, "server", "", "Admin API base URL (overrides the profile)")
	cmd.PersistentFlags().StringVar(&flagToken, "token", "", "Operator token (overrides the profile)")
}

func profilePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	dir = filepath.Join(dir, "gatehouse")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return filepath.Join(dir, "profiles.toml"), nil
}

func newClient() (*client.Client, error) {
	profile := domain.Profile{ID: flagProfile}

	path, err := profilePath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		repo := &repository.TOMLProfileRepository{FilePath: path}
		if saved, err := repo.Get(flagProfile); err == nil {
			profile = saved
		}
	}

	if flagServer != "" {
		profile.Server = flagServer
	}
	if flagToken != "" {
		profile.Token = flagToken
	}
	if profile.Server == "" {
		return nil, fmt.Errorf("no server configured: run 'gatehouse profile set' or pass --server")
	}

	logger := log.New("client")
	return &client.Client{Profile: profile, Logger: &logger}, nil
}

// confirm asks before a destructive operation unless --yes was given.
func confirm(action string) error {
	if flagYes {
		return nil
	}
	prompt := promptui.Prompt{
		Label:     fmt.Sprintf("%s, continue", action),
		IsConfirm: true,
	}
	if _, err := prompt.Run(); err != nil {
		return fmt.Errorf("aborted")
	}
	return nil
}

func newProfileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage saved admin API profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var (
		server   string
		token    string
		insecure bool
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Save server address and operator token",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := profilePath()
			if err != nil {
				return err
			}
			repo := &repository.TOMLProfileRepository{FilePath: path}
			return repo.Set(flagProfile, domain.Profile{
				ID:       flagProfile,
				Server:   server,
				Token:    token,
				Insecure: insecure,
			})
		},
	}
	set.Flags().StringVar(&server, "server", "", "Admin API base URL")
	set.Flags().StringVar(&token, "token", "", "Operator token")
	set.Flags().BoolVar(&insecure, "insecure", false, "Skip TLS verification (self-signed admin certificate)")
	set.MarkFlagRequired("server")
	set.MarkFlagRequired("token")

	cmd.PersistentFlags().StringVar(&flagProfile, "profile", "default", "Profile name")
	cmd.AddCommand(set)
	return cmd
}

func newRosterCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Manage the member roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	addClientFlags(cmd)

	var displayName string
	add := &cobra.Command{
		Use:   "add <identity>",
		Short: "Add an identity to the roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if err := c.RosterAdd(cmd.Context(), args[0], displayName); err != nil {
				return err
			}
			fmt.Printf("added %q to the roster\n", args[0])
			return nil
		},
	}
	add.Flags().StringVar(&displayName, "name", "", "Display name")

	remove := &cobra.Command{
		Use:   "remove <identity>",
		Short: "Remove an identity and revoke any outstanding invitation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := confirm(fmt.Sprintf("Remove %q from the roster", args[0])); err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			if err := c.RosterRemove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("removed %q\n", args[0])
			return nil
		},
	}
	remove.Flags().BoolVar(&flagYes, "yes", false, "Skip confirmation")

	cmd.AddCommand(add)
	cmd.AddCommand(remove)
	return cmd
}

func newInviteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invite <identity>",
		Short: "Issue the single-use join link for a roster identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			inv, err := c.RequestInvitation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s\nlink expires at %s\n", inv.Link, inv.ExpiresAt.Local().Format("2006-01-02 15:04 MST"))
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

func newReissueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reissue <identity>",
		Short: "Clear a member's cycle so a fresh invitation can be issued",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := confirm(fmt.Sprintf("Reset the invitation cycle for %q", args[0])); err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			if err := c.Reissue(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("cycle reset for %q; they can request a new invitation\n", args[0])
			return nil
		},
	}
	addClientFlags(cmd)
	cmd.Flags().BoolVar(&flagYes, "yes", false, "Skip confirmation")
	return cmd
}

func newSweepCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Force an expiry sweep now",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if err := c.Sweep(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("sweep completed")
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

func newStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show member counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			stats, err := c.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("total:   %d\nactive:  %d\nexpired: %d\n", stats.Total, stats.Active, stats.Expired)
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

func newMembersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members [identity]",
		Short: "Show one member or list all known members",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				m, err := c.GetMember(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printMember(m)
				return nil
			}
			members, err := c.ListMembers(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range members {
				fmt.Printf("%-24s %s\n", m.Identity, m.State)
			}
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

func printMember(m client.Member) {
	fmt.Printf("identity: %s\nstate:    %s\n", m.Identity, m.State)
	if m.DisplayName != "" {
		fmt.Printf("name:     %s\n", m.DisplayName)
	}
	if m.PlatformUserID != 0 {
		fmt.Printf("user id:  %d\n", m.PlatformUserID)
	}
	if !m.ActiveFrom.IsZero() {
		fmt.Printf("active:   %s until %s\n",
			m.ActiveFrom.Local().Format("2006-01-02 15:04"),
			m.ExpiresAt.Local().Format("2006-01-02 15:04"))
	}
	if !m.RevokedAt.IsZero() {
		fmt.Printf("revoked:  %s\n", m.RevokedAt.Local().Format("2006-01-02 15:04"))
	}
}
