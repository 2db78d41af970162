package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Operative-001/torchat/internal/buddy"
)

var buddyCmd = &cobra.Command{
	Use:   "buddy",
	Short: "Manage the buddy list (the daemon must not be running)",
}

func withStore(cmd *cobra.Command, fn func(*buddy.Store) error) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return err
	}
	store, err := buddy.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open buddy list: %w", err)
	}
	defer store.Close()
	return fn(store)
}

var buddyAddCmd = &cobra.Command{
	Use:   "add <id> [name]",
	Short: "Add a buddy",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(s *buddy.Store) error {
			b := &buddy.Buddy{ID: args[0]}
			if len(args) > 1 {
				b.Name = args[1]
			}
			if old, err := s.Get(b.ID); err == nil {
				b.Blocked, b.AddedAt = old.Blocked, old.AddedAt
			}
			if err := s.Put(b); err != nil {
				return err
			}
			fmt.Printf("✓ Added %s\n", b.ID)
			return nil
		})
	},
}

var buddyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List buddies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(s *buddy.Store) error {
			all, err := s.All()
			if err != nil {
				return err
			}
			printBuddies(cmd, all)
			return nil
		})
	},
}

func printBuddies(cmd *cobra.Command, all []buddy.Buddy) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCLIENT\tLAST SEEN\tBLOCKED")
	for _, b := range all {
		seen := "-"
		if b.LastSeen > 0 {
			seen = time.Unix(b.LastSeen, 0).Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\n", b.ID, b.Name, b.Status, b.Client, seen, b.Blocked)
	}
	w.Flush()
}

var buddyRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a buddy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(s *buddy.Store) error {
			if err := s.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ Removed %s\n", args[0])
			return nil
		})
	},
}

func blockCmd(use string, blocked bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: use + " a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s *buddy.Store) error {
				if err := s.SetBlocked(args[0], blocked); err != nil {
					return err
				}
				fmt.Printf("✓ %s %sed\n", args[0], use)
				return nil
			})
		},
	}
}

func init() {
	buddyCmd.AddCommand(buddyAddCmd, buddyListCmd, buddyRemoveCmd, blockCmd("block", true), blockCmd("unblock", false))
}
