package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/finsim/game-engine/internal/auth"
	cl "github.com/finsim/game-engine/internal/cli"
	"github.com/finsim/game-engine/internal/config"
)

func main() {
	_ = config.LoadDotEnv("")
	cfg := config.LoadCLIFromEnv()
	apiBase, token := cfg.APIBaseURL, cfg.AdminToken

	root := &cobra.Command{
		Use:          "gamectl",
		Short:        "Admin console for the finance simulation game",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "game engine base URL")
	root.PersistentFlags().StringVar(&token, "token", token, "admin token")

	client := func() *cl.Client { return cl.NewClient(apiBase, token) }

	root.AddCommand(
		newRoundCmd(client),
		newNewsCmd(client),
		newPricesCmd(client),
		newAuctionCmd(client),
		newTeamsCmd(client),
		newLeaderboardCmd(client),
		newDeductCmd(client),
		newRecalcCmd(client),
		newResetCmd(client),
		newHashPasswordCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type clientFunc func() *cl.Client

func call(cmd *cobra.Command, fn func(ctx context.Context) (json.RawMessage, error)) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	out, err := fn(ctx)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func printJSON(raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}

func newRoundCmd(client clientFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "round", Short: "Start, end or inspect rounds"}

	var number int
	var minutes string
	start := &cobra.Command{
		Use:   "start",
		Short: "Start the next round (ends the active one first)",
		RunE: func(cmd *cobra.Command, args []string) error {
			dur := decimal.Zero
			if minutes != "" {
				var err error
				if dur, err = decimal.NewFromString(minutes); err != nil {
					return fmt.Errorf("invalid --minutes: %w", err)
				}
			}
			return call(cmd, func(ctx context.Context) (json.RawMessage, error) {
				return client().StartRound(ctx, number, dur)
			})
		},
	}
	start.Flags().IntVar(&number, "number", 0, "round number (default: next)")
	start.Flags().StringVar(&minutes, "minutes", "", "duration in minutes (default: server setting)")

	end := &cobra.Command{
		Use:   "end",
		Short: "End the active round and apply its price changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, func(ctx context.Context) (json.RawMessage, error) {
				return client().EndRound(ctx)
			})
		},
	}

	current := &cobra.Command{
		Use:   "current",
		Short: "Show the active round",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, func(ctx context.Context) (json.RawMessage, error) {
				return client().CurrentRound(ctx)
			})
		},
	}

	cmd.AddCommand(start, end, current)
	return cmd
}

func newNewsCmd(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "news <title> <content>",
		Short: "Publish a headline to the active round",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, func(ctx context.Context) (json.RawMessage, error) {
				return client().PublishNews(ctx, args[0], args[1])
			})
		},
	}
}

func newPricesCmd(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:     "prices <asset=percent>...",
		Short:   "Set price changes for the active round",
		Example: "  gamectl prices gold=10 crypto=-12.5",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := cl.ParsePriceChanges(args)
			if err != nil {
				return err
			}
			return call(cmd, func(ctx context.Context) (json.RawMessage, error) {
				return client().SetPrices(ctx, changes)
			})
		},
	}
}

func newAuctionCmd(client clientFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "auction", Short: "Run auction mode"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "state",
			Short: "Show auction mode and the catalog",
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(cmd, func(ctx context.Context) (json.RawMessage, error) { return client().Auction(ctx) })
			},
		},
		&cobra.Command{
			Use:   "start",
			Short: "Enter auction mode",
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(cmd, func(ctx context.Context) (json.RawMessage, error) { return client().StartAuction(ctx) })
			},
		},
		&cobra.Command{
			Use:   "end",
			Short: "Leave auction mode",
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(cmd, func(ctx context.Context) (json.RawMessage, error) { return client().EndAuction(ctx) })
			},
		},
		&cobra.Command{
			Use:   "show <item-id>",
			Short: "Show an item to every client",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(cmd, func(ctx context.Context) (json.RawMessage, error) {
					return client().ShowAuctionItem(ctx, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "award <team-id> <item-id>",
			Short: "Award an item to a team for its catalog price",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(cmd, func(ctx context.Context) (json.RawMessage, error) {
					return client().AwardAuctionItem(ctx, args[0], args[1])
				})
			},
		},
	)
	return cmd
}

func newTeamsCmd(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "teams",
		Short: "List registered teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, func(ctx context.Context) (json.RawMessage, error) { return client().Teams(ctx) })
		},
	}
}

func newLeaderboardCmd(client clientFunc) *cobra.Command {
	var roundNumber int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the live leaderboard or a round's snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, func(ctx context.Context) (json.RawMessage, error) {
				if roundNumber > 0 {
					return client().RoundLeaderboard(ctx, roundNumber)
				}
				return client().Leaderboard(ctx)
			})
		},
	}
	cmd.Flags().IntVar(&roundNumber, "round", 0, "show the snapshot taken when this round ended")
	return cmd
}

func newDeductCmd(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "deduct <team-id> <amount>",
		Short: "Deduct cash from a team",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}
			return call(cmd, func(ctx context.Context) (json.RawMessage, error) {
				return client().DeductCash(ctx, args[0], amount)
			})
		},
	}
}

func newRecalcCmd(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "recalc",
		Short: "Revalue every team against the pending price changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, func(ctx context.Context) (json.RawMessage, error) { return client().Recalculate(ctx) })
		},
	}
}

func newResetCmd(client clientFunc) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every team, round and snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to reset without --yes")
			}
			return call(cmd, func(ctx context.Context) (json.RawMessage, error) { return client().Reset(ctx) })
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.NewHasher(cost).Hash(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (default "+strconv.Itoa(bcrypt.DefaultCost)+")")
	return cmd
}
