package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/ashureev/digdeeper/internal/domain"
	"github.com/ashureev/digdeeper/internal/editing"
	"github.com/ashureev/digdeeper/internal/explore"
	"github.com/ashureev/digdeeper/internal/generate"
	"github.com/spf13/cobra"
)

var showAll bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the owner's explorations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		list, err := repo.ListExplorations(ctx, ownerID)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tSEGMENTS\tUPDATED")
		for _, e := range list {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.ID, e.Title, e.SegmentCount, e.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <exploration-id>",
	Short: "Print an exploration as an outline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		snap, err := load(ctx, args[0])
		if err != nil {
			return err
		}
		printOutline(cmd.OutOrStdout(), snap, showAll)
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the demo exploration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		exp, err := explore.Demo(exploreOptions()...)
		if err != nil {
			return err
		}
		snap := exp.Snapshot()
		if err := repo.SaveExploration(ctx, ownerID, snap); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), snap.ID)
		return nil
	},
}

var digCmd = &cobra.Command{
	Use:   "dig <exploration-id> [segment-id]",
	Short: "Break a segment, or the whole text, into sub-segments",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		snap, err := load(ctx, args[0])
		if err != nil {
			return err
		}
		exp, err := explore.Restore(snap, exploreOptions()...)
		if err != nil {
			return err
		}

		gen, err := generate.NewGemini(ctx, generate.GeminiConfig(cfg.Gemini), nil)
		if err != nil {
			return err
		}
		defer gen.Close()

		x := editing.NewExplorer(exp, gen)
		defer x.Close()

		parentID := ""
		if len(args) == 2 {
			parentID = args[1]
		}
		segs, err := x.Dig(ctx, parentID)
		if err != nil {
			return err
		}
		if err := repo.SaveExploration(ctx, ownerID, x.Snapshot()); err != nil {
			return err
		}
		for _, s := range segs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", s.ID, s.Title)
		}
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <exploration-id> [segment-id]",
	Short: "Delete an exploration, or one segment and its subtree",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		if len(args) == 1 {
			ok, err := repo.DeleteExploration(ctx, ownerID, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return &domain.NotFoundError{Kind: "exploration", ID: args[0]}
			}
			return nil
		}

		snap, err := load(ctx, args[0])
		if err != nil {
			return err
		}
		exp, err := explore.Restore(snap, exploreOptions()...)
		if err != nil {
			return err
		}
		var n int
		err = exp.Apply(func(t *explore.Tree) error {
			var err error
			n, err = t.Remove(args[1])
			return err
		})
		if err != nil {
			return err
		}
		if err := repo.SaveExploration(ctx, ownerID, exp.Snapshot()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d segment(s)\n", n)
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVarP(&showAll, "all", "a", false, "Show children of collapsed segments too")
}

func exploreOptions() []explore.Option {
	if cfg.MaxSegmentDepth > 0 {
		return []explore.Option{explore.WithDepthLimit(cfg.MaxSegmentDepth)}
	}
	return nil
}

func load(ctx context.Context, id string) (domain.ExplorationSnapshot, error) {
	snap, err := repo.GetExploration(ctx, ownerID, id)
	if err != nil {
		return domain.ExplorationSnapshot{}, err
	}
	if snap == nil {
		return domain.ExplorationSnapshot{}, &domain.NotFoundError{Kind: "exploration", ID: id}
	}
	return *snap, nil
}

// printOutline writes one line per visible segment. Children of a collapsed
// segment are hidden unless all is set.
func printOutline(w io.Writer, snap domain.ExplorationSnapshot, all bool) {
	fmt.Fprintf(w, "%s\n", snap.Title)
	hideBelow := -1
	for _, s := range snap.Segments {
		if hideBelow >= 0 {
			if s.Depth > hideBelow {
				continue
			}
			hideBelow = -1
		}
		marker := "-"
		if !all && !s.IsExpanded {
			marker = "+"
			hideBelow = s.Depth
		}
		fmt.Fprintf(w, "%s%s %s  [%s]\n", strings.Repeat("  ", s.Depth+1), marker, s.Title, s.ID)
	}
}
