package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rich13/lifespan-beta-sub017/access"
	"github.com/rich13/lifespan-beta-sub017/errors"
	"github.com/rich13/lifespan-beta-sub017/logger"
	"github.com/rich13/lifespan-beta-sub017/query"
	"github.com/rich13/lifespan-beta-sub017/span"
)

// QueryCmd resolves spans temporally related to a reference span.
var QueryCmd = &cobra.Command{
	Use:   "query <relation> <span-slug>",
	Short: "Find spans temporally related to a span",
	Long: `Resolve the spans standing in a temporal relation to a reference span,
filtered to what the acting user may see.

Relations:
  during - spans entirely contained in the reference's range
  before - spans that ended before the reference began
  after  - spans that began after the reference ended

Examples:
  lifespan query during john-lennon --type event
  lifespan query before world-war-ii --limit 10
  lifespan query after the-beatles --actor 6f1c... --desc`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		actorID, _ := cmd.Flags().GetString("actor")
		typeFilter, _ := cmd.Flags().GetString("type")
		subtype, _ := cmd.Flags().GetString("subtype")
		owner, _ := cmd.Flags().GetString("owner")
		limit, _ := cmd.Flags().GetInt("limit")
		desc, _ := cmd.Flags().GetBool("desc")
		return runQuery(args[0], args[1], actorID, query.Filters{
			Type:      span.Type(typeFilter),
			Subtype:   subtype,
			OwnerID:   owner,
			Limit:     limit,
			OrderDesc: desc,
		})
	},
}

func init() {
	QueryCmd.Flags().String("actor", "", "Acting user ID (empty = anonymous)")
	QueryCmd.Flags().String("type", "", "Filter by span type")
	QueryCmd.Flags().String("subtype", "", "Filter by span subtype")
	QueryCmd.Flags().String("owner", "", "Filter by owner ID")
	QueryCmd.Flags().Int("limit", 0, "Maximum results (0 = configured default)")
	QueryCmd.Flags().Bool("desc", false, "Order by start date descending")
}

func runQuery(relationArg, slug, actorID string, filters query.Filters) error {
	relation, err := query.ParseRelation(relationArg)
	if err != nil {
		return err
	}

	database, cfg, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	spans := span.NewStore(database, logger.Logger)
	accessStore := access.NewStore(database, logger.Logger)

	var actor *access.Actor
	if actorID != "" {
		actor, err = accessStore.GetActor(ctx, actorID)
		if err != nil {
			return errors.Wrap(err, "failed to load actor")
		}
	}

	reference, err := spans.GetBySlug(ctx, slug)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return errors.NewNotFoundError("no span with slug %q", slug)
		}
		return err
	}

	composer := query.NewComposer(
		spans,
		query.NewResolver(spans, logger.Logger),
		access.NewResolver(accessStore, logger.Logger),
		query.ComposerConfig{
			DefaultLimit: cfg.Query.DefaultLimit,
			CacheEnabled: cfg.Query.CacheEnabled,
			CacheSize:    cfg.Query.CacheSize,
			CacheTTL:     time.Duration(cfg.Query.CacheTTLSeconds) * time.Second,
		},
		logger.Logger,
	)

	results, err := composer.RelatedSpans(ctx, actor, reference.ID, relation, filters)
	if err != nil {
		// Anonymous callers get the same answer whether the span is
		// missing or merely hidden.
		if actor == nil && (errors.IsForbiddenError(err) || errors.IsNotFoundError(err)) {
			return errors.NewNotFoundError("no visible span with slug %q", slug)
		}
		return err
	}

	if len(results) == 0 {
		fmt.Printf("No spans %s %q\n", relation, reference.Name)
		return nil
	}

	fmt.Printf("Spans %s %q:\n\n", relation, reference.Name)
	fmt.Printf("%-30s %-13s %-12s %s\n", "NAME", "TYPE", "START", "END")
	for _, s := range results {
		start, end := "-", "ongoing"
		if s.Start != nil {
			start = s.Start.String()
		}
		if s.End != nil {
			end = s.End.String()
		}
		name := s.Name
		if s.Subtype != "" {
			name = fmt.Sprintf("%s (%s)", s.Name, s.Subtype)
		}
		fmt.Printf("%-30s %-13s %-12s %s\n", truncate(name, 30), s.Type, start, end)
	}

	fmt.Printf("\nTotal: %d span(s)\n", len(results))
	return nil
}
