package commands

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rich13/lifespan-beta-sub017/config"
	"github.com/rich13/lifespan-beta-sub017/db"
	"github.com/rich13/lifespan-beta-sub017/errors"
	"github.com/rich13/lifespan-beta-sub017/logger"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the lifespan database",
	Long: `db — Manage lifespan database operations

Examples:
  lifespan db migrate    # Apply pending schema migrations
  lifespan db stats      # Show database statistics`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long:  "Display span, connection, actor, grant and maintenance job counts",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	if err := db.Migrate(database, logger.Logger); err != nil {
		return errors.Wrap(err, "migration failed")
	}

	fmt.Printf("Database migrated: %s\n", cfg.Database.Path)
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	database, cfg, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	var totalSpans, published, placeholders, connections, actors, grants, jobs int
	row := database.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM spans),
			(SELECT COUNT(*) FROM spans WHERE state = 'published'),
			(SELECT COUNT(*) FROM spans WHERE state = 'placeholder'),
			(SELECT COUNT(*) FROM connections),
			(SELECT COUNT(*) FROM actors),
			(SELECT COUNT(*) FROM grants),
			(SELECT COUNT(*) FROM maintenance_jobs)`)
	if err := row.Scan(&totalSpans, &published, &placeholders, &connections, &actors, &grants, &jobs); err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, "failed to query stats")
	}

	fmt.Printf("Database Statistics\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path:     %s\n", cfg.Database.Path)
	fmt.Printf("Total Spans:       %d\n", totalSpans)
	fmt.Printf("  Published:       %d\n", published)
	fmt.Printf("  Placeholders:    %d\n", placeholders)
	fmt.Printf("Connections:       %d\n", connections)
	fmt.Printf("Actors:            %d\n", actors)
	fmt.Printf("Grants:            %d\n", grants)
	fmt.Printf("Maintenance Jobs:  %d\n", jobs)

	rows, err := database.Query(`SELECT type, COUNT(*) FROM spans GROUP BY type ORDER BY COUNT(*) DESC`)
	if err != nil {
		return errors.Wrap(err, "failed to query span types")
	}
	defer rows.Close()

	fmt.Printf("\nSpans by type:\n")
	for rows.Next() {
		var spanType string
		var count int
		if err := rows.Scan(&spanType, &count); err != nil {
			return errors.Wrap(err, "failed to scan span type count")
		}
		fmt.Printf("  %-14s %d\n", spanType, count)
	}
	return rows.Err()
}
