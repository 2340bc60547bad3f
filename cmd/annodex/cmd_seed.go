package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/annodex/internal/store"
)

var (
	seedDataDir string
	seedCount   int
	seedUsers   int
	seedGroups  int
)

var seedCmd = &cobra.Command{
	Use:          "seed",
	Short:        "Seed synthetic annotations for development",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if seedCount <= 0 {
			return fmt.Errorf("--count must be > 0")
		}
		if seedUsers <= 0 || seedGroups <= 0 {
			return fmt.Errorf("--users and --groups must be > 0")
		}

		db, err := store.Open(seedDataDir)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		st := store.NewStore(db)
		defer st.Close()

		topics := []string{
			"climate methodology review",
			"citation needed for claim",
			"figure axis labels unclear",
			"replication data available",
			"terminology differs from prior work",
		}
		tagSets := [][]string{
			{"review"},
			{"question", "methods"},
			{"typo"},
			{"data", "replication"},
			nil,
		}

		// Spread updated timestamps over the past 30 days so date_range
		// selectors have something to slice.
		base := time.Now().UTC().Add(-30 * 24 * time.Hour)
		for i := 0; i < seedCount; i++ {
			created := base.Add(time.Duration(i) * (30 * 24 * time.Hour) / time.Duration(seedCount))
			a := store.Annotation{
				ID:            fmt.Sprintf("ann-%06d", i),
				UserID:        fmt.Sprintf("acct:user%d@example.com", i%seedUsers),
				GroupID:       fmt.Sprintf("group-%d", i%seedGroups),
				Text:          fmt.Sprintf("%s (note %d)", topics[i%len(topics)], i),
				Tags:          tagSets[i%len(tagSets)],
				TargetURI:     fmt.Sprintf("https://example.com/articles/%d", i%25),
				DocumentTitle: fmt.Sprintf("Article %d", i%25),
				Shared:        i%4 != 0,
				Created:       created,
				Updated:       created,
			}
			if err := st.Insert(a); err != nil {
				return fmt.Errorf("insert %s: %w", a.ID, err)
			}
		}

		fmt.Printf("Seeded %d annotations across %d users and %d groups in %s\n",
			seedCount, seedUsers, seedGroups, seedDataDir)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedDataDir, "data-dir", "data", "Directory for the SQLite database files")
	seedCmd.Flags().IntVar(&seedCount, "count", 200, "Number of annotations to insert")
	seedCmd.Flags().IntVar(&seedUsers, "users", 5, "Number of distinct users")
	seedCmd.Flags().IntVar(&seedGroups, "groups", 3, "Number of distinct groups")

	rootCmd.AddCommand(seedCmd)
}
