// Command velesctl is a thin CLI wrapper over the Collection API: spec.md
// §1 describes a CLI surface only through "its interface", so the command
// set here stays intentionally small — enough to create a collection,
// upsert/search points, run a VelesQL statement, and inspect the on-disk
// catalog, mirroring the teacher's cmd/sqvect shape of a cobra root command
// with one subcommand per store operation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/velesdb/velesdb/internal/obslog"
	"github.com/velesdb/velesdb/pkg/collection"
	"github.com/velesdb/velesdb/pkg/payloadlog"
	"github.com/velesdb/velesdb/pkg/query"
)

var (
	dataDir        string
	collectionName string
	dimension      int
	verbose        bool
)

var rootCmd = &cobra.Command{
	Use:   "velesctl",
	Short: "CLI for the VelesDB embedded vector database",
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()

		if _, err := db.CreateCollection(collectionName, collection.DefaultConfig(dimension)); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
		fmt.Printf("collection %q created (dimension=%d)\n", collectionName, dimension)
		return nil
	},
}

var upsertCmd = &cobra.Command{
	Use:   "upsert <id> <vector>",
	Short: "Upsert a point (id=0 autogenerates one)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id: %w", err)
		}
		vec, err := parseVector(args[1])
		if err != nil {
			return err
		}
		fieldsStr, _ := cmd.Flags().GetString("fields")
		fields, err := parseFields(fieldsStr)
		if err != nil {
			return err
		}

		c, err := openCollection()
		if err != nil {
			return err
		}
		defer c.Close()

		gotID, err := c.Upsert(id, vec, fields)
		if err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
		fmt.Printf("upserted id=%d\n", gotID)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <vector>",
	Short: "k-NN search for the nearest points",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vec, err := parseVector(args[0])
		if err != nil {
			return err
		}
		k, _ := cmd.Flags().GetInt("k")
		ef, _ := cmd.Flags().GetInt("ef")

		c, err := openCollection()
		if err != nil {
			return err
		}
		defer c.Close()

		results, err := c.Search(context.Background(), vec, k, ef)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		for _, r := range results {
			fmt.Printf("id=%d score=%f\n", r.ID, r.Score)
		}
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <velesql>",
	Short: "Run a VelesQL statement against the collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCollection()
		if err != nil {
			return err
		}
		defer c.Close()

		res, err := c.ExecuteQuery(context.Background(), args[0], query.Params{})
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		for _, row := range res.Rows {
			out, _ := json.Marshal(row.Fields)
			fmt.Printf("id=%d score=%f fields=%s\n", row.ID, row.Score, out)
		}
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print catalog statistics for a collection (rebuilds the SQLite catalog view first)",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := collectionDir()
		cat, err := payloadlog.OpenCatalog(dir)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		defer cat.Close()

		c, err := openCollection()
		if err != nil {
			return err
		}
		defer c.Close()

		store, err := payloadlog.Open(dir, loggerFor())
		if err != nil {
			return fmt.Errorf("open payload log: %w", err)
		}
		defer store.Close()

		ctx := context.Background()
		if err := cat.Refresh(ctx, store); err != nil {
			return fmt.Errorf("refresh catalog: %w", err)
		}
		count, err := cat.PointCount(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("points: %d\n", count)

		for k, v := range c.Stats() {
			fmt.Printf("%s: %v\n", k, v)
		}
		return nil
	},
}

func collectionDir() string {
	return dataDir + "/" + collectionName
}

func loggerFor() obslog.Logger {
	if verbose {
		return obslog.NewStd(obslog.LevelDebug)
	}
	return obslog.Nop()
}

func openDatabase() (*collection.Database, error) {
	return collection.Open(dataDir, loggerFor())
}

func openCollection() (*collection.Collection, error) {
	db, err := openDatabase()
	if err != nil {
		return nil, err
	}
	c, err := db.CreateCollection(collectionName, collection.DefaultConfig(dimension))
	if err != nil {
		return nil, fmt.Errorf("open collection: %w", err)
	}
	return c, nil
}

func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	vec := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}

func parseFields(s string) (map[string]any, error) {
	fields := make(map[string]any)
	if s == "" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return nil, fmt.Errorf("invalid fields JSON: %w", err)
	}
	return fields, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data", "d", "./velesdb-data", "Data directory")
	rootCmd.PersistentFlags().StringVarP(&collectionName, "collection", "c", "default", "Collection name")
	rootCmd.PersistentFlags().IntVarP(&dimension, "dimension", "n", 0, "Vector dimension (required for create/upsert/search)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	upsertCmd.Flags().String("fields", "", "Payload fields as JSON")
	searchCmd.Flags().Int("k", 10, "Number of neighbors")
	searchCmd.Flags().Int("ef", 64, "HNSW search-time candidate list size")

	rootCmd.AddCommand(createCmd, upsertCmd, searchCmd, queryCmd, inspectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
