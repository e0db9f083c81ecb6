package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"hanjang/internal/config"
	"hanjang/internal/rag/retriever"
	sqlm "hanjang/internal/storage/sqlite"
)

func newNotesAnalyzeCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <image>",
		Short: "Extract tables and form fields from an image without saving a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			raw, err := o.client().upload(cmd.Context(), "/api/notes/analyze", "image", filepath.Base(args[0]), data, nil)
			if err != nil {
				return err
			}
			if !o.human(cmd) {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			var a struct {
				Text       string            `json:"text"`
				Confidence float64           `json:"confidence"`
				Tables     [][][]string      `json:"tables"`
				KeyValues  map[string]string `json:"keyValues"`
			}
			if err := json.Unmarshal(raw, &a); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "OCR %s, %d tables, %d fields\n", percent(a.Confidence), len(a.Tables), len(a.KeyValues))
			for i, t := range a.Tables {
				if len(t) == 0 {
					continue
				}
				fmt.Fprintf(w, "\ntable %d\n%s\n", i+1, renderTable(t[0], t[1:], nil))
			}
			if len(a.KeyValues) > 0 {
				rows := make([][]string, 0, len(a.KeyValues))
				for k, v := range a.KeyValues {
					rows = append(rows, []string{k, v})
				}
				sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
				fmt.Fprintf(w, "\n%s\n", renderTable([]string{"Field", "Value"}, rows, nil))
			}
			return nil
		},
	}
}

// newEvalCommand scores retrieval against a YAML or JSON file of
// {query, truth} cases, where truth lists the note ids that answer the query.
func newEvalCommand(o *options) *cobra.Command {
	var noteIDs []string
	cmd := &cobra.Command{
		Use:   "eval <cases.yaml>",
		Short: "Measure retrieval quality over known question/note pairs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var cases []retriever.QueryCase
			if err := yaml.Unmarshal(b, &cases); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			raw, err := o.client().do(cmd.Context(), http.MethodPost, "/api/rag/evaluate", nil, map[string]any{
				"cases":   cases,
				"noteIds": noteIDs,
				"userId":  o.user,
			})
			if err != nil {
				return err
			}
			if !o.human(cmd) {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			var m retriever.Metrics
			if err := json.Unmarshal(raw, &m); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Cases", "Hit@5", "Hit@10", "MRR"},
				[][]string{{strconv.Itoa(m.Cases), percent(m.KAt5), percent(m.KAt10), strconv.FormatFloat(m.MRR, 'f', 3, 64)}},
				nil))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&noteIDs, "note", nil, "restrict retrieval to these note ids")
	return cmd
}

func newModelsCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models the server's provider offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := o.client().do(cmd.Context(), http.MethodGet, "/api/models", nil, nil)
			if err != nil {
				return err
			}
			if !o.human(cmd) {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			var out struct {
				Models []string `json:"models"`
			}
			if err := json.Unmarshal(raw, &out); err != nil {
				return err
			}
			for _, id := range out.Models {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

// newDBCommand works on the local SQLite file directly; the server must be
// stopped, which the lock enforces.
func newDBCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{Use: "db", Short: "Inspect and migrate the local SQLite database"}
	cmd.PersistentFlags().StringVar(&path, "path", "", "database file (default $HANJANG_SQLITE_PATH)")

	withDB := func(run func(cmd *cobra.Command, m sqlm.Manager, db *sql.DB) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = config.FromEnv().SQLitePath
			}
			unlock, err := lockDatabase(path)
			if err != nil {
				return err
			}
			defer unlock()
			db, err := sqlm.Connect(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer db.Close()
			return run(cmd, sqlm.Manager{}, db)
		}
	}
	printVersion := func(cmd *cobra.Command, m sqlm.Manager, db *sql.DB) error {
		v, err := m.Version(cmd.Context(), db)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: schema v%d (latest v%d)\n", path, v, sqlm.LatestVersion())
		return nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE:  withDB(printVersion),
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, m sqlm.Manager, db *sql.DB) error {
				if err := m.UpToLatest(cmd.Context(), db); err != nil {
					return err
				}
				return printVersion(cmd, m, db)
			}),
		},
		&cobra.Command{
			Use:   "rollback",
			Short: "Undo the newest migration (v3 drops stored vectors)",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, m sqlm.Manager, db *sql.DB) error {
				if err := m.DownOne(cmd.Context(), db); err != nil {
					return err
				}
				return printVersion(cmd, m, db)
			}),
		},
	)
	return cmd
}
