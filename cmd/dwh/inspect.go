package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"dwh/internal/queries"
	"dwh/internal/runner"
	"dwh/internal/schema"
	"dwh/internal/transformer"
)

func newStatementsCmd(f *rootFlags) *cobra.Command {
	var phase string
	cmd := &cobra.Command{
		Use:   "statements",
		Short: "Print the generated statements without connecting.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(cmd.ErrOrStderr(), f.verbose)
			cfg, err := loadConfig(f, log)
			if err != nil {
				return err
			}
			st, err := runner.New(cfg, log).Statements()
			if err != nil {
				return err
			}

			phases := queries.Phases
			if phase != "" {
				p, err := queries.ParsePhase(phase)
				if err != nil {
					return err
				}
				phases = []queries.Phase{p}
			}
			for _, p := range phases {
				printStatements(cmd.OutOrStdout(), st.Phase(p))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&phase, "phase", "", "print one phase only (drop, create, load, transform)")
	return cmd
}

func printStatements(w io.Writer, list []queries.Statement) {
	for _, st := range list {
		fmt.Fprintf(w, "-- %s (%s)\n", st.Name, st.Phase)
		if st.SQL == "" && st.Load != nil {
			fmt.Fprintf(w, "-- bulk load %s from %s\n\n", st.Load.Table, st.Load.Source)
			continue
		}
		fmt.Fprintf(w, "%s\n\n", strings.TrimSpace(st.SQL))
	}
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the tables with their role and layout hints.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table := newTable(cmd.OutOrStdout(), "Table", "Role", "Primary key", "Dist style", "Dist key", "Sort key", "Columns")
			for _, t := range schema.Catalog() {
				dist := string(t.Layout.DistStyle)
				if dist == "" {
					dist = "auto"
				}
				table.Append([]string{
					t.Name,
					string(t.Role),
					t.PrimaryKey,
					dist,
					t.Layout.DistKey,
					t.Layout.SortKey,
					strconv.Itoa(len(t.Columns)),
				})
			}
			table.Render()
			return nil
		},
	}
}

func newPreviewCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "preview",
		Short: "Derive the star schema in memory and print row counts.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(cmd.ErrOrStderr(), f.verbose)
			cfg, err := loadConfig(f, log)
			if err != nil {
				return err
			}
			star, err := runner.New(cfg, log).Preview(cmd.Context())
			if err != nil {
				return err
			}
			printCounts(cmd.OutOrStdout(), star)
			return nil
		},
	}
}

func printCounts(w io.Writer, star transformer.Star) {
	counts := star.Counts()
	table := newTable(w, "Table", "Rows")
	for _, name := range []string{schema.Songplays, schema.Users, schema.Songs, schema.Artists, schema.Time} {
		table.Append([]string{name, strconv.Itoa(counts[name])})
	}
	table.Render()
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(true)
	table.SetHeader(header)
	return table
}
