package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/driftdb/internal/database"
	"github.com/roach88/driftdb/internal/dberr"
	"github.com/roach88/driftdb/internal/query"
	"github.com/roach88/driftdb/internal/raw"
	"github.com/roach88/driftdb/internal/record"
	"github.com/roach88/driftdb/internal/schema"
)

// NewRecordCommand creates the record command group.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Create, update, delete and list records",
		Long: `Edit records the way an application would. Every write is one action
and one batch, so it shows up in "changes" and the next push.

Values given as col=value are parsed by column type: strings as-is,
numbers and booleans parsed, and "null" clears an optional column.`,
	}

	cmd.AddCommand(newRecordCreateCommand(rootOpts))
	cmd.AddCommand(newRecordUpdateCommand(rootOpts))
	cmd.AddCommand(newRecordDeleteCommand(rootOpts))
	cmd.AddCommand(newRecordListCommand(rootOpts))

	return cmd
}

func newRecordCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var sets []string

	cmd := &cobra.Command{
		Use:           "create <table>",
		Short:         "Create a record and print its id",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			c, values, err := s.prepareWrite(args[0], sets)
			if err != nil {
				return err
			}

			var created *record.Record
			err = s.action(cmd, "create "+c.Name(), func(ctx context.Context) error {
				var err error
				created, err = c.Create(ctx, values.apply)
				return err
			})
			if err != nil {
				return fail(s.formatter, ExitFailure, "failed to create record", err)
			}
			return s.writeRecords(created)
		},
	}

	cmd.Flags().StringArrayVar(&sets, "set", nil, "column value as col=value (repeatable)")

	return cmd
}

func newRecordUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var sets []string

	cmd := &cobra.Command{
		Use:           "update <table> <id>",
		Short:         "Update columns of a record",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			c, values, err := s.prepareWrite(args[0], sets)
			if err != nil {
				return err
			}
			if len(values) == 0 {
				return NewExitError(ExitCommandError, "update needs at least one --set")
			}

			var updated *record.Record
			err = s.action(cmd, "update "+c.Name(), func(ctx context.Context) error {
				r, err := findRecord(ctx, c, args[1])
				if err != nil {
					return err
				}
				updated = r
				return c.Update(ctx, r, values.apply)
			})
			if err != nil {
				return fail(s.formatter, ExitFailure, "failed to update record", err)
			}
			return s.writeRecords(updated)
		},
	}

	cmd.Flags().StringArrayVar(&sets, "set", nil, "column value as col=value (repeatable)")

	return cmd
}

func newRecordDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	var permanent bool

	cmd := &cobra.Command{
		Use:   "delete <table> <id>",
		Short: "Delete a record",
		Long: `Mark a record as deleted. A synced record leaves a tombstone that the
next push reports; a never-synced record is destroyed outright. With
--permanent the record is destroyed without a tombstone.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := s.collection(args[0])
			if err != nil {
				return err
			}
			err = s.action(cmd, "delete "+c.Name(), func(ctx context.Context) error {
				r, err := findRecord(ctx, c, args[1])
				if err != nil {
					return err
				}
				if permanent {
					return c.DestroyPermanently(ctx, r)
				}
				return c.MarkAsDeleted(ctx, r)
			})
			if err != nil {
				return fail(s.formatter, ExitFailure, "failed to delete record", err)
			}

			if s.formatter.Format == "json" {
				return s.formatter.Success(map[string]any{"table": c.Name(), "id": args[1], "permanent": permanent})
			}
			fmt.Fprintf(s.formatter.Writer, "✓ Deleted %s#%s\n", c.Name(), args[1])
			return nil
		},
	}

	cmd.Flags().BoolVar(&permanent, "permanent", false, "destroy without leaving a tombstone")

	return cmd
}

func newRecordListCommand(rootOpts *RootOptions) *cobra.Command {
	var where []string
	var unsynced bool

	cmd := &cobra.Command{
		Use:           "list <table>",
		Short:         "List live records of a table",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			c, values, err := s.prepareWrite(args[0], where)
			if err != nil {
				return err
			}

			q := query.New(c.Name())
			if unsynced {
				q = query.NotSynced(c.Name())
			}
			for _, col := range values.columns() {
				q.Where = append(q.Where, query.Eq{Column: col, Value: values[col]})
			}

			recs, err := c.Query(s.ctx(cmd), q)
			if err != nil {
				return fail(s.formatter, ExitFailure, "failed to query records", err)
			}
			return s.writeRecords(recs...)
		},
	}

	cmd.Flags().StringArrayVar(&where, "where", nil, "filter as col=value (repeatable, all must match)")
	cmd.Flags().BoolVar(&unsynced, "unsynced", false, "only records with unpushed changes")

	return cmd
}

// columnValues are parsed col=value arguments.
type columnValues map[string]raw.Value

func (v columnValues) columns() []string {
	cols := make([]string, 0, len(v))
	for col := range v {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func (v columnValues) apply(u *record.Updater) {
	for _, col := range v.columns() {
		u.Set(col, v[col])
	}
}

// parseAssignments parses col=value pairs against the table's column types.
func parseAssignments(t *schema.TableSchema, args []string) (columnValues, error) {
	out := make(columnValues, len(args))
	for _, arg := range args {
		col, text, ok := strings.Cut(arg, "=")
		if !ok || col == "" {
			return nil, fmt.Errorf("expected col=value, got %q", arg)
		}
		c, ok := t.Column(col)
		if !ok {
			return nil, fmt.Errorf("table %s has no column %q", t.Name(), col)
		}
		v, err := parseValue(c, text)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		out[col] = v
	}
	return out, nil
}

func parseValue(c schema.ColumnSchema, text string) (raw.Value, error) {
	if text == "null" && c.IsOptional {
		return raw.Null{}, nil
	}
	switch c.Type {
	case schema.TypeNumber:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", text)
		}
		return raw.FromAny(f)
	case schema.TypeBoolean:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return nil, fmt.Errorf("%q is not a boolean", text)
		}
		return raw.Bool(b), nil
	}
	return raw.String(text), nil
}

func findRecord(ctx context.Context, c *database.Collection, id string) (*record.Record, error) {
	r, ok, err := c.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dberr.InvalidOperation("record not found").WithRecord(c.Name(), id)
	}
	return r, nil
}

func (s *session) collection(table string) (*database.Collection, error) {
	c, err := s.db.Collection(table)
	if err != nil {
		return nil, fail(s.formatter, ExitCommandError, "unknown table", err)
	}
	return c, nil
}

func (s *session) prepareWrite(table string, args []string) (*database.Collection, columnValues, error) {
	c, err := s.collection(table)
	if err != nil {
		return nil, nil, err
	}
	values, err := parseAssignments(c.Schema(), args)
	if err != nil {
		return nil, nil, fail(s.formatter, ExitCommandError, "invalid value", err)
	}
	return c, values, nil
}

// writeRecords prints records as JSON dirty raws or one line each.
func (s *session) writeRecords(recs ...*record.Record) error {
	if s.formatter.Format == "json" {
		out := make([]raw.Dirty, 0, len(recs))
		for _, r := range recs {
			out = append(out, r.Raw().Dirty())
		}
		return s.formatter.Success(out)
	}

	w := s.formatter.Writer
	for _, r := range recs {
		snap := r.Raw()
		var cols []string
		for _, c := range r.Schema().Columns() {
			cols = append(cols, c.Name+"="+raw.Format(snap.Get(c.Name)))
		}
		fmt.Fprintf(w, "%s [%s] %s\n", r.ID(), snap.Status, strings.Join(cols, " "))
	}
	return nil
}
