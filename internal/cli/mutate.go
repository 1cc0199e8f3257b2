package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/systemshift/reqgraph/internal/element"
	"github.com/systemshift/reqgraph/internal/query"
	"github.com/systemshift/reqgraph/internal/render"
	"github.com/systemshift/reqgraph/internal/store"
)

// ParseAssignments turns key=value arguments into an attribute bag.
// Values that parse as JSON keep their JSON type (numbers, booleans,
// null, arrays, objects, quoted strings); anything else is a string.
func ParseAssignments(args []string) (map[string]any, error) {
	attrs := make(map[string]any, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid attribute %q: want key=value", arg)
		}
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			attrs[k] = parsed
		} else {
			attrs[k] = v
		}
	}
	return attrs, nil
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <type-tag> [key=value...]",
		Short: "Create an element",
		Example: `  reqgraph create RequirementDefinition displayName="Charge Time" shortName=CT
  reqgraph create RequirementUsage displayName="Fast Charge" definitionRef=<id>`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			attrs, err := ParseAssignments(args[1:])
			if err != nil {
				return formatter.Failure(WrapExitError(ExitCommandError, "parsing attributes", err))
			}

			rec, err := rootOpts.newStore().Create(cmd.Context(), args[0], attrs)
			if err != nil {
				return formatter.Failure(err)
			}
			return formatter.Success(rec, render.ForWriter(cmd.OutOrStdout()).Record(rec))
		},
	}
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var typeTag string

	cmd := &cobra.Command{
		Use:   "update <id> key=value...",
		Short: "Change attributes of an element",
		Long: `Change attributes of an element. Only the named attributes are sent;
the rest of the element is left as it is.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			changed, err := ParseAssignments(args[1:])
			if err != nil {
				return formatter.Failure(WrapExitError(ExitCommandError, "parsing attributes", err))
			}

			s := rootOpts.newStore()
			if err := fetchOne(cmd, s, typeTag, args[0]); err != nil {
				return formatter.Failure(err)
			}
			rec, err := s.Update(cmd.Context(), args[0], changed)
			if err != nil {
				return formatter.Failure(err)
			}
			return formatter.Success(rec, render.ForWriter(cmd.OutOrStdout()).Record(rec))
		},
	}

	cmd.Flags().StringVarP(&typeTag, "type", "t", "", "type tag of the element (narrows the lookup)")
	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	var typeTag string

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an element",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			id := args[0]

			s := rootOpts.newStore()
			if err := fetchOne(cmd, s, typeTag, id); err != nil {
				return formatter.Failure(err)
			}
			if err := s.Delete(cmd.Context(), id); err != nil {
				return formatter.Failure(err)
			}
			return formatter.Success(map[string]string{"deleted": id}, "deleted "+id+"\n")
		},
	}

	cmd.Flags().StringVarP(&typeTag, "type", "t", "", "type tag of the element (narrows the lookup)")
	return cmd
}

// fetchOne makes id resident in s, since the store only mutates elements
// it holds.
func fetchOne(cmd *cobra.Command, s *store.Store, typeTag, id string) error {
	req := query.Request{
		PageSize: 1,
		Filter:   []query.Filter{{Field: query.FieldID, Op: query.OpEq, Value: id}},
	}
	if typeTag != "" {
		if err := s.LoadByType(cmd.Context(), typeTag, req); err != nil {
			return err
		}
	} else if err := s.LoadAll(cmd.Context(), req); err != nil {
		return err
	}
	if _, ok := s.Get(id); !ok {
		return element.NotFound(id)
	}
	return nil
}
