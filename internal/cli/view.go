package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/systemshift/reqgraph/internal/query"
	"github.com/systemshift/reqgraph/internal/render"
	"github.com/systemshift/reqgraph/internal/store"
)

type viewKind string

const (
	viewTree  viewKind = "tree"
	viewTable viewKind = "table"
	viewGraph viewKind = "graph"
)

var viewShort = map[viewKind]string{
	viewTree:  "Print the containment tree",
	viewTable: "Print every element as a table row",
	viewGraph: "Print graph nodes and edges",
}

// ViewOptions holds the query flags shared by the view commands.
type ViewOptions struct {
	TypeTag  string
	Page     int
	PageSize int
	Sort     []string
	Filter   []string
	Search   string
	Select   []string
}

// Request builds the list request. Flag values go through the same
// parser as the server's query parameters.
func (v ViewOptions) Request() (query.Request, error) {
	params := url.Values{}
	params.Set("page", fmt.Sprint(v.Page))
	if v.PageSize > 0 {
		params.Set("pageSize", fmt.Sprint(v.PageSize))
	}
	for _, s := range v.Sort {
		params.Add("sort", s)
	}
	for _, f := range v.Filter {
		params.Add("filter", f)
	}
	if v.Search != "" {
		params.Set("search", v.Search)
	}
	req, err := query.Parse(params)
	if err != nil {
		return query.Request{}, err
	}
	req.TypeTag = v.TypeTag
	return req, nil
}

// NewViewCommand creates the tree, table or graph command.
func NewViewCommand(rootOpts *RootOptions, kind viewKind) *cobra.Command {
	opts := &ViewOptions{}

	cmd := &cobra.Command{
		Use:   string(kind),
		Short: viewShort[kind],
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(cmd, rootOpts, opts, kind)
		},
	}

	cmd.Flags().StringVarP(&opts.TypeTag, "type", "t", "", "only load elements of this type tag")
	cmd.Flags().IntVar(&opts.Page, "page", 0, "zero-based page to load")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 0, "page size (default from config)")
	cmd.Flags().StringArrayVar(&opts.Sort, "sort", nil, "sort as field[,asc|desc] (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Filter, "filter", nil, "filter as field:eq|ne|contains:value (repeatable)")
	cmd.Flags().StringVar(&opts.Search, "search", "", "free-text search")
	cmd.Flags().StringSliceVar(&opts.Select, "select", nil, "ids to mark as selected")

	return cmd
}

func runView(cmd *cobra.Command, rootOpts *RootOptions, opts *ViewOptions, kind viewKind) error {
	formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}

	if opts.PageSize == 0 {
		opts.PageSize = rootOpts.Config.Client.PageSize
	}
	req, err := opts.Request()
	if err != nil {
		return formatter.Failure(WrapExitError(ExitCommandError, "invalid query flags", err))
	}

	s := rootOpts.newStore()
	if err := load(cmd, s, req); err != nil {
		return formatter.Failure(err)
	}
	for _, id := range opts.Select {
		if !s.Selection().Has(id) {
			s.Select(id, false)
		}
	}

	r := render.ForWriter(cmd.OutOrStdout())
	var data any
	var text string
	switch kind {
	case viewTree:
		m := s.TreeModel()
		data, text = m, r.Tree(m)
	case viewTable:
		m := s.TableModel()
		data, text = m, r.Table(m)
	case viewGraph:
		m := s.GraphModel()
		data, text = m, r.Graph(m)
	}
	text += "\n" + render.PageLine(s.PageState()) + "\n"
	return formatter.Success(data, text)
}

func load(cmd *cobra.Command, s *store.Store, req query.Request) error {
	if req.TypeTag != "" {
		return s.LoadByType(cmd.Context(), req.TypeTag, req)
	}
	return s.LoadAll(cmd.Context(), req)
}
