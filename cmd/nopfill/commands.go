package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ryanscovill/jp-work-automation/internal/mcp"
	"github.com/ryanscovill/jp-work-automation/internal/pdfdata"
	"github.com/ryanscovill/jp-work-automation/internal/session"
)

func newFillCmd(a *app) *cobra.Command {
	var headless bool
	cmd := &cobra.Command{
		Use:   "fill <data.json|form.pdf>",
		Short: "Open the form and fill every page the operator reaches.",
		Long: `Opens the Notice of Project form in a browser and fills the start page.
Each page reached afterwards is detected and filled once. The session ends
when the browser window is closed or on Ctrl+C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("headless") {
				a.cfg.Browser.Headless = &headless
			}
			sum, err := session.RunFile(cmd.Context(), a.cfg, args[0], a.logger)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum.Message)
			for _, p := range sum.Incomplete {
				fmt.Fprintf(cmd.OutOrStdout(), "  check page: %s\n", p)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "run the browser headless")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the fill tools over MCP (stdio, or SSE with --sse-port).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			server, err := mcp.NewServer(a.cfg, a.logger)
			if err != nil {
				return fmt.Errorf("create MCP server: %w", err)
			}
			if a.cfg.MCP.SSEPort > 0 {
				return server.StartSSE(cmd.Context(), a.cfg.MCP.SSEPort)
			}
			a.logger.Info("serving MCP over stdio")
			return server.Start(cmd.Context())
		},
	}
	cmd.Flags().Int("sse-port", 0, "serve over SSE on this port (overrides mcp.sse_port)")
	return cmd
}

func newPagesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pages",
		Short: "List configured pages and their fields.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := session.LoadMapping(a.cfg)
			if err != nil {
				return err
			}
			for _, w := range m.Warnings {
				a.logger.Warn("mapping entry skipped", zap.String("detail", w))
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, p := range m.Pages {
				fmt.Fprintf(tw, "%s\t(%d fields)\n", p.Name, len(p.Fields))
				for _, f := range p.Fields {
					fmt.Fprintf(tw, "  %s\t%s\t%s\n", f.ID, f.Type, f.DataKey)
				}
			}
			return tw.Flush()
		},
	}
}

func newPreviewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <data.json|form.pdf> [page]",
		Short: "Print the value each field would receive, without a browser.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := session.LoadMapping(a.cfg)
			if err != nil {
				return err
			}
			record, err := session.LoadRecord(args[0], a.logger)
			if err != nil {
				return err
			}
			page := ""
			if len(args) == 2 {
				page = args[1]
			}
			pages, err := session.Preview(m, record, page)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), pages)
		},
	}
}

func newExtractCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <form.pdf>",
		Short: "Print the data record derived from a source PDF as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := pdfdata.Extract(args[0], a.logger)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), record)
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
