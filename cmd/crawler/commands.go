package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"animestream/catalogservice/internal/crawl"
	"animestream/catalogservice/internal/domain"
)

func newCrawlCommand(ctx *commandContext) *cobra.Command {
	var (
		mediaType  string
		startPage  int
		maxPages   int
		idsPerPage int
		maxIDs     int
		pageWait   time.Duration
		idWait     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Walk the catalog id space and store a record for every uncached id",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.ensureRuntime(cmd.Context())
			if err != nil {
				return err
			}
			records, report, err := rt.Engine.Crawl(cmd.Context(), crawl.Options{
				Type:          domain.ParseMediaType(mediaType),
				StartPage:     startPage,
				MaxPages:      maxPages,
				IDsPerPage:    idsPerPage,
				MaxIDs:        maxIDs,
				InterPageWait: pageWait,
				PerIDWait:     idWait,
			})
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, map[string]any{"report": report, "created": len(records)})
			}
			printReport(cmd.OutOrStdout(), report, len(records))
			return nil
		},
	}
	cmd.Flags().StringVarP(&mediaType, "type", "t", "ANIME", "Media type: ANIME or MANGA")
	cmd.Flags().IntVar(&startPage, "start-page", 0, "First id page to visit (resume point)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 1, "Pages to visit; 0 visits every page")
	cmd.Flags().IntVar(&idsPerPage, "ids-per-page", 50, "Catalog ids per page")
	cmd.Flags().IntVar(&maxIDs, "max-ids", 0, "Stop after processing this many ids; 0 means no limit")
	cmd.Flags().DurationVar(&pageWait, "page-wait", time.Second, "Pause between pages")
	cmd.Flags().DurationVar(&idWait, "id-wait", 0, "Pause before each uncached id")
	return cmd
}

func newGetCommand(ctx *commandContext) *cobra.Command {
	var (
		mediaType string
		refresh   bool
	)
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Resolve one catalog id into a unified record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.ensureRuntime(cmd.Context())
			if err != nil {
				return err
			}
			t := domain.ParseMediaType(mediaType)
			var record domain.UnifiedRecord
			if refresh {
				record, err = rt.Engine.Refresh(cmd.Context(), args[0], t)
			} else {
				record, err = rt.Engine.Get(cmd.Context(), args[0], t)
			}
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, record)
			}
			printRecords(cmd.OutOrStdout(), []domain.UnifiedRecord{record})
			return nil
		},
	}
	cmd.Flags().StringVarP(&mediaType, "type", "t", "ANIME", "Media type: ANIME or MANGA")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Rebuild the record even when cached")
	return cmd
}

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var mediaType string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Reconcile a free text query against the catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.ensureRuntime(cmd.Context())
			if err != nil {
				return err
			}
			records, err := rt.Engine.Search(cmd.Context(), strings.Join(args, " "), domain.ParseMediaType(mediaType))
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, records)
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().StringVarP(&mediaType, "type", "t", "ANIME", "Media type: ANIME or MANGA")
	return cmd
}

func newProvidersCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List registered providers and their tuning",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.ensureRuntime(cmd.Context())
			if err != nil {
				return err
			}
			infos := rt.Engine.Providers()
			if ctx.jsonOutput {
				return writeJSON(cmd, infos)
			}
			out := cmd.OutOrStdout()
			for _, info := range infos {
				state := "enabled"
				if !info.Enabled {
					state = "disabled"
				}
				if info.Authoritative {
					state += ", authoritative"
				}
				fmt.Fprintf(out, "%-12s %-6s %s (match %.2f, accept %.2f)\n",
					info.Name, info.Capability, state, info.Config.MatchThreshold, info.Config.AcceptThreshold)
			}
			return nil
		},
	}
}

func printReport(out io.Writer, report crawl.Report, created int) {
	fmt.Fprintf(out, "Type:      %s\n", report.Type)
	fmt.Fprintf(out, "Pages:     %d of %d (last %d)\n", report.Pages, report.TotalPages, report.LastPage)
	fmt.Fprintf(out, "Fetched:   %d\n", report.Fetched)
	fmt.Fprintf(out, "Processed: %d\n", report.Processed)
	fmt.Fprintf(out, "Created:   %d\n", created)
	fmt.Fprintf(out, "Skipped:   %d\n", report.Skipped)
	fmt.Fprintf(out, "Failed:    %d\n", report.Failed)
	switch next := report.NextStartPage(); {
	case report.Exhausted:
		fmt.Fprintln(out, "Catalog exhausted; restart from page 0 next time.")
	case next == 0:
		fmt.Fprintln(out, "Last page reached; restart from page 0 next time.")
	default:
		fmt.Fprintf(out, "Resume with --start-page %d\n", next)
	}
}

func printRecords(out io.Writer, records []domain.UnifiedRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No records.")
		return
	}
	for _, record := range records {
		fmt.Fprintf(out, "%s %s  %s\n", record.Type, record.ID, record.Media.Title.Primary())
		if len(record.Connectors) == 0 {
			fmt.Fprintln(out, "    (no connectors)")
		}
		for _, connector := range record.Connectors {
			fmt.Fprintf(out, "    %-12s %-40s %.3f\n", connector.ProviderID, connector.ID, connector.Similarity.Score)
		}
	}
}
