package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"opsdesk/internal/domain"
	"opsdesk/internal/engine"
	"opsdesk/internal/pages"
	"opsdesk/internal/repo"
	"opsdesk/internal/trending"
)

func agendaCmd() *cobra.Command {
	ag := &cobra.Command{
		Use:   "agenda",
		Short: "Build and send meeting agendas",
		Long:  "An agenda profile names a data source and how to render it. Items whose flag column is checked are left out.",
	}
	ag.AddCommand(agendaPreviewCmd())
	ag.AddCommand(agendaSendCmd())
	return ag
}

func agendaPreviewCmd() *cobra.Command {
	var date, meetingType string
	var html bool
	cmd := &cobra.Command{
		Use:   "preview <profile>",
		Short: "Render an agenda without sending it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				doc, err := e.PreviewAgenda(ctx, engine.AgendaRequest{Profile: args[0], MeetingDate: date, MeetingType: meetingType})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(doc)
				}
				if html {
					fmt.Println(doc.Body)
					return nil
				}
				printAgenda(doc)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "meeting date for the subject (default today)")
	cmd.Flags().StringVar(&meetingType, "type", "", "meeting type, replaces the profile subject")
	cmd.Flags().BoolVar(&html, "html", false, "print the rendered email body")
	return cmd
}

func agendaSendCmd() *cobra.Command {
	var to []string
	var date, meetingType string
	var previewOnly bool
	cmd := &cobra.Command{
		Use:   "send <profile>",
		Short: "Render an agenda and email it",
		Long:  "Recipients are email addresses or names from the colleagues directory.\nWithout --to the agenda is built and the run journaled, but nothing is sent.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SendAgenda(ctx, engine.AgendaRequest{
					Profile:     args[0],
					Recipients:  to,
					MeetingDate: date,
					MeetingType: meetingType,
					PreviewOnly: previewOnly,
				})
				printRun(res.RunID)
				if viper.GetBool("json") {
					if perr := printJSON(res); perr != nil {
						return perr
					}
					return err
				}
				if len(res.Outcomes) > 0 {
					tw := newTable("Recipient", "Message", "Error")
					for _, o := range res.Outcomes {
						tw.AppendRow(table.Row{o.Recipient, o.MessageID, o.Error})
					}
					tw.Render()
				} else if err == nil {
					printAgenda(res.Document)
				}
				return err
			})
		},
	}
	cmd.Flags().StringSliceVar(&to, "to", nil, "recipients, comma separated")
	cmd.Flags().StringVar(&date, "date", "", "meeting date for the subject (default today)")
	cmd.Flags().StringVar(&meetingType, "type", "", "meeting type, replaces the profile subject")
	cmd.Flags().BoolVar(&previewOnly, "preview-only", false, "build but do not send")
	return cmd
}

func printAgenda(doc domain.AgendaDocument) {
	fmt.Printf("Subject: %s\n", doc.Subject)
	tw := newTable("Person", "Item", "Description")
	for _, it := range doc.Items {
		tw.AppendRow(table.Row{it.Person, it.AgendaItem, it.BriefDescription})
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d open", len(doc.Items)), fmt.Sprintf("%d excluded", doc.Excluded)})
	tw.Render()
}

func trendingCmd() *cobra.Command {
	tr := &cobra.Command{
		Use:   "trending",
		Short: "Ingest trending repositories",
	}
	var limit int
	ingest := &cobra.Command{
		Use:   "ingest",
		Short: "Write today's trending repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.IngestTrending(ctx, limit)
				printRun(res.RunID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := newTable("Repository", "Stars today", "Total", "Record")
				for _, r := range res.Records {
					tw.AppendRow(table.Row{r.FullName, r.StarsToday, r.TotalStars, r.RecordID})
				}
				tw.Render()
				printFailures(res.Failures)
				return nil
			})
		},
	}
	ingest.Flags().IntVar(&limit, "limit", 0, "entries to ingest (default from config)")

	dedup := &cobra.Command{
		Use:   "dedup",
		Short: "Retire all but the newest record of each repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.DeduplicateTrending(ctx)
				printRun(res.RunID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("retired %d, kept %d\n", len(res.Retired), res.Kept)
				printFailures(res.Failures)
				return nil
			})
		},
	}

	var runLimit int
	run := &cobra.Command{
		Use:   "run",
		Short: "Ingest then deduplicate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RunTrending(ctx, runLimit)
				printRun(res.RunID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("written %d, retired %d\n", res.Written, res.Retired)
				return nil
			})
		},
	}
	run.Flags().IntVar(&runLimit, "limit", 0, "entries to ingest (default from config)")

	tr.AddCommand(ingest, dedup, run)
	return tr
}

func printFailures(fs []trending.Failure) {
	for _, f := range fs {
		fmt.Fprintf(os.Stderr, "failed %s: %s\n", f.Key, f.Error)
	}
}

func tasksCmd() *cobra.Command {
	tk := &cobra.Command{
		Use:   "tasks",
		Short: "Open tasks and digests",
	}
	open := &cobra.Command{
		Use:   "open",
		Short: "List tasks that are not done",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.OpenTasks(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable("Date", "Status", "Priority", "Task")
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.Date, t.Status, t.Priority, t.Description})
				}
				tw.Render()
				return nil
			})
		},
	}

	var instruction, model string
	digest := &cobra.Command{
		Use:   "digest",
		Short: "Summarise open tasks with the language model",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.DigestTasks(ctx, instruction, model)
				printRun(res.RunID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Println(res.Summary)
				return nil
			})
		},
	}
	digest.Flags().StringVar(&instruction, "instruction", "", "extra instruction for the summary")
	digest.Flags().StringVar(&model, "model", "", "model id (default from config)")

	tk.AddCommand(open, digest)
	return tk
}

func colleaguesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "colleagues",
		Short: "List the colleagues directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Colleagues(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Name", "Job title", "Email")
				for _, c := range items {
					tw.AppendRow(table.Row{c.Name, c.JobTitle, c.Email})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func pageCmd() *cobra.Command {
	pg := &cobra.Command{
		Use:   "page",
		Short: "Write and read workspace pages",
	}
	pg.AddCommand(pageCreateCmd())
	pg.AddCommand(pageAppendCmd())
	pg.AddCommand(pageReadCmd())
	pg.AddCommand(pageIDCmd())
	return pg
}

// readBody returns the markdown named by file ("-" for stdin).
func readBody(file string) (string, error) {
	if file == "" {
		return "", nil
	}
	if file == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(file)
	return string(b), err
}

func pageCreateCmd() *cobra.Command {
	var in pages.PageInput
	var file string
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a page from markdown or a prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Title = args[0]
			body, err := readBody(file)
			if err != nil {
				return err
			}
			if body != "" {
				in.Markdown = body
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CreatePage(ctx, in)
				printRun(res.RunID)
				if err != nil {
					return err
				}
				return printPageReport(res)
			})
		},
	}
	cmd.Flags().StringVar(&in.Description, "description", "", "page description")
	cmd.Flags().StringVar(&in.Category, "category", "", "category (default from config)")
	cmd.Flags().StringVar(&in.URL, "url", "", "source URL")
	cmd.Flags().StringVar(&in.Markdown, "markdown", "", "markdown body")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the markdown body from a file (- for stdin)")
	cmd.Flags().StringVar(&in.Prompt, "prompt", "", "generate the body from this prompt")
	cmd.Flags().StringVar(&in.Model, "model", "", "model id for --prompt")
	return cmd
}

func pageAppendCmd() *cobra.Command {
	var markdown, file, prompt, model string
	cmd := &cobra.Command{
		Use:   "append <page id or url>",
		Short: "Append markdown or generated content to a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(file)
			if err != nil {
				return err
			}
			if body != "" {
				markdown = body
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.AppendPage(ctx, args[0], markdown, prompt, model)
				printRun(res.RunID)
				if err != nil {
					return err
				}
				return printPageReport(res)
			})
		},
	}
	cmd.Flags().StringVar(&markdown, "markdown", "", "markdown to append")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read markdown from a file (- for stdin)")
	cmd.Flags().StringVar(&prompt, "prompt", "", "generate the content from this prompt")
	cmd.Flags().StringVar(&model, "model", "", "model id for --prompt")
	return cmd
}

func printPageReport(res engine.PageReport) error {
	if viper.GetBool("json") {
		res.Markdown = ""
		return printJSON(res)
	}
	fmt.Printf("page %s: %d blocks in %d batch(es), %d skipped\n", res.PageID, res.Blocks, res.Batches, res.Skipped)
	if res.URL != "" {
		fmt.Println(res.URL)
	}
	return nil
}

func pageReadCmd() *cobra.Command {
	var raw bool
	var style string
	var width int
	cmd := &cobra.Command{
		Use:   "read <page id or url>",
		Short: "Print a page as markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				md, err := e.ReadPage(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"markdown": md})
				}
				if raw {
					fmt.Print(md)
					return nil
				}
				out, err := pages.RenderTerminal(md, style, width)
				if err != nil {
					return err
				}
				fmt.Print(out)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print markdown without terminal rendering")
	cmd.Flags().StringVar(&style, "style", "auto", "glamour style (auto, dark, light, notty or a JSON path)")
	cmd.Flags().IntVar(&width, "width", 0, "wrap width")
	return cmd
}

func pageIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "id <url>",
		Short: "Extract the page id from a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := pages.ExtractPageID(args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"page_id": id})
			}
			fmt.Println(id)
			return nil
		},
	}
}

func runsCmd() *cobra.Command {
	var f repo.RunFilters
	cmd := &cobra.Command{
		Use:   "runs [run id]",
		Short: "List journaled runs, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if len(args) == 1 {
					run, err := e.Run(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(run)
				}
				runs, err := e.Runs(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := newTable("ID", "Kind", "Target", "Actor", "Status", "Started", "Error")
				for _, r := range runs {
					tw.AppendRow(table.Row{r.ID, r.Kind, r.Target, r.Actor, r.Status, r.StartedAt, truncate(r.Error, 60)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Kind, "kind", "", "run kind filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (running, succeeded, failed)")
	cmd.Flags().StringVar(&f.Target, "target", "", "target filter")
	cmd.Flags().StringVar(&f.Actor, "by", "", "only runs started by this actor")
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 20, "number of runs")
	return cmd
}

func eventsCmd() *cobra.Command {
	var f repo.EventFilters
	var cursor string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail journal events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cursor != "" {
				id, err := strconv.ParseInt(cursor, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid cursor %q", cursor)
				}
				f.Cursor = id
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evts, err := e.Events(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable("ID", "Time", "Type", "Entity", "Run", "Payload")
				for _, ev := range evts {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, entity(ev), ev.RunID, truncate(ev.Payload, 60)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.RunID, "run", "", "run id filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&cursor, "before", "", "only events with an id below this one")
	return cmd
}

func entity(ev domain.Event) string {
	if ev.EntityID == "" {
		return ev.EntityKind
	}
	return ev.EntityKind + ":" + ev.EntityID
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
