package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/lipgloss/v2/table"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/cuongbtq/quizjobs/internal/api/dto"
	"github.com/cuongbtq/quizjobs/internal/bootstrap"
	"github.com/cuongbtq/quizjobs/internal/job"
	"github.com/cuongbtq/quizjobs/internal/store"
	"github.com/cuongbtq/quizjobs/internal/transport"
)

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "create a job record and enqueue its envelope",
		UsageText: "jobctl submit --kind GRADE --subject QUIZ_ID [--answers 0,2,1]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "GRADE or EXPORT", Required: true},
			&cli.StringFlag{Name: "subject", Aliases: []string{"s"}, Usage: "quiz id", Required: true},
			&cli.StringFlag{Name: "answers", Aliases: []string{"a"}, Usage: "comma-separated choice indexes"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			answers, err := parseAnswers(cmd.String("answers"))
			if err != nil {
				return err
			}

			s, err := openSession(ctx, cmd, bootstrap.Options{})
			if err != nil {
				return err
			}
			defer s.Close()

			sub, err := bootstrap.NewProducer(s.cfg, s.backends, s.logger).Submit(ctx, job.Request{
				Kind:      job.Kind(cmd.String("kind")),
				SubjectID: cmd.String("subject"),
				Answers:   answers,
			})
			if err != nil {
				if sub.JobID != "" {
					fmt.Fprintf(cmd.Root().Writer, "%s\t%s (not enqueued)\n", sub.JobID, sub.Status)
				}
				return err
			}

			fmt.Fprintf(cmd.Root().Writer, "%s\t%s\n", sub.JobID, sub.Status)
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "show one job record",
		UsageText: "jobctl status JOB_ID",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print the record as JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return errors.New("job id is required")
			}

			s, err := openSession(ctx, cmd, bootstrap.Options{})
			if err != nil {
				return err
			}
			defer s.Close()

			record, err := s.backends.Records.Get(ctx, id)
			if err != nil {
				return err
			}

			if cmd.Bool("json") {
				enc := json.NewEncoder(cmd.Root().Writer)
				enc.SetIndent("", "  ")
				return enc.Encode(dto.FromRecord(record))
			}
			writeRecord(cmd.Root().Writer, record, time.Now())
			return nil
		},
	}
}

func listCommand(configPath string) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list recent job records, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kind", Usage: "filter by kind"},
			&cli.StringFlag{Name: "status", Usage: "filter by status"},
			intFromConfigFile(configPath, "list_limit", &cli.IntFlag{Name: "limit", Usage: "rows to show", Value: 20}),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			filter := store.Filter{PageSize: int(cmd.Int("limit"))}
			if k := cmd.String("kind"); k != "" {
				kind, err := job.ParseKind(k)
				if err != nil {
					return err
				}
				filter.Kind = kind
			}
			if st := cmd.String("status"); st != "" {
				status, err := job.ParseStatus(st)
				if err != nil {
					return err
				}
				filter.Status = status
			}

			s, err := openSession(ctx, cmd, bootstrap.Options{})
			if err != nil {
				return err
			}
			defer s.Close()

			records, err := s.backends.Records.List(ctx, filter)
			if err != nil {
				return err
			}
			if filter.PageSize > 0 && len(records) > filter.PageSize {
				records = records[:filter.PageSize]
			}

			writeTable(cmd.Root().Writer, records, time.Now())
			return nil
		},
	}
}

func quizCommand() *cli.Command {
	return &cli.Command{
		Name:  "quiz",
		Usage: "manage quizzes",
		Commands: []*cli.Command{
			{
				Name:      "put",
				Usage:     "create or replace a quiz from a JSON file",
				UsageText: "jobctl quiz put FILE [--diff]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "diff", Usage: "print changes against the stored quiz and skip unchanged writes"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					path := cmd.Args().First()
					if path == "" {
						return errors.New("quiz file is required")
					}
					raw, err := os.ReadFile(path)
					if err != nil {
						return err
					}
					var quiz job.Quiz
					if err := json.Unmarshal(raw, &quiz); err != nil {
						return fmt.Errorf("failed to parse quiz: %w", err)
					}

					s, err := openSession(ctx, cmd, bootstrap.Options{})
					if err != nil {
						return err
					}
					defer s.Close()

					if cmd.Bool("diff") {
						stored, err := s.backends.Quizzes.GetQuiz(ctx, quiz.ID)
						switch {
						case errors.Is(err, job.ErrNotFound):
							fmt.Fprintf(cmd.Root().Writer, "quiz %s is new\n", quiz.ID)
						case err != nil:
							return err
						default:
							diff, changed, err := quizDiff(stored, &quiz)
							if err != nil {
								return err
							}
							if !changed {
								fmt.Fprintf(cmd.Root().Writer, "quiz %s unchanged\n", quiz.ID)
								return nil
							}
							fmt.Fprintln(cmd.Root().Writer, diff)
						}
					}

					if err := bootstrap.NewProducer(s.cfg, s.backends, s.logger).PutQuiz(ctx, &quiz); err != nil {
						return err
					}
					fmt.Fprintf(cmd.Root().Writer, "quiz %s stored (%d questions)\n", quiz.ID, len(quiz.Questions))
					return nil
				},
			},
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "work with export artifacts",
		Commands: []*cli.Command{
			{
				Name:      "fetch",
				Usage:     "download the artifact of a COMPLETED export job",
				UsageText: "jobctl export fetch JOB_ID [--out FILE]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "write to FILE instead of stdout"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id := cmd.Args().First()
					if id == "" {
						return errors.New("job id is required")
					}

					s, err := openSession(ctx, cmd, bootstrap.Options{ObjectStore: true})
					if err != nil {
						return err
					}
					defer s.Close()

					record, err := s.backends.Records.Get(ctx, id)
					if err != nil {
						return err
					}
					if record.Kind != job.KindExport || record.Status != job.StatusCompleted {
						return fmt.Errorf("job %s is %s %s, not a completed export", id, record.Kind, record.Status)
					}

					body, err := s.backends.Objects.Get(ctx, record.StorageKey)
					if err != nil {
						return err
					}

					out := cmd.String("out")
					if out == "" {
						_, err = cmd.Root().Writer.Write(body)
						return err
					}
					if err := os.WriteFile(out, body, 0o644); err != nil {
						return err
					}
					fmt.Fprintf(cmd.Root().ErrWriter, "wrote %s to %s\n", humanize.Bytes(uint64(len(body))), out)
					return nil
				},
			},
		},
	}
}

func dlqCommand(configPath string) *cli.Command {
	return &cli.Command{
		Name:  "dlq",
		Usage: "dead-letter queue operations",
		Commands: []*cli.Command{
			{
				Name:  "redrive",
				Usage: "move dead-lettered envelopes back to the main queue",
				Flags: []cli.Flag{
					intFromConfigFile(configPath, "redrive.max", &cli.IntFlag{Name: "max", Usage: "messages to move", Value: 100}),
					durationFromConfigFile(configPath, "redrive.wait", &cli.DurationFlag{Name: "wait", Usage: "receive wait per batch", Value: time.Second}),
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					s, err := openSession(ctx, cmd, bootstrap.Options{})
					if err != nil {
						return err
					}
					defer s.Close()

					if s.backends.DeadLetter == nil {
						return errors.New("no dead-letter queue configured for this transport")
					}

					res, err := transport.Redrive(ctx, s.backends.DeadLetter, s.backends.Transport, int(cmd.Int("max")), cmd.Duration("wait"), s.logger)
					fmt.Fprintf(cmd.Root().Writer, "moved %s, failed %s\n",
						humanize.Comma(int64(res.Moved)), humanize.Comma(int64(res.Failed)))
					return err
				},
			},
		},
	}
}

func reconcileCommand(configPath string) *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "re-enqueue envelopes for stale PENDING records once",
		Flags: []cli.Flag{
			durationFromConfigFile(configPath, "reconcile.threshold", &cli.DurationFlag{Name: "threshold", Usage: "minimum record age, overrides reconciler.threshold"}),
			intFromConfigFile(configPath, "reconcile.batch", &cli.IntFlag{Name: "batch", Usage: "records per sweep, overrides reconciler.batch_size"}),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := openSession(ctx, cmd, bootstrap.Options{})
			if err != nil {
				return err
			}
			defer s.Close()

			if d := cmd.Duration("threshold"); d > 0 {
				s.cfg.Reconciler.Threshold = d
			}
			if n := int(cmd.Int("batch")); n > 0 {
				s.cfg.Reconciler.BatchSize = n
			}

			p := bootstrap.NewProducer(s.cfg, s.backends, s.logger)
			res, err := bootstrap.NewReconciler(s.cfg, s.backends, p, s.logger).Sweep(ctx)
			fmt.Fprintf(cmd.Root().Writer, "found %d, requeued %d, failed %d\n", res.Found, res.Requeued, res.Failed)
			return err
		},
	}
}

func parseAnswers(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	answers := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid answer %q: %w", p, err)
		}
		answers = append(answers, n)
	}
	return answers, nil
}

// columnGap separates columns. lipgloss pads cells with U+00A0, so the gap is
// drawn as the column border instead of cell padding.
var columnGap = lipgloss.Border{Left: "  "}

// newTable returns a borderless table. Callers always set headers: without
// them lipgloss v2 beta clips the last row.
func newTable(headers ...string) *table.Table {
	cell := lipgloss.NewStyle().Align(lipgloss.Left)
	return table.New().
		Border(columnGap).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderHeader(false).
		BorderColumn(true).
		StyleFunc(func(int, int) lipgloss.Style { return cell }).
		Headers(headers...)
}

func writeRecord(w io.Writer, r *job.Record, now time.Time) {
	rows := [][]string{
		{"Kind", string(r.Kind)},
		{"Subject", r.SubjectID},
		{"Status", string(r.Status)},
	}
	if r.Score != nil {
		rows = append(rows, []string{"Score", strconv.Itoa(*r.Score)})
	}
	if r.StorageKey != "" {
		rows = append(rows, []string{"Artifact", r.StorageKey})
	}
	if r.ErrorMessage != "" {
		rows = append(rows, []string{"Error", r.ErrorMessage})
	}
	rows = append(rows, []string{"Created", fmt.Sprintf("%s (%s)",
		r.CreatedAt.Format(time.RFC3339), humanize.RelTime(r.CreatedAt, now, "ago", "from now"))})
	if r.FinishedAt != nil {
		rows = append(rows, []string{"Finished", fmt.Sprintf("%s (took %s)",
			r.FinishedAt.Format(time.RFC3339), r.FinishedAt.Sub(r.CreatedAt).Round(time.Millisecond))})
	}

	fmt.Fprintln(w, newTable("Job", r.ID).Rows(rows...))
}

func writeTable(w io.Writer, records []*job.Record, now time.Time) {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.ID, string(r.Kind), r.SubjectID, string(r.Status), result(r),
			humanize.RelTime(r.CreatedAt, now, "ago", "from now"),
		})
	}

	fmt.Fprintln(w, newTable("ID", "KIND", "SUBJECT", "STATUS", "RESULT", "CREATED").Rows(rows...))
}

func result(r *job.Record) string {
	switch {
	case r.Score != nil:
		return strconv.Itoa(*r.Score)
	case r.StorageKey != "":
		return r.StorageKey
	case r.ErrorMessage != "":
		return r.ErrorMessage
	default:
		return "-"
	}
}
