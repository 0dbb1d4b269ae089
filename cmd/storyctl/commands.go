// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/leseb/storybridge/pkg/core/state"
)

func (c *cli) listCmd() *cobra.Command {
	var page, perPage int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stories, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, release, err := c.open(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer release()

			result := a.Engine.ListStories(cmd.Context(), page, perPage)
			out := cmd.OutOrStdout()
			if c.jsonOutput {
				return printJSON(out, result)
			}

			if result.Total == 0 {
				fmt.Fprintln(out, "No stories found.")
				fmt.Fprintln(out, "Run 'storyctl add' or 'storyctl seed' to get started.")
				return nil
			}
			printStoryTable(out, result.Stories)
			fmt.Fprintf(out, "\nPage %d of %d (%d stories)\n", result.CurrentPage, result.TotalPages, result.Total)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&perPage, "per-page", 10, "stories per page (1-100)")
	return cmd
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <story-id>",
		Short: "Show a story with its test cases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, release, err := c.open(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer release()

			tc, err := a.Engine.GetTestCases(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("getting story %s: %w", args[0], err)
			}
			out := cmd.OutOrStdout()
			if c.jsonOutput {
				return printJSON(out, tc)
			}

			s := tc.Story
			fmt.Fprintf(out, "Story %s: %s\n", s.StoryID, s.Title)
			fmt.Fprintf(out, "%s\n\n", s.Description)
			fmt.Fprintf(out, "Processed:   %v\n", s.Processed)
			fmt.Fprintf(out, "Added:       %s\n", s.Timestamp.Format(time.RFC3339))
			fmt.Fprintf(out, "Test cases:  %d\n", s.NumTestCases)
			if s.ProcessStartTime != nil {
				fmt.Fprintf(out, "Run started: %s\n", s.ProcessStartTime.Format(time.RFC3339))
			}
			if s.ProcessEndTime != nil {
				fmt.Fprintf(out, "Run ended:   %s\n", s.ProcessEndTime.Format(time.RFC3339))
			}
			if len(tc.TestCases) == 0 {
				return nil
			}

			fmt.Fprintln(out)
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDESCRIPTION\tSTEPS\tEXPECTED")
			for _, t := range tc.TestCases {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", t.ID, truncate(t.Description, 50), len(t.Steps), truncate(t.ExpectedResult, 50))
			}
			return w.Flush()
		},
	}
}

func (c *cli) searchCmd() *cobra.Command {
	var (
		storyID string
		k       int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find stories similar to a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, release, err := c.open(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer release()

			results, err := a.Engine.SearchSimilar(cmd.Context(), args[0], storyID, k)
			if err != nil {
				return fmt.Errorf("searching: %w", err)
			}
			out := cmd.OutOrStdout()
			if c.jsonOutput {
				return printJSON(out, results)
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "No matches.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDISTANCE\tTITLE\tDESCRIPTION")
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%.4f\t%s\t%s\n", r.StoryID, r.Distance, r.Title, truncate(r.Description, 60))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&storyID, "story", "", "restrict matches to this story id")
	cmd.Flags().IntVarP(&k, "limit", "k", 5, "maximum number of matches")
	return cmd
}

func (c *cli) addCmd() *cobra.Command {
	var title, description, file string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a story from flags or from a document",
		Long: `Add a story. Pass --description (and optionally --title), or --file to
extract one or more stories from a PDF, HTML, CSV, JSON, JSONL or text file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == (description == "") {
				return errors.New("exactly one of --description or --file is required")
			}

			a, release, err := c.open(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer release()

			var ids []string
			if file != "" {
				content, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("reading %s: %w", file, err)
				}
				ids, err = a.Ingestion.AddStoryFromDocument(cmd.Context(), filepath.Base(file), content)
				if err != nil {
					// Stories committed before the failure stay in the stores.
					if len(ids) > 0 {
						if perr := c.printAdded(cmd.OutOrStdout(), ids); perr != nil {
							return perr
						}
					}
					return fmt.Errorf("adding stories from %s: %w", file, err)
				}
			} else {
				id, err := a.Ingestion.AddStory(cmd.Context(), title, description)
				if err != nil {
					return fmt.Errorf("adding story: %w", err)
				}
				ids = []string{id}
			}

			return c.printAdded(cmd.OutOrStdout(), ids)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "story title")
	cmd.Flags().StringVar(&description, "description", "", "story text")
	cmd.Flags().StringVarP(&file, "file", "f", "", "document to extract stories from")
	return cmd
}

func (c *cli) printAdded(out io.Writer, ids []string) error {
	if c.jsonOutput {
		return printJSON(out, map[string][]string{"story_ids": ids})
	}
	for _, id := range ids {
		fmt.Fprintf(out, "Added story %s\n", id)
	}
	return nil
}

func (c *cli) addTestsCmd() *cobra.Command {
	var file, start, end string
	cmd := &cobra.Command{
		Use:   "add-tests <story-id>",
		Short: "Record generated test cases for a story",
		Long: `Record one generation run. --file is a JSON array of test cases with
test_case_id, description, steps and expected_result fields.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cases, err := readTestCases(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			startTime := time.Now()
			if start != "" {
				if startTime, err = time.Parse(time.RFC3339, start); err != nil {
					return fmt.Errorf("parsing --start: %w", err)
				}
			}
			var endTime *time.Time
			if end != "" {
				t, err := time.Parse(time.RFC3339, end)
				if err != nil {
					return fmt.Errorf("parsing --end: %w", err)
				}
				endTime = &t
			}

			a, release, err := c.open(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer release()

			artifactID, err := a.Ingestion.AddTestCases(cmd.Context(), args[0], cases, startTime, endTime)
			if err != nil {
				return fmt.Errorf("adding test cases: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d test cases for story %s (run %d)\n", len(cases), args[0], artifactID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON file with test cases, - for stdin")
	cmd.Flags().StringVar(&start, "start", "", "run start time (RFC 3339, default now)")
	cmd.Flags().StringVar(&end, "end", "", "run end time (RFC 3339)")
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <story-id>",
		Short: "Export a story's test cases as an Excel workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, release, err := c.open(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer release()

			obj, err := a.Exports.Export(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("exporting story %s: %w", args[0], err)
			}
			if output == "-" {
				_, err := cmd.OutOrStdout().Write(obj.Content)
				return err
			}
			if output == "" {
				output = filepath.Base(obj.Key)
			}
			if err := os.WriteFile(output, obj.Content, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported story %s to %s (%d bytes)\n", args[0], output, obj.Size)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, - for stdout (default test_cases_story_<id>.xlsx)")
	return cmd
}

func (c *cli) seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the sample stories and test cases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, release, err := c.open(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer release()

			res, err := a.Ingestion.Seed(cmd.Context())
			if err != nil {
				return fmt.Errorf("seeding: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d sample stories; story %s has test cases (run %d)\n",
				len(res.StoryIDs), res.StoryIDs[0], res.ArtifactID)
			return nil
		},
	}
}

func readTestCases(file string, stdin io.Reader) ([]state.TestCase, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("reading test cases: %w", err)
	}

	var cases []state.TestCase
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("parsing test cases: %w", err)
	}
	if len(cases) == 0 {
		return nil, errors.New("no test cases given")
	}
	return cases, nil
}

func printStoryTable(out io.Writer, stories []state.StoryView) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tPROCESSED\tTEST CASES\tADDED")
	fmt.Fprintln(w, "--\t-----\t---------\t----------\t-----")
	for _, s := range stories {
		fmt.Fprintf(w, "%s\t%s\t%v\t%d\t%s\n",
			s.StoryID, truncate(s.Title, 40), s.Processed, s.NumTestCases, s.Timestamp.Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
