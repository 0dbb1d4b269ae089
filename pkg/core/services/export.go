// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/leseb/storybridge/pkg/core/state"
	"github.com/leseb/storybridge/pkg/filestore"
	"github.com/leseb/storybridge/pkg/observability/logging"
)

const (
	exportContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	exportSheet       = "Test Cases"

	// countCell holds the number of test cases a stored export was rendered
	// from.
	countCell = "D2"

	maxColumnWidth = 80
)

var (
	storyColumns = []any{"Story ID", "Story Title", "Story Description", "Test Cases", "Exported At", "Export ID"}
	caseColumns  = []any{"Test Case ID", "Title", "Description", "Preconditions", "Steps", "Expected Result", "Priority", "Type"}
)

// TestCaseSource supplies a story together with its generated test cases.
// *engine.Engine satisfies it.
type TestCaseSource interface {
	GetTestCases(ctx context.Context, storyID string) (*state.StoryTestCases, error)
}

// ExportService renders a story's test cases to an Excel workbook and keeps
// the result in a file store.
type ExportService struct {
	source TestCaseSource
	files  filestore.Store
	logger *logging.Logger
	now    func() time.Time
}

// NewExportService creates an ExportService.
func NewExportService(source TestCaseSource, files filestore.Store, logger *logging.Logger) (*ExportService, error) {
	if source == nil || files == nil {
		return nil, fmt.Errorf("test case source and file store are required")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &ExportService{source: source, files: files, logger: logger, now: time.Now}, nil
}

// ExportKey is the object key an export of storyID is stored under. Its base
// name doubles as the download file name.
func ExportKey(storyID string) string {
	return "exports/test_cases_story_" + storyID + ".xlsx"
}

// Export renders and stores a fresh workbook for storyID, replacing any
// earlier export. The returned object carries its content.
func (s *ExportService) Export(ctx context.Context, storyID string) (*filestore.Object, error) {
	tc, err := s.source.GetTestCases(ctx, storyID)
	if err != nil {
		return nil, err
	}
	return s.export(ctx, tc)
}

// Open returns the stored export for storyID. The workbook is rendered again
// when it is missing, when a run finished after it was written, or when it
// holds a different number of test cases than the store does. Runs are
// append-only, so any new non-empty run changes the count even when its
// times predate the export.
func (s *ExportService) Open(ctx context.Context, storyID string) (*filestore.Object, error) {
	tc, err := s.source.GetTestCases(ctx, storyID)
	if err != nil {
		return nil, err
	}

	key := ExportKey(storyID)
	obj, err := s.files.GetObject(ctx, key)
	switch {
	case errors.Is(err, filestore.ErrObjectNotFound):
		return s.export(ctx, tc)
	case err != nil:
		return nil, fmt.Errorf("stat export: %w", err)
	}
	if finishedAfter(obj, &tc.Story) {
		s.logger.Debug("export predates latest run", "story_id", storyID, "exported_at", obj.CreatedAt)
		return s.export(ctx, tc)
	}

	content, err := s.files.GetObjectContent(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	if n, ok := exportedCount(content); !ok || n != len(tc.TestCases) {
		s.logger.Debug("export count differs", "story_id", storyID, "exported", n, "stored", len(tc.TestCases))
		return s.export(ctx, tc)
	}
	obj.Content = content
	return obj, nil
}

func (s *ExportService) export(ctx context.Context, tc *state.StoryTestCases) (*filestore.Object, error) {
	now := s.now().UTC()
	content, err := renderWorkbook(tc, uuid.NewString(), now)
	if err != nil {
		return nil, err
	}

	obj := &filestore.Object{
		Key:         ExportKey(tc.Story.StoryID),
		ContentType: exportContentType,
		Size:        int64(len(content)),
		Content:     content,
		CreatedAt:   now,
	}
	if err := s.files.PutObject(ctx, obj); err != nil {
		return nil, fmt.Errorf("store export: %w", err)
	}
	s.logger.Info("story exported", "story_id", tc.Story.StoryID, "key", obj.Key, "num_test_cases", len(tc.TestCases))
	return obj, nil
}

func finishedAfter(obj *filestore.Object, view *state.StoryView) bool {
	latest := view.ProcessEndTime
	if latest == nil {
		latest = view.ProcessStartTime
	}
	return latest != nil && obj.CreatedAt.Before(*latest)
}

// exportedCount reads the test-case count back out of a stored workbook.
func exportedCount(content []byte) (int, bool) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return 0, false
	}
	defer f.Close()

	v, err := f.GetCellValue(exportSheet, countCell)
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// renderWorkbook lays out one sheet: a story header row and its values,
// then the test-case column row and one row per test case.
func renderWorkbook(tc *state.StoryTestCases, exportID string, exportedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), exportSheet); err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}

	rows := [][]any{
		storyColumns,
		{tc.Story.StoryID, tc.Story.Title, tc.Story.Description, len(tc.TestCases), exportedAt.Format(time.RFC3339), exportID},
		caseColumns,
	}
	for _, c := range tc.TestCases {
		rows = append(rows, []any{
			c.ID, c.Title, c.Description, c.Preconditions, numberSteps(c.Steps), c.ExpectedResult, c.Priority, c.Type,
		})
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, fmt.Errorf("render workbook: %w", err)
		}
		if err := f.SetSheetRow(exportSheet, cell, &rows[i]); err != nil {
			return nil, fmt.Errorf("render workbook: %w", err)
		}
	}

	if err := styleWorkbook(f, len(rows)); err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}
	if err := sizeColumns(f, rows[2:]); err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func styleWorkbook(f *excelize.File, numRows int) error {
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	for _, row := range []int{1, 3} {
		if err := f.SetRowStyle(exportSheet, row, row, bold); err != nil {
			return err
		}
	}
	if numRows < 4 {
		return nil
	}

	wrap, err := f.NewStyle(&excelize.Style{Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"}})
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(caseColumns), numRows)
	if err != nil {
		return err
	}
	return f.SetCellStyle(exportSheet, "A4", last, wrap)
}

// sizeColumns fits each test-case column to its longest line plus padding.
func sizeColumns(f *excelize.File, rows [][]any) error {
	for col := range caseColumns {
		width := 0
		for _, row := range rows {
			if col < len(row) {
				width = max(width, longestLine(fmt.Sprint(row[col])))
			}
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(exportSheet, name, name, float64(min(width+2, maxColumnWidth))); err != nil {
			return err
		}
	}
	return nil
}

func longestLine(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		n = max(n, utf8.RuneCountInString(line))
	}
	return n
}

func numberSteps(steps []string) string {
	lines := make([]string, len(steps))
	for i, step := range steps {
		lines[i] = fmt.Sprintf("%d. %s", i+1, step)
	}
	return strings.Join(lines, "\n")
}
