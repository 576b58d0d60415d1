package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"yashubustudio/qalens/qalens"
)

func resolveOutputPath(path, dir string) (string, error) {
	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("resolve output path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return "", fmt.Errorf("create output directory: %w", err)
		}
		return absPath, nil
	}
	if dir == "" {
		dir = "out"
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve output dir: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	filename := fmt.Sprintf("analysis_%s.json", time.Now().Format("20060102150405"))
	return filepath.Join(absDir, filename), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeSnapshot writes snap as JSON, or as a workbook of summary tables when path ends in .xlsx.
func writeSnapshot(path string, snap qalens.Snapshot) error {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return writeWorkbook(path, snap)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create result file: %w", err)
	}
	defer f.Close()
	if err := writeJSON(f, snap); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return f.Close()
}

var distributionHeader = []any{"total", "pass", "minor", "fail", "unscored", "pass_rate", "quality_score"}

func distributionCells(d qalens.Distribution) []any {
	return []any{d.Total, d.Pass, d.Minor, d.Fail, d.Unscored, d.PassRate, d.QualityScore}
}

func writeWorkbook(path string, snap qalens.Snapshot) error {
	book := excelize.NewFile()
	defer book.Close()

	agg := qalens.Aggregates{}
	if snap.Aggregates != nil {
		agg = *snap.Aggregates
	}

	sheets := []struct {
		name string
		rows [][]any
	}{
		{"Overall", [][]any{distributionHeader, distributionCells(agg.Overall)}},
		{"Experts", expertRows(agg.Experts)},
		{"Categories", categoryRows(agg.Categories)},
		{"Trend", trendRows(agg.Trend)},
		{"Warnings", warningRows(snap.Warnings)},
	}
	for i, sheet := range sheets {
		if i == 0 {
			if err := book.SetSheetName("Sheet1", sheet.name); err != nil {
				return fmt.Errorf("name sheet: %w", err)
			}
		} else if _, err := book.NewSheet(sheet.name); err != nil {
			return fmt.Errorf("add sheet %s: %w", sheet.name, err)
		}
		for r, row := range sheet.rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				return err
			}
			if err := book.SetSheetRow(sheet.name, cell, &row); err != nil {
				return fmt.Errorf("write %s row %d: %w", sheet.name, r+1, err)
			}
		}
	}
	if err := book.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func expertRows(experts []qalens.ExpertSummary) [][]any {
	header := append([]any{"expert_id"}, distributionHeader...)
	header = append(header, "consensus_accuracy", "tier")
	rows := [][]any{header}
	for _, e := range experts {
		row := append([]any{e.ExpertID}, distributionCells(e.Distribution)...)
		var accuracy any = ""
		if e.ConsensusAccuracy != nil {
			accuracy = *e.ConsensusAccuracy
		}
		rows = append(rows, append(row, accuracy, e.Tier))
	}
	return rows
}

func categoryRows(categories []qalens.CategorySummary) [][]any {
	rows := [][]any{append([]any{"category"}, distributionHeader...)}
	for _, c := range categories {
		rows = append(rows, append([]any{c.Category}, distributionCells(c.Distribution)...))
	}
	return rows
}

func trendRows(trend qalens.TrendSummary) [][]any {
	rows := [][]any{append([]any{string(trend.Granularity)}, distributionHeader...)}
	for _, b := range trend.Buckets {
		rows = append(rows, append([]any{b.Start.Format("2006-01-02")}, distributionCells(b.Distribution)...))
	}
	if trend.Undated > 0 {
		rows = append(rows, []any{"undated", trend.Undated})
	}
	return rows
}

func warningRows(warnings []qalens.Warning) [][]any {
	rows := [][]any{{"kind", "table", "message"}}
	for _, w := range warnings {
		rows = append(rows, []any{string(w.Kind), w.Table, w.Message})
	}
	return rows
}

func printSummary(w io.Writer, snap qalens.Snapshot) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "==== %s / %s ====\n", snap.ProjectType.ID, snap.QualityType.ID)
	for _, t := range snap.Tables {
		status := "ok"
		if t.Error != "" {
			status = t.Error
		}
		fmt.Fprintf(w, "  table %s (%d rows): %s\n", t.Name, t.Rows, status)
	}
	for _, warn := range snap.Warnings {
		fmt.Fprintf(w, "  warning [%s] %s\n", warn.Kind, warn.Message)
	}
	if snap.Aggregates == nil {
		fmt.Fprintf(w, "  no analysis: %s\n", snap.Error)
		return
	}
	o := snap.Aggregates.Overall
	fmt.Fprintf(w, "  records=%d pass=%d minor=%d fail=%d unscored=%d quality=%.3f\n",
		o.Total, o.Pass, o.Minor, o.Fail, o.Unscored, o.QualityScore)
	if snap.Consensus != nil {
		fmt.Fprintf(w, "  consensus groups=%d single-reviewer=%d\n",
			snap.Consensus.ScoredGroups, snap.Consensus.SingleReviewer)
	}
	limit := 10
	if len(snap.Aggregates.Experts) < limit {
		limit = len(snap.Aggregates.Experts)
	}
	for _, e := range snap.Aggregates.Experts[:limit] {
		fmt.Fprintf(w, "    - %s: %d reviewed, quality=%.3f, tier=%s\n", e.ExpertID, e.Total, e.QualityScore, e.Tier)
	}
	if rest := len(snap.Aggregates.Experts) - limit; rest > 0 {
		fmt.Fprintf(w, "    ... %d more experts\n", rest)
	}
}
