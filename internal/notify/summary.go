package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jorgepascosoto/vaultdb/internal/job"
)

// BuildSummaryMarkdown renders a job record as a small markdown report.
func BuildSummaryMarkdown(rec *job.Record) string {
	var sb strings.Builder

	sb.WriteString("## Database Backup Summary\n\n")

	switch rec.Status {
	case job.StatusCompleted:
		sb.WriteString("**Status:** :white_check_mark: Success\n\n")
	case job.StatusFailed:
		sb.WriteString("**Status:** :x: Failed\n\n")
	default:
		sb.WriteString(fmt.Sprintf("**Status:** :hourglass: %s\n\n", rec.Status))
	}

	sb.WriteString("| Property | Value |\n")
	sb.WriteString("|----------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Job ID | `%s` |\n", rec.ID))
	if rec.DisplayName != "" {
		sb.WriteString(fmt.Sprintf("| Settings | %s |\n", rec.DisplayName))
	}
	sb.WriteString(fmt.Sprintf("| Database Type | %s |\n", rec.Metadata.DatabaseType))
	sb.WriteString(fmt.Sprintf("| Database Name | %s |\n", rec.Metadata.DatabaseName))
	sb.WriteString(fmt.Sprintf("| Started | %s |\n", rec.StartedAt.UTC().Format(time.RFC3339)))

	switch rec.Status {
	case job.StatusCompleted:
		sb.WriteString(fmt.Sprintf("| File | `%s` |\n", rec.FilePath))
		sb.WriteString(fmt.Sprintf("| Size | %s |\n", formatBytes(rec.FileSize)))
		if rec.StorageURL != "" {
			sb.WriteString(fmt.Sprintf("| Storage URL | %s |\n", rec.StorageURL))
		}
		sb.WriteString(fmt.Sprintf("| Duration | %s |\n", durationOf(rec)))

		if rec.Metadata.TotalTables > 0 {
			sb.WriteString(fmt.Sprintf("| Tables | %d |\n", rec.Metadata.TotalTables))
			sb.WriteString(fmt.Sprintf("| Rows | %d |\n", rec.Metadata.TotalRows))
		}
		if n := len(rec.Metadata.Collections); n > 0 {
			sb.WriteString(fmt.Sprintf("| Collections | %d (%d chunked) |\n", n, rec.Metadata.ChunkedCollections))
		}
		if rec.Metadata.Note != "" {
			sb.WriteString(fmt.Sprintf("| Note | %s |\n", rec.Metadata.Note))
		}
	case job.StatusFailed:
		sb.WriteString(fmt.Sprintf("| Duration | %s |\n", durationOf(rec)))
		sb.WriteString(fmt.Sprintf("| Error | %s |\n", rec.ErrorMessage))
	}

	sb.WriteString("\n")

	return sb.String()
}

func durationOf(rec *job.Record) time.Duration {
	return (time.Duration(rec.DurationMs) * time.Millisecond).Round(time.Millisecond)
}

func formatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}
