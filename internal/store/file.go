package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileArchive appends finished documents to a plain text file.
type FileArchive struct {
	path string
	mu   sync.Mutex
}

func NewFileArchive(path string) *FileArchive {
	return &FileArchive{path: path}
}

func (a *FileArchive) InsertDocument(ctx context.Context, doc ArchivedDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	dir := filepath.Dir(a.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(formatDocument(doc)); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}

func formatDocument(doc ArchivedDocument) string {
	var sb strings.Builder

	title := doc.Title
	if title == "" {
		title = "(untitled)"
	}
	sb.WriteString(fmt.Sprintf("Case File %s - %s\n", doc.ID, title))
	sb.WriteString(fmt.Sprintf("Room %s, finished %s\n", doc.RoomID, doc.FinishedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(strings.Repeat("=", 50) + "\n")

	sb.WriteString(fmt.Sprintf("Keywords: %s\n", strings.Join(doc.Keywords, ", ")))
	sb.WriteString(fmt.Sprintf("Ruleset: %s (%s)\n", doc.Constraints.Ruleset, strings.Join(doc.Constraints.Public, ", ")))
	sb.WriteString(fmt.Sprintf("Hidden: %s\n", doc.Constraints.Hidden))
	sb.WriteString(fmt.Sprintf("Authors: %s\n\n", strings.Join(doc.AuthorIDs, ", ")))

	sections := []struct{ name, body string }{
		{"Procedures", doc.Procedures},
		{"Description", doc.Early},
		{"Addendum", doc.Late},
		{"Conclusion", doc.Conclusion},
	}
	for _, s := range sections {
		if s.body == "" {
			continue
		}
		sb.WriteString(s.name + ":\n")
		sb.WriteString(strings.TrimSpace(s.body) + "\n\n")
	}

	verdict := "failed"
	if doc.CompliancePass {
		verdict = "passed"
	}
	sb.WriteString(fmt.Sprintf("Best votes: %d, compliance %s\n", doc.BestVotes, verdict))
	sb.WriteString(strings.Repeat("-", 40) + "\n\n")
	return sb.String()
}
