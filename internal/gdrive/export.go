package gdrive

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/sjawhar/ghost-interviewer/internal/session"
	"github.com/sjawhar/ghost-interviewer/internal/storage"
)

// Exporter uploads finished interview transcripts into a Drive folder as
// Google Docs.
type Exporter struct {
	service  *drive.Service
	folderID string
	fileIDs  map[string]string
	mu       sync.Mutex
}

func NewExporter(ctx context.Context, credPath, folderID string) (*Exporter, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return NewExporterWithService(svc, folderID), nil
}

func NewExporterWithService(svc *drive.Service, folderID string) *Exporter {
	return &Exporter{
		service:  svc,
		folderID: folderID,
		fileIDs:  make(map[string]string),
	}
}

// SessionCompleted creates the transcript doc, or replaces its content when
// the same session is exported again.
func (e *Exporter) SessionCompleted(ctx context.Context, c session.Completion) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	body := strings.NewReader(storage.Markdown(c))
	name := DocName(c.SessionID)

	if fileID, ok := e.fileIDs[c.SessionID]; ok {
		_, err := e.service.Files.Update(fileID, &drive.File{}).Media(body).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("drive update: %w", err)
		}
		return nil
	}

	file := &drive.File{
		Name:     name,
		MimeType: "application/vnd.google-apps.document",
	}
	if e.folderID != "" {
		file.Parents = []string{e.folderID}
	}
	doc, err := e.service.Files.Create(file).Media(body).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("drive create: %w", err)
	}

	e.fileIDs[c.SessionID] = doc.Id
	return nil
}

func DocName(sessionID string) string {
	return "ghost-interviewer-" + sessionID
}
