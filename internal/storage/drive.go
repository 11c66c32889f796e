package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/soniclane/transcript-pipeline/internal/types"
)

const driveFolderMime = "application/vnd.google-apps.folder"

// DriveProvider implements Provider on Google Drive using the Changes
// API for incremental sync.
type DriveProvider struct {
	service       *drive.Service
	watchFolder   string
	watchFolderID string
}

// NewDriveProvider builds a Drive client from OAuth credential files and
// resolves the watched folder.
func NewDriveProvider(ctx context.Context, credentialsFile, tokenFile, watchFolder string) (*DriveProvider, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, drive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	client, err := oauthClient(ctx, config, tokenFile)
	if err != nil {
		return nil, err
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	p := &DriveProvider{service: srv, watchFolder: watchFolder}
	if p.watchFolderID, err = p.findOrCreateFolder(watchFolder, "root"); err != nil {
		return nil, err
	}
	return p, nil
}

// oauthClient loads a cached token. Unlike an interactive tool, a service
// cannot prompt for an auth code, so a missing token is a setup error.
func oauthClient(ctx context.Context, config *oauth2.Config, tokenFile string) (*http.Client, error) {
	f, err := os.Open(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("open token file (run the auth setup first): %w", err)
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decode token file: %w", err)
	}
	return config.Client(ctx, tok), nil
}

// Name implements Provider.
func (p *DriveProvider) Name() string { return "drive" }

// ListChanges lists files changed since the cursor. An empty cursor does
// a full listing of the watch folder and anchors the cursor at the
// current start page token, mirroring an initial sync.
func (p *DriveProvider) ListChanges(ctx context.Context, cursor string) ([]types.FileCandidate, string, error) {
	decoded, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	if decoded.IsEmpty() {
		return p.initialSync(ctx)
	}

	var entries []types.FileCandidate
	pageToken := decoded.Token
	for {
		resp, err := p.service.Changes.List(pageToken).
			Context(ctx).
			Spaces("drive").
			Fields("nextPageToken, newStartPageToken, changes(file(id, name, size, modifiedTime, parents, trashed, mimeType))").
			Do()
		if err != nil {
			return nil, "", wrapDriveError(err)
		}

		for _, change := range resp.Changes {
			if candidate, ok := p.toCandidate(change.File); ok {
				entries = append(entries, candidate)
			}
		}

		if resp.NewStartPageToken != "" {
			next := &Cursor{Version: CursorVersion, Token: resp.NewStartPageToken}
			return entries, next.Encode(), nil
		}
		pageToken = resp.NextPageToken
	}
}

// initialSync lists everything currently in the watch folder and returns
// a cursor anchored at now.
func (p *DriveProvider) initialSync(ctx context.Context) ([]types.FileCandidate, string, error) {
	startToken, err := p.service.Changes.GetStartPageToken().Context(ctx).Do()
	if err != nil {
		return nil, "", wrapDriveError(err)
	}

	var entries []types.FileCandidate
	query := fmt.Sprintf("'%s' in parents and trashed=false", p.watchFolderID)
	pageToken := ""
	for {
		call := p.service.Files.List().
			Context(ctx).
			Q(query).
			Spaces("drive").
			Fields("nextPageToken, files(id, name, size, modifiedTime, parents, trashed, mimeType)")
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, "", wrapDriveError(err)
		}

		for _, f := range resp.Files {
			if candidate, ok := p.toCandidate(f); ok {
				entries = append(entries, candidate)
			}
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	next := &Cursor{Version: CursorVersion, Token: startToken.StartPageToken}
	return entries, next.Encode(), nil
}

// toCandidate filters a Drive file down to a candidate in the watch
// folder. Folder entries, trashed files, and files elsewhere are skipped.
func (p *DriveProvider) toCandidate(f *drive.File) (types.FileCandidate, bool) {
	if f == nil || f.Trashed || f.MimeType == driveFolderMime {
		return types.FileCandidate{}, false
	}

	inWatch := false
	for _, parent := range f.Parents {
		if parent == p.watchFolderID {
			inWatch = true
			break
		}
	}
	if !inWatch {
		return types.FileCandidate{}, false
	}

	modified, _ := time.Parse(time.RFC3339, f.ModifiedTime)
	return types.FileCandidate{
		ID:         f.Id,
		Path:       p.watchFolder + "/" + f.Name,
		SizeBytes:  f.Size,
		ModifiedAt: modified,
		Extension:  strings.ToLower(path.Ext(f.Name)),
	}, true
}

// Download streams file content.
func (p *DriveProvider) Download(ctx context.Context, file types.FileCandidate) (io.ReadCloser, error) {
	resp, err := p.service.Files.Get(file.ID).Context(ctx).Download()
	if err != nil {
		return nil, wrapDriveError(err)
	}
	return resp.Body, nil
}

// Upload writes content at the provider path, creating intermediate
// folders as needed.
func (p *DriveProvider) Upload(ctx context.Context, providerPath string, r io.Reader) error {
	dir, name := path.Split(providerPath)

	parentID := "root"
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		var err error
		if parentID, err = p.findOrCreateFolder(part, parentID); err != nil {
			return err
		}
	}

	file := &drive.File{Name: name, Parents: []string{parentID}}
	_, err := p.service.Files.Create(file).Context(ctx).Media(r).Do()
	if err != nil {
		return wrapDriveError(err)
	}
	return nil
}

// findOrCreateFolder resolves a folder by name under a parent, creating
// it when absent.
func (p *DriveProvider) findOrCreateFolder(name, parentID string) (string, error) {
	query := fmt.Sprintf("name='%s' and '%s' in parents and mimeType='%s' and trashed=false",
		name, parentID, driveFolderMime)

	resp, err := p.service.Files.List().Q(query).Spaces("drive").Fields("files(id)").Do()
	if err != nil {
		return "", wrapDriveError(err)
	}
	if len(resp.Files) > 0 {
		return resp.Files[0].Id, nil
	}

	folder := &drive.File{
		Name:     name,
		MimeType: driveFolderMime,
		Parents:  []string{parentID},
	}
	created, err := p.service.Files.Create(folder).Fields("id").Do()
	if err != nil {
		return "", wrapDriveError(err)
	}
	return created.Id, nil
}

// wrapDriveError maps Google API failures onto the pipeline taxonomy:
// throttling and server errors are transient, quota exhaustion is fatal.
func wrapDriveError(err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		// Transport-level failure, worth retrying.
		return types.Transient(err)
	}

	switch {
	case gerr.Code == http.StatusTooManyRequests:
		return types.Transient(err)
	case gerr.Code == http.StatusForbidden && isQuotaReason(gerr):
		return fmt.Errorf("%w: %v", types.ErrQuotaExceeded, err)
	case gerr.Code >= 500:
		return types.Transient(err)
	default:
		return err
	}
}

func isQuotaReason(gerr *googleapi.Error) bool {
	for _, e := range gerr.Errors {
		if e.Reason == "userRateLimitExceeded" || e.Reason == "quotaExceeded" ||
			e.Reason == "storageQuotaExceeded" {
			return true
		}
	}
	return false
}
