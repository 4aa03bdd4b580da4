package destination

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rvhonorato/orchestrator/internal/artifact"
	"github.com/rvhonorato/orchestrator/internal/db"
)

// Client is the multipart-streaming adapter for remote client processes.
// Every regular file under the job directory becomes one multipart part;
// file bytes flow straight from disk into the request body through a pipe,
// never buffered whole in memory.
type Client struct{}

// clientResponse is the submit response: the remote client's payload id.
type clientResponse struct {
	ID int64 `json:"id"`
}

// Upload walks job.Loc recursively and streams each regular file as one
// part. The part name is the file path relative to the job directory (so
// structure survives the trip), the filename is the basename, and the
// per-part Content-Length comes from filesystem metadata.
func (Client) Upload(ctx context.Context, job *db.Job, uploadURL string) (string, error) {
	if job.Loc == "" {
		return "", ErrInvalidPath
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeParts(mw, job.Loc)
		if err == nil {
			err = mw.Close()
		}
		// CloseWithError(nil) closes cleanly; otherwise the request side
		// observes the walk failure as a body read error.
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, pr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", unexpectedStatus(resp.StatusCode, resp.Body)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrResponseReadFailed, err)
	}
	var parsed clientResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeserializationFailed, err)
	}
	return strconv.FormatInt(parsed.ID, 10), nil
}

// writeParts streams every regular file under root into the multipart writer.
func writeParts(mw *multipart.Writer, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%s; filename=%s`,
			strconv.Quote(filepath.ToSlash(rel)), strconv.Quote(filepath.Base(p))))
		hdr.Set("Content-Type", contentTypeFor(p))
		hdr.Set("Content-Length", strconv.FormatInt(info.Size(), 10))

		part, err := mw.CreatePart(hdr)
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(part, f)
		return err
	})
}

// contentTypeFor guesses a part content type from the file extension.
func contentTypeFor(p string) string {
	if ct := mime.TypeByExtension(filepath.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Download GETs {downloadURL}/{dest_id} and streams the body to
// {loc}/download.zip, flushed to disk before the status transition that
// makes it visible to users.
func (Client) Download(ctx context.Context, job *db.Job, downloadURL string) error {
	url := fmt.Sprintf("%s/%s", downloadURL, job.DestID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := artifact.SaveFile(filepath.Join(job.Loc, "download.zip"), resp.Body); err != nil {
			return fmt.Errorf("%w: %v", ErrResponseReadFailed, err)
		}
		return nil
	case http.StatusAccepted:
		return ErrNotReady
	case http.StatusNoContent:
		return ErrJobFailedOrCleaned
	case http.StatusNotFound:
		return ErrJobNotFound
	default:
		return unexpectedStatus(resp.StatusCode, resp.Body)
	}
}
