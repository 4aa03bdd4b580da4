package destination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/rvhonorato/orchestrator/internal/artifact"
	"github.com/rvhonorato/orchestrator/internal/db"
)

// Jobd is the legacy base64-JSON adapter. The whole payload.zip travels
// base64-encoded inside a JSON body, and the output comes back the same way.
type Jobd struct{}

// jobdRequest is the upload body jobd expects. Slurml stays false: slurm
// bridging is a jobd-side concern this orchestrator never enables.
type jobdRequest struct {
	ID     string `json:"id"`
	Input  string `json:"input"`
	Slurml bool   `json:"slurml"`
}

// jobdResponse is the subset of jobd's response both endpoints share.
type jobdResponse struct {
	ID     string `json:"ID"`
	Output string `json:"Output"`
}

// Upload reads {loc}/payload.zip, base64-encodes it in 3 KiB chunks, and
// POSTs it as JSON. jobd answers 201 with its own identifier for the job.
func (Jobd) Upload(ctx context.Context, job *db.Job, uploadURL string) (string, error) {
	if job.Loc == "" {
		return "", ErrInvalidPath
	}

	input, err := artifact.FileToBase64(filepath.Join(job.Loc, "payload.zip"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}

	body, err := json.Marshal(jobdRequest{
		ID:     uuid.NewString(),
		Input:  input,
		Slurml: false,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", unexpectedStatus(resp.StatusCode, resp.Body)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrResponseReadFailed, err)
	}
	var parsed jobdResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeserializationFailed, err)
	}
	return parsed.ID, nil
}

// Download GETs {downloadURL}/{dest_id} and, on 200, base64-decodes the
// Output field into {loc}/output.zip. 202 means the destination is still
// running the job.
func (Jobd) Download(ctx context.Context, job *db.Job, downloadURL string) error {
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
		// handled below
	case http.StatusAccepted:
		return ErrNotReady
	default:
		return unexpectedStatus(resp.StatusCode, resp.Body)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResponseReadFailed, err)
	}
	var parsed jobdResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("%w: %v", ErrDeserializationFailed, err)
	}

	if err := artifact.Base64ToFile(parsed.Output, filepath.Join(job.Loc, "output.zip")); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	return nil
}
