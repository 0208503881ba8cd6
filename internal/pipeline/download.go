package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/ascensum/genimagefactory/internal/providers"
	"github.com/ascensum/genimagefactory/internal/resilience"
)

// magicBytes maps a declared format to its expected file signature, used to
// verify a downloaded candidate really is what the provider claimed.
var magicBytes = map[string][]byte{
	"png":  {0x89, 'P', 'N', 'G'},
	"jpg":  {0xFF, 0xD8, 0xFF},
	"webp": {'R', 'I', 'F', 'F'},
}

// DownloadStage implements stage 3: fetch each candidate URL to a temp
// file and verify its magic bytes.
type DownloadStage struct {
	client  providers.GenerateClient
	tempDir string
	policy  *resilience.Policy
}

// NewDownloadStage builds the Download stage; tempDir must already exist.
func NewDownloadStage(client providers.GenerateClient, tempDir string) *DownloadStage {
	return &DownloadStage{client: client, tempDir: tempDir, policy: resilience.ExternalServicePolicy()}
}

// Run downloads url to <tempDir>/<name>, verifies its signature against
// format, and returns the resulting ImageBuffer.
func (s *DownloadStage) Run(ctx context.Context, executionID int64, mappingID, url, format string) (ImageBuffer, error) {
	path := fmt.Sprintf("%s/%s", s.tempDir, tempFileName(executionID, mappingID, StageDownload, format))

	err := resilience.WithRetry(ctx, s.policy, func() error {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return s.client.Download(ctx, url, f)
	})
	if err != nil {
		os.Remove(path)
		return ImageBuffer{}, toStageFailure(StageDownload, err)
	}

	if err := verifyMagicBytes(path, format); err != nil {
		os.Remove(path)
		return ImageBuffer{}, &StageFailure{Stage: StageDownload, Cause: err}
	}
	return ImageBuffer{Path: path, Format: format}, nil
}

func verifyMagicBytes(path, format string) error {
	want, ok := magicBytes[format]
	if !ok {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	head := make([]byte, len(want))
	if _, err := f.Read(head); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(head, want) {
		return fmt.Errorf("downloaded file does not match declared format %q", format)
	}
	return nil
}
