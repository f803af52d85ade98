package subscriptions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"reddot-watch/newsfeed/internal/models"
)

const maxListBytes = 5 << 20

// Loader reads the subscription list at the start of every run.
type Loader struct {
	Path      string
	RemoteURL string // downloaded into Path when the local file does not exist
	Client    *http.Client
}

// NewLoader creates a loader for a local path with an optional remote fallback.
func NewLoader(path, remoteURL string) *Loader {
	return &Loader{
		Path:      path,
		RemoteURL: remoteURL,
		Client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Load returns the feeds listed in the subscription document.
// Any read or parse failure is returned as a *ParseError.
func (l *Loader) Load(ctx context.Context) ([]models.FeedDescriptor, error) {
	data, source, err := l.getListData(ctx)
	if err != nil {
		return nil, &ParseError{Source: source, Err: err}
	}

	feeds, err := Parse(bytes.NewReader(data))
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Source = source
		}
		return nil, err
	}
	return feeds, nil
}

func (l *Loader) getListData(ctx context.Context) ([]byte, string, error) {
	data, err := os.ReadFile(l.Path)
	if err == nil {
		log.Debug().Str("path", l.Path).Msg("Using local subscription list")
		return data, l.Path, nil
	}
	if !errors.Is(err, fs.ErrNotExist) || l.RemoteURL == "" {
		return nil, l.Path, err
	}

	log.Info().Str("url", l.RemoteURL).Str("path", l.Path).Msg("Local subscription list not found. Downloading from remote source")
	data, err = l.download(ctx)
	if err != nil {
		return nil, l.RemoteURL, fmt.Errorf("failed to download subscription list: %w", err)
	}
	return data, l.RemoteURL, nil
}

func (l *Loader) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.RemoteURL, nil)
	if err != nil {
		return nil, err
	}

	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxListBytes))
	if err != nil {
		return nil, err
	}

	if l.Path != "" {
		if err := os.WriteFile(l.Path, data, 0o644); err != nil {
			// The run can still use the downloaded copy.
			log.Warn().Err(err).Str("path", l.Path).Msg("Failed to save downloaded subscription list")
		} else {
			log.Debug().Int("bytes", len(data)).Str("path", l.Path).Msg("Downloaded and saved subscription list")
		}
	}
	return data, nil
}
