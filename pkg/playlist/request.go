package playlist

import "fmt"

// ValidationError is returned when user input can't produce a download.
// Its message is meant to be shown to the user as is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// DownloadRequest is the body of POST /api/download.
type DownloadRequest struct {
	VideoURLs     []string          `json:"videoUrls"`
	ParsedHeaders map[string]string `json:"parsedHeaders"`
}

// Validate checks that there is at least one URL and one header.
func (r *DownloadRequest) Validate() error {
	if len(r.VideoURLs) == 0 {
		return &ValidationError{Field: "videoUrls", Message: "No video urls found"}
	}
	if len(r.ParsedHeaders) == 0 {
		return &ValidationError{Field: "parsedHeaders", Message: "No headers found"}
	}
	return nil
}

// FormInput is the raw text the user pasted.
type FormInput struct {
	PlaylistFile string `json:"playlistFile"`
	Headers      string `json:"headers"`
}

func (f *FormInput) Validate() error {
	if f.PlaylistFile == "" {
		return &ValidationError{Field: "playlistFile", Message: "File content is required"}
	}
	if f.Headers == "" {
		return &ValidationError{Field: "headers", Message: "File content headers is required"}
	}
	return nil
}

// DownloadRequest extracts segment URLs and headers from the pasted text and
// returns a validated request.
func (f *FormInput) DownloadRequest() (*DownloadRequest, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	req := &DownloadRequest{
		VideoURLs:     ExtractSegmentURLs(f.PlaylistFile),
		ParsedHeaders: ParseHeaderBlock(f.Headers),
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid form input: %w", err)
	}

	return req, nil
}
