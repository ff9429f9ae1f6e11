package fetcher

import (
	"time"

	"github.com/agux/roscrape/internal/conf"
	f "github.com/agux/roscrape/internal/fetcher/targets"
	"github.com/pkg/errors"
)

// FromConfig builds the source selected by `Source.type`.
func FromConfig() (Source, error) {
	src := conf.Args.Source
	switch src.Type {
	case "remote":
		return f.NewRemoteList(src.URL, time.Duration(src.Timeout)*time.Second, src.Retry), nil
	case "file":
		return f.LocalFile{Path: src.FilePath, Scheme: src.FileScheme}, nil
	default:
		return nil, errors.Errorf("unsupported proxy source type %q, expected 'remote' or 'file'", src.Type)
	}
}
