package network

import (
	"io"
	"mime"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// decodeReader converts the designated charset of the content type to utf-8.
// Unknown or absent charsets are passed through unchanged.
func decodeReader(r io.Reader, contentType string) (io.Reader, error) {
	if contentType == "" {
		return r, nil
	}
	_, params, e := mime.ParseMediaType(contentType)
	if e != nil {
		log.Debugf("ignoring malformed content type %q: %v", contentType, e)
		return r, nil
	}
	cs := strings.ToLower(strings.TrimSpace(params["charset"]))
	if cs == "" || cs == "utf-8" || cs == "utf8" {
		return r, nil
	}
	enc, e := htmlindex.Get(cs)
	if e != nil {
		log.Debugf("unsupported charset %q, reading body as is", cs)
		return r, nil
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}
