package poller

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/sells-group/lead-enricher/pkg/brightdata"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Decode turns a delivery object into records. Compression is detected from
// the gzip magic bytes rather than the key. A byte-order mark selects the
// text encoding; without one the body is read as UTF-8 with invalid
// sequences replaced.
func Decode(data []byte) ([]brightdata.Record, error) {
	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, eris.Wrap(err, "poller: open gzip")
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return nil, eris.Wrap(err, "poller: gunzip")
		}
	}

	text, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	if err != nil {
		return nil, eris.Wrap(err, "poller: decode text")
	}

	records, err := brightdata.ParseRecords(text)
	if err != nil {
		return nil, eris.Wrap(err, "poller: parse records")
	}
	return records, nil
}
