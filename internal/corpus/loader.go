package corpus

import (
	"encoding/json"
	"os"

	"github.com/m-mizutani/goerr/v2"

	"medrag/internal/domain"
)

// Parse decodes a JSON array of illness records.
func Parse(data []byte) ([]Record, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, goerr.Wrap(domain.ErrCorpusFormat, "corpus is not a JSON array", goerr.V("cause", err.Error()))
	}
	records := make([]Record, 0, len(raw))
	for i, msg := range raw {
		var rec Record
		if err := json.Unmarshal(msg, &rec); err != nil || rec == nil {
			return nil, goerr.Wrap(domain.ErrCorpusFormat, "record is not a JSON object", goerr.V("record", i))
		}
		records = append(records, rec)
	}
	return records, nil
}

// Load reads and parses the corpus file at path.
func Load(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read corpus file", goerr.V("path", path))
	}
	records, err := Parse(data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse corpus file", goerr.V("path", path))
	}
	return records, nil
}
