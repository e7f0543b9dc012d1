package tagstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/starford/mdview/internal/models"
)

// entry is one element of a persisted tag list. Older files stored bare
// strings; newer ones store {name, position} objects.
type entry struct {
	legacy bool
	tag    models.Tag
	valid  bool
}

func (e *entry) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = entry{legacy: true, tag: models.Tag{Name: s}, valid: s != ""}
		return nil
	}

	var raw struct {
		Name     *string  `json:"name"`
		Position *float64 `json:"position"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Name == nil || *raw.Name == "" {
		*e = entry{}
		return nil
	}
	pos := 0
	if raw.Position != nil && *raw.Position > 0 {
		pos = int(math.Round(*raw.Position))
	}
	*e = entry{tag: models.Tag{Name: *raw.Name, Position: pos}, valid: true}
	return nil
}

// decode reads the persisted object while keeping its key order.
// A repeated key replaces the earlier list but keeps the earlier position.
func decode(r io.Reader) ([]string, map[string][]models.Tag, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, errors.New("tagstore: top level is not an object")
	}

	var order []string
	docs := make(map[string][]models.Tag)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		doc, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("tagstore: unexpected key %v", tok)
		}
		var entries []entry
		if err := dec.Decode(&entries); err != nil {
			return nil, nil, fmt.Errorf("tagstore: decode %s: %w", doc, err)
		}

		tags := make([]models.Tag, 0, len(entries))
		for _, e := range entries {
			if e.valid {
				tags = append(tags, e.tag)
			}
		}
		if _, seen := docs[doc]; !seen {
			order = append(order, doc)
		}
		docs[doc] = tags
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return order, docs, nil
}

// encode writes docs in order as a 4-space indented JSON object.
func encode(order []string, docs map[string][]models.Tag) ([]byte, error) {
	if len(order) == 0 {
		return []byte("{}\n"), nil
	}
	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, doc := range order {
		key, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		tags := docs[doc]
		if tags == nil {
			tags = []models.Tag{}
		}
		val, err := json.MarshalIndent(tags, "    ", "    ")
		if err != nil {
			return nil, err
		}
		buf.WriteString("    ")
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(val)
		if i < len(order)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}
