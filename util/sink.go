package util

import (
	"bytes"
	"encoding/json"
	"os"
)

// WriteJSON writes v to path as indented JSON without HTML escaping. Map
// keys come out sorted, which is what encoding/json does for maps.
func WriteJSON(path string, v interface{}) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
