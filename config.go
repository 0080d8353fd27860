package distpow

import (
	"encoding/json"
	"os"
)

// ReadJSONConfig decodes the JSON file at path into config.
func ReadJSONConfig(path string, config interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(config)
}
