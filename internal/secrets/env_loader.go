package secrets

import "os"

// EnvLoader reads the given environment variables on every load. A variable
// that is unset or empty falls back to defaults[key], typically the value
// from the YAML config, so a reload never blanks a configured key.
func EnvLoader(defaults map[string]string, keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			} else if d := defaults[k]; d != "" {
				vals[k] = d
			}
		}
		return vals, nil
	}
}
