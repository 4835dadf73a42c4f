package subdomainworkflow

import (
	"encoding/json"

	"github.com/env360/env360/internal/apperr"
)

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, "setup_env_subdomain: encoding step output", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, "setup_env_subdomain: encoding step output", err)
	}
	return m, nil
}

func fromMap(m map[string]any, out any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
