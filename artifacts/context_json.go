package artifacts

import "encoding/json"

func marshalContext(ctx map[string]interface{}) (string, error) {
	data, err := json.Marshal(ctx)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalContext(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	var ctx map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &ctx); err != nil {
		return nil, err
	}
	if len(ctx) == 0 {
		return nil, nil
	}
	return ctx, nil
}
