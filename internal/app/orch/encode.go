package orch

import (
	"encoding/json"

	"github.com/dkeye/chatcall/internal/core"
)

func encode(v any) (core.Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}
