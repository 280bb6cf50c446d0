package handlers

import (
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
)

func jsonMarshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// randomID returns an opaque id for chat-completion ids: a full uuid,
// more than the id needs, but uuid is already a dependency everywhere
// else in the gateway, so reuse it rather than hand-rolling a generator.
func randomID() string {
	return uuid.NewString()
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
