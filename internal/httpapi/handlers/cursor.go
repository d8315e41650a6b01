package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/hardonian/jobforge/internal/store"
)

func encodeJobCursor(c store.JobCursor) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func decodeJobCursor(cursor string) (store.JobCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return store.JobCursor{}, err
	}
	var c store.JobCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return store.JobCursor{}, err
	}
	if c.ID == "" || c.UpdatedAt.IsZero() {
		return store.JobCursor{}, errors.New("invalid cursor payload")
	}
	return c, nil
}
