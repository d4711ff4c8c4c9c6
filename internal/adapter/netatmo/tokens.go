package netatmo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// FileTokenStore keeps the rotating refresh token in a small JSON file,
// matching the {"refresh_token": "..."} layout used by the fetch tooling.
type FileTokenStore struct {
	Path string
}

func (s *FileTokenStore) Load() (string, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token file %q: %w", s.Path, err)
	}
	var tokens struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(data, &tokens); err != nil {
		return "", fmt.Errorf("decode token file %q: %w", s.Path, err)
	}
	return tokens.RefreshToken, nil
}

func (s *FileTokenStore) Save(refreshToken string) error {
	data, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.Path, data, 0o600); err != nil {
		return fmt.Errorf("write token file %q: %w", s.Path, err)
	}
	return nil
}

// StaticTokenStore serves a fixed refresh token and discards rotations.
// Useful for one-shot runs where persistence is handled elsewhere.
type StaticTokenStore struct {
	RefreshToken string
}

func (s *StaticTokenStore) Load() (string, error) { return s.RefreshToken, nil }
func (s *StaticTokenStore) Save(string) error     { return nil }
