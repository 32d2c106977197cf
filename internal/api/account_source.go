package api

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/portfolio-client/internal/models"
)

// AccountSource produces the accounts payload served to a user
type AccountSource interface {
	Accounts(ctx context.Context, user string) (*models.AccountsResponse, error)
}

// FileAccountSource serves the same accounts file to every user. The file
// may hold the extended object shape or a bare array of accounts.
type FileAccountSource struct {
	path string
}

// NewFileAccountSource creates a source reading path on every call
func NewFileAccountSource(path string) *FileAccountSource {
	return &FileAccountSource{path: path}
}

// Accounts reads and decodes the accounts file
func (s *FileAccountSource) Accounts(ctx context.Context, user string) (*models.AccountsResponse, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}

	var resp models.AccountsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode accounts file %s: %w", s.path, err)
	}
	return &resp, nil
}
