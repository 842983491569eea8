package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/harentsoaR/dentist-scheduling/internal/models"
)

// SeedData is the layout of a seed file.
type SeedData struct {
	Providers []models.Provider `json:"providers"`
	Contacts  []models.Contact  `json:"contacts"`
}

// LoadSeed reads a seed file from disk.
func LoadSeed(path string) (*SeedData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var data SeedData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &data, nil
}

// Apply upserts the seed records. Contacts are only written to stores that own
// them; in MongoDB the users collection belongs to the account service.
func (d *SeedData) Apply(ctx context.Context, store Store) (contacts int, err error) {
	for i := range d.Providers {
		p := d.Providers[i]
		if p.ID == "" {
			return 0, fmt.Errorf("seed provider %d has no id", i)
		}
		if err := store.CreateProvider(ctx, &p); err != nil {
			return 0, fmt.Errorf("seed provider %s: %w", p.ID, err)
		}
	}

	for _, c := range d.Contacts {
		switch s := store.(type) {
		case *MemoryStore:
			s.PutContact(c)
		case *SQLStore:
			if err := s.PutContact(ctx, c); err != nil {
				return contacts, fmt.Errorf("seed contact %s: %w", c.ID, err)
			}
		default:
			continue
		}
		contacts++
	}
	return contacts, nil
}
