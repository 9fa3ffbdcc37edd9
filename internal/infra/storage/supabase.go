package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/supabase-community/supabase-go"
)

// SupabaseConfig selects the project and bucket.
type SupabaseConfig struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// SupabaseStorage uploads objects to a Supabase Storage bucket.
type SupabaseStorage struct {
	client *supabase.Client
	bucket string
}

// NewSupabaseStorage returns an error instead of a half-configured client.
func NewSupabaseStorage(cfg SupabaseConfig) (*SupabaseStorage, error) {
	if cfg.URL == "" || cfg.ServiceRoleKey == "" {
		return nil, errors.New("storage: supabase url and service role key are required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage: supabase bucket is required")
	}
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("storage: create supabase client: %w", err)
	}
	return &SupabaseStorage{client: client, bucket: cfg.Bucket}, nil
}

func (s *SupabaseStorage) Upload(ctx context.Context, key, _ string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, err := CleanKey(key)
	if err != nil {
		return err
	}
	if _, err := s.client.Storage.UploadFile(s.bucket, clean, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("storage: upload to supabase: %w", err)
	}
	return nil
}
