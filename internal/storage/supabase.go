package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/msalah0e/valence/internal/graph"
)

const sessionsTable = "sessions"

// SupabaseBackend stores sessions in a Supabase "sessions" table with columns
// user_id (unique) and data (jsonb).
type SupabaseBackend struct {
	client *supabase.Client
}

type sessionRow struct {
	UserID string          `json:"user_id"`
	Data   json.RawMessage `json:"data"`
}

// NewSupabaseBackend creates a client for the project at url.
func NewSupabaseBackend(url, key string) (*SupabaseBackend, error) {
	if url == "" || key == "" {
		return nil, errors.New("supabase url and key are required (set SUPABASE_URL and SUPABASE_KEY)")
	}
	client, err := supabase.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &SupabaseBackend{client: client}, nil
}

func (s *SupabaseBackend) Name() string { return KindSupabase }

func (s *SupabaseBackend) Load(ctx context.Context, userID string) (*graph.Snapshot, error) {
	if err := ValidUser(userID); err != nil {
		return nil, err
	}
	resp, err := execute(ctx, s.client.From(sessionsTable).
		Select("user_id,data", "", false).
		Eq("user_id", userID))
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var rows []sessionRow
	if err := json.Unmarshal(resp, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(rows) == 0 || len(rows[0].Data) == 0 || string(rows[0].Data) == "null" {
		return nil, ErrNotFound
	}
	snap, err := graph.ParseSnapshot(rows[0].Data)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *SupabaseBackend) Save(ctx context.Context, userID string, snap graph.Snapshot) error {
	if err := ValidUser(userID); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	row := sessionRow{UserID: userID, Data: data}
	if _, err := execute(ctx, s.client.From(sessionsTable).Upsert(row, "user_id", "minimal", "")); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// ResolveUser returns the user id behind an access token.
func (s *SupabaseBackend) ResolveUser(token string) (string, error) {
	user, err := s.client.Auth.WithToken(token).GetUser()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user: %w", err)
	}
	return user.ID.String(), nil
}

// execute runs a query, giving up when ctx is done. The client has no
// context support so an abandoned request finishes in the background.
func execute(ctx context.Context, q *postgrest.FilterBuilder) ([]byte, error) {
	type result struct {
		body []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		body, _, err := q.Execute()
		ch <- result{body, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.body, r.err
	}
}
