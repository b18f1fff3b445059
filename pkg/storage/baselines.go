package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	fleeterrors "github.com/odvcencio/testfleet/pkg/errors"
	"github.com/odvcencio/testfleet/pkg/fileset"
)

type baselineFiles struct {
	Dependencies []fileset.FileInfo `json:"dependencies"`
	Tests        []fileset.FileInfo `json:"tests"`
	Plugins      []fileset.FileInfo `json:"plugins"`
}

// Load returns the stored baseline for browserID.
func (s *Store) Load(ctx context.Context, browserID string) (fileset.TestCase, bool, error) {
	if s == nil || s.db == nil {
		return fileset.TestCase{}, false, ErrStoreClosed
	}
	var id, raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT test_case_id, files_json FROM baselines WHERE browser_id = ?`, browserID,
	).Scan(&id, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fileset.TestCase{}, false, nil
	}
	if err != nil {
		return fileset.TestCase{}, false, classify(err, "query baseline")
	}

	var files baselineFiles
	if err := json.Unmarshal([]byte(raw), &files); err != nil {
		return fileset.TestCase{}, false, fmt.Errorf("decode baseline %s: %w", browserID, err)
	}
	return fileset.TestCase{
		ID:           id,
		Dependencies: files.Dependencies,
		Tests:        files.Tests,
		Plugins:      files.Plugins,
	}, true, nil
}

// Save upserts the baseline for browserID.
func (s *Store) Save(ctx context.Context, browserID string, tc fileset.TestCase) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	buf, err := json.Marshal(baselineFiles{
		Dependencies: tc.Dependencies,
		Tests:        tc.Tests,
		Plugins:      tc.Plugins,
	})
	if err != nil {
		return fmt.Errorf("encode baseline %s: %w", browserID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO baselines (browser_id, test_case_id, files_json, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(browser_id) DO UPDATE SET
			test_case_id = excluded.test_case_id,
			files_json = excluded.files_json,
			updated_at = CURRENT_TIMESTAMP
	`, browserID, tc.ID, string(buf))
	if err != nil {
		return classify(err, "upsert baseline")
	}
	return nil
}

// Delete removes the baseline for browserID. Missing rows are not an error.
func (s *Store) Delete(ctx context.Context, browserID string) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM baselines WHERE browser_id = ?`, browserID); err != nil {
		return classify(err, "delete baseline")
	}
	return nil
}

// BrowserIDs lists every browser with a stored baseline.
func (s *Store) BrowserIDs(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT browser_id FROM baselines ORDER BY browser_id`)
	if err != nil {
		return nil, classify(err, "list baselines")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// classify marks lock contention as retryable.
func classify(err error, op string) error {
	if isBusyError(err) {
		return fleeterrors.Wrap(err, fleeterrors.ErrCodeStorageWrite, op).WithRetryable(true)
	}
	return fmt.Errorf("%s: %w", op, err)
}
