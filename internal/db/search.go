package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultSearchLimit = 50
	MaxSearchLimit     = 500
	snippetTokenLength = 32
)

// ErrSearchUnavailable is returned when the fts5 module is
// missing from the SQLite build.
var ErrSearchUnavailable = errors.New("full-text search unavailable")

// SearchResult holds a message match with session context.
type SearchResult struct {
	SessionKey string  `json:"session_key"`
	Source     string  `json:"source"`
	Project    string  `json:"project"`
	Title      string  `json:"title"`
	Ordinal    int     `json:"ordinal"`
	Role       string  `json:"role"`
	Timestamp  string  `json:"timestamp,omitempty"`
	Snippet    string  `json:"snippet"`
	Rank       float64 `json:"rank"`
}

// SearchFilter specifies search parameters.
type SearchFilter struct {
	Query   string
	Source  string
	Project string
	Starred *bool
	Offset  int
	Limit   int
}

// SearchPage holds paginated search results.
type SearchPage struct {
	Results    []SearchResult `json:"results"`
	NextOffset int            `json:"next_offset,omitempty"`
}

// buildMatchQuery turns free-form input into an FTS5 MATCH
// expression. Terms are quoted so query syntax characters are
// matched literally, and all terms must match (implicit AND).
func buildMatchQuery(input string) string {
	terms := strings.Fields(input)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ReplaceAll(t, `"`, `""`)
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " ")
}

// Search performs full-text search across messages. Results are
// ordered by relevance, with session recency breaking ties.
func (db *DB) Search(
	ctx context.Context, f SearchFilter,
) (SearchPage, error) {
	if !db.HasFTS() {
		return SearchPage{}, ErrSearchUnavailable
	}
	if f.Limit <= 0 || f.Limit > MaxSearchLimit {
		f.Limit = DefaultSearchLimit
	}

	match := buildMatchQuery(f.Query)
	if match == "" {
		return SearchPage{}, nil
	}

	whereClauses := []string{"messages_fts MATCH ?"}
	args := []any{match}

	if f.Source != "" {
		whereClauses = append(whereClauses, "s.source = ?")
		args = append(args, f.Source)
	}
	if f.Project != "" {
		whereClauses = append(whereClauses, "s.project = ?")
		args = append(args, f.Project)
	}
	if f.Starred != nil {
		whereClauses = append(whereClauses, "s.starred = ?")
		args = append(args, *f.Starred)
	}

	query := fmt.Sprintf(`
		SELECT m.session_key, s.source, s.project, s.title,
			m.ordinal, m.role, COALESCE(m.timestamp, ''),
			snippet(messages_fts, 0, '<mark>', '</mark>',
				'...', %d) as snippet,
			rank
		FROM messages_fts
		JOIN messages m ON messages_fts.rowid = m.id
		JOIN sessions s ON m.session_key = s.session_key
		WHERE %s
		ORDER BY rank, COALESCE(s.ended_at, s.started_at) DESC
		LIMIT ? OFFSET ?`,
		snippetTokenLength,
		strings.Join(whereClauses, " AND "),
	)
	args = append(args, f.Limit+1, f.Offset)

	rows, err := db.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return SearchPage{}, fmt.Errorf("searching: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.SessionKey, &r.Source, &r.Project, &r.Title,
			&r.Ordinal, &r.Role, &r.Timestamp, &r.Snippet, &r.Rank,
		); err != nil {
			return SearchPage{},
				fmt.Errorf("scanning result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return SearchPage{}, err
	}

	page := SearchPage{Results: results}
	if len(results) > f.Limit {
		page.Results = results[:f.Limit]
		page.NextOffset = f.Offset + f.Limit
	}
	return page, nil
}
