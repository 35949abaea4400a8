package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertSelection writes or replaces the cached title selection for a MAL
// id. Operators overwrite rows here to repair bad selections.
func (s *Store) UpsertSelection(ctx context.Context, sel *Selection) error {
	if sel == nil {
		return errors.New("selection is nil")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO anime_selection_cache (
            mal_id, anime_title, search_query, selected_index, selected_title,
            confidence, reason, mal_episodes, selected_episodes, episode_match, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(mal_id) DO UPDATE SET
            anime_title = excluded.anime_title,
            search_query = excluded.search_query,
            selected_index = excluded.selected_index,
            selected_title = excluded.selected_title,
            confidence = excluded.confidence,
            reason = excluded.reason,
            mal_episodes = excluded.mal_episodes,
            selected_episodes = excluded.selected_episodes,
            episode_match = excluded.episode_match`,
		sel.MALID,
		sel.AnimeTitle,
		sel.SearchQuery,
		sel.SelectedIndex,
		sel.SelectedTitle,
		sel.Confidence,
		nullableString(sel.Reason),
		nullableInt(sel.MALEpisodes),
		nullableInt(sel.SelectedEpisodes),
		nullableString(sel.EpisodeMatch),
		nowStamp(),
	)
	if err != nil {
		return fmt.Errorf("upsert selection: %w", err)
	}
	return nil
}

// GetSelection fetches the cached selection for a MAL id. Returns nil when
// absent.
func (s *Store) GetSelection(ctx context.Context, malID int64) (*Selection, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT mal_id, anime_title, search_query, selected_index, selected_title,
                confidence, reason, mal_episodes, selected_episodes, episode_match, created_at
         FROM anime_selection_cache WHERE mal_id = ?`,
		malID,
	)

	var (
		sel          Selection
		reason       sql.NullString
		malEpisodes  sql.NullInt64
		selEpisodes  sql.NullInt64
		episodeMatch sql.NullString
		createdRaw   sql.NullString
	)
	err := row.Scan(
		&sel.MALID, &sel.AnimeTitle, &sel.SearchQuery, &sel.SelectedIndex,
		&sel.SelectedTitle, &sel.Confidence, &reason,
		&malEpisodes, &selEpisodes, &episodeMatch, &createdRaw,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get selection: %w", err)
	}

	sel.Reason = reason.String
	sel.EpisodeMatch = episodeMatch.String
	sel.CreatedAt = scanTime(createdRaw)
	if malEpisodes.Valid {
		v := int(malEpisodes.Int64)
		sel.MALEpisodes = &v
	}
	if selEpisodes.Valid {
		v := int(selEpisodes.Int64)
		sel.SelectedEpisodes = &v
	}
	return &sel, nil
}
