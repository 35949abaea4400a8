package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertAnime inserts an anime row or merges richer metadata into the
// existing row keyed by MAL id. Returns the stable primary key. Idempotent.
func (s *Store) UpsertAnime(ctx context.Context, anime *Anime) (int64, error) {
	if anime == nil {
		return 0, errors.New("anime is nil")
	}
	synonyms, err := marshalStrings(anime.TitleSynonyms)
	if err != nil {
		return 0, err
	}
	genres, err := marshalStrings(anime.Genres)
	if err != nil {
		return 0, err
	}
	themes, err := marshalStrings(anime.Themes)
	if err != nil {
		return 0, err
	}
	demographics, err := marshalStrings(anime.Demographics)
	if err != nil {
		return 0, err
	}
	studios, err := marshalStrings(anime.Studios)
	if err != nil {
		return 0, err
	}

	processing := anime.Processing
	if processing == "" {
		processing = ProcessingPending
	}
	timestamp := nowStamp()

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO anime (
            mal_id, title, title_english, title_japanese, title_synonyms,
            anime_type, episodes_total, aired_from, aired_to, season, year,
            genres, themes, demographics, studios,
            score, rank, popularity, source, rating, duration_minutes,
            processing_status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(mal_id) DO UPDATE SET
            title = excluded.title,
            title_english = COALESCE(excluded.title_english, title_english),
            title_japanese = COALESCE(excluded.title_japanese, title_japanese),
            title_synonyms = excluded.title_synonyms,
            anime_type = COALESCE(excluded.anime_type, anime_type),
            episodes_total = COALESCE(excluded.episodes_total, episodes_total),
            aired_from = COALESCE(excluded.aired_from, aired_from),
            aired_to = COALESCE(excluded.aired_to, aired_to),
            season = COALESCE(excluded.season, season),
            year = COALESCE(excluded.year, year),
            genres = excluded.genres,
            themes = excluded.themes,
            demographics = excluded.demographics,
            studios = excluded.studios,
            score = COALESCE(excluded.score, score),
            rank = COALESCE(excluded.rank, rank),
            popularity = COALESCE(excluded.popularity, popularity),
            source = COALESCE(excluded.source, source),
            rating = COALESCE(excluded.rating, rating),
            duration_minutes = COALESCE(excluded.duration_minutes, duration_minutes),
            updated_at = excluded.updated_at`,
		anime.MALID,
		anime.Title,
		nullableString(anime.TitleEnglish),
		nullableString(anime.TitleJapanese),
		synonyms,
		nullableString(anime.Type),
		zeroAsNull(anime.EpisodesTotal),
		nullableString(anime.AiredFrom),
		nullableString(anime.AiredTo),
		nullableString(anime.Season),
		zeroAsNull(anime.Year),
		genres,
		themes,
		demographics,
		studios,
		zeroFloatAsNull(anime.Score),
		zeroAsNull(anime.Rank),
		zeroAsNull(anime.Popularity),
		nullableString(anime.Source),
		nullableString(anime.Rating),
		zeroAsNull(anime.DurationMin),
		string(processing),
		timestamp,
		timestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert anime: %w", err)
	}

	var id int64
	row := s.db.QueryRowContext(ctx, `SELECT id FROM anime WHERE mal_id = ?`, anime.MALID)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("resolve anime id: %w", err)
	}
	anime.ID = id
	return id, nil
}

// AnimeByMAL fetches an anime row by its MAL id. Returns nil when absent.
func (s *Store) AnimeByMAL(ctx context.Context, malID int64) (*Anime, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+animeColumns+` FROM anime WHERE mal_id = ?`, malID)
	anime, err := scanAnime(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get anime: %w", err)
	}
	return anime, nil
}

// SetAnimeProcessing updates an anime's pipeline-wide processing status.
func (s *Store) SetAnimeProcessing(ctx context.Context, malID int64, status ProcessingStatus) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE anime SET processing_status = ?, updated_at = ? WHERE mal_id = ?`,
		string(status), nowStamp(), malID,
	)
	if err != nil {
		return fmt.Errorf("set anime processing status: %w", err)
	}
	return nil
}

const animeColumns = "id, mal_id, title, title_english, title_japanese, title_synonyms, anime_type, episodes_total, aired_from, aired_to, season, year, genres, themes, demographics, studios, score, rank, popularity, source, rating, duration_minutes, processing_status, created_at, updated_at"

func scanAnime(scanner interface{ Scan(dest ...any) error }) (*Anime, error) {
	var (
		id            int64
		malID         int64
		title         string
		titleEnglish  sql.NullString
		titleJapanese sql.NullString
		synonyms      sql.NullString
		animeType     sql.NullString
		episodesTotal sql.NullInt64
		airedFrom     sql.NullString
		airedTo       sql.NullString
		season        sql.NullString
		year          sql.NullInt64
		genres        sql.NullString
		themes        sql.NullString
		demographics  sql.NullString
		studios       sql.NullString
		score         sql.NullFloat64
		rank          sql.NullInt64
		popularity    sql.NullInt64
		source        sql.NullString
		rating        sql.NullString
		durationMin   sql.NullInt64
		processing    string
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id, &malID, &title, &titleEnglish, &titleJapanese, &synonyms,
		&animeType, &episodesTotal, &airedFrom, &airedTo, &season, &year,
		&genres, &themes, &demographics, &studios,
		&score, &rank, &popularity, &source, &rating, &durationMin,
		&processing, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	return &Anime{
		ID:            id,
		MALID:         malID,
		Title:         title,
		TitleEnglish:  titleEnglish.String,
		TitleJapanese: titleJapanese.String,
		TitleSynonyms: unmarshalStrings(synonyms.String),
		Type:          animeType.String,
		EpisodesTotal: int(episodesTotal.Int64),
		AiredFrom:     airedFrom.String,
		AiredTo:       airedTo.String,
		Season:        season.String,
		Year:          int(year.Int64),
		Genres:        unmarshalStrings(genres.String),
		Themes:        unmarshalStrings(themes.String),
		Demographics:  unmarshalStrings(demographics.String),
		Studios:       unmarshalStrings(studios.String),
		Score:         score.Float64,
		Rank:          int(rank.Int64),
		Popularity:    int(popularity.Int64),
		Source:        source.String,
		Rating:        rating.String,
		DurationMin:   int(durationMin.Int64),
		Processing:    ProcessingStatus(processing),
		CreatedAt:     scanTime(createdRaw),
		UpdatedAt:     scanTime(updatedRaw),
	}, nil
}

func zeroAsNull(value int) any {
	if value == 0 {
		return nil
	}
	return value
}

func zeroFloatAsNull(value float64) any {
	if value == 0 {
		return nil
	}
	return value
}
