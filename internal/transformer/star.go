package transformer

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"dwh/internal/schema"
	"dwh/internal/storage"
)

// Star is a derived star schema.
type Star struct {
	Songplays []schema.Songplay
	Users     []schema.User
	Songs     []schema.Song
	Artists   []schema.Artist
	Time      []schema.TimeRow
}

// Counts returns the row count of every star table, keyed by table name.
func (s Star) Counts() map[string]int {
	return map[string]int{
		schema.Songplays: len(s.Songplays),
		schema.Users:     len(s.Users),
		schema.Songs:     len(s.Songs),
		schema.Artists:   len(s.Artists),
		schema.Time:      len(s.Time),
	}
}

// Derive computes the star schema from staged records in memory, with the
// semantics of the warehouse transforms:
//   - songplays: NextSong events inner-joined to songs on artist name and
//     title; SongplayID counts from 0 in event order.
//   - users: NextSong events only; songs and artists from every song record;
//     time from every event.
//   - Casts fail the derivation on malformed text, as they fail the
//     statement in the warehouse.
//
// Under schema.FirstWins each dimension holds one row per non-NULL key: the
// smallest by the remaining columns, ascending, NULLs last. Under
// schema.WarehousePolicy every distinct row is kept, as Redshift does, and
// time keeps one row per event.
//
// Dimensions are returned sorted by key.
func Derive(events []schema.StagingEvent, songs []schema.StagingSong, policy schema.KeyConflict) (Star, error) {
	policy, err := schema.ParseKeyConflict(string(policy))
	if err != nil {
		return Star{}, err
	}
	var star Star

	if star.Songplays, err = deriveSongplays(events, songs); err != nil {
		return Star{}, fmt.Errorf("%s: %w", schema.Songplays, err)
	}

	users, err := userTuples(events)
	if err != nil {
		return Star{}, fmt.Errorf("%s: %w", schema.Users, err)
	}
	if star.Users, err = toUsers(pick(users, policy)); err != nil {
		return Star{}, fmt.Errorf("%s: %w", schema.Users, err)
	}

	songTs, artistTs, err := songTuples(songs)
	if err != nil {
		return Star{}, err
	}
	if star.Songs, err = toSongs(pick(songTs, policy)); err != nil {
		return Star{}, fmt.Errorf("%s: %w", schema.Songs, err)
	}
	if star.Artists, err = toArtists(pick(artistTs, policy)); err != nil {
		return Star{}, fmt.Errorf("%s: %w", schema.Artists, err)
	}

	if star.Time, err = deriveTime(events, policy); err != nil {
		return Star{}, fmt.Errorf("%s: %w", schema.Time, err)
	}
	return star, nil
}

func isNextSong(e schema.StagingEvent) bool {
	return e.Page != nil && *e.Page == schema.PageNextSong
}

func deriveSongplays(events []schema.StagingEvent, songs []schema.StagingSong) ([]schema.Songplay, error) {
	// NULL never equals anything, so records with a NULL join column are
	// never indexed or probed.
	byArtistTitle := make(map[[2]string][]schema.StagingSong)
	for _, s := range songs {
		if s.ArtistName == nil || s.Title == nil {
			continue
		}
		k := [2]string{*s.ArtistName, *s.Title}
		byArtistTitle[k] = append(byArtistTitle[k], s)
	}

	var out []schema.Songplay
	for _, e := range events {
		if !isNextSong(e) || e.Artist == nil || e.Song == nil {
			continue
		}
		for _, s := range byArtistTitle[[2]string{*e.Artist, *e.Song}] {
			if e.TS == nil {
				return nil, fmt.Errorf("NULL in NOT NULL column start_time")
			}
			uid, err := schema.ParseInt(e.UserID)
			if err != nil {
				return nil, fmt.Errorf("user_id: %w", err)
			}
			if uid == nil {
				return nil, fmt.Errorf("NULL in NOT NULL column user_id")
			}
			sid, err := schema.ParseInt(e.SessionID)
			if err != nil {
				return nil, fmt.Errorf("session_id: %w", err)
			}
			out = append(out, schema.Songplay{
				SongplayID: int64(len(out)),
				StartTime:  *e.TS,
				UserID:     *uid,
				Level:      e.Level,
				SongID:     s.SongID,
				ArtistID:   s.ArtistID,
				SessionID:  sid,
				Location:   e.Location,
				UserAgent:  e.UserAgent,
			})
		}
	}
	return out, nil
}

// A tuple is one projected dimension row; element 0 is the primary key.
// Values are nil, string, int64, float64 or time.Time.
type tuple []any

func userTuples(events []schema.StagingEvent) ([]tuple, error) {
	var out []tuple
	for _, e := range events {
		if !isNextSong(e) {
			continue
		}
		uid, err := schema.ParseInt(e.UserID)
		if err != nil {
			return nil, fmt.Errorf("user_id: %w", err)
		}
		out = append(out, tuple{ptrVal(uid), ptrVal(e.FirstName), ptrVal(e.LastName), ptrVal(e.Gender), ptrVal(e.Level)})
	}
	return out, nil
}

func songTuples(songs []schema.StagingSong) (songTs, artistTs []tuple, err error) {
	for _, s := range songs {
		year, err := schema.ParseInt(s.Year)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: year: %w", schema.Songs, err)
		}
		dur, err := schema.ParseDecimal(s.Duration)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: duration: %w", schema.Songs, err)
		}
		lat, err := schema.ParseFloat(s.ArtistLatitude)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: latitude: %w", schema.Artists, err)
		}
		long, err := schema.ParseFloat(s.ArtistLongitude)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: longitude: %w", schema.Artists, err)
		}
		songTs = append(songTs, tuple{ptrVal(s.SongID), ptrVal(s.Title), ptrVal(s.ArtistID), ptrVal(year), ptrVal(dur)})
		artistTs = append(artistTs, tuple{ptrVal(s.ArtistID), ptrVal(s.ArtistName), ptrVal(s.ArtistLocation), ptrVal(lat), ptrVal(long)})
	}
	return songTs, artistTs, nil
}

func deriveTime(events []schema.StagingEvent, policy schema.KeyConflict) ([]schema.TimeRow, error) {
	var ts []tuple
	for _, e := range events {
		if e.TS == nil {
			if policy == schema.FirstWins {
				continue
			}
			return nil, fmt.Errorf("NULL primary key start_time")
		}
		ts = append(ts, tuple{*e.TS})
	}
	if policy == schema.FirstWins {
		ts = distinct(ts)
	}
	slices.SortStableFunc(ts, compareTuples)

	out := make([]schema.TimeRow, 0, len(ts))
	for _, t := range ts {
		out = append(out, schema.DecomposeTime(t[0].(time.Time)))
	}
	return out, nil
}

// pick applies the key conflict policy to projected rows.
func pick(rows []tuple, policy schema.KeyConflict) []tuple {
	rows = distinct(rows)
	if policy != schema.FirstWins {
		slices.SortStableFunc(rows, compareTuples)
		return rows
	}

	best := make(map[string]tuple)
	for _, r := range rows {
		if r[0] == nil {
			continue
		}
		k := storage.NormalizeKey(r[0])
		if cur, ok := best[k]; !ok || compareTuples(r[1:], cur[1:]) < 0 {
			best[k] = r
		}
	}
	out := make([]tuple, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	slices.SortFunc(out, compareTuples)
	return out
}

// distinct drops repeated rows, keeping first occurrences in order.
func distinct(rows []tuple) []tuple {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0:0]
	for _, r := range rows {
		k := rowKey(r)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// rowKey joins normalized values with a unit separator. NULL is a single NUL
// byte so that it differs from the empty string.
func rowKey(r tuple) string {
	var b strings.Builder
	for i, v := range r {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		if v == nil {
			b.WriteByte('\x00')
			continue
		}
		b.WriteString(storage.NormalizeKey(v))
	}
	return b.String()
}

// compareTuples orders column by column, ascending with NULLs last.
func compareTuples(a, b tuple) int {
	for i := range min(len(a), len(b)) {
		if c := compareValues(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}

func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y)
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(storage.NormalizeKey(a), storage.NormalizeKey(b))
}

func ptrVal[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func toUsers(rows []tuple) ([]schema.User, error) {
	out := make([]schema.User, 0, len(rows))
	for _, r := range rows {
		if r[0] == nil {
			return nil, fmt.Errorf("NULL primary key user_id")
		}
		first, err := requiredText("first_name", r[1])
		if err != nil {
			return nil, err
		}
		last, err := requiredText("last_name", r[2])
		if err != nil {
			return nil, err
		}
		out = append(out, schema.User{
			UserID:    r[0].(int64),
			FirstName: first,
			LastName:  last,
			Gender:    optional[string](r[3]),
			Level:     optional[string](r[4]),
		})
	}
	return out, nil
}

func toSongs(rows []tuple) ([]schema.Song, error) {
	out := make([]schema.Song, 0, len(rows))
	for _, r := range rows {
		if r[0] == nil {
			return nil, fmt.Errorf("NULL primary key song_id")
		}
		title, err := requiredText("title", r[1])
		if err != nil {
			return nil, err
		}
		out = append(out, schema.Song{
			SongID:   r[0].(string),
			Title:    title,
			ArtistID: optional[string](r[2]),
			Year:     optional[int64](r[3]),
			Duration: optional[float64](r[4]),
		})
	}
	return out, nil
}

func toArtists(rows []tuple) ([]schema.Artist, error) {
	out := make([]schema.Artist, 0, len(rows))
	for _, r := range rows {
		if r[0] == nil {
			return nil, fmt.Errorf("NULL primary key artist_id")
		}
		out = append(out, schema.Artist{
			ArtistID:  r[0].(string),
			Name:      optional[string](r[1]),
			Location:  optional[string](r[2]),
			Latitude:  optional[float64](r[3]),
			Longitude: optional[float64](r[4]),
		})
	}
	return out, nil
}

func requiredText(column string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("NULL in NOT NULL column %s", column)
	}
	return s, nil
}

func optional[T any](v any) *T {
	t, ok := v.(T)
	if !ok {
		return nil
	}
	return &t
}
