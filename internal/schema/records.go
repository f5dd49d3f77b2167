package schema

import (
	"fmt"
	"strings"
	"time"
)

// StagingEvent is one activity log record as landed in staging_events.
// Text fields are untyped; nil means SQL NULL.
type StagingEvent struct {
	Artist        *string
	Auth          *string
	FirstName     *string
	Gender        *string
	ItemInSession *string
	LastName      *string
	Length        *string
	Level         *string
	Location      *string
	Method        *string
	Page          *string
	Registration  *string
	SessionID     *string
	Song          *string
	Status        *string
	TS            *time.Time
	UserAgent     *string
	UserID        *string
}

// StagingSong is one song metadata record as landed in staging_songs.
type StagingSong struct {
	NumSongs        *string
	ArtistID        *string
	ArtistLatitude  *string
	ArtistLongitude *string
	ArtistLocation  *string
	ArtistName      *string
	SongID          *string
	Title           *string
	Duration        *string
	Year            *string
}

// Songplay is a fact row. SongplayID is assigned by the warehouse.
type Songplay struct {
	SongplayID int64
	StartTime  time.Time
	UserID     int64
	Level      *string
	SongID     *string
	ArtistID   *string
	SessionID  *int64
	Location   *string
	UserAgent  *string
}

type User struct {
	UserID    int64
	FirstName string
	LastName  string
	Gender    *string
	Level     *string
}

type Song struct {
	SongID   string
	Title    string
	ArtistID *string
	Year     *int64
	Duration *float64
}

type Artist struct {
	ArtistID  string
	Name      *string
	Location  *string
	Latitude  *float64
	Longitude *float64
}

// TimeRow is one row of the time dimension.
type TimeRow struct {
	StartTime time.Time
	Hour      int
	Day       int
	Week      int // ISO-8601 week number
	Month     int
	Year      int
	// Weekday counts from 0 = Sunday to 6 = Saturday, as Redshift's
	// EXTRACT(DOW) does. It is not the ISO weekday, where Sunday is 7.
	Weekday   int
}

// EventFromRow builds a StagingEvent from a positional row whose columns
// are named by columns. Column names match case-insensitively; unknown
// columns are ignored.
func EventFromRow(columns []string, row []any) (StagingEvent, error) {
	var e StagingEvent
	targets := map[string]**string{
		"artist":        &e.Artist,
		"auth":          &e.Auth,
		"firstname":     &e.FirstName,
		"gender":        &e.Gender,
		"iteminsession": &e.ItemInSession,
		"lastname":      &e.LastName,
		"length":        &e.Length,
		"level":         &e.Level,
		"location":      &e.Location,
		"method":        &e.Method,
		"page":          &e.Page,
		"registration":  &e.Registration,
		"sessionid":     &e.SessionID,
		"song":          &e.Song,
		"status":        &e.Status,
		"useragent":     &e.UserAgent,
		"userid":        &e.UserID,
	}
	for i, name := range columns {
		if i >= len(row) {
			break
		}
		key := strings.ToLower(name)
		if key == "ts" {
			switch v := row[i].(type) {
			case nil:
			case time.Time:
				t := v.UTC()
				e.TS = &t
			default:
				return StagingEvent{}, fmt.Errorf("column ts: unexpected %T", row[i])
			}
			continue
		}
		if dst, ok := targets[key]; ok {
			s, err := textValue(name, row[i])
			if err != nil {
				return StagingEvent{}, err
			}
			*dst = s
		}
	}
	return e, nil
}

// SongFromRow builds a StagingSong from a positional row.
func SongFromRow(columns []string, row []any) (StagingSong, error) {
	var s StagingSong
	targets := map[string]**string{
		"num_songs":        &s.NumSongs,
		"artist_id":        &s.ArtistID,
		"artist_latitude":  &s.ArtistLatitude,
		"artist_longitude": &s.ArtistLongitude,
		"artist_location":  &s.ArtistLocation,
		"artist_name":      &s.ArtistName,
		"song_id":          &s.SongID,
		"title":            &s.Title,
		"duration":         &s.Duration,
		"year":             &s.Year,
	}
	for i, name := range columns {
		if i >= len(row) {
			break
		}
		if dst, ok := targets[strings.ToLower(name)]; ok {
			v, err := textValue(name, row[i])
			if err != nil {
				return StagingSong{}, err
			}
			*dst = v
		}
	}
	return s, nil
}

func textValue(column string, v any) (*string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return &t, nil
	case []byte:
		s := string(t)
		return &s, nil
	default:
		return nil, fmt.Errorf("column %s: unexpected %T", column, v)
	}
}

// Str returns a pointer to s, for building records in code and tests.
func Str(s string) *string { return &s }
