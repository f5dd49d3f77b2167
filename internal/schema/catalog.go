// Package schema defines the warehouse tables: two permissive staging tables
// and a star schema of one fact table with four dimensions.
package schema

import "dwh/internal/storage"

// Table names.
const (
	StagingEvents = "staging_events"
	StagingSongs  = "staging_songs"
	Songplays     = "songplays"
	Users         = "users"
	Songs         = "songs"
	Artists       = "artists"
	Time          = "time"
)

// PageNextSong is the page value that marks a song-play event.
const PageNextSong = "NextSong"

func col(name string, t storage.ColumnType) storage.ColumnSpec {
	return storage.ColumnSpec{Name: name, Type: t}
}

func notNull(name string, t storage.ColumnType) storage.ColumnSpec {
	return storage.ColumnSpec{Name: name, Type: t, NotNull: true}
}

// StagingEventsTable mirrors the activity log records. Every field is text
// except ts, which the load converts from epoch milliseconds.
func StagingEventsTable() storage.TableSpec {
	return storage.TableSpec{
		Name: StagingEvents,
		Role: storage.RoleStaging,
		Columns: []storage.ColumnSpec{
			col("artist", storage.TypeText),
			col("auth", storage.TypeText),
			col("firstName", storage.TypeText),
			col("gender", storage.TypeText),
			col("itemInSession", storage.TypeText),
			col("lastName", storage.TypeText),
			col("length", storage.TypeText),
			col("level", storage.TypeText),
			col("location", storage.TypeText),
			col("method", storage.TypeText),
			col("page", storage.TypeText),
			col("registration", storage.TypeText),
			col("sessionId", storage.TypeText),
			col("song", storage.TypeText),
			col("status", storage.TypeText),
			col("ts", storage.TypeTimestamp),
			col("userAgent", storage.TypeText),
			col("userId", storage.TypeText),
		},
	}
}

// StagingSongsTable mirrors the song metadata records, all text.
func StagingSongsTable() storage.TableSpec {
	return storage.TableSpec{
		Name: StagingSongs,
		Role: storage.RoleStaging,
		Columns: []storage.ColumnSpec{
			col("num_songs", storage.TypeText),
			col("artist_id", storage.TypeText),
			col("artist_latitude", storage.TypeText),
			col("artist_longitude", storage.TypeText),
			col("artist_location", storage.TypeLongText),
			col("artist_name", storage.TypeLongText),
			col("song_id", storage.TypeText),
			col("title", storage.TypeText),
			col("duration", storage.TypeText),
			col("year", storage.TypeText),
		},
	}
}

// SongplaysTable is the fact table, distributed on user_id and sorted by
// start_time.
func SongplaysTable() storage.TableSpec {
	return storage.TableSpec{
		Name:       Songplays,
		Role:       storage.RoleFact,
		PrimaryKey: "songplay_id",
		Columns: []storage.ColumnSpec{
			{Name: "songplay_id", Type: storage.TypeInt, Identity: true},
			notNull("start_time", storage.TypeTimestamp),
			notNull("user_id", storage.TypeInt),
			col("level", storage.TypeText),
			col("song_id", storage.TypeText),
			col("artist_id", storage.TypeText),
			col("session_id", storage.TypeInt),
			col("location", storage.TypeText),
			col("user_agent", storage.TypeText),
		},
		Layout: storage.Layout{DistStyle: storage.DistKey, DistKey: "user_id", SortKey: "start_time"},
	}
}

// UsersTable is co-located with songplays on user_id.
func UsersTable() storage.TableSpec {
	return storage.TableSpec{
		Name:       Users,
		Role:       storage.RoleDimension,
		PrimaryKey: "user_id",
		Columns: []storage.ColumnSpec{
			col("user_id", storage.TypeInt),
			notNull("first_name", storage.TypeText),
			notNull("last_name", storage.TypeText),
			col("gender", storage.TypeText),
			col("level", storage.TypeText),
		},
		Layout: storage.Layout{DistStyle: storage.DistKey, DistKey: "user_id"},
	}
}

func SongsTable() storage.TableSpec {
	return storage.TableSpec{
		Name:       Songs,
		Role:       storage.RoleDimension,
		PrimaryKey: "song_id",
		Columns: []storage.ColumnSpec{
			col("song_id", storage.TypeText),
			notNull("title", storage.TypeText),
			col("artist_id", storage.TypeText),
			col("year", storage.TypeInt),
			col("duration", storage.TypeDecimal),
		},
		Layout: storage.Layout{DistStyle: storage.DistAll, SortKey: "song_id"},
	}
}

func ArtistsTable() storage.TableSpec {
	return storage.TableSpec{
		Name:       Artists,
		Role:       storage.RoleDimension,
		PrimaryKey: "artist_id",
		Columns: []storage.ColumnSpec{
			col("artist_id", storage.TypeText),
			col("name", storage.TypeText),
			col("location", storage.TypeText),
			col("latitude", storage.TypeFloat),
			col("longitude", storage.TypeFloat),
		},
		Layout: storage.Layout{DistStyle: storage.DistAll, SortKey: "artist_id"},
	}
}

func TimeTable() storage.TableSpec {
	return storage.TableSpec{
		Name:       Time,
		Role:       storage.RoleDimension,
		PrimaryKey: "start_time",
		Columns: []storage.ColumnSpec{
			col("start_time", storage.TypeTimestamp),
			col("hour", storage.TypeInt),
			col("day", storage.TypeInt),
			col("week", storage.TypeInt),
			col("month", storage.TypeInt),
			col("year", storage.TypeInt),
			col("weekday", storage.TypeInt),
		},
		Layout: storage.Layout{DistStyle: storage.DistAll, SortKey: "start_time"},
	}
}

// Catalog returns all tables in creation order: staging first, then the
// dimensions, then the fact that refers to them. Drops run in reverse.
func Catalog() []storage.TableSpec {
	return []storage.TableSpec{
		StagingEventsTable(),
		StagingSongsTable(),
		UsersTable(),
		SongsTable(),
		ArtistsTable(),
		TimeTable(),
		SongplaysTable(),
	}
}

// Lookup returns the catalog entry for name.
func Lookup(name string) (storage.TableSpec, bool) {
	for _, t := range Catalog() {
		if t.Name == name {
			return t, true
		}
	}
	return storage.TableSpec{}, false
}
