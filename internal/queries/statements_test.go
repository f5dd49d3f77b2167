package queries

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"dwh/internal/schema"
	"dwh/internal/storage"
	"dwh/internal/storage/redshift"
	"dwh/internal/storage/sqlite"
)

func testSources() Sources {
	return Sources{
		LogData:     "s3://udacity-dend/log_data",
		LogJSONPath: "s3://udacity-dend/log_json_path.json",
		SongData:    "s3://udacity-dend/song_data",
		IAMRole:     "arn:aws:iam::123456789012:role/dwhRole",
		Region:      "us-west-2",
	}
}

func names(list []Statement) []string {
	out := make([]string, len(list))
	for i, st := range list {
		out[i] = st.Name
	}
	return out
}

func TestBuild_ListOrder(t *testing.T) {
	t.Parallel()

	st, err := Build(redshift.Dialect{}, testSources(), Options{})
	require.NoError(t, err)

	tables := []string{"staging_events", "staging_songs", "users", "songs", "artists", "time", "songplays"}
	var drops, creates []string
	for i, tbl := range tables {
		drops = append(drops, "drop_"+tables[len(tables)-1-i])
		creates = append(creates, "create_"+tbl)
	}
	require.Equal(t, drops, names(st.Drop))
	require.Equal(t, creates, names(st.Create))
	require.Equal(t, []string{"copy_staging_events", "copy_staging_songs"}, names(st.Copy))
	require.Equal(t, []string{"insert_songplays", "insert_users", "insert_songs", "insert_artists", "insert_time"}, names(st.Insert))

	require.Len(t, st.All(), 7+7+2+5)
	for _, p := range Phases {
		for _, s := range st.Phase(p) {
			require.Equal(t, p, s.Phase, s.Name)
		}
	}
}

func TestBuild_RedshiftCopy(t *testing.T) {
	t.Parallel()

	st, err := Build(redshift.Dialect{}, testSources(), Options{})
	require.NoError(t, err)

	events := st.Copy[0]
	require.Contains(t, events.SQL, "COPY staging_events")
	require.Contains(t, events.SQL, "FORMAT AS JSON 's3://udacity-dend/log_json_path.json'")
	require.Contains(t, events.SQL, "TIMEFORMAT AS 'epochmillisecs'")
	require.Contains(t, events.SQL, "REGION 'us-west-2'")
	require.NotNil(t, events.Load)
	require.Equal(t, schema.StagingEventsTable().Columns, events.Load.Columns)

	songs := st.Copy[1]
	require.Contains(t, songs.SQL, "FORMAT AS JSON 'auto'")
	require.NotContains(t, songs.SQL, "TIMEFORMAT")
}

func TestBuild_SQLiteCopyIsDirectiveOnly(t *testing.T) {
	t.Parallel()

	st, err := Build(sqlite.Dialect{}, testSources(), Options{})
	require.NoError(t, err)
	for _, c := range st.Copy {
		require.Empty(t, c.SQL)
		require.NotNil(t, c.Load)
		require.Equal(t, c.Table, c.Load.Table)
	}
	require.Equal(t, storage.TimeFormatEpochMillis, st.Copy[0].Load.TimeFormat)
	require.Equal(t, storage.FormatAuto, st.Copy[1].Load.Format)
}

func TestBuild_Errors(t *testing.T) {
	t.Parallel()

	for name, mutate := range map[string]func(*Sources){
		"no log data":  func(s *Sources) { s.LogData = "" },
		"no jsonpaths": func(s *Sources) { s.LogJSONPath = "" },
		"no song data": func(s *Sources) { s.SongData = "" },
		"neg errors":   func(s *Sources) { s.MaxErrors = -1 },
	} {
		src := testSources()
		mutate(&src)
		_, err := Build(sqlite.Dialect{}, src, Options{})
		require.Error(t, err, name)
	}

	noRole := testSources()
	noRole.IAMRole = ""
	_, err := Build(redshift.Dialect{}, noRole, Options{})
	require.Error(t, err)
	_, err = Build(sqlite.Dialect{}, noRole, Options{})
	require.NoError(t, err)

	_, err = Build(sqlite.Dialect{}, testSources(), Options{KeyConflict: "last_wins"})
	require.Error(t, err)
}

func TestInsertStatements_Songplays(t *testing.T) {
	t.Parallel()

	ins, err := InsertStatements(redshift.Dialect{}, Options{})
	require.NoError(t, err)

	sp := ins[0].SQL
	require.True(t, strings.HasPrefix(sp, "INSERT INTO songplays (start_time, user_id, level, song_id, artist_id, session_id, location, user_agent)"), sp)
	require.Contains(t, sp, "JOIN staging_songs s ON e.artist = s.artist_name AND e.song = s.title")
	require.Contains(t, sp, "WHERE e.page = 'NextSong'")
	require.Contains(t, sp, "CAST(e.userId AS INTEGER)")
	require.Contains(t, sp, "CAST(e.sessionId AS INTEGER)")
	require.NotContains(t, sp, "LEFT JOIN")
}

func TestInsertStatements_FirstWinsRanksDimensions(t *testing.T) {
	t.Parallel()

	ins, err := InsertStatements(redshift.Dialect{}, Options{KeyConflict: schema.FirstWins})
	require.NoError(t, err)

	users := ins[1].SQL
	require.Contains(t, users, "ROW_NUMBER() OVER (PARTITION BY user_id ORDER BY")
	require.Contains(t, users, "SELECT DISTINCT CAST(userId AS INTEGER) AS user_id")
	require.Contains(t, users, "WHERE page = 'NextSong'")
	require.Contains(t, users, "WHERE rn = 1 AND user_id IS NOT NULL;")

	for _, st := range ins[2:4] {
		require.Contains(t, st.SQL, "ROW_NUMBER() OVER (PARTITION BY", st.Name)
	}
	require.Contains(t, ins[2].SQL, "CAST(duration AS DECIMAL(18,5)) AS duration")
	require.Contains(t, ins[3].SQL, "CAST(artist_latitude AS FLOAT) AS latitude")

	tm := ins[4].SQL
	require.Contains(t, tm, "SELECT DISTINCT ts")
	require.Contains(t, tm, "EXTRACT(HOUR FROM ts)")
	require.Contains(t, tm, "EXTRACT(DOW FROM ts)")
	require.Contains(t, tm, "WHERE ts IS NOT NULL")
}

func TestInsertStatements_WarehousePolicyIsPlain(t *testing.T) {
	t.Parallel()

	ins, err := InsertStatements(redshift.Dialect{}, Options{KeyConflict: schema.WarehousePolicy})
	require.NoError(t, err)
	for _, st := range ins {
		require.NotContains(t, st.SQL, "ROW_NUMBER", st.Name)
	}
	require.Contains(t, ins[1].SQL, "SELECT DISTINCT CAST(userId AS INTEGER)")
	require.NotContains(t, ins[4].SQL, "DISTINCT")
	require.NotContains(t, ins[4].SQL, "WHERE")
}
