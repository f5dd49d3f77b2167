package redshift

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"dwh/internal/storage"
)

func TestCreateTableSQL_FactLayout(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name:       "songplays",
		PrimaryKey: "songplay_id",
		Columns: []storage.ColumnSpec{
			{Name: "songplay_id", Type: storage.TypeInt, Identity: true},
			{Name: "start_time", Type: storage.TypeTimestamp, NotNull: true},
			{Name: "user_id", Type: storage.TypeInt, NotNull: true},
		},
		Layout: storage.Layout{DistStyle: storage.DistKey, DistKey: "user_id", SortKey: "start_time"},
	}

	got, err := Dialect{}.CreateTableSQL(spec)
	require.NoError(t, err)
	require.Equal(t, `CREATE TABLE IF NOT EXISTS songplays (
    songplay_id INTEGER IDENTITY(0,1) PRIMARY KEY,
    start_time TIMESTAMP NOT NULL SORTKEY,
    user_id INTEGER NOT NULL DISTKEY
);`, got)
}

func TestCreateTableSQL_Replicated(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name:       "artists",
		PrimaryKey: "artist_id",
		Columns: []storage.ColumnSpec{
			{Name: "artist_id", Type: storage.TypeText},
			{Name: "name", Type: storage.TypeLongText},
			{Name: "latitude", Type: storage.TypeFloat},
		},
		Layout: storage.Layout{DistStyle: storage.DistAll, SortKey: "artist_id"},
	}

	got, err := Dialect{}.CreateTableSQL(spec)
	require.NoError(t, err)
	require.Contains(t, got, "artist_id VARCHAR(256) PRIMARY KEY SORTKEY")
	require.Contains(t, got, "name VARCHAR(MAX)")
	require.Contains(t, got, "latitude FLOAT")
	require.True(t, strings.HasSuffix(got, ") DISTSTYLE ALL;"), got)
}

func TestCopySQL_JSONPathsWithTimeFormat(t *testing.T) {
	t.Parallel()

	got, err := Dialect{}.CopySQL(storage.LoadDirective{
		Table:      "staging_events",
		Source:     "s3://udacity-dend/log_data",
		Credential: "arn:aws:iam::123456789012:role/dwhRole",
		Format:     "s3://udacity-dend/log_json_path.json",
		TimeFormat: storage.TimeFormatEpochMillis,
		Region:     "us-west-2",
	})
	require.NoError(t, err)
	require.Equal(t, `COPY staging_events
FROM 's3://udacity-dend/log_data'
CREDENTIALS 'aws_iam_role=arn:aws:iam::123456789012:role/dwhRole'
FORMAT AS JSON 's3://udacity-dend/log_json_path.json'
TIMEFORMAT AS 'epochmillisecs'
REGION 'us-west-2';`, got)
}

func TestCopySQL_AutoWithMaxErrors(t *testing.T) {
	t.Parallel()

	got, err := Dialect{}.CopySQL(storage.LoadDirective{
		Table:      "staging_songs",
		Source:     "s3://udacity-dend/song_data",
		Credential: "arn:aws:iam::1:role/r",
		Format:     storage.FormatAuto,
		Region:     "us-west-2",
		MaxErrors:  10,
	})
	require.NoError(t, err)
	require.Contains(t, got, "FORMAT AS JSON 'auto'")
	require.NotContains(t, got, "TIMEFORMAT")
	require.True(t, strings.HasSuffix(got, "MAXERROR 10;"), got)
}

func TestCopySQL_QuotesLiterals(t *testing.T) {
	t.Parallel()

	got, err := Dialect{}.CopySQL(storage.LoadDirective{
		Table: "staging_songs", Source: "s3://b/it's", Credential: "r", Region: "us-west-2",
	})
	require.NoError(t, err)
	require.Contains(t, got, "FROM 's3://b/it''s'")
}

func TestCopySQL_MissingFields(t *testing.T) {
	t.Parallel()

	full := storage.LoadDirective{Table: "t", Source: "s3://b/p", Credential: "r", Region: "us-west-2"}
	for name, mutate := range map[string]func(*storage.LoadDirective){
		"table":      func(d *storage.LoadDirective) { d.Table = "" },
		"source":     func(d *storage.LoadDirective) { d.Source = "" },
		"credential": func(d *storage.LoadDirective) { d.Credential = "" },
		"region":     func(d *storage.LoadDirective) { d.Region = "" },
	} {
		d := full
		mutate(&d)
		_, err := Dialect{}.CopySQL(d)
		require.Error(t, err, name)
	}
}

func TestCastAndExtract(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	require.Equal(t, "CAST(userId AS INTEGER)", d.Cast("userId", storage.TypeInt))
	require.Equal(t, "CAST(duration AS DECIMAL(18,5))", d.Cast("duration", storage.TypeDecimal))
	require.Equal(t, "EXTRACT(WEEK FROM ts)", d.Extract(storage.PartWeek, "ts"))
	require.Equal(t, "EXTRACT(DOW FROM ts)", d.Extract(storage.PartWeekday, "ts"))
	require.PanicsWithValue(t, `redshift: cast: unsupported column type "blob"`, func() {
		d.Cast("x", storage.ColumnType("blob"))
	})
}
