package db

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var antennaUpsert = UpsertConfig{
	Table:        "antennas",
	Columns:      []string{"country", "idx", "description", "lat", "lon"},
	ConflictKeys: []string{"country", "idx"},
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, antennaUpsert, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  UpsertConfig
		msg  string
	}{
		{"no table", UpsertConfig{Columns: []string{"id"}, ConflictKeys: []string{"id"}}, "no table specified"},
		{"no columns", UpsertConfig{Table: "t", ConflictKeys: []string{"id"}}, "no columns specified"},
		{"no conflict keys", UpsertConfig{Table: "t", Columns: []string{"id"}}, "no conflict keys specified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BulkUpsert(context.Background(), nil, tt.cfg, [][]any{{1}})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TEMP TABLE "_tmp_upsert_antennas"`)).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_antennas"}, antennaUpsert.Columns).WillReturnResult(2)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "antennas"`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	rows := [][]any{
		{"US", 1, "WABC", 40.7, -74.0},
		{"US", 2, "WNBC", 40.7, -74.0},
	}
	n, err := BulkUpsert(context.Background(), mock, antennaUpsert, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_antennas"}, antennaUpsert.Columns).
		WillReturnError(fmt.Errorf("copy failed"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, antennaUpsert, [][]any{{"US", 1, "x", 0.0, 0.0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeSQL(t *testing.T) {
	got := mergeSQL(antennaUpsert, "_tmp")
	assert.Equal(t,
		`INSERT INTO "antennas" ("country", "idx", "description", "lat", "lon") SELECT "country", "idx", "description", "lat", "lon" FROM "_tmp" ON CONFLICT ("country", "idx") DO UPDATE SET "description" = EXCLUDED."description", "lat" = EXCLUDED."lat", "lon" = EXCLUDED."lon"`,
		got)

	keysOnly := UpsertConfig{Table: "seen", Columns: []string{"id"}, ConflictKeys: []string{"id"}}
	assert.Contains(t, mergeSQL(keysOnly, "_tmp"), "ON CONFLICT (\"id\") DO NOTHING")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"antennas.contours", `"antennas"."contours"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}
