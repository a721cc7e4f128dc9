package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "run_labels", []string{"run_id", "town_id"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"run_id", "town_id", "rank"}
	mock.ExpectCopyFrom(pgx.Identifier{"run_labels"}, cols).WillReturnResult(3)

	rows := [][]any{
		{"r1", "351-0", 1},
		{"r1", "261-0", 2},
		{"r1", "5586-0", 3},
	}
	n, err := CopyFrom(context.Background(), mock, "run_labels", cols, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"run_id", "town_id"}
	mock.ExpectCopyFrom(pgx.Identifier{"run_labels"}, cols).WillReturnError(fmt.Errorf("copy failed"))

	rows := [][]any{{"r1", "351-0"}}
	_, err = CopyFrom(context.Background(), mock, "run_labels", cols, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO run_labels")
	assert.NoError(t, mock.ExpectationsWereMet())
}
