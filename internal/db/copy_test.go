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
	n, err := CopyFrom(context.TODO(), nil, "contact_history", []string{"call_ref", "agent_id"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"contact_history"}, []string{"call_ref", "agent_id"}).WillReturnResult(3)

	rows := [][]any{{"c1", "a1"}, {"c2", "a1"}, {"c3", "a2"}}
	n, err := CopyFrom(context.Background(), mock, "contact_history", []string{"call_ref", "agent_id"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"contact_history"}, []string{"call_ref"}).WillReturnError(fmt.Errorf("copy failed"))

	rows := [][]any{{"c1"}}
	_, err = CopyFrom(context.Background(), mock, "contact_history", []string{"call_ref"}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO contact_history")
	assert.NoError(t, mock.ExpectationsWereMet())
}
