package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/agentctl/sentryd/pkg/learning"
)

func TestUpsertConstraint_InsertsThenReadsBackSeenCount(t *testing.T) {
	st, mock, closeDB := newMockStore(t)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO sec_constraints").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT seen_count FROM sec_constraints").
		WithArgs("ws_1", "external_write_requires_approval", "external.write:method").
		WillReturnRows(sqlmock.NewRows([]string{"seen_count"}).AddRow(2))
	mock.ExpectCommit()

	tx, err := st.DB.Beginx()
	require.NoError(t, err)

	seenCount, err := st.UpsertConstraint(context.Background(), tx, learning.ConstraintParams{
		WorkspaceID: "ws_1",
		ReasonCode:  "external_write_requires_approval",
		Category:    "action",
		Pattern:     "external.write:method",
	})
	require.NoError(t, err)
	require.Equal(t, 2, seenCount)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertMistakeCounter_ReturnsIncrementedCount(t *testing.T) {
	st, mock, closeDB := newMockStore(t)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO sec_mistake_counters").
		WithArgs("ws_1", "external_write_requires_approval", "agent:agt_1").
		WillReturnRows(sqlmock.NewRows([]string{"seen_count"}).AddRow(3))
	mock.ExpectCommit()

	tx, err := st.DB.Beginx()
	require.NoError(t, err)

	count, err := st.UpsertMistakeCounter(context.Background(), tx, "ws_1", "external_write_requires_approval", "agent:agt_1")
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}
