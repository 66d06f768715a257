package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListEnabledTopics(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := New(sqlx.NewDb(db, "postgres"))

	mock.ExpectQuery("SELECT topic_id FROM relay_node_topics WHERE enabled").
		WillReturnRows(sqlmock.NewRows([]string{"topic_id"}).AddRow("news").AddRow("sports"))

	topics, err := st.ListEnabledTopics(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"news", "sports"}, topics)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetNodeTopicEnabled(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := New(sqlx.NewDb(db, "postgres"))

	mock.ExpectExec("INSERT INTO relay_node_topics").
		WithArgs("news", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = st.SetNodeTopicEnabled(context.Background(), "news", true)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
