package groups

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/securechat/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	qMembers  = `(?s)^SELECT\s+m\.user_id\s+FROM\s+groups\s+g\s+LEFT\s+JOIN\s+group_members\s+m.*WHERE\s+g\.id\s*=\s*\$1$`
	qIsMember = `(?s)^SELECT\s+EXISTS\s*\(.*group_members.*\)$`
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresRepository(db), mock, db
}

func TestMembersOf(t *testing.T) {
	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		want    []string
		wantErr error
	}{
		{
			name: "members",
			rows: sqlmock.NewRows([]string{"user_id"}).AddRow("a").AddRow("b").AddRow("c"),
			want: []string{"a", "b", "c"},
		},
		{
			name: "empty group",
			rows: sqlmock.NewRows([]string{"user_id"}).AddRow(nil),
			want: []string{},
		},
		{
			name:    "unknown group",
			rows:    sqlmock.NewRows([]string{"user_id"}),
			wantErr: common.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, db := newRepoWithMock(t)
			defer db.Close()

			mock.ExpectQuery(qMembers).WithArgs("g1").WillReturnRows(tt.rows)

			got, err := repo.MembersOf(context.Background(), "g1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMembersOf_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qMembers).WillReturnError(errors.New("down"))

	_, err := repo.MembersOf(context.Background(), "g1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrNotFound)
}

func TestIsMember(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qIsMember).WithArgs("g1", "alice").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(qIsMember).WithArgs("g1", "mallory").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := repo.IsMember(context.Background(), "g1", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.IsMember(context.Background(), "g1", "mallory")
	require.NoError(t, err)
	assert.False(t, ok)
}
