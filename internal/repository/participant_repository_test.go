package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classlinker-chat/internal/models"
)

func TestParticipantRepositoryListBySubject(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewParticipantRepository(db)

	rows := sqlmock.NewRows([]string{"id", "name", "role", "email"}).
		AddRow("5", "Pak Budi", "teacher", "budi@school.test").
		AddRow("9", "Ana", "student", "")
	mock.ExpectQuery(regexp.QuoteMeta("JOIN teachers t ON t.id = s.teacher_id")).
		WithArgs("42").
		WillReturnRows(rows)

	participants, err := repo.ListBySubject(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, []models.Participant{
		{ID: "5", Name: "Pak Budi", Role: models.ChatRoleTeacher, Email: "budi@school.test"},
		{ID: "9", Name: "Ana", Role: models.ChatRoleStudent},
	}, participants)
	assert.NoError(t, mock.ExpectationsWereMet())
}
