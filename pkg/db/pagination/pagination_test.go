package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "42", RecordedAt: "2026-01-31T23:59:59Z"})
	require.NoError(t, err)

	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, "42", cursor.ID)
	assert.Equal(t, "2026-01-31T23:59:59Z", cursor.RecordedAt)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%")
	assert.ErrorIs(t, err, ErrInvalidCursor)

	token, err := EncodeCursor(Cursor{ID: "1"})
	require.NoError(t, err)
	_, err = DecodeCursor(token)
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestBuildCursorPage(t *testing.T) {
	rows := []int{1, 2, 3}
	extract := func(v int) Cursor { return Cursor{ID: "x", RecordedAt: "t"} }

	page, info, err := BuildCursorPage(rows, 3, extract)
	require.NoError(t, err)
	assert.Len(t, page, 3)
	assert.False(t, info.HasMore)

	page, info, err = BuildCursorPage(rows, 2, extract)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, page)
	assert.True(t, info.HasMore)
	assert.NotEmpty(t, info.NextPageToken)
}

func TestLimit(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Limit())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 10000}.Limit())
	assert.Equal(t, 7, Pagination{PageSize: 7}.Limit())
}
