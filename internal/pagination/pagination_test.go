package pagination

import (
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimit(t *testing.T) {
	assert.Equal(t, DefaultNumItems, Request{}.Limit())
	assert.Equal(t, DefaultNumItems, Request{NumItems: -3}.Limit())
	assert.Equal(t, 1, Request{NumItems: 1}.Limit())
	assert.Equal(t, MaxNumItems, Request{NumItems: 5000}.Limit())
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 7, Request{}.Clamp(7, 50).Limit())
	assert.Equal(t, 50, Request{NumItems: 80}.Clamp(7, 50).Limit())
	assert.Equal(t, 30, Request{NumItems: 30}.Clamp(7, 50).Limit())
	assert.Equal(t, MaxNumItems, Request{NumItems: 900}.Clamp(0, 1000).Limit())
}

func TestCursorRoundTrip(t *testing.T) {
	pos := Position{Key: 1700000000123, ID: uuid.New()}
	got, err := Request{Cursor: Encode(pos)}.Position()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pos, *got)

	got, err = Request{}.Position()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, cursor := range []string{"%%%", "bm90LWpzb24", "e30"} {
		_, err := Decode(cursor)
		assert.Error(t, err, cursor)
	}
}

type item struct {
	key int64
	id  uuid.UUID
}

func keyOf(i item) Position { return Position{Key: i.key, ID: i.id} }

func items(n int) []item {
	out := make([]item, n)
	for i := range out {
		out[i] = item{key: int64(i), id: uuid.New()}
	}
	return out
}

func TestBuild(t *testing.T) {
	rows := items(4)

	res := Build(rows, 3, Request{}, keyOf)
	assert.False(t, res.IsDone)
	require.Len(t, res.Page, 3)
	pos, err := Decode(res.ContinueCursor)
	require.NoError(t, err)
	assert.Equal(t, keyOf(rows[2]), *pos)

	res = Build(rows[:2], 3, Request{}, keyOf)
	assert.True(t, res.IsDone)
	assert.Len(t, res.Page, 2)

	prev := Request{Cursor: Encode(keyOf(rows[0]))}
	res = Build[item](nil, 3, prev, keyOf)
	assert.True(t, res.IsDone)
	assert.NotNil(t, res.Page)
	assert.Empty(t, res.Page)
	assert.Equal(t, prev.Cursor, res.ContinueCursor, "an empty page keeps the incoming cursor")
}

func TestMap(t *testing.T) {
	res := Build(items(2), 5, Request{}, keyOf)
	mapped := Map(res, func(i item) string { return strconv.FormatInt(i.key, 10) })
	assert.Equal(t, []string{"0", "1"}, mapped.Page)
	assert.Equal(t, res.IsDone, mapped.IsDone)
	assert.Equal(t, res.ContinueCursor, mapped.ContinueCursor)
}
