package favorites

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/Farengier/aircon-market/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readOnlyStore struct {
	*kv.Memory
}

func (readOnlyStore) Set(context.Context, string, string) error {
	return errors.New("read-only")
}

func product(i int) Product {
	return Product{ID: fmt.Sprintf("p%d", i), Name: fmt.Sprintf("Split AC %d", i), Brand: "Sharp"}
}

func ids(products []Product) []string {
	out := make([]string, 0, len(products))
	for _, p := range products {
		out = append(out, p.ID)
	}
	return out
}

func TestToggle_AddsNewestFirstAndRemoves(t *testing.T) {
	l := New(kv.NewMemory())
	ctx := context.Background()

	added, err := l.Toggle(ctx, product(1))
	require.NoError(t, err)
	assert.True(t, added)
	added, err = l.Toggle(ctx, product(2))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []string{"p2", "p1"}, ids(l.All()))

	added, err = l.Toggle(ctx, product(1))
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, []string{"p2"}, ids(l.All()))
	assert.False(t, l.Contains("p1"))
	assert.True(t, l.Contains("p2"))
}

func TestToggle_CapacityIsFive(t *testing.T) {
	l := New(kv.NewMemory())
	ctx := context.Background()

	for i := 1; i <= Capacity; i++ {
		_, err := l.Toggle(ctx, product(i))
		require.NoError(t, err)
	}

	added, err := l.Toggle(ctx, product(6))
	assert.ErrorIs(t, err, ErrLimitReached)
	assert.False(t, added)
	assert.Len(t, l.All(), Capacity)
	assert.False(t, l.Contains("p6"))

	// removing through toggle is allowed at capacity
	added, err = l.Toggle(ctx, product(3))
	require.NoError(t, err)
	assert.False(t, added)

	added, err = l.Toggle(ctx, product(6))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []string{"p6", "p5", "p4", "p2", "p1"}, ids(l.All()))
}

func TestToggle_RequiresID(t *testing.T) {
	_, err := New(kv.NewMemory()).Toggle(context.Background(), Product{Name: "nameless"})
	assert.ErrorIs(t, err, ErrNoID)
}

func TestRemove(t *testing.T) {
	l := New(kv.NewMemory())
	ctx := context.Background()
	_, err := l.Toggle(ctx, product(1))
	require.NoError(t, err)

	require.NoError(t, l.Remove(ctx, "p1"))
	assert.Empty(t, l.All())
	assert.ErrorIs(t, l.Remove(ctx, "p1"), ErrNotFound)
}

func TestPersistence(t *testing.T) {
	store := kv.NewMemory()
	ctx := context.Background()

	l := New(store)
	require.NoError(t, l.Load(ctx))
	for i := 1; i <= 3; i++ {
		_, err := l.Toggle(ctx, product(i))
		require.NoError(t, err)
	}
	require.NoError(t, l.Remove(ctx, "p2"))

	reloaded := New(store)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, l.All(), reloaded.All())
	assert.Equal(t, []string{"p3", "p1"}, ids(reloaded.All()))
}

func TestPersistence_KeepsUnmodeledFields(t *testing.T) {
	store := kv.NewMemory()
	ctx := context.Background()

	var p Product
	require.NoError(t, json.Unmarshal([]byte(
		`{"_id":"p1","name":"Split AC","price":1200.5,"images":["a.jpg"],"company":{"_id":"c1"}}`), &p))
	assert.Equal(t, 1200.5, p.Price)
	require.Contains(t, p.Extra, "images")

	l := New(store)
	_, err := l.Toggle(ctx, p)
	require.NoError(t, err)

	reloaded := New(store)
	require.NoError(t, reloaded.Load(ctx))
	require.Len(t, reloaded.All(), 1)
	got := reloaded.All()[0]
	assert.Equal(t, "Split AC", got.Name)
	assert.JSONEq(t, `["a.jpg"]`, string(got.Extra["images"]))
	assert.JSONEq(t, `{"_id":"c1"}`, string(got.Extra["company"]))

	got.Extra["images"] = json.RawMessage(`[]`)
	assert.JSONEq(t, `["a.jpg"]`, string(reloaded.All()[0].Extra["images"]), "All returns copies")
}

func TestLoad_CorruptOrOversizedList(t *testing.T) {
	store := kv.NewMemory()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, KeyFavorites, "not json"))
	l := New(store)
	require.NoError(t, l.Load(ctx))
	assert.Empty(t, l.All())

	require.NoError(t, store.Set(ctx, KeyFavorites,
		`[{"_id":"a"},{"_id":"b"},{"_id":"c"},{"_id":"d"},{"_id":"e"},{"_id":"f"}]`))
	require.NoError(t, l.Load(ctx))
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids(l.All()))
}

func TestSaveFailureLeavesListUnchanged(t *testing.T) {
	l := New(readOnlyStore{Memory: kv.NewMemory()})
	ctx := context.Background()

	_, err := l.Toggle(ctx, product(1))
	require.Error(t, err)
	assert.Empty(t, l.All())
}
