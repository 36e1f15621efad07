package document

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestParseDocumentType(t *testing.T) {
	for in, want := range map[string]DocumentType{
		"Zakon":           TypeLaw,
		"zakon":           TypeLaw,
		" PRAVILNIK ":     TypeRulebook,
		"internapolitika": TypeInternalPolicy,
	} {
		got, ok := ParseDocumentType(in)
		require.True(t, ok, in)
		require.Equal(t, want, got)
	}
	_, ok := ParseDocumentType("Uredba")
	require.False(t, ok)
	require.False(t, DocumentType("zakon").Valid())
}

func TestVersionValidOnInclusiveBounds(t *testing.T) {
	to := day(2024, 6, 30)
	v := &Version{ValidFrom: day(2024, 1, 1), ValidTo: &to}
	require.False(t, v.ValidOn(day(2023, 12, 31)))
	require.True(t, v.ValidOn(day(2024, 1, 1)))
	require.True(t, v.ValidOn(day(2024, 6, 30)))
	require.False(t, v.ValidOn(day(2024, 7, 1)))

	open := &Version{ValidFrom: day(2024, 1, 1)}
	require.True(t, open.ValidOn(day(2099, 1, 1)))
}

func TestFilterValidOnOrdersNewestFirst(t *testing.T) {
	to := day(2024, 3, 31)
	vs := []*Version{
		{ID: "a", ValidFrom: day(2024, 1, 1)},
		{ID: "b", ValidFrom: day(2024, 3, 1), ValidTo: &to},
		{ID: "c", ValidFrom: day(2024, 2, 1)},
		{ID: "d", ValidFrom: day(2024, 5, 1)},
	}
	got := FilterValidOn(vs, day(2024, 3, 15))
	ids := make([]string, 0, len(got))
	for _, v := range got {
		ids = append(ids, v.ID)
	}
	require.Equal(t, []string{"b", "c", "a"}, ids)
	require.Empty(t, FilterValidOn(vs, day(2023, 1, 1)))
}

func TestSortByValidFromDescBreaksTiesByCreation(t *testing.T) {
	vs := []*Version{
		{ID: "old", ValidFrom: day(2024, 1, 1), CreatedAt: day(2024, 1, 2)},
		{ID: "new", ValidFrom: day(2024, 1, 1), CreatedAt: day(2024, 1, 3)},
	}
	SortByValidFromDesc(vs)
	require.Equal(t, "new", vs[0].ID)
}

func TestVersionCloneIsDeep(t *testing.T) {
	to := day(2024, 6, 30)
	at := day(2024, 2, 1)
	v := &Version{ValidTo: &to, IndexedAt: &at, Blob: &BlobRef{Path: "k/1/v.pdf"}}
	c := v.Clone()
	*c.ValidTo = day(2030, 1, 1)
	*c.IndexedAt = day(2030, 1, 1)
	c.Blob.Path = "other"
	require.Equal(t, day(2024, 6, 30), *v.ValidTo)
	require.Equal(t, day(2024, 2, 1), *v.IndexedAt)
	require.Equal(t, "k/1/v.pdf", v.Blob.Path)

	var nilVersion *Version
	require.Nil(t, nilVersion.Clone())
}

func TestCurrent(t *testing.T) {
	require.Nil(t, Current(nil))
	vs := []*Version{{ID: "a"}, {ID: "b", IsCurrent: true}}
	require.Equal(t, "b", Current(vs).ID)
}

func TestFilterMatches(t *testing.T) {
	active := true
	inactive := false
	on := day(2024, 3, 1)
	d := &Document{Title: "Zakon o Radu", Type: TypeLaw, IsActive: true}
	vs := []*Version{{ValidFrom: day(2024, 1, 1)}}

	require.True(t, Filter{}.Matches(d, vs))
	require.True(t, Filter{Search: "o rad"}.Matches(d, vs))
	require.False(t, Filter{Search: "porez"}.Matches(d, vs))
	require.False(t, Filter{Type: TypeRulebook}.Matches(d, vs))
	require.True(t, Filter{IsActive: &active}.Matches(d, vs))
	require.False(t, Filter{IsActive: &inactive}.Matches(d, vs))
	require.True(t, Filter{ValidOn: &on}.Matches(d, vs))
	before := day(2023, 1, 1)
	require.False(t, Filter{ValidOn: &before}.Matches(d, vs))

	deleted := &Document{Title: "x", IsDeleted: true}
	require.False(t, Filter{}.Matches(deleted, nil))
}

func TestCanTransition(t *testing.T) {
	legal := []struct {
		from, to IndexStatus
		reindex  bool
	}{
		{IndexPending, IndexIndexing, false},
		{IndexFailed, IndexIndexing, false},
		{IndexIndexing, IndexIndexed, false},
		{IndexIndexing, IndexFailed, false},
		{IndexIndexed, IndexIndexing, true},
	}
	for _, e := range legal {
		require.True(t, CanTransition(e.from, e.to, e.reindex), "%s -> %s", e.from, e.to)
	}
	require.False(t, CanTransition(IndexPending, IndexIndexed, false))
	require.False(t, CanTransition(IndexIndexed, IndexIndexing, false))
	require.False(t, CanTransition(IndexIndexed, IndexFailed, false))
	require.False(t, CanTransition(IndexPending, IndexIndexing, true))
	require.False(t, CanTransition(IndexIndexing, IndexIndexing, false))
}

func TestIndexUpdateApply(t *testing.T) {
	at := day(2024, 2, 1)
	v := &Version{IndexStatus: IndexIndexing, IndexError: "old"}
	empty := ""
	IndexUpdate{Status: IndexIndexed, IndexedAt: &at, IndexError: &empty, UpdatedAt: at}.Apply(v)
	require.Equal(t, IndexIndexed, v.IndexStatus)
	require.Empty(t, v.IndexError)
	require.Equal(t, at, v.UpdatedAt)

	IndexUpdate{Status: IndexIndexing}.Apply(v)
	require.Equal(t, at, *v.IndexedAt)
	require.Equal(t, at, v.UpdatedAt)

	s, ok := ParseIndexStatus(" indexed ")
	require.True(t, ok)
	require.Equal(t, IndexIndexed, s)
}
