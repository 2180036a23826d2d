package history

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testutil "github.com/gaomindu/prscreen/internal/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, cleanup := testutil.NewTestDB(t, "history")
	t.Cleanup(cleanup)
	return NewStore(db, zerolog.Nop())
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.Get("600519.SH")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStore_PutGet(t *testing.T) {
	store := newTestStore(t)

	in := CachedRecord{
		Code:   "600519.SH",
		Range:  YearRange{2015, 2020},
		Points: points(2015, 2016, 2017, 2018, 2019, 2020),
	}
	require.NoError(t, store.Put(in))

	got, err := store.Get("600519.SH")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, in.Code, got.Code)
	assert.Equal(t, in.Range, got.Range)
	assert.Equal(t, yearsOf(in.Points), yearsOf(got.Points))
	assert.False(t, got.WrittenAt.IsZero())
}

func TestStore_PutSupersedesSubsumedRows(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(CachedRecord{
		Code: "600519.SH", Range: YearRange{2015, 2020},
		Points: points(2015, 2016, 2017, 2018, 2019, 2020),
	}))
	require.NoError(t, store.Put(CachedRecord{
		Code: "600519.SH", Range: YearRange{2015, 2023},
		Points: points(2015, 2016, 2017, 2018, 2019, 2020, 2021, 2022, 2023),
	}))

	recs, err := store.Records("600519.SH")
	require.NoError(t, err)
	require.Len(t, recs, 1, "the narrower row must be superseded by the wider one")
	assert.Equal(t, YearRange{2015, 2023}, recs[0].Range)
}

func TestStore_DisjointRangesRetained(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(CachedRecord{
		Code: "600519.SH", Range: YearRange{2015, 2020},
		Points: points(2015, 2016, 2017, 2018, 2019, 2020),
	}))
	require.NoError(t, store.Put(CachedRecord{
		Code: "600519.SH", Range: YearRange{2000, 2005},
		Points: points(2000, 2001, 2002, 2003, 2004, 2005),
	}))

	recs, err := store.Records("600519.SH")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, YearRange{2000, 2005}, recs[0].Range)
	assert.Equal(t, YearRange{2015, 2020}, recs[1].Range)

	// Get prefers the widest; on equal width the more recent end year wins.
	got, err := store.Get("600519.SH")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, YearRange{2015, 2020}, got.Range)
}

func TestStore_CorruptPayloadDegradesToMiss(t *testing.T) {
	store := newTestStore(t)

	_, err := store.db.Exec(
		`INSERT INTO fin_history (cache_key, ts_code, start_year, end_year, payload, written_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"600519.SH|2015|2020", "600519.SH", 2015, 2020,
		[]byte("not msgpack"), time.Now().Unix(), time.Now().Add(time.Hour).Unix(),
	)
	require.NoError(t, err)

	got, err := store.Get("600519.SH")
	require.NoError(t, err, "a corrupt row must not surface as an error")
	assert.Nil(t, got)
}

func TestStore_CorruptRowDoesNotShadowGoodRow(t *testing.T) {
	store := newTestStore(t)

	// Wide but corrupt row alongside a narrower readable one.
	_, err := store.db.Exec(
		`INSERT INTO fin_history (cache_key, ts_code, start_year, end_year, payload, written_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"600519.SH|2000|2023", "600519.SH", 2000, 2023,
		[]byte{0xff, 0x00}, time.Now().Unix(), time.Now().Add(time.Hour).Unix(),
	)
	require.NoError(t, err)
	require.NoError(t, store.Put(CachedRecord{
		Code: "600519.SH", Range: YearRange{2015, 2020},
		Points: points(2015, 2016, 2017, 2018, 2019, 2020),
	}))

	got, err := store.Get("600519.SH")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, YearRange{2015, 2020}, got.Range)
}

func TestStore_ScanAll(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(CachedRecord{
		Code: "600519.SH", Range: YearRange{2015, 2020},
		Points: points(2015, 2016, 2017, 2018, 2019, 2020),
	}))

	got := store.ScanAll([]string{"600519.SH", "000001.SZ"})
	require.Len(t, got, 2)
	require.NotNil(t, got["600519.SH"])
	assert.Equal(t, YearRange{2015, 2020}, got["600519.SH"].Range)
	assert.Nil(t, got["000001.SZ"])
}

func TestStore_PurgeUnreadable(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(CachedRecord{
		Code: "600519.SH", Range: YearRange{2015, 2020},
		Points: points(2015, 2016, 2017, 2018, 2019, 2020),
	}))
	_, err := store.db.Exec(
		`INSERT INTO fin_history (cache_key, ts_code, start_year, end_year, payload, written_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"000001.SZ|2015|2020", "000001.SZ", 2015, 2020,
		[]byte("garbage"), time.Now().Unix(), time.Now().Add(time.Hour).Unix(),
	)
	require.NoError(t, err)

	purged, err := store.PurgeUnreadable()
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	info, err := store.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, 1, info.Records)
	assert.Equal(t, 1, info.Entities)
	assert.Equal(t, 6, info.Years)
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(CachedRecord{
		Code: "600519.SH", Range: YearRange{2015, 2020},
		Points: points(2015, 2016, 2017, 2018, 2019, 2020),
	}))
	require.NoError(t, store.Delete("600519.SH"))

	got, err := store.Get("600519.SH")
	require.NoError(t, err)
	assert.Nil(t, got)
}
