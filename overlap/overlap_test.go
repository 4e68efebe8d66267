package overlap

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peer-mapper/trust-indexer/database/orm"
)

const now = 10_000

type fakeReader struct {
	rows  map[string][]*orm.Attestation
	calls atomic.Int64
}

func (f *fakeReader) ListAttestationsForSubject(ctx context.Context, subjectID string) ([]*orm.Attestation, error) {
	f.calls.Add(1)
	return f.rows[subjectID], nil
}

func row(issuer string, blockTime uint64, expiry uint64) *orm.Attestation {
	return &orm.Attestation{Issuer: issuer, BlockTime: blockTime, Expiry: expiry, TrustLevel: 2}
}

func newTestEngine(reader Reader, cfg Config) *Engine {
	return New(reader, cfg, WithClock(func() time.Time { return time.Unix(now, 0) }))
}

func TestComputeWith(t *testing.T) {
	testCases := []struct {
		name   string
		viewer []*orm.Attestation
		target []*orm.Attestation
		want   []string
		fresh  []uint64
	}{
		{
			name:   "no shared issuers",
			viewer: []*orm.Attestation{row("0xa", 100, 0)},
			target: []*orm.Attestation{row("0xb", 100, 0)},
			want:   []string{},
		},
		{
			name:   "shared issuers sorted by freshness",
			viewer: []*orm.Attestation{row("0xa", 100, 0), row("0xb", 100, 0), row("0xc", 100, 0)},
			target: []*orm.Attestation{row("0xa", 9_000, 0), row("0xb", 9_900, 0), row("0xd", 9_990, 0)},
			want:   []string{"0xb", "0xa"},
			fresh:  []uint64{100, 1_000},
		},
		{
			name:   "issuer comparison ignores case",
			viewer: []*orm.Attestation{row("0xAB", 100, 0)},
			target: []*orm.Attestation{row("0xab", 100, 0)},
			want:   []string{"0xab"},
			fresh:  []uint64{9_900},
		},
		{
			name:   "expired viewer row does not count",
			viewer: []*orm.Attestation{row("0xa", 100, now-1)},
			target: []*orm.Attestation{row("0xa", 100, 0)},
			want:   []string{},
		},
		{
			name:   "expired target row is dropped",
			viewer: []*orm.Attestation{row("0xa", 100, 0)},
			target: []*orm.Attestation{row("0xa", 100, now-1)},
			want:   []string{},
		},
		{
			name:   "expiry equal to now is still active",
			viewer: []*orm.Attestation{row("0xa", 100, now)},
			target: []*orm.Attestation{row("0xa", 100, now)},
			want:   []string{"0xa"},
			fresh:  []uint64{9_900},
		},
		{
			name:   "future block time has zero freshness",
			viewer: []*orm.Attestation{row("0xa", 100, 0), row("0xb", 100, 0)},
			target: []*orm.Attestation{row("0xb", now+50, 0), row("0xa", now+10, 0)},
			want:   []string{"0xa", "0xb"},
			fresh:  []uint64{0, 0},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reader := &fakeReader{rows: map[string][]*orm.Attestation{
				"viewer": tc.viewer,
				"target": tc.target,
			}}
			e := newTestEngine(reader, Config{})

			got, err := e.ComputeWith(context.Background(), reader, "viewer", "target")
			require.NoError(t, err)

			issuers := make([]string, 0, len(got))
			fresh := make([]uint64, 0, len(got))
			for _, r := range got {
				issuers = append(issuers, r.Issuer)
				fresh = append(fresh, r.FreshnessSeconds)
			}
			assert.Equal(t, tc.want, issuers)
			if tc.fresh != nil {
				assert.Equal(t, tc.fresh, fresh)
			}
		})
	}
}

func TestComputeCaches(t *testing.T) {
	reader := &fakeReader{rows: map[string][]*orm.Attestation{
		"viewer": {row("0xa", 100, 0)},
		"target": {row("0xa", 100, 0)},
	}}
	e := newTestEngine(reader, Config{})
	ctx := context.Background()

	first, err := e.Compute(ctx, "viewer", "target")
	require.NoError(t, err)
	assert.Equal(t, int64(2), reader.calls.Load())

	reader.rows["target"] = nil
	second, err := e.Compute(ctx, "viewer", "target")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(2), reader.calls.Load())

	// The explicit reader always sees the current rows.
	fresh, err := e.ComputeWith(ctx, reader, "viewer", "target")
	require.NoError(t, err)
	assert.Empty(t, fresh)

	// Swapping viewer and target is a different key.
	_, err = e.Compute(ctx, "target", "viewer")
	require.NoError(t, err)
	assert.Equal(t, int64(6), reader.calls.Load())
}

func TestComputeResultIsolatedFromCache(t *testing.T) {
	reader := &fakeReader{rows: map[string][]*orm.Attestation{
		"viewer": {row("0xa", 100, 0), row("0xb", 100, 0)},
		"target": {row("0xa", 9_000, 0), row("0xb", 9_900, 0)},
	}}
	e := newTestEngine(reader, Config{})
	ctx := context.Background()

	first, err := e.Compute(ctx, "viewer", "target")
	require.NoError(t, err)
	require.Len(t, first, 2)
	first[0].Issuer = "0xff"
	first[1], first[0] = first[0], first[1]

	second, err := e.Compute(ctx, "viewer", "target")
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, "0xb", second[0].Issuer)
	assert.Equal(t, "0xa", second[1].Issuer)

	second[0].TrustLevel = 9
	third, err := e.Compute(ctx, "viewer", "target")
	require.NoError(t, err)
	assert.Equal(t, uint8(2), third[0].TrustLevel)
	assert.Equal(t, int64(2), reader.calls.Load())
}

func TestComputeCacheBound(t *testing.T) {
	reader := &fakeReader{rows: map[string][]*orm.Attestation{}}
	e := newTestEngine(reader, Config{CacheSize: 2})
	ctx := context.Background()

	for _, target := range []string{"t1", "t2", "t3"} {
		_, err := e.Compute(ctx, "viewer", target)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, e.cache.ItemCount())

	// t3 was served but not cached.
	before := reader.calls.Load()
	_, err := e.Compute(ctx, "viewer", "t3")
	require.NoError(t, err)
	assert.Equal(t, before+2, reader.calls.Load())
}

func TestCircleHex(t *testing.T) {
	assert.Nil(t, CircleHex(nil))
	got := CircleHex([]byte{0xab, 0x01})
	require.NotNil(t, got)
	assert.Equal(t, "0xab01", *got)
}
