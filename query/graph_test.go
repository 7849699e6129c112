package query

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cealn-go/cealn/filehash"
	"github.com/cealn-go/cealn/sourcemonitor"
)

type intProduct int

func (p intProduct) Hash() filehash.Hash {
	return filehash.Sum(filehash.KindFile, []byte(fmt.Sprintf("%d", p)))
}

func newTestGraph(t *testing.T) (*Graph, *sourcemonitor.Monitor) {
	t.Helper()
	dir := t.TempDir()
	mon, err := sourcemonitor.New(dir, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = mon.Run(canceledContext()) })
	return NewGraph(mon, nil), mon
}

func canceledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func TestRequest_CachesWithoutRevalidation(t *testing.T) {
	g, _ := newTestGraph(t)
	var runs int32
	g.Register(KindPackageLoad, func(ctx context.Context, rc *RunContext, q Query) (Product, error) {
		atomic.AddInt32(&runs, 1)
		return intProduct(42), nil
	})

	q := Query{Kind: KindPackageLoad}
	t0 := time.Now()

	res1, release1 := g.Request(context.Background(), q, t0)
	release1()
	require.NoError(t, res1.Err)

	res2, release2 := g.Request(context.Background(), q, t0)
	release2()
	require.NoError(t, res2.Err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
	assert.Equal(t, res1.OutputHash, res2.OutputHash)
}

func TestRequest_EarlyCutoffByOutputEquivalence(t *testing.T) {
	g, mon := newTestGraph(t)

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "p.src")
	require.NoError(t, os.WriteFile(srcPath, []byte("v1"), 0o644))

	var pRuns, qRuns int32
	g.Register(KindPackageLoad, func(ctx context.Context, rc *RunContext, q Query) (Product, error) {
		atomic.AddInt32(&pRuns, 1)
		if _, err := rc.ReferenceSourceFile(srcPath); err != nil {
			return nil, err
		}
		// P's product is constant regardless of the source file's exact
		// bytes: it always hashes to the same value.
		return intProduct(7), nil
	})
	g.Register(KindRuleAnalysis, func(ctx context.Context, rc *RunContext, q Query) (Product, error) {
		atomic.AddInt32(&qRuns, 1)
		pRes, err := rc.Query(ctx, Query{Kind: KindPackageLoad})
		if err != nil {
			return nil, err
		}
		return pRes.Product.(intProduct), nil
	})

	pQuery := Query{Kind: KindPackageLoad}
	qQuery := Query{Kind: KindRuleAnalysis}

	t0 := time.Now()
	_, release := g.Request(context.Background(), qQuery, t0)
	release()
	assert.Equal(t, int32(1), atomic.LoadInt32(&pRuns))
	assert.Equal(t, int32(1), atomic.LoadInt32(&qRuns))

	// Invalidate P's source: content changes but the handler still
	// produces a product with the same hash.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(srcPath, []byte("v2-different-length"), 0o644))

	t1 := time.Now()
	_, release = g.Request(context.Background(), pQuery, t1)
	release()
	assert.Equal(t, int32(2), atomic.LoadInt32(&pRuns), "P re-runs because its source changed")

	_, release = g.Request(context.Background(), qQuery, t1)
	release()
	assert.Equal(t, int32(1), atomic.LoadInt32(&qRuns), "Q must not re-run: P's output hash is unchanged")

	_ = mon
}

func TestRequest_ErrorsAreNeverServedFromCache(t *testing.T) {
	g, _ := newTestGraph(t)
	var runs int32
	g.Register(KindPackageLoad, func(ctx context.Context, rc *RunContext, q Query) (Product, error) {
		n := atomic.AddInt32(&runs, 1)
		if n == 1 {
			return nil, fmt.Errorf("boom")
		}
		return intProduct(1), nil
	})

	q := Query{Kind: KindPackageLoad}
	t0 := time.Now()

	res1, release1 := g.Request(context.Background(), q, t0)
	release1()
	require.Error(t, res1.Err)

	res2, release2 := g.Request(context.Background(), q, t0)
	release2()
	require.NoError(t, res2.Err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))
}

func TestQuery_KeyDistinguishesKinds(t *testing.T) {
	a := Query{Kind: KindAction, ActionKey: "abc"}
	b := Query{Kind: KindAction, ActionKey: "def"}
	assert.NotEqual(t, a.key(), b.key())
}
