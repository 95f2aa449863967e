package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorportal/report-gateway/internal/mcpclient"
	"github.com/vendorportal/report-gateway/internal/reports"
)

const reportCSV = `Title,Analytics View ID,Portal Criteria,Report Number
ZA Monthly Summary,1001,"""Monthly Summary"".""PAN"" =",1
Invoice Dashboard 2,1002,"""Invoice  Query Table"".""PAN Number"" =",2
Payment Advice,1003,"""Payments"".""Vendor PAN"" = '{pan}'",3
`

type invokeFunc func(tool string, args map[string]any) (json.RawMessage, error)

type fakeInvoker struct {
	mu    sync.Mutex
	calls []map[string]any
	fn    invokeFunc
}

func (f *fakeInvoker) Invoke(_ context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return json.RawMessage(`{}`), nil
	}
	return fn(tool, args)
}

func (f *fakeInvoker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// echoExport writes {"data":[{"view_id":..,"criteria":..}]} to the requested path.
func echoExport(_ string, args map[string]any) (json.RawMessage, error) {
	doc, _ := json.Marshal(map[string]any{"data": []map[string]any{{
		"view_id":  args["view_id"],
		"criteria": args["criteria"],
	}}})
	if err := os.WriteFile(args["response_file_path"].(string), doc, 0o644); err != nil {
		return nil, err
	}
	return json.RawMessage(`{"content":[{"type":"text","text":"{\"status\":\"success\"}"}]}`), nil
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func testRegistry(t *testing.T) *reports.Registry {
	t.Helper()
	reg, err := reports.Load(strings.NewReader(reportCSV))
	require.NoError(t, err)
	return reg
}

func newTestGateway(t *testing.T, inv Invoker) *Gateway {
	t.Helper()
	gw, err := New(testRegistry(t), inv, Config{
		WorkspaceID: "ws-42",
		ExportDir:   t.TempDir(),
	}, testLogger())
	require.NoError(t, err)
	return gw
}

func TestFetchUnknownSlugDoesNotInvoke(t *testing.T) {
	inv := &fakeInvoker{fn: echoExport}
	gw := newTestGateway(t, inv)

	_, err := gw.Fetch(context.Background(), "unknown_slug", "")
	require.ErrorIs(t, err, reports.ErrNotFound)
	assert.Zero(t, inv.count())
}

func TestFetchUsesDefaultPAN(t *testing.T) {
	inv := &fakeInvoker{fn: echoExport}
	gw := newTestGateway(t, inv)

	rows, err := gw.Fetch(context.Background(), "invoice_dashboard_2", "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, `"Invoice  Query Table"."PAN Number" = 'AAMCA0969R'`, rows[0]["criteria"])
}

func TestFetchRendersCriteriaAndArguments(t *testing.T) {
	inv := &fakeInvoker{fn: echoExport}
	gw := newTestGateway(t, inv)

	rows, err := gw.Fetch(context.Background(), "invoice_dashboard_2", "TEST_PAN")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, `"Invoice  Query Table"."PAN Number" = 'TEST_PAN'`, rows[0]["criteria"])
	assert.Equal(t, "1002", rows[0]["view_id"])

	require.Equal(t, 1, inv.count())
	args := inv.calls[0]
	assert.Equal(t, "ws-42", args["workspace_id"])
	assert.Equal(t, "json", args["response_file_format"])
	assert.Equal(t, gw.ExportPath("invoice_dashboard_2"), args["response_file_path"])
}

func TestFetchPlaceholderTemplatePassesThrough(t *testing.T) {
	gw := newTestGateway(t, &fakeInvoker{fn: echoExport})

	rows, err := gw.Fetch(context.Background(), "payment_advice", "ABCDE1234F")
	require.NoError(t, err)
	assert.Equal(t, `"Payments"."Vendor PAN" = 'ABCDE1234F'`, rows[0]["criteria"])
}

func TestFetchFileWinsOverRPCError(t *testing.T) {
	inv := &fakeInvoker{fn: func(tool string, args map[string]any) (json.RawMessage, error) {
		_, _ = echoExport(tool, args)
		return nil, &mcpclient.RemoteToolError{Code: -32000, Message: "export failed"}
	}}
	gw := newTestGateway(t, inv)

	rows, err := gw.Fetch(context.Background(), "za_monthly_summary", "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1001", rows[0]["view_id"])
}

func TestFetchMissingFileReturnsFetchError(t *testing.T) {
	inv := &fakeInvoker{fn: func(string, map[string]any) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}}
	gw := newTestGateway(t, inv)

	_, err := gw.Fetch(context.Background(), "za_monthly_summary", "")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "za_monthly_summary", fe.Slug)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFetchUnparsableFileReturnsFetchError(t *testing.T) {
	inv := &fakeInvoker{fn: func(_ string, args map[string]any) (json.RawMessage, error) {
		return nil, os.WriteFile(args["response_file_path"].(string), []byte("{not json"), 0o644)
	}}
	gw := newTestGateway(t, inv)

	_, err := gw.Fetch(context.Background(), "za_monthly_summary", "")
	var fe *FetchError
	assert.ErrorAs(t, err, &fe)
}

func TestFetchMissingFileSurfacesRPCError(t *testing.T) {
	inv := &fakeInvoker{fn: func(string, map[string]any) (json.RawMessage, error) {
		return nil, &mcpclient.TransportError{Kind: mcpclient.KindStreamClosed, Op: ExportTool}
	}}
	gw := newTestGateway(t, inv)

	_, err := gw.Fetch(context.Background(), "za_monthly_summary", "")
	assert.Equal(t, mcpclient.KindStreamClosed, mcpclient.KindOf(err))
}

func TestFetchRemovesStaleArtifact(t *testing.T) {
	inv := &fakeInvoker{fn: func(string, map[string]any) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}}
	gw := newTestGateway(t, inv)
	require.NoError(t, os.WriteFile(gw.ExportPath("za_monthly_summary"), []byte(`{"data":[{"pan":"OTHER"}]}`), 0o644))

	rows, err := gw.Fetch(context.Background(), "za_monthly_summary", "MINE")
	assert.Nil(t, rows)
	var fe *FetchError
	assert.ErrorAs(t, err, &fe)
}

func TestFetchRequiresWorkspace(t *testing.T) {
	inv := &fakeInvoker{fn: echoExport}
	gw, err := New(testRegistry(t), inv, Config{WorkspaceID: "your_workspace_id", ExportDir: t.TempDir()}, testLogger())
	require.NoError(t, err)

	_, err = gw.Fetch(context.Background(), "za_monthly_summary", "")
	require.ErrorIs(t, err, mcpclient.ErrNotConfigured)
	assert.Zero(t, inv.count())
}

func TestConcurrentFetchesOfDifferentSlugs(t *testing.T) {
	inv := &fakeInvoker{fn: func(tool string, args map[string]any) (json.RawMessage, error) {
		time.Sleep(30 * time.Millisecond)
		return echoExport(tool, args)
	}}
	gw := newTestGateway(t, inv)

	slugs := []string{"za_monthly_summary", "invoice_dashboard_2", "payment_advice"}
	want := map[string]string{"za_monthly_summary": "1001", "invoice_dashboard_2": "1002", "payment_advice": "1003"}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for _, slug := range slugs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rows, err := gw.Fetch(context.Background(), slug, "")
				if assert.NoError(t, err) && assert.Len(t, rows, 1) {
					assert.Equal(t, want[slug], rows[0]["view_id"], slug)
				}
			}()
		}
	}
	wg.Wait()
}

func TestFetchSerializesSameSlugAcrossPANs(t *testing.T) {
	var active, peak int32
	inv := &fakeInvoker{fn: func(tool string, args map[string]any) (json.RawMessage, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		defer atomic.AddInt32(&active, -1)
		return echoExport(tool, args)
	}}
	gw := newTestGateway(t, inv)

	pans := []string{"PAN1", "PAN2", "PAN3", "PAN4"}
	var wg sync.WaitGroup
	for _, pan := range pans {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rows, err := gw.Fetch(context.Background(), "invoice_dashboard_2", pan)
			if assert.NoError(t, err) && assert.Len(t, rows, 1) {
				assert.Contains(t, rows[0]["criteria"], "'"+pan+"'")
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&peak))
	assert.Equal(t, len(pans), inv.count())
}

func TestFetchCoalescesIdenticalRequests(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	inv := &fakeInvoker{fn: func(tool string, args map[string]any) (json.RawMessage, error) {
		entered <- struct{}{}
		<-release
		return echoExport(tool, args)
	}}
	gw := newTestGateway(t, inv)

	results := make(chan []Row, 2)
	fetch := func() {
		rows, err := gw.Fetch(context.Background(), "za_monthly_summary", "SAME")
		assert.NoError(t, err)
		results <- rows
	}
	go fetch()
	<-entered
	go fetch()
	time.Sleep(100 * time.Millisecond)
	close(release)

	first, second := <-results, <-results
	assert.Equal(t, first, second)
	assert.Equal(t, 1, inv.count())
}

func TestFetchCoalescedCallerOutlivesCanceledPeer(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	inv := &fakeInvoker{fn: func(tool string, args map[string]any) (json.RawMessage, error) {
		entered <- struct{}{}
		<-release
		return echoExport(tool, args)
	}}
	gw := newTestGateway(t, inv)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := gw.Fetch(ctxA, "za_monthly_summary", "SAME")
		errA <- err
	}()
	<-entered

	type result struct {
		rows []Row
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		rows, err := gw.Fetch(context.Background(), "za_monthly_summary", "SAME")
		resB <- result{rows: rows, err: err}
	}()
	time.Sleep(100 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.Equal(t, mcpclient.KindCanceled, mcpclient.KindOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("canceled caller did not return")
	}

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Len(t, b.rows, 1)
	assert.Equal(t, 1, inv.count())
}

func TestFetchSlugLockTimeoutIsTransportTimeout(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	inv := &fakeInvoker{fn: func(tool string, args map[string]any) (json.RawMessage, error) {
		entered <- struct{}{}
		<-release
		return echoExport(tool, args)
	}}
	gw, err := New(testRegistry(t), inv, Config{
		WorkspaceID:  "ws-42",
		ExportDir:    t.TempDir(),
		FetchTimeout: 200 * time.Millisecond,
	}, testLogger())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = gw.Fetch(context.Background(), "za_monthly_summary", "HOLDER")
	}()
	<-entered

	_, err = gw.Fetch(context.Background(), "za_monthly_summary", "WAITER")
	var te *mcpclient.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, mcpclient.KindTimeout, te.Kind)
	assert.Equal(t, ExportTool, te.Op)

	close(release)
	<-done
	assert.Equal(t, 1, inv.count())
}

func TestFetchMany(t *testing.T) {
	inv := &fakeInvoker{fn: echoExport}
	gw := newTestGateway(t, inv)

	got := gw.FetchMany(context.Background(), []string{"za_monthly_summary", "nope", "payment_advice", "za_monthly_summary"}, "XYZ")
	require.Len(t, got, 3)

	require.NoError(t, got["za_monthly_summary"].Err)
	assert.Len(t, got["za_monthly_summary"].Rows, 1)
	require.NoError(t, got["payment_advice"].Err)
	assert.ErrorIs(t, got["nope"].Err, reports.ErrNotFound)
	assert.Equal(t, 2, inv.count())
}

func TestQueryDecodesTable(t *testing.T) {
	var path string
	inv := &fakeInvoker{fn: func(tool string, args map[string]any) (json.RawMessage, error) {
		assert.Equal(t, QueryTool, tool)
		assert.Equal(t, "SELECT 1", args["sql_query"])
		path = args["response_file_path"].(string)
		return json.RawMessage(`{}`), os.WriteFile(path, []byte(`[["Invoice","Amount"],["INV-1",120.5],["INV-2"]]`), 0o644)
	}}
	gw := newTestGateway(t, inv)

	rows, err := gw.Query(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, []Row{
		{"Invoice": "INV-1", "Amount": 120.5},
		{"Invoice": "INV-2", "Amount": nil},
	}, rows)

	_, statErr := os.Stat(path)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "query artifacts are removed")
}

func TestQueryRejectsEmptySQL(t *testing.T) {
	inv := &fakeInvoker{}
	gw := newTestGateway(t, inv)

	_, err := gw.Query(context.Background(), "   ")
	assert.Error(t, err)
	assert.Zero(t, inv.count())
}

func TestDecodeRows(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    []Row
		wantErr bool
	}{
		{name: "data envelope", in: `{"data":[{"a":1}]}`, want: []Row{{"a": float64(1)}}},
		{name: "bare objects", in: ` [{"a":"x"},{"a":"y"}] `, want: []Row{{"a": "x"}, {"a": "y"}}},
		{name: "table", in: `[["h1","h2"],[1,2]]`, want: []Row{{"h1": float64(1), "h2": float64(2)}}},
		{name: "header only", in: `[["h1"]]`, want: []Row{}},
		{name: "empty data", in: `{"data":[]}`, want: []Row{}},
		{name: "missing data", in: `{"rows":[]}`, wantErr: true},
		{name: "bare object", in: `{"a":1}`, wantErr: true},
		{name: "bare scalar", in: `42`, wantErr: true},
		{name: "scalar rows", in: `[1,2]`, wantErr: true},
		{name: "null row", in: `[null]`, wantErr: true},
		{name: "empty", in: "  ", wantErr: true},
		{name: "text", in: "oops", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeRows([]byte(tc.in))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
