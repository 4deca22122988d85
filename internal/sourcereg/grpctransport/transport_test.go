package grpctransport

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/queryorch/orchestrator/internal/model"
	"github.com/queryorch/orchestrator/internal/orcherrors"
)

// fakeServer is a minimal, in-memory Server used to exercise the
// hand-written ServiceDesc end to end without a real sourcereg.Registry.
type fakeServer struct {
	sources map[string]model.Source
}

func (f *fakeServer) List() []model.Source {
	out := make([]model.Source, 0, len(f.sources))
	for _, s := range f.sources {
		out = append(out, s)
	}
	return out
}

func (f *fakeServer) Get(id string) (model.Source, error) {
	s, ok := f.sources[id]
	if !ok {
		return model.Source{}, orcherrors.Newf(orcherrors.NotFound, "no source %q", id)
	}
	return s, nil
}

func (f *fakeServer) ByKind(kind model.SourceKind) []model.Source {
	var out []model.Source
	for _, s := range f.sources {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeServer) SourcesFor(allow map[string]bool) []model.Source {
	if allow == nil {
		return f.List()
	}
	var out []model.Source
	for id, s := range f.sources {
		if allow[id] {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeServer) Replace(ctx context.Context, sources []model.Source) error {
	m := make(map[string]model.Source, len(sources))
	for _, s := range sources {
		m[s.ID] = s
	}
	f.sources = m
	return nil
}

func dialTestServer(t *testing.T, impl Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	Register(srv, impl)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGRPCListAndGetRoundTrip(t *testing.T) {
	impl := &fakeServer{sources: map[string]model.Source{
		"db1": {ID: "db1", Kind: model.SourceKindRelational, URI: "postgres://x"},
	}}
	conn := dialTestServer(t, impl)
	client := NewClient(conn)

	ctx := context.Background()
	sources, err := client.List(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "db1", sources[0].ID)

	got, err := client.Get("db1")
	require.NoError(t, err)
	assert.Equal(t, model.SourceKindRelational, got.Kind)
}

func TestGRPCGetUnknownSourceReturnsNotFoundStatus(t *testing.T) {
	impl := &fakeServer{sources: map[string]model.Source{}}
	conn := dialTestServer(t, impl)
	client := NewClient(conn)

	_, err := client.Get("ghost")
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.NotFound, st.Code())
}

func TestGRPCByKindFiltersToRequestedKind(t *testing.T) {
	impl := &fakeServer{sources: map[string]model.Source{
		"db1": {ID: "db1", Kind: model.SourceKindRelational},
		"doc1": {ID: "doc1", Kind: model.SourceKindDocument},
	}}
	conn := dialTestServer(t, impl)
	client := NewClient(conn)

	sources, err := client.ByKind(context.Background(), model.SourceKindDocument)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "doc1", sources[0].ID)
}

func TestGRPCReplaceThenListReflectsNewSet(t *testing.T) {
	impl := &fakeServer{sources: map[string]model.Source{"old": {ID: "old", Kind: model.SourceKindRelational}}}
	conn := dialTestServer(t, impl)
	client := NewClient(conn)

	err := client.Replace(context.Background(), []model.Source{{ID: "new", Kind: model.SourceKindVector}})
	require.NoError(t, err)

	sources, err := client.List(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "new", sources[0].ID)
}

func TestGRPCSourcesForAppliesAllowlist(t *testing.T) {
	impl := &fakeServer{sources: map[string]model.Source{
		"db1": {ID: "db1", Kind: model.SourceKindRelational},
		"db2": {ID: "db2", Kind: model.SourceKindRelational},
	}}
	conn := dialTestServer(t, impl)
	client := NewClient(conn)

	sources := client.SourcesFor(map[string]bool{"db1": true})
	require.Len(t, sources, 1)
	assert.Equal(t, "db1", sources[0].ID)
}
