// Package grpctransport exposes a sourcereg.Registry over gRPC for
// deployments that run the registry as a standalone process
// (cmd/orchestrator-registry) separate from the orchestrators that query
// it, grounded on registry.Registry's Run method and grpcserver transport
// in the teacher's toolset registry.
//
// The teacher's transport is generated by goa from registry/design's DSL
// (registry/gen/grpc/registry). That generated package is not part of
// this module, and goa generation requires running the goa toolchain,
// which this project does not do. Rather than fabricate a generated
// package by hand, this transport is written directly against
// google.golang.org/grpc's public API: a grpc.ServiceDesc can be built
// without protoc-gen-go-grpc, and google.golang.org/protobuf's
// structpb.Struct is a genuine proto.Message that needs no .proto file,
// so the wire format stays real protobuf end to end.
package grpctransport

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/queryorch/orchestrator/internal/model"
	"github.com/queryorch/orchestrator/internal/orcherrors"
)

// Server adapts a *sourcereg.Registry (or anything with the same surface)
// to the grpc.ServiceDesc below.
type Server interface {
	List() []model.Source
	Get(id string) (model.Source, error)
	ByKind(kind model.SourceKind) []model.Source
	SourcesFor(allow map[string]bool) []model.Source
	Replace(ctx context.Context, sources []model.Source) error
}

// ServiceDesc is the hand-written equivalent of a protoc-gen-go-grpc
// _ServiceDesc: one entry per RPC, each wired to a handler below.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "orchestrator.sourcereg.SourceRegistry",
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "List", Handler: listHandler},
		{MethodName: "Get", Handler: getHandler},
		{MethodName: "ByKind", Handler: byKindHandler},
		{MethodName: "SourcesFor", Handler: sourcesForHandler},
		{MethodName: "Replace", Handler: replaceHandler},
	},
	Metadata: "sourcereg.proto",
}

// Register installs the source registry service on a grpc.Server.
func Register(s *grpc.Server, impl Server) {
	s.RegisterService(&ServiceDesc, impl)
}

func decodeRequest(dec func(any) error) (*structpb.Struct, error) {
	req := new(structpb.Struct)
	if err := dec(req); err != nil {
		return nil, err
	}
	return req, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m := make(map[string]any)
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(s *structpb.Struct, out any) error {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func grpcErr(err error) error {
	if err == nil {
		return nil
	}
	if kind, ok := orcherrors.KindOf(err); ok && kind == orcherrors.NotFound {
		return status.Error(codes.NotFound, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func listHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	if _, err := decodeRequest(dec); err != nil {
		return nil, err
	}
	sources := srv.(Server).List()
	return toStruct(map[string]any{"sources": sources})
}

func getHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req, err := decodeRequest(dec)
	if err != nil {
		return nil, err
	}
	idVal := req.Fields["id"].GetStringValue()
	source, err := srv.(Server).Get(idVal)
	if err != nil {
		return nil, grpcErr(err)
	}
	return toStruct(source)
}

func byKindHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req, err := decodeRequest(dec)
	if err != nil {
		return nil, err
	}
	kind := model.SourceKind(req.Fields["kind"].GetStringValue())
	sources := srv.(Server).ByKind(kind)
	return toStruct(map[string]any{"sources": sources})
}

func sourcesForHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req, err := decodeRequest(dec)
	if err != nil {
		return nil, err
	}
	var allowList []string
	if v, ok := req.Fields["allow"]; ok {
		for _, lv := range v.GetListValue().GetValues() {
			allowList = append(allowList, lv.GetStringValue())
		}
	}
	var allow map[string]bool
	if allowList != nil {
		allow = make(map[string]bool, len(allowList))
		for _, id := range allowList {
			allow[id] = true
		}
	}
	sources := srv.(Server).SourcesFor(allow)
	return toStruct(map[string]any{"sources": sources})
}

func replaceHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req, err := decodeRequest(dec)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Sources []model.Source `json:"sources"`
	}
	if err := fromStruct(req, &payload); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := srv.(Server).Replace(ctx, payload.Sources); err != nil {
		return nil, grpcErr(err)
	}
	return toStruct(map[string]any{"ok": true})
}

// Client calls a remote source registry over a grpc.ClientConnInterface,
// satisfying the same read surface sourcereg.Registry exposes locally so
// planner.SourceResolver and classifier.SourceLister can be backed by
// either a local Registry or a Client transparently.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an established grpc connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) call(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	fullMethod := fmt.Sprintf("/%s/%s", ServiceDesc.ServiceName, method)
	if err := c.conn.Invoke(ctx, fullMethod, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// List returns every source known to the remote registry.
func (c *Client) List(ctx context.Context) ([]model.Source, error) {
	out, err := c.call(ctx, "List", nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Sources []model.Source `json:"sources"`
	}
	if err := fromStruct(out, &payload); err != nil {
		return nil, err
	}
	return payload.Sources, nil
}

// Get returns one source by id.
func (c *Client) Get(id string) (model.Source, error) {
	out, err := c.call(context.Background(), "Get", map[string]any{"id": id})
	if err != nil {
		return model.Source{}, err
	}
	var source model.Source
	if err := fromStruct(out, &source); err != nil {
		return model.Source{}, err
	}
	return source, nil
}

// ByKind returns every source of the given kind.
func (c *Client) ByKind(ctx context.Context, kind model.SourceKind) ([]model.Source, error) {
	out, err := c.call(ctx, "ByKind", map[string]any{"kind": string(kind)})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Sources []model.Source `json:"sources"`
	}
	if err := fromStruct(out, &payload); err != nil {
		return nil, err
	}
	return payload.Sources, nil
}

// SourcesFor returns sources filtered by an allowlist, matching
// sourcereg.Registry.SourcesFor's nil-means-unrestricted semantics.
func (c *Client) SourcesFor(allow map[string]bool) []model.Source {
	req := map[string]any{}
	if allow != nil {
		ids := make([]any, 0, len(allow))
		for id := range allow {
			ids = append(ids, id)
		}
		req["allow"] = ids
	}
	out, err := c.call(context.Background(), "SourcesFor", req)
	if err != nil {
		return nil
	}
	var payload struct {
		Sources []model.Source `json:"sources"`
	}
	if err := fromStruct(out, &payload); err != nil {
		return nil
	}
	return payload.Sources
}

// Replace pushes a new source set to the remote registry.
func (c *Client) Replace(ctx context.Context, sources []model.Source) error {
	_, err := c.call(ctx, "Replace", map[string]any{"sources": sources})
	return err
}
