package responder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rbright/healthmate/internal/healthctx"
	"github.com/rbright/healthmate/internal/locale"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	assistantService = "healthmate.v1.Assistant"
	queryMethod      = "/" + assistantService + "/Query"
)

// GRPCConfig controls the gRPC responder connection.
type GRPCConfig struct {
	Endpoint    string
	DialTimeout time.Duration
	DialOptions []grpc.DialOption
}

// GRPC queries a remote Assistant service with google.protobuf.Struct payloads.
type GRPC struct {
	conn        *grpc.ClientConn
	dialTimeout time.Duration

	closeOnce sync.Once
}

// NewGRPC creates a lazily connecting client for cfg.Endpoint.
func NewGRPC(cfg GRPCConfig) (*GRPC, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("grpc responder endpoint is empty")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}

	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial responder grpc %q: %w", endpoint, err)
	}
	return &GRPC{conn: conn, dialTimeout: cfg.DialTimeout}, nil
}

// Respond sends one Query RPC.
func (g *GRPC) Respond(ctx context.Context, req Request) (Answer, error) {
	readyCtx, cancel := context.WithTimeout(ctx, g.dialTimeout)
	defer cancel()
	g.conn.Connect()
	if err := waitForReady(readyCtx, g.conn); err != nil {
		return Answer{}, fmt.Errorf("%w: wait for responder grpc readiness: %v", ErrTransport, err)
	}

	in, err := structpb.NewStruct(requestMap(req))
	if err != nil {
		return Answer{}, fmt.Errorf("encode grpc request: %w", err)
	}

	out := new(structpb.Struct)
	if err := g.conn.Invoke(ctx, queryMethod, in, out); err != nil {
		return Answer{}, classifyGRPCError(err)
	}
	return answerFromStruct(out)
}

// Close releases the underlying connection.
func (g *GRPC) Close() error {
	var err error
	g.closeOnce.Do(func() { err = g.conn.Close() })
	return err
}

func classifyGRPCError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return fmt.Errorf("%w: %s", ErrTransport, st.Message())
	default:
		return &StatusError{Code: int(st.Code()), Message: st.Message()}
	}
}

// waitForReady blocks until gRPC connection enters Ready or fails.
func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("grpc connection entered shutdown state")
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("grpc readiness wait timed out in state %s", state.String())
		}
	}
}

func requestMap(req Request) map[string]any {
	return map[string]any{
		"request_id": req.ID,
		"query":      req.Utterance,
		"language":   string(req.Language),
		"context":    req.Context.Map(),
	}
}

func answerFromStruct(out *structpb.Struct) (Answer, error) {
	raw, err := json.Marshal(out.AsMap())
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var answer Answer
	if err := json.Unmarshal(raw, &answer); err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return answer, nil
}

// AssistantServer is the server side of the Assistant service.
type AssistantServer interface {
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterAssistantServer registers srv on s.
func RegisterAssistantServer(s grpc.ServiceRegistrar, srv AssistantServer) {
	s.RegisterService(&assistantServiceDesc, srv)
}

var assistantServiceDesc = grpc.ServiceDesc{
	ServiceName: assistantService,
	HandlerType: (*AssistantServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Query", Handler: queryHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "healthmate/v1/assistant.proto",
}

func queryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AssistantServer).Query(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: queryMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AssistantServer).Query(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ResponderServer exposes any Responder as an Assistant service.
type ResponderServer struct {
	Responder Responder
}

// Query decodes the request struct, runs the responder, and encodes its answer.
func (s ResponderServer) Query(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := requestFromStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	answer, err := s.Responder.Respond(ctx, req)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	raw, err := json.Marshal(answer)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return structpb.NewStruct(m)
}

func requestFromStruct(in *structpb.Struct) (Request, error) {
	fields := in.GetFields()
	query := strings.TrimSpace(fields["query"].GetStringValue())
	if query == "" {
		return Request{}, errors.New("query is required")
	}

	lang := locale.Default
	if raw := fields["language"].GetStringValue(); raw != "" {
		parsed, err := locale.Parse(raw)
		if err != nil {
			return Request{}, err
		}
		lang = parsed
	}

	req := Request{
		ID:        fields["request_id"].GetStringValue(),
		Utterance: query,
		Language:  lang,
	}
	if ctxValue := fields["context"].GetStructValue(); ctxValue != nil {
		raw, err := json.Marshal(ctxValue.AsMap())
		if err != nil {
			return Request{}, err
		}
		var hc healthctx.Context
		if err := json.Unmarshal(raw, &hc); err != nil {
			return Request{}, err
		}
		req.Context = hc
	}
	return req, nil
}
