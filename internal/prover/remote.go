package prover

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/bitsnark/charms/internal/charms"
)

// Codec carries gRPC messages as canonical CBOR. No protobuf code
// generation is involved.
type Codec struct{}

const codecName = "charms-cbor"

func (Codec) Marshal(v any) ([]byte, error) {
	data, err := charms.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor marshal: %w", err)
	}
	return data, nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	if err := charms.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cbor unmarshal: %w", err)
	}
	return nil
}

func (Codec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(Codec{})
}

// Wire messages.

type SetupRequest struct {
	Program []byte `cbor:"program"`
}

type SetupResponse struct {
	ProvingKey []byte     `cbor:"pk"`
	VK         charms.B32 `cbor:"vk"`
}

type ProveRequest struct {
	ProvingKey []byte `cbor:"pk"`
	Committed  []byte `cbor:"committed"`
}

type ProveResponse struct {
	Proof []byte `cbor:"proof"`
}

type VerifyRequest struct {
	VK        charms.B32 `cbor:"vk"`
	Committed []byte     `cbor:"committed"`
	Proof     []byte     `cbor:"proof"`
}

type VerifyResponse struct {
	Valid  bool   `cbor:"valid"`
	Reason string `cbor:"reason,omitempty"`
}

const serviceName = "charms.prover.v1.Prover"

// ProverServiceServer is the server side of the prover service.
type ProverServiceServer interface {
	Setup(context.Context, *SetupRequest) (*SetupResponse, error)
	Prove(context.Context, *ProveRequest) (*ProveResponse, error)
	Verify(context.Context, *VerifyRequest) (*VerifyResponse, error)
}

func handlerSetup(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(SetupRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(ProverServiceServer).Setup(ctx, req)
}

func handlerProve(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(ProveRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(ProverServiceServer).Prove(ctx, req)
}

func handlerVerify(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(VerifyRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(ProverServiceServer).Verify(ctx, req)
}

func fullMethod(method string) string {
	return fmt.Sprintf("/%s/%s", serviceName, method)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ProverServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Setup", Handler: handlerSetup},
		{MethodName: "Prove", Handler: handlerProve},
		{MethodName: "Verify", Handler: handlerVerify},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "charms/prover/v1/prover.cbor",
}

// ProofSystem is a backend that can also check its own proofs.
type ProofSystem interface {
	Backend
	ProofVerifier
}

var _ ProverServiceServer = (*Server)(nil)

// Server exposes a ProofSystem over gRPC.
type Server struct {
	system ProofSystem
}

func NewServer(system ProofSystem) *Server {
	return &Server{system: system}
}

// Register adds the prover service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// Serve runs a gRPC server on lis until it fails or is stopped.
func (s *Server) Serve(lis net.Listener, opts ...grpc.ServerOption) error {
	gs := grpc.NewServer(opts...)
	s.Register(gs)
	return gs.Serve(lis)
}

func (s *Server) Setup(ctx context.Context, req *SetupRequest) (*SetupResponse, error) {
	pk, vk, err := s.system.Setup(ctx, req.Program)
	if err != nil {
		return nil, err
	}
	return &SetupResponse{ProvingKey: pk, VK: vk}, nil
}

func (s *Server) Prove(ctx context.Context, req *ProveRequest) (*ProveResponse, error) {
	proof, err := s.system.Prove(ctx, req.ProvingKey, req.Committed)
	if err != nil {
		return nil, err
	}
	return &ProveResponse{Proof: proof}, nil
}

// Verify reports an invalid proof in the response, not as an RPC error.
func (s *Server) Verify(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error) {
	if err := s.system.VerifyProof(ctx, req.VK, req.Committed, req.Proof); err != nil {
		return &VerifyResponse{Reason: err.Error()}, nil
	}
	return &VerifyResponse{Valid: true}, nil
}

var _ ProofSystem = (*RemoteBackend)(nil)

// RemoteBackend is a ProofSystem served by a remote prover.
type RemoteBackend struct {
	cc *grpc.ClientConn
}

// Dial connects to a prover service. The connection is established lazily
// on the first call.
func Dial(addr string, opts ...grpc.DialOption) (*RemoteBackend, error) {
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})))
	cc, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("prover client: dial %s: %w", addr, err)
	}
	return &RemoteBackend{cc: cc}, nil
}

func (r *RemoteBackend) Close() error {
	return r.cc.Close()
}

func (r *RemoteBackend) Setup(ctx context.Context, program []byte) (ProvingKey, charms.B32, error) {
	resp := new(SetupResponse)
	if err := r.cc.Invoke(ctx, fullMethod("Setup"), &SetupRequest{Program: program}, resp); err != nil {
		return nil, charms.B32{}, fmt.Errorf("remote setup: %w", err)
	}
	return resp.ProvingKey, resp.VK, nil
}

func (r *RemoteBackend) Prove(ctx context.Context, pk ProvingKey, committed []byte) ([]byte, error) {
	resp := new(ProveResponse)
	if err := r.cc.Invoke(ctx, fullMethod("Prove"), &ProveRequest{ProvingKey: pk, Committed: committed}, resp); err != nil {
		return nil, fmt.Errorf("remote prove: %w", err)
	}
	return resp.Proof, nil
}

func (r *RemoteBackend) VerifyProof(ctx context.Context, vk charms.B32, committed, proof []byte) error {
	resp := new(VerifyResponse)
	req := &VerifyRequest{VK: vk, Committed: committed, Proof: proof}
	if err := r.cc.Invoke(ctx, fullMethod("Verify"), req, resp); err != nil {
		return fmt.Errorf("remote verify: %w", err)
	}
	if !resp.Valid {
		return fmt.Errorf("%w: %s", ErrInvalidProof, resp.Reason)
	}
	return nil
}
