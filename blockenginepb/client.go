package blockenginepb

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// Full gRPC method names on the block engine's auth and shredstream
// services. These mirror the real .proto's package/service/method
// layout; the wire codec below is a simplification pending the actual
// generated client (see jsonCodec).
const (
	methodGenerateAuthChallenge = "/auth.AuthService/GenerateAuthChallenge"
	methodGenerateAuthTokens    = "/auth.AuthService/GenerateAuthTokens"
	methodRefreshAccessToken    = "/auth.AuthService/RefreshAccessToken"
	methodHeartbeat             = "/shredstream.ShredstreamProxy/Heartbeat"
)

// Dial opens a gRPC connection to the block engine; wrap it with
// NewClient to get a client satisfying both AuthStubClient and
// ShredstreamStubClient.
// insecure.NewCredentials is a placeholder transport; production dial
// options (TLS, keepalive) are the embedding application's concern.
func Dial(endpoint string) (*grpc.ClientConn, error) {
	return grpc.Dial(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// NewClient adapts a dialed connection to the hand-written request/
// response types in this package. It speaks a JSON wire codec rather
// than the real protobuf encoding the block engine expects; swapping
// this for the generated client is a drop-in replacement once the
// .proto is compiled, since callers only depend on the AuthStubClient
// / ShredstreamStubClient interfaces, never on this type.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

type Client struct {
	conn *grpc.ClientConn
}

func (c *Client) GenerateAuthChallenge(ctx context.Context, req *GenerateAuthChallengeRequest) (*GenerateAuthChallengeResponse, error) {
	resp := &GenerateAuthChallengeResponse{}
	if err := c.conn.Invoke(ctx, methodGenerateAuthChallenge, req, resp, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) GenerateAuthTokens(ctx context.Context, req *GenerateAuthTokensRequest) (*GenerateAuthTokensResponse, error) {
	resp := &GenerateAuthTokensResponse{}
	if err := c.conn.Invoke(ctx, methodGenerateAuthTokens, req, resp, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) RefreshAccessToken(ctx context.Context, req *RefreshAccessTokenRequest) (*RefreshAccessTokenResponse, error) {
	resp := &RefreshAccessTokenResponse{}
	if err := c.conn.Invoke(ctx, methodRefreshAccessToken, req, resp, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Heartbeat(ctx context.Context) (HeartbeatStreamClient, error) {
	desc := &grpc.StreamDesc{StreamName: "Heartbeat", ServerStreams: true, ClientStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, methodHeartbeat, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return nil, err
	}
	return &heartbeatStream{stream: stream}, nil
}

type heartbeatStream struct {
	stream grpc.ClientStream
}

func (h *heartbeatStream) Send(req *HeartbeatRequest) error { return h.stream.SendMsg(req) }
func (h *heartbeatStream) Recv() (*HeartbeatResponse, error) {
	resp := &HeartbeatResponse{}
	if err := h.stream.RecvMsg(resp); err != nil {
		return nil, err
	}
	return resp, nil
}
func (h *heartbeatStream) CloseSend() error { return h.stream.CloseSend() }

const jsonCodecName = "json"

// jsonCodec implements grpc's encoding.Codec over the hand-written
// request/response structs in this package, so a real code generator
// is not a prerequisite for exercising the transport.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
