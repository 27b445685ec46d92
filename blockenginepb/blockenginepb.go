// Package blockenginepb holds the request/response types for the
// block engine's auth and shred-subscription RPCs.
//
// gRPC proto (compiled separately) – minimal stub interface here. The
// wire format is Jito's block-engine proto; this package models it by
// hand rather than checking in generated code, in the style of a
// thin, hand-written client stub over a service compiled elsewhere.
package blockenginepb

import "context"

// GenerateAuthChallengeRequest starts the two-step auth handshake by
// asking the server for a challenge string tied to a public key.
type GenerateAuthChallengeRequest struct {
	Pubkey []byte
}

type GenerateAuthChallengeResponse struct {
	Challenge string
}

// GenerateAuthTokensRequest exchanges a signed challenge for an access
// and refresh token pair.
type GenerateAuthTokensRequest struct {
	Pubkey          []byte
	SignedChallenge []byte
}

type GenerateAuthTokensResponse struct {
	AccessToken      string
	AccessExpiresAt  int64 // unix seconds
	RefreshToken     string
	RefreshExpiresAt int64 // unix seconds
}

// RefreshAccessTokenRequest trades a still-valid refresh token for a
// fresh access token without re-running the challenge step.
type RefreshAccessTokenRequest struct {
	RefreshToken string
}

type RefreshAccessTokenResponse struct {
	AccessToken     string
	AccessExpiresAt int64
}

// HeartbeatRequest advertises the shredstream proxy's receive address
// and desired regions so the block engine knows where to stream
// shreds for those regions. Regions is plural because an operator can
// request shreds for more than one region over a single stream.
type HeartbeatRequest struct {
	Regions        []string
	ForwardAddress string // host:port the proxy wants this shred stream forwarded to
}

// HeartbeatResponse carries the current set of downstream destination
// addresses this proxy should forward received shred datagrams to.
type HeartbeatResponse struct {
	Destinations []string // host:port list
}

// AuthStubClient is the minimal surface the auth handshake needs from
// the block engine's auth service. A concrete implementation dials the
// real gRPC service; tests supply a fake.
type AuthStubClient interface {
	GenerateAuthChallenge(ctx context.Context, req *GenerateAuthChallengeRequest) (*GenerateAuthChallengeResponse, error)
	GenerateAuthTokens(ctx context.Context, req *GenerateAuthTokensRequest) (*GenerateAuthTokensResponse, error)
	RefreshAccessToken(ctx context.Context, req *RefreshAccessTokenRequest) (*RefreshAccessTokenResponse, error)
}

// HeartbeatStreamClient is the minimal surface the heartbeat loop
// needs: a long-lived bidirectional stream sending HeartbeatRequest
// and receiving HeartbeatResponse.
type HeartbeatStreamClient interface {
	Send(*HeartbeatRequest) error
	Recv() (*HeartbeatResponse, error)
	CloseSend() error
}

// ShredstreamStubClient is the minimal surface the heartbeat loop uses
// to open a new heartbeat stream against the block engine.
type ShredstreamStubClient interface {
	Heartbeat(ctx context.Context) (HeartbeatStreamClient, error)
}
