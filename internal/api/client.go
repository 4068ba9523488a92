package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/solar-placement/internal/layoutfile"
	"github.com/signalsfoundry/solar-placement/internal/placement"
)

// Client calls PlacementService and decodes its Struct payloads.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// GenerateLayout submits layout and optionally asks the server to audit the
// result for overlapping panels.
func (c *Client) GenerateLayout(ctx context.Context, layout placement.Layout, wantAudit bool, opts ...grpc.CallOption) (*LayoutResult, error) {
	req, err := toStruct(GenerateRequest{Layout: layoutfile.FromLayout(layout), Audit: wantAudit})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GenerateLayoutMethod, req, out, opts...); err != nil {
		return nil, err
	}
	var res LayoutResult
	if err := fromStruct(out, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetPublishedPoses fetches the pose set currently published by the server.
func (c *Client) GetPublishedPoses(ctx context.Context, opts ...grpc.CallOption) (*LayoutResult, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetPublishedPosesMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	var res LayoutResult
	if err := fromStruct(out, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
