package grpcapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the CrateControl service.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// TokenCredentials attaches a bearer token to every call.
type TokenCredentials string

func (t TokenCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + string(t)}, nil
}

// RequireTransportSecurity is false; the service runs on the trusted
// controls network.
func (TokenCredentials) RequireTransportSecurity() bool {
	return false
}

func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	in, err := structpb.NewStruct(map[string]interface{}{
		"username": username,
		"password": password,
	})
	if err != nil {
		return "", err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodLogin, in, out); err != nil {
		return "", err
	}
	return out.GetFields()["access_token"].GetStringValue(), nil
}

func (c *Client) Command(ctx context.Context, command string) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]interface{}{"command": command})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodCommand, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodStatus, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Fields(ctx context.Context, slot int) (*structpb.Struct, error) {
	return c.slotCall(ctx, MethodFields, slot)
}

// DumpFIFO returns the raw FIFO words of slot.
func (c *Client) DumpFIFO(ctx context.Context, slot int) ([]uint32, error) {
	out, err := c.slotCall(ctx, MethodDumpFIFO, slot)
	if err != nil {
		return nil, err
	}
	values := out.GetFields()["words"].GetListValue().GetValues()
	words := make([]uint32, len(values))
	for i, v := range values {
		words[i] = uint32(v.GetNumberValue())
	}
	return words, nil
}

func (c *Client) slotCall(ctx context.Context, method string, slot int) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]interface{}{"slot": slot})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// StatusStream receives status updates from WatchStatus.
type StatusStream struct {
	stream grpc.ClientStream
}

func (s *StatusStream) Recv() (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := s.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchStatus opens a status stream; it ends when ctx is cancelled.
func (c *Client) WatchStatus(ctx context.Context) (*StatusStream, error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], MethodWatchStatus)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, fmt.Errorf("send watch request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("close watch request: %w", err)
	}
	return &StatusStream{stream: stream}, nil
}
