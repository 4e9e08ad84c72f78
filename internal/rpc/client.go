package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/olga/go-assistant/internal/session"
)

// #region types
// Reply is the decoded Converse response.
type Reply struct {
	TurnID   string          `json:"turn_id"`
	Outcome  string          `json:"outcome"`
	Text     string          `json:"reply"`
	Speech   string          `json:"speech"`
	Emotion  string          `json:"emotion"`
	Model    string          `json:"model"`
	Tier     string          `json:"tier"`
	ImageURL string          `json:"image_url"`
	Events   []session.Event `json:"events"`
}
// #endregion types

// #region client-struct
// Client calls a remote olga.v1.Assistant.
type Client struct {
	conn   *grpc.ClientConn
	invoke grpc.ClientConnInterface
}
// #endregion client-struct

// #region constructor
// NewClient connects to addr without transport security.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, invoke: conn}, nil
}

// NewClientWithConn wraps an existing connection. Close is then a no-op.
func NewClientWithConn(cc grpc.ClientConnInterface) *Client {
	return &Client{invoke: cc}
}
// #endregion constructor

// #region close
// Close shuts down the connection the client owns.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
// #endregion close

// #region converse
// Converse sends one utterance for sessionID.
func (c *Client) Converse(ctx context.Context, sessionID, text string) (Reply, error) {
	in, err := structpb.NewStruct(map[string]interface{}{"session": sessionID, "text": text})
	if err != nil {
		return Reply{}, err
	}
	out := new(structpb.Struct)
	if err := c.invoke.Invoke(ctx, converseMethod, in, out); err != nil {
		return Reply{}, fmt.Errorf("converse rpc: %w", err)
	}
	data, err := json.Marshal(out.AsMap())
	if err != nil {
		return Reply{}, err
	}
	var r Reply
	if err := json.Unmarshal(data, &r); err != nil {
		return Reply{}, fmt.Errorf("decode reply: %w", err)
	}
	return r, nil
}
// #endregion converse

// #region cancel
// Cancel stops the turn in flight for sessionID.
func (c *Client) Cancel(ctx context.Context, sessionID string) error {
	in, err := structpb.NewStruct(map[string]interface{}{"session": sessionID})
	if err != nil {
		return err
	}
	if err := c.invoke.Invoke(ctx, cancelMethod, in, new(structpb.Struct)); err != nil {
		return fmt.Errorf("cancel rpc: %w", err)
	}
	return nil
}
// #endregion cancel
