package coordination

import (
	"context"
	"fmt"
	"time"

	"github.com/sandialabs/firewheel/pkg/coordination/coordpb"
	"google.golang.org/grpc"
)

const serviceFQN = "/firewheel.Coordination/"

// Client is a thin wrapper around a grpc.ClientConn dialed against a
// Coordination Service, modeled on the teacher's pkg/client.Client
// connect-once/call-many pattern. Every call negotiates the JSON codec
// registered in codec.go rather than protobuf wire format.
type Client struct {
	conn *grpc.ClientConn
	db   string
}

// Dial connects to addr and returns a Client scoped to the named logical
// database ("test" or "prod").
func Dial(ctx context.Context, addr, db string, opts ...grpc.DialOption) (*Client, error) {
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodec{}.Name())))
	conn, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dialing coordination service at %s: %w", addr, err)
	}
	return &Client{conn: conn, db: db}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	return c.conn.Invoke(ctx, serviceFQN+method, req, resp)
}

// GetInfo returns server version, uptime, and experiment-running status.
func (c *Client) GetInfo(ctx context.Context) (version string, uptimeSeconds float64, experimentRunning bool, err error) {
	resp := new(coordpb.GetInfoResponse)
	if err := c.invoke(ctx, "GetInfo", &coordpb.GetInfoRequest{}, resp); err != nil {
		return "", 0, false, err
	}
	return resp.Version, resp.UptimeSeconds, resp.ExperimentRunning, nil
}

// SetVMMapping upserts a VM mapping record.
func (c *Client) SetVMMapping(ctx context.Context, m VMMapping) (VMMapping, error) {
	req := &coordpb.SetVMMappingRequest{Mapping: *toWireMapping(c.db, m)}
	resp := new(coordpb.VMMapping)
	if err := c.invoke(ctx, "SetVMMapping", req, resp); err != nil {
		return VMMapping{}, err
	}
	return fromWireMapping(resp), nil
}

// SetVMStateByUUID updates a single VM's state.
func (c *Client) SetVMStateByUUID(ctx context.Context, uuid, state string) (VMMapping, error) {
	req := &coordpb.SetVMStateByUUIDRequest{DB: c.db, ServerUUID: uuid, State: state}
	resp := new(coordpb.VMMapping)
	if err := c.invoke(ctx, "SetVMStateByUUID", req, resp); err != nil {
		return VMMapping{}, err
	}
	return fromWireMapping(resp), nil
}

// SetVMTimeByUUID updates a single VM's reported current time.
func (c *Client) SetVMTimeByUUID(ctx context.Context, uuid string, currentTime float64) (VMMapping, error) {
	req := &coordpb.SetVMTimeByUUIDRequest{DB: c.db, ServerUUID: uuid, CurrentTime: currentTime}
	resp := new(coordpb.VMMapping)
	if err := c.invoke(ctx, "SetVMTimeByUUID", req, resp); err != nil {
		return VMMapping{}, err
	}
	return fromWireMapping(resp), nil
}

// GetVMMappingByUUID fetches a single VM mapping record.
func (c *Client) GetVMMappingByUUID(ctx context.Context, uuid string) (VMMapping, error) {
	req := &coordpb.VMMappingUUIDRequest{DB: c.db, ServerUUID: uuid}
	resp := new(coordpb.VMMapping)
	if err := c.invoke(ctx, "GetVMMappingByUUID", req, resp); err != nil {
		return VMMapping{}, err
	}
	return fromWireMapping(resp), nil
}

// ListVMMappings streams every VM mapping record in the database.
func (c *Client) ListVMMappings(ctx context.Context) ([]VMMapping, error) {
	desc := &grpc.StreamDesc{StreamName: "ListVMMappings", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, serviceFQN+"ListVMMappings")
	if err != nil {
		return nil, fmt.Errorf("opening ListVMMappings stream: %w", err)
	}
	if err := stream.SendMsg(&coordpb.ListVMMappingsRequest{DB: c.db}); err != nil {
		return nil, fmt.Errorf("sending ListVMMappings request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("closing ListVMMappings send side: %w", err)
	}

	var out []VMMapping
	for {
		m := new(coordpb.VMMapping)
		if err := stream.RecvMsg(m); err != nil {
			if err.Error() == "EOF" {
				break
			}
			return out, err
		}
		out = append(out, fromWireMapping(m))
	}
	return out, nil
}

// CountVMMappingsNotReady returns the number of VMs not yet in a ready
// state.
func (c *Client) CountVMMappingsNotReady(ctx context.Context) (int, error) {
	req := &coordpb.CountVMMappingsNotReadyRequest{DB: c.db}
	resp := new(coordpb.CountVMMappingsNotReadyResponse)
	if err := c.invoke(ctx, "CountVMMappingsNotReady", req, resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// DestroyVMMappingByUUID removes a single VM mapping record.
func (c *Client) DestroyVMMappingByUUID(ctx context.Context, uuid string) error {
	req := &coordpb.VMMappingUUIDRequest{DB: c.db, ServerUUID: uuid}
	return c.invoke(ctx, "DestroyVMMappingByUUID", req, new(coordpb.DestroyVMMappingResponse))
}

// DestroyAllVMMappings clears every VM mapping record in the database.
func (c *Client) DestroyAllVMMappings(ctx context.Context) error {
	req := &coordpb.DestroyAllVMMappingsRequest{DB: c.db}
	return c.invoke(ctx, "DestroyAllVMMappings", req, new(coordpb.DestroyAllVMMappingsResponse))
}

// SetExperimentLaunchTime records when the experiment was launched.
func (c *Client) SetExperimentLaunchTime(ctx context.Context, seconds float64) (float64, error) {
	req := &coordpb.ExperimentLaunchTime{DB: c.db, LaunchSeconds: seconds}
	resp := new(coordpb.ExperimentLaunchTime)
	if err := c.invoke(ctx, "SetExperimentLaunchTime", req, resp); err != nil {
		return 0, err
	}
	return resp.LaunchSeconds, nil
}

// GetExperimentLaunchTime returns the recorded launch time.
func (c *Client) GetExperimentLaunchTime(ctx context.Context) (float64, error) {
	req := &coordpb.GetExperimentLaunchTimeRequest{DB: c.db}
	resp := new(coordpb.ExperimentLaunchTime)
	if err := c.invoke(ctx, "GetExperimentLaunchTime", req, resp); err != nil {
		return 0, err
	}
	return resp.LaunchSeconds, nil
}

// SetExperimentStartTime submits a candidate start time and returns the
// first one any caller submitted (first-wins), implementing
// pkg/updater.StartTimeSource.
func (c *Client) SetExperimentStartTime(ctx context.Context, unixSeconds int64) (int64, error) {
	req := &coordpb.ExperimentStartTime{DB: c.db, StartSeconds: unixSeconds}
	resp := new(coordpb.ExperimentStartTime)
	if err := c.invoke(ctx, "SetExperimentStartTime", req, resp); err != nil {
		return 0, err
	}
	return resp.StartSeconds, nil
}

// ExperimentStartTime returns the previously established start time,
// implementing pkg/updater.StartTimeSource.
func (c *Client) ExperimentStartTime(ctx context.Context) (int64, bool, error) {
	req := &coordpb.GetExperimentStartTimeRequest{DB: c.db}
	resp := new(coordpb.ExperimentStartTime)
	err := c.invoke(ctx, "GetExperimentStartTime", req, resp)
	if err != nil {
		return 0, false, nil
	}
	return resp.StartSeconds, true, nil
}

// ElapsedSinceStart implements pkg/updater.StartTimeSource: it fetches
// the start time with ExperimentStartTime and computes the elapsed
// seconds locally against the current wall clock.
func (c *Client) ElapsedSinceStart(ctx context.Context) (float64, bool, error) {
	start, ok, err := c.ExperimentStartTime(ctx)
	if err != nil || !ok {
		return 0, false, err
	}
	return float64(time.Now().Unix() - start), true, nil
}

// InitializeExperimentStartTime resets both the launch time and every
// candidate start time on the server.
func (c *Client) InitializeExperimentStartTime(ctx context.Context) error {
	req := &coordpb.InitializeExperimentStartTimeRequest{DB: c.db}
	return c.invoke(ctx, "InitializeExperimentStartTime", req, new(coordpb.InitializeExperimentStartTimeResponse))
}

func fromWireMapping(m *coordpb.VMMapping) VMMapping {
	return VMMapping{
		ServerUUID:  m.ServerUUID,
		ServerName:  m.ServerName,
		ControlIP:   m.ControlIP,
		State:       m.State,
		CurrentTime: m.CurrentTime,
	}
}
