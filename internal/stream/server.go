package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/exit.guide/internal/status"
)

var _ GuidanceStatusServer = (*Server)(nil)

// Server implements GuidanceStatus over a status.Publisher.
type Server struct {
	pub    *status.Publisher
	buffer int
}

// NewServer streams from pub. buffer is the per-stream backlog before
// snapshots are dropped.
func NewServer(pub *status.Publisher, buffer int) *Server {
	if buffer <= 0 {
		buffer = 8
	}
	return &Server{pub: pub, buffer: buffer}
}

// snapshotDoc is the document carried in each Struct: the /status fields
// plus per-point detail and the run id.
type snapshotDoc struct {
	status.Summary
	RunID  string               `json:"run_id"`
	Points []status.PointStatus `json:"points"`
}

// ToStruct converts a snapshot into the wire document.
func ToStruct(s *status.Snapshot) (*structpb.Struct, error) {
	doc := snapshotDoc{Summary: s.Summarize()}
	if s != nil {
		doc.RunID = s.RunID
		doc.Points = s.Points
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func (s *Server) Latest(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snap := s.pub.Latest()
	if snap == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "no guidance cycle has completed yet")
	}
	out, err := ToStruct(snap)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode snapshot: %v", err)
	}
	return out, nil
}

// Watch sends the latest snapshot, if any, then every snapshot published
// until the client goes away or the publisher closes.
func (s *Server) Watch(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	updates, cancel := s.pub.Subscribe(s.buffer)
	defer cancel()
	log.Printf("[gRPC] Watch client connected")

	send := func(snap *status.Snapshot) error {
		msg, err := ToStruct(snap)
		if err != nil {
			return grpcstatus.Errorf(codes.Internal, "encode snapshot: %v", err)
		}
		return stream.Send(msg)
	}
	if snap := s.pub.Latest(); snap != nil {
		if err := send(snap); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			log.Printf("[gRPC] Watch cancelled")
			return ctx.Err()
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if err := send(snap); err != nil {
				log.Printf("[gRPC] Send error: %v", err)
				return err
			}
		}
	}
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener serves on lis until ctx is cancelled. Open Watch streams
// get two seconds to drain before the server is stopped hard.
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	gs := grpc.NewServer()
	RegisterGuidanceStatusServer(gs, s)

	errc := make(chan error, 1)
	go func() {
		log.Printf("gRPC status service listening on %s", lis.Addr())
		errc <- gs.Serve(lis)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	stopped := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		gs.Stop()
	}
	return nil
}
