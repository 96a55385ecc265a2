package server

import (
	"errors"

	"github.com/fathom-terminal/fathom/internal/book"
	orderbookv1 "github.com/fathom-terminal/fathom/internal/gen/orderbook/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Handler implements the OrderbookAggregatorServer interface.
type Handler struct {
	orderbookv1.UnimplementedOrderbookAggregatorServer
	pub *book.Publisher
}

// NewHandler creates a Handler wired to the given Publisher.
func NewHandler(pub *book.Publisher) *Handler {
	return &Handler{pub: pub}
}

// BookSummary streams merged summaries to one client. Each stream gets its
// own change-gated subscription; a client that stops reading is torn down
// without affecting ingestion or other streams.
func (h *Handler) BookSummary(_ *orderbookv1.Empty, stream grpc.ServerStreamingServer[orderbookv1.Summary]) error {
	sub := h.pub.Subscribe(stream.Context())
	defer sub.Close()

	for summary := range sub.Updates() {
		if err := stream.Send(toProto(summary)); err != nil {
			return err
		}
	}

	if errors.Is(sub.Err(), book.ErrSlowSubscriber) {
		return status.Error(codes.ResourceExhausted, "client fell behind the summary stream")
	}
	return stream.Context().Err()
}

// toProto converts a merged summary into its wire representation.
func toProto(s book.Summary) *orderbookv1.Summary {
	out := &orderbookv1.Summary{
		Spread: s.Spread,
		Bids:   make([]*orderbookv1.Level, 0, len(s.Bids)),
		Asks:   make([]*orderbookv1.Level, 0, len(s.Asks)),
	}
	for _, l := range s.Bids {
		out.Bids = append(out.Bids, &orderbookv1.Level{
			Exchange: string(l.Exchange),
			Price:    l.Price,
			Amount:   l.Amount,
		})
	}
	for _, l := range s.Asks {
		out.Asks = append(out.Asks, &orderbookv1.Level{
			Exchange: string(l.Exchange),
			Price:    l.Price,
			Amount:   l.Amount,
		})
	}
	return out
}
