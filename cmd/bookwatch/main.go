// Command bookwatch tails a fathom server's summary stream and prints each
// merged view as it arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	orderbookv1 "github.com/fathom-terminal/fathom/internal/gen/orderbook/v1"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6669", "fathom server address")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer conn.Close()

	client := orderbookv1.NewOrderbookAggregatorClient(conn)
	stream, err := client.BookSummary(ctx, &orderbookv1.Empty{})
	if err != nil {
		log.Fatalf("open stream: %v", err)
	}

	for {
		summary, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Fatalf("stream: %v", err)
		}
		printSummary(summary)
	}
}

func printSummary(s *orderbookv1.Summary) {
	fmt.Printf("spread: %v\n", s.GetSpread())
	fmt.Println("asks:")
	for _, l := range s.GetAsks() {
		fmt.Printf("  %-10s price=%v amount=%v\n", l.GetExchange(), l.GetPrice(), l.GetAmount())
	}
	fmt.Println("bids:")
	for _, l := range s.GetBids() {
		fmt.Printf("  %-10s price=%v amount=%v\n", l.GetExchange(), l.GetPrice(), l.GetAmount())
	}
	fmt.Println()
}
