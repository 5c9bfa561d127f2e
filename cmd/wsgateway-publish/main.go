// Command wsgateway-publish publishes synthetic events to Redis for
// exercising a running wsgateway instance, in the EventPayload shape it
// expects on ChannelPrefix+aggregate_type.
//
// Run with: go run ./cmd/wsgateway-publish -n 100 -recipients 50
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/giaprika/redismpx/examples/wsgateway"
	"github.com/redis/go-redis/v9"
)

func main() {
	redisAddr := flag.String("redis", "localhost:6379", "Redis address")
	aggregateType := flag.String("aggregate", "message", "aggregate_type to publish events for")
	numMessages := flag.Int("n", 100, "Number of events to publish")
	interval := flag.Duration("interval", 100*time.Millisecond, "Interval between events")
	numRecipients := flag.Int("recipients", 100, "Number of receiver_ids per event")
	flag.Parse()

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: *redisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer client.Close()

	channel := wsgateway.ChannelPrefix + *aggregateType
	log.Printf("publishing %d events to %s at %s", *numMessages, channel, *redisAddr)

	recipients := make([]string, *numRecipients)
	for j := 0; j < *numRecipients; j++ {
		recipients[j] = fmt.Sprintf("receiver-%d", j+1)
	}

	for i := 0; i < *numMessages; i++ {
		inner := wsgateway.InnerMessagePayload{ReceiverIDs: recipients}
		innerJSON, err := json.Marshal(struct {
			wsgateway.InnerMessagePayload
			Content string `json:"content"`
			SentAt  int64  `json:"sent_at"`
		}{
			InnerMessagePayload: inner,
			Content:             fmt.Sprintf("test broadcast event %d", i),
			SentAt:              time.Now().UnixMilli(),
		})
		if err != nil {
			log.Printf("failed to marshal inner payload: %v", err)
			continue
		}

		event := wsgateway.EventPayload{
			EventID:       fmt.Sprintf("evt-%d", i),
			AggregateType: *aggregateType,
			AggregateID:   fmt.Sprintf("agg-%d", i),
			Payload:       innerJSON,
			CreatedAt:     time.Now().UnixMilli(),
		}

		data, err := json.Marshal(event)
		if err != nil {
			log.Printf("failed to marshal event: %v", err)
			continue
		}

		if err := client.Publish(ctx, channel, data).Err(); err != nil {
			log.Printf("failed to publish: %v", err)
		} else {
			log.Printf("published event %d to %d recipients", i+1, *numRecipients)
		}

		time.Sleep(*interval)
	}

	log.Println("done publishing events")
}
