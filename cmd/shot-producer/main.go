package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/shooting-range/internal/domain"
	"github.com/shooting-range/internal/kafka"
)

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "range-shots", "Kafka topic for shot events")
	sessionID := flag.String("session", "", "Session to record shots against (required)")
	playerID := flag.String("player", "", "Player owning the session (required)")
	shots := flag.Int("shots", 30, "Number of shots to send (0 = until stopped)")
	shotsPerSecond := flag.Int("rate", 5, "Shots per second")
	hitRate := flag.Float64("hit-rate", 0.7, "Probability that a shot is a hit")
	maxDistance := flag.Float64("max-distance", 25, "Maximum target distance")
	flag.Parse()

	if *sessionID == "" || *playerID == "" {
		fmt.Fprintln(os.Stderr, "both -session and -player are required")
		flag.Usage()
		os.Exit(2)
	}
	if *shotsPerSecond <= 0 {
		*shotsPerSecond = 1
	}

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  Range Shot Producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Session:          %s\n", *sessionID)
	fmt.Printf("  Player:           %s\n", *playerID)
	fmt.Printf("  Shots:            %d\n", *shots)
	fmt.Printf("  Shots/sec:        %d\n", *shotsPerSecond)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	// Shots of one session must stay in order on one partition
	config.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	// Handle producer errors and successes
	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	shutdown := func(reason string) {
		fmt.Printf("\n%s\n", reason)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(*shotsPerSecond))
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	sent := 0
	for {
		select {
		case <-sigChan:
			shutdown("Shutting down...")
			return

		case <-ticker.C:
			if *shots > 0 && sent >= *shots {
				shutdown("All shots sent, shutting down...")
				return
			}

			shot := kafka.ShotMessage{
				SessionID: *sessionID,
				PlayerID:  *playerID,
				Type:      domain.EventTypeShot,
				Ts:        time.Now().UTC(),
				Hit:       rand.Float64() < *hitRate,
				Distance:  rand.Float64() * *maxDistance,
			}
			data, err := json.Marshal(shot)
			if err != nil {
				log.Printf("Failed to marshal message: %v", err)
				continue
			}

			producer.Input() <- &sarama.ProducerMessage{
				Topic: *topic,
				Key:   sarama.StringEncoder(shot.SessionID),
				Value: sarama.ByteEncoder(data),
			}
			sent++

		case <-statsTicker.C:
			fmt.Printf("[%s] Shots: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				sent,
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
