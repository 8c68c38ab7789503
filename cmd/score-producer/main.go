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
	"github.com/clicker-leaderboard/internal/domain"
)

var playerPrefixes = []string{
	"phoenix", "shadow", "thunder", "storm", "blaze", "ninja", "dragon", "wolf", "hawk", "viper",
	"ghost", "titan", "frost", "cyber", "nova", "raven", "omega", "alpha", "delta", "sigma",
	"ace", "bolt", "crash", "dash", "edge", "flash", "glitch", "haze", "ion", "jade",
}

func playerName(idx int) string {
	prefix := playerPrefixes[idx%len(playerPrefixes)]
	return fmt.Sprintf("%s_%d", prefix, idx/len(playerPrefixes)+1)
}

// player is one simulated game save; every field only grows
type player struct {
	name        string
	bestScore   int64
	totalEarned int64
	prestiges   int64
	clicks      int64
	playTime    int64
}

// advance simulates a session of play and returns the resulting snapshot
func (p *player) advance(rng *rand.Rand) domain.ScoreSnapshot {
	clicks := int64(rng.Intn(200) + 1)
	earned := clicks * int64(rng.Intn(50)+1)

	p.clicks += clicks
	p.totalEarned += earned
	p.playTime += int64(rng.Intn(30) + 5)
	if earned > p.bestScore {
		p.bestScore = earned
	}
	if rng.Intn(100) == 0 {
		p.prestiges++
	}

	return domain.ScoreSnapshot{
		Username:    p.name,
		BestScore:   domain.Count(p.bestScore),
		TotalEarned: domain.Count(p.totalEarned),
		Prestiges:   domain.Count(p.prestiges),
		Clicks:      domain.Count(p.clicks),
		PlayTime:    domain.Count(p.playTime),
	}
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "score-snapshots", "Kafka topic")
	totalPlayers := flag.Int("players", 500, "Number of simulated players")
	updatesPerSecond := flag.Int("rate", 100, "Snapshots per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	if *totalPlayers <= 0 || *updatesPerSecond <= 0 {
		log.Fatal("players and rate must be positive")
	}

	fmt.Printf("Producing %d snapshots/sec for %d players to %s on %s\n",
		*updatesPerSecond, *totalPlayers, *topic, *brokers)

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(strings.Split(*brokers, ","), config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	shutdown := func(reason string) {
		fmt.Printf("\n%s, shutting down...\n", reason)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	players := make([]*player, *totalPlayers)
	for i := range players {
		players[i] = &player{name: playerName(i)}
	}

	ticker := time.NewTicker(time.Second / time.Duration(*updatesPerSecond))
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var deadline <-chan time.Time
	if *duration > 0 {
		deadline = time.After(*duration)
	}

	var updateCount int64
	for {
		select {
		case <-sigChan:
			shutdown("Interrupted")
			return

		case <-deadline:
			shutdown("Duration reached")
			return

		case <-ticker.C:
			// A small group of regulars plays far more than everyone else
			idx := rng.Intn(len(players))
			if rng.Intn(100) < 70 && len(players) > 20 {
				idx = rng.Intn(20)
			}
			snapshot := players[idx].advance(rng)

			data, err := json.Marshal(snapshot)
			if err != nil {
				log.Printf("Failed to marshal snapshot: %v", err)
				continue
			}
			producer.Input() <- &sarama.ProducerMessage{
				Topic: *topic,
				Key:   sarama.StringEncoder(snapshot.Username),
				Value: sarama.ByteEncoder(data),
			}
			updateCount++

		case <-statsTicker.C:
			fmt.Printf("[%s] Updates: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				updateCount,
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
