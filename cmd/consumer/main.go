package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/bulk-logistics/internal/models"
	"github.com/example/bulk-logistics/internal/notify"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_shipment_events_total",
		Help: "Total shipment events consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_events_invalid_total",
		Help: "Total undecodable events received",
	})
	msgsDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_events_duplicate_total",
		Help: "Total events skipped as already processed",
	})
	forwardErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_forward_errors_total",
		Help: "Total notification forwards that failed after retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, msgsDuplicate, forwardErrors)
}

func main() {
	_ = godotenv.Load()

	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokers := splitList(os.Getenv("KAFKA_BROKERS"))
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	topic := getenv("KAFKA_TOPIC", "shipment-events")
	group := getenv("KAFKA_GROUP", "bulk-logistics-notifier")
	notificationURL := os.Getenv("NOTIFICATION_URL")

	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	rc := redis.NewClient(&redis.Options{Addr: redisAddr})
	dedupe := &redisDeduper{c: rc}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	notifier := notify.NewHTTPNotifier(notificationURL)
	log.Printf("consumer listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down consumer")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var ev models.ShipmentEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			msgsInvalid.Inc()
			log.Printf("invalid event: %v", err)
			continue
		}

		fresh, err := dedupe.FirstSeen(ctx, ev.EventID)
		if err != nil {
			log.Printf("dedupe check failed for event=%s: %v", ev.EventID, err)
		} else if !fresh {
			msgsDuplicate.Inc()
			continue
		}

		if n, ok := notificationFor(ev); ok {
			if err := forwardWithRetry(ctx, notifier, n, 3, 200*time.Millisecond); err != nil {
				forwardErrors.Inc()
				log.Printf("forward failed for event=%s: %v", ev.EventID, err)
			}
		}
	}
}

// notificationFor maps lifecycle events to partner notifications.
// Planning events are internal and produce none.
func notificationFor(ev models.ShipmentEvent) (models.LogisticsNotification, bool) {
	var typ string
	switch ev.Type {
	case "PICKED_UP":
		typ = "PICKUP"
	case "DELIVERED":
		typ = "DELIVERY"
	default:
		return models.LogisticsNotification{}, false
	}
	totalQuantity := 0
	for _, it := range ev.Items {
		totalQuantity += it.Quantity
	}
	return models.LogisticsNotification{
		ID:              ev.EventID,
		NotificationURL: ev.NotificationURL,
		Type:            typ,
		Quantity:        totalQuantity,
		Items:           ev.Items,
	}, true
}

// Deduper remembers which event ids were already handled.
type Deduper interface {
	FirstSeen(ctx context.Context, eventID string) (bool, error)
}

type redisDeduper struct{ c *redis.Client }

func (r *redisDeduper) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	return r.c.SetNX(ctx, "shipment-event:"+eventID, "1", 24*time.Hour).Result()
}

// forwardWithRetry posts the notification with exponential backoff.
func forwardWithRetry(ctx context.Context, n notify.Notifier, payload models.LogisticsNotification, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = n.Send(ctx, payload); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
