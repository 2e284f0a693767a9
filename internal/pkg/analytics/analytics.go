package analytics

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/TitanCloudAI/titan-cloud/internal/pkg/cache"
)

const eventKeyPrefix = "billing:events"

// Track records a named operational event with optional properties. Events
// are counted per day in a Redis hash and mirrored to the log, so failure
// visibility does not depend on scraping access logs.
func Track(event string, props map[string]string) {
	if event == "" {
		return
	}

	ctx := context.Background()
	key := fmt.Sprintf("%s:%s", eventKeyPrefix, time.Now().UTC().Format("2006-01-02"))
	if err := cache.GetClient().HIncrBy(ctx, key, event, 1).Err(); err != nil {
		log.Printf("analytics: failed to count event %s: %v", event, err)
	}

	log.Printf("analytics: %s%s", event, formatProps(props))
}

// EventCounts returns the counters recorded for the given UTC day.
func EventCounts(day time.Time) (map[string]int64, error) {
	ctx := context.Background()
	key := fmt.Sprintf("%s:%s", eventKeyPrefix, day.UTC().Format("2006-01-02"))
	raw, err := cache.GetClient().HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(raw))
	for event, v := range raw {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		counts[event] = n
	}
	return counts, nil
}

func formatProps(props map[string]string) string {
	if len(props) == 0 {
		return ""
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(props[k])
	}
	return b.String()
}
