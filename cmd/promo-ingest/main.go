// Command promo-ingest bulk-loads coded promotions from gzipped JSON-lines
// campaign feeds. Each feed line describes one single-use code:
//
//	{"code":"SPRING-X7K2","campaign":"Spring mailer","rate":"0.10"}
//
// Feeds from different mailing providers overlap, so codes are deduplicated
// with a bloom filter before insertion; the database's unique code index
// catches the filter's false negatives.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/promo-engine/internal/domain/money"
	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/repository"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.0001
	batchSize     = 500
	progressEvery = 100_000
	minCodeLen    = 6
	maxCodeLen    = 32
)

// insertCodeSQL skips codes that already exist; the unique index on
// UPPER(code) is the authoritative duplicate check.
const insertCodeSQL = `INSERT INTO promotions (id, name, code, description,
	usage_limit, usage_count, expires_at, currency, active,
	requires_coupon_code, match_policy, action_scope, action_type, action_rate)
	VALUES ($1, $2, $3, $4, $5, 0, $6, 'USD', TRUE, TRUE, 'all',
		'order_discount', 'percentage', $7)
	ON CONFLICT ((UPPER(code))) WHERE code <> '' DO NOTHING`

// feedEntry is one decoded campaign feed line.
type feedEntry struct {
	Code     string
	Campaign string
	Rate     decimal.Decimal
	// ExpiresAt is optional; zero means no expiry.
	ExpiresAt time.Time
}

func main() {
	var (
		dataDir     string
		databaseURL string
		usageLimit  int
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.jsonl.gz campaign feeds")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&usageLimit, "usage-limit", 1, "usage limit per ingested code")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, usageLimit); err != nil {
		slog.Error("promo ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("promo ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string, usageLimit int) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.jsonl.gz"))
	if err != nil {
		return errors.Wrap(err, "glob feed files")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.jsonl.gz feeds found in %s", dataDir)
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	// One reader goroutine per feed, one writer draining the channel. The
	// bloom filter lives in the writer so it needs no locking.
	entries := make(chan feedEntry, 4*batchSize)

	g, gctx := errgroup.WithContext(ctx)
	readers, rctx := errgroup.WithContext(gctx)

	for _, f := range files {
		readers.Go(readFeed(rctx, f, entries))
	}
	g.Go(func() error {
		defer close(entries)
		return readers.Wait()
	})
	g.Go(func() error {
		return writeCodes(gctx, pool, entries, usageLimit)
	})

	return g.Wait()
}

// readFeed streams one gzipped feed and sends decoded entries downstream.
func readFeed(ctx context.Context, path string, entries chan<- feedEntry) func() error {
	return func() error {
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "open %s", path)
		}
		defer func() { _ = f.Close() }()

		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()

		var (
			count   uint64
			skipped uint64
		)

		scanner := bufio.NewScanner(gz)
		for scanner.Scan() {
			entry, err := decodeEntry(scanner.Bytes())
			if err != nil || len(entry.Code) < minCodeLen || len(entry.Code) > maxCodeLen {
				skipped++
				continue
			}

			select {
			case entries <- entry:
			case <-ctx.Done():
				return ctx.Err()
			}

			count++
			if count%progressEvery == 0 {
				slog.Info("feed progress",
					slog.String("file", filepath.Base(path)),
					slog.Uint64("entries", count),
				)
			}
		}
		if err := scanner.Err(); err != nil {
			return errors.Wrapf(err, "scan %s", path)
		}

		slog.Info("feed complete",
			slog.String("file", filepath.Base(path)),
			slog.Uint64("entries", count),
			slog.Uint64("skipped", skipped),
		)
		return nil
	}
}

// decodeEntry parses one feed line without allocating an intermediate map.
func decodeEntry(line []byte) (feedEntry, error) {
	var entry feedEntry

	d := jx.DecodeBytes(line)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			v, err := d.Str()
			entry.Code = v
			return err
		case "campaign":
			v, err := d.Str()
			entry.Campaign = v
			return err
		case "rate":
			v, err := d.Str()
			if err != nil {
				return err
			}
			entry.Rate, err = decimal.NewFromString(v)
			return err
		case "expires_at":
			v, err := d.Str()
			if err != nil {
				return err
			}
			entry.ExpiresAt, err = time.Parse(time.RFC3339, v)
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return feedEntry{}, err
	}
	if entry.Code == "" || entry.Rate.IsZero() {
		return feedEntry{}, errors.New("missing code or rate")
	}
	return entry, nil
}

// writeCodes dedupes entries and inserts them in batches.
func writeCodes(ctx context.Context, pool *pgxpool.Pool, entries <-chan feedEntry, usageLimit int) error {
	seen := bloom.NewWithEstimates(bloomCapacity, bloomFPR)

	var (
		batch    pgx.Batch
		inserted uint64
		duped    uint64
	)

	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		if err := pool.SendBatch(ctx, &batch).Close(); err != nil {
			return errors.Wrap(err, "insert batch")
		}
		batch = pgx.Batch{}
		return nil
	}

	for entry := range entries {
		if seen.TestAndAddString(entry.Code) {
			duped++
			continue
		}

		p, err := buildPromotion(entry, usageLimit)
		if err != nil {
			slog.Warn("skipping invalid entry",
				slog.String("code", entry.Code),
				slog.String("error", err.Error()),
			)
			continue
		}

		var expiresAt *time.Time
		if !entry.ExpiresAt.IsZero() {
			expiresAt = &entry.ExpiresAt
		}
		batch.Queue(insertCodeSQL,
			p.ID, p.Name, p.Code, p.Description, p.UsageLimit,
			expiresAt, p.Action.Rate.Rate(),
		)

		if batch.Len() >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}

		inserted++
		if inserted%progressEvery == 0 {
			slog.Info("write progress",
				slog.Uint64("inserted", inserted),
				slog.Uint64("duplicates", duped),
			)
		}
	}
	if err := flush(); err != nil {
		return err
	}

	slog.Info("write complete",
		slog.Uint64("inserted", inserted),
		slog.Uint64("duplicates", duped),
	)
	return nil
}

// buildPromotion runs each feed entry through domain validation, so malformed
// rates or windows never reach the database.
func buildPromotion(entry feedEntry, usageLimit int) (*promotion.Promotion, error) {
	rate, err := money.NewPercentage(entry.Rate)
	if err != nil {
		return nil, err
	}
	action, err := promotion.NewOrderDiscount(promotion.DiscountPercentage, money.Money{}, rate)
	if err != nil {
		return nil, err
	}

	name := entry.Campaign
	if name == "" {
		name = "Campaign code " + entry.Code
	}

	params := promotion.Params{
		Name:               name,
		Code:               entry.Code,
		Description:        entry.Campaign,
		UsageLimit:         &usageLimit,
		RequiresCouponCode: true,
		Action:             action,
	}
	if !entry.ExpiresAt.IsZero() {
		params.ExpiresAt = &entry.ExpiresAt
	}

	return promotion.New(params)
}
