// Command seed-db loads the product catalog and a starter set of promotions
// into the database. It is idempotent: products upsert and promotions that
// already exist (by code) are left alone.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/money"
	"github.com/xenking/promo-engine/internal/domain/product"
	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/repository"
)

type productJSON struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Price      int64             `json:"price"`
	Currency   string            `json:"currency"`
	Category   string            `json:"category"`
	Attributes map[string]string `json:"attributes"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
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

	if err := run(ctx, databaseURL, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, repository.NewProductRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedPromotions(ctx, repository.NewPromotionRepository(pool)); err != nil {
		return errors.Wrap(err, "seed promotions")
	}

	return nil
}

func seedProducts(ctx context.Context, repo *repository.ProductRepository, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		currency := p.Currency
		if currency == "" {
			currency = "USD"
		}
		price, err := money.New(p.Price, currency)
		if err != nil {
			return errors.Wrapf(err, "product %s price", p.ID)
		}

		if err := repo.Upsert(ctx, product.Product{
			ID:         p.ID,
			Name:       p.Name,
			Price:      price,
			Category:   p.Category,
			Attributes: p.Attributes,
		}); err != nil {
			return err
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedPromotions(ctx context.Context, repo *repository.PromotionRepository) error {
	slog.Info("seeding starter promotions")

	for _, build := range []func() (*promotion.Promotion, error){
		welcomePromotion,
		summerSalePromotion,
		electronicsPromotion,
	} {
		p, err := build()
		if err != nil {
			return err
		}

		if _, err := repo.FindByCode(ctx, p.Code); err == nil && p.Code != "" {
			slog.Info("promotion already seeded", slog.String("code", p.Code))
			continue
		}

		if err := repo.Create(ctx, p); err != nil {
			return errors.Wrapf(err, "create promotion %q", p.Name)
		}
		slog.Info("seeded promotion", slog.String("name", p.Name), slog.String("code", p.Code))
	}

	return nil
}

// welcomePromotion gives first-time customers 10% off automatically.
func welcomePromotion() (*promotion.Promotion, error) {
	rate, err := money.NewPercentage(decimal.RequireFromString("0.1"))
	if err != nil {
		return nil, err
	}
	action, err := promotion.NewOrderDiscount(promotion.DiscountPercentage, money.Money{}, rate)
	if err != nil {
		return nil, err
	}

	p, err := promotion.New(promotion.Params{
		Name:        "Welcome Discount",
		Description: "10% off your first order",
		Action:      action,
	})
	if err != nil {
		return nil, err
	}

	rule, err := promotion.NewRule(p.ID, promotion.RuleFirstOrder, "true", "")
	if err != nil {
		return nil, err
	}
	if err := p.AddRule(rule); err != nil {
		return nil, err
	}
	return p, nil
}

// summerSalePromotion is a coded $5 discount on orders of $50 or more.
func summerSalePromotion() (*promotion.Promotion, error) {
	action, err := promotion.NewOrderDiscount(
		promotion.DiscountFixed, money.MustNew(500, "USD"), money.Percentage{})
	if err != nil {
		return nil, err
	}

	minOrder := money.MustNew(5000, "USD")
	return promotion.New(promotion.Params{
		Name:               "Summer Sale",
		Code:               "SUMMER5",
		Description:        "$5 off orders of $50+",
		MinimumOrderAmount: &minOrder,
		RequiresCouponCode: true,
		Action:             action,
	})
}

// electronicsPromotion discounts electronics line items by 15%, capped at
// $20 total per order.
func electronicsPromotion() (*promotion.Promotion, error) {
	rate, err := money.NewPercentage(decimal.RequireFromString("0.15"))
	if err != nil {
		return nil, err
	}
	action, err := promotion.NewItemDiscount(promotion.DiscountPercentage, money.Money{}, rate)
	if err != nil {
		return nil, err
	}

	maxDiscount := money.MustNew(2000, "USD")
	p, err := promotion.New(promotion.Params{
		Name:                  "Electronics Week",
		Description:           "15% off electronics, up to $20 per order",
		MaximumDiscountAmount: &maxDiscount,
		Action:                action,
	})
	if err != nil {
		return nil, err
	}

	rule, err := promotion.NewRule(p.ID, promotion.RuleProductProperty, "electronics", "department")
	if err != nil {
		return nil, err
	}
	if err := p.AddRule(rule); err != nil {
		return nil, err
	}
	return p, nil
}
