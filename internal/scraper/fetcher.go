// Package scraper contains the fetch/extract unit and the recovery-and-pacing
// worker loop that drives one browser session through a batch of SKUs.
package scraper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/smazka/pricewatch/internal/detect"
	"github.com/smazka/pricewatch/internal/extract"
	"github.com/smazka/pricewatch/internal/model"
)

// Mode selects how a target is fetched. The site's defenses shift between the
// JSON entrypoint and the rendered product page, so both stay interchangeable.
type Mode string

const (
	// ModeAPI navigates to the entrypoint API and reads the JSON blob.
	ModeAPI Mode = "api"
	// ModeHTML navigates to the public product page and parses the widget.
	ModeHTML Mode = "html"
)

const (
	apiURLFormat  = "https://www.ozon.ru/api/entrypoint-api.bx/page/json/v2?url=%%2Fproduct%%2F%s"
	pageURLFormat = "https://www.ozon.ru/product/%s/"
)

// Page is the slice of the browser session the fetcher needs.
type Page interface {
	Navigate(ctx context.Context, url string) error
	PlainText() (string, error)
	Content() (string, error)
}

// Fetcher resolves one SKU against a live session.
type Fetcher struct {
	mode   Mode
	page   Page
	logger *slog.Logger
}

func NewFetcher(mode Mode, page Page, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		mode:   mode,
		page:   page,
		logger: logger.With("component", "fetcher", "mode", string(mode)),
	}
}

// TargetURL builds the navigation target for a SKU in the active mode.
func (f *Fetcher) TargetURL(sku string) string {
	if f.mode == ModeHTML {
		return fmt.Sprintf(pageURLFormat, sku)
	}
	return fmt.Sprintf(apiURLFormat, sku)
}

// FetchPrice navigates, classifies the body, and runs the extraction chain.
// Navigation errors yield a status=error outcome; a challenge page or an
// inconclusively short body yields the intermediate blocked outcome the
// recovery policy acts on.
func (f *Fetcher) FetchPrice(ctx context.Context, sku string) model.Outcome {
	if err := f.page.Navigate(ctx, f.TargetURL(sku)); err != nil {
		return model.Failed(sku, string(f.mode), err)
	}

	raw, err := f.read()
	if err != nil {
		return model.Failed(sku, string(f.mode), err)
	}

	switch detect.Classify(raw) {
	case detect.Blocked:
		f.logger.Info("block page detected", "sku", sku)
		return model.Blocked(sku, string(f.mode))
	case detect.TooShort:
		f.logger.Info("response too short to extract", "sku", sku, "length", len(raw))
		return model.Blocked(sku, string(f.mode))
	}

	price, ok := f.extract(raw)
	if !ok {
		return model.NotFound(sku, string(f.mode))
	}

	f.logger.Info("price extracted", "sku", sku, "price", price.Value, "source", price.Source)
	return model.OK(sku, price.Value, price.Source)
}

func (f *Fetcher) read() (string, error) {
	if f.mode == ModeHTML {
		return f.page.Content()
	}
	return f.page.PlainText()
}

func (f *Fetcher) extract(raw string) (extract.Price, bool) {
	if f.mode == ModeHTML {
		return extract.PagePrice(raw)
	}
	return extract.CardPrice(raw)
}
