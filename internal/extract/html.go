package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Rendered product pages carry the card price in the webPrice widget; a
// JSON-LD offer block and the "с Ozon Картой" label text are the fallbacks.
var (
	widgetPrice    = regexp.MustCompile(`[\d\s]+₽`)
	cardLabelPrice = regexp.MustCompile(`(?i)с Ozon Картой[\s\S]*?([\d\s]+\s*₽)`)
)

type ldOffer struct {
	Offers struct {
		Price json.Number `json:"price"`
	} `json:"offers"`
}

// PagePrice extracts a card price from product-page HTML.
func PagePrice(html string) (Price, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fromCardLabel(html)
	}

	found := Price{}
	doc.Find(`[data-widget="webPrice"] span`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if !strings.Contains(text, "₽") || !strings.ContainsAny(text, "0123456789") {
			return true
		}
		if m := widgetPrice.FindString(text); m != "" {
			v := strings.TrimSpace(m)
			if IsValidPrice(v) {
				found = Price{Value: v, Source: "html_widget"}
				return false
			}
		}
		return true
	})
	if found.Value != "" {
		return found, true
	}

	var ldFound Price
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var offer ldOffer
		if err := json.Unmarshal([]byte(s.Text()), &offer); err != nil {
			return true
		}
		if offer.Offers.Price != "" {
			v := offer.Offers.Price.String() + " ₽"
			if IsValidPrice(v) {
				ldFound = Price{Value: v, Source: "json_ld"}
				return false
			}
		}
		return true
	})
	if ldFound.Value != "" {
		return ldFound, true
	}

	return fromCardLabel(doc.Text())
}

func fromCardLabel(text string) (Price, bool) {
	if m := cardLabelPrice.FindStringSubmatch(text); m != nil {
		v := strings.TrimSpace(m[1])
		if IsValidPrice(v) {
			return Price{Value: v, Source: "card_text"}, true
		}
	}
	return Price{}, false
}
