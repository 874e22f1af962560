package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPagePrice(t *testing.T) {
	tests := []struct {
		name      string
		html      string
		expected  string
		source    string
		wantFound bool
	}{
		{
			name: "webPrice widget span",
			html: `<html><body>
				<div data-widget="webPrice">
					<span>1 234 ₽ с Ozon Картой</span>
					<span>1 500 ₽</span>
				</div>
			</body></html>`,
			expected:  "1 234",
			source:    "html_widget",
			wantFound: true,
		},
		{
			name: "widget spans without digits are skipped",
			html: `<html><body>
				<div data-widget="webPrice">
					<span>цена по карте ₽</span>
					<span>2 999 ₽</span>
				</div>
			</body></html>`,
			expected:  "2 999",
			source:    "html_widget",
			wantFound: true,
		},
		{
			name: "json-ld offer fallback",
			html: `<html><head>
				<script type="application/ld+json">{"@type":"Product","offers":{"price":4990}}</script>
			</head><body><p>описание товара без цены в виджете</p></body></html>`,
			expected:  "4990 ₽",
			source:    "json_ld",
			wantFound: true,
		},
		{
			name: "card label text fallback",
			html: `<html><body><div>Сегодня с Ozon Картой всего 3 450 ₽ вместо 4 000</div></body></html>`,
			expected:  "3 450",
			source:    "card_text",
			wantFound: true,
		},
		{
			name:      "page without any price",
			html:      `<html><body><h1>Страница товара</h1><p>товар закончился</p></body></html>`,
			wantFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, found := PagePrice(tt.html)
			require.Equal(t, tt.wantFound, found)
			if tt.wantFound {
				assert.Contains(t, price.Value, tt.expected)
				assert.Equal(t, tt.source, price.Source)
			}
		})
	}
}
