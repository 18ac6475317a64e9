package threshold

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Payload is what the notification surface shows.
type Payload struct {
	Title string
	Body  string
	Icon  string
	Badge string
}

// Style carries the assets attached to every notification.
type Style struct {
	Locale string
	Icon   string
	Badge  string
}

// Render builds one of the two literal notification variants.
func Render(ev Event, style Style) Payload {
	price := FormatAmount(ev.Price, style.Locale)
	limit := FormatAmount(ev.Threshold, style.Locale)

	p := Payload{Icon: style.Icon, Badge: style.Badge}
	switch ev.Kind {
	case BelowThreshold:
		p.Title = "BTC below target"
		p.Body = "Bitcoin fell to € " + price + ", below € " + limit + "."
	case AboveThreshold:
		p.Title = "BTC above target"
		p.Body = "Bitcoin rose to € " + price + ", above € " + limit + "."
	}
	return p
}

// FormatAmount groups digits the way the locale does ("de" → 45.000,5).
// Up to three fraction digits are kept.
func FormatAmount(v decimal.Decimal, locale string) string {
	tag, err := language.Parse(locale)
	if err != nil || locale == "" {
		tag = language.German
	}
	f, _ := v.Float64()
	return message.NewPrinter(tag).Sprintf("%v", number.Decimal(f, number.MaxFractionDigits(3)))
}
