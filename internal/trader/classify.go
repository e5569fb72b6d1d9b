package trader

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Порог "баланс почти не изменился" и "баланс ушёл в покупку" в долях cost.
const (
	fastFillShare    = 0.05
	buyFilledShare   = 0.5
	reverseFillShare = 0.9
	holdingDropShare = 0.5
	requiredBalance  = 1.01
)

// Verdict — как трактовать изменение баланса после отправки ордера.
type Verdict int

const (
	Inconclusive Verdict = iota
	BothLegsFilled
	AwaitingReverse
)

func (v Verdict) String() string {
	switch v {
	case BothLegsFilled:
		return "both_legs_filled"
	case AwaitingReverse:
		return "awaiting_reverse"
	default:
		return "inconclusive"
	}
}

// ClassifyDelta: |delta| < 5% cost — обе ноги исполнились; delta < -50% cost —
// исполнилась покупка, обратная продажа висит; остальное неоднозначно.
func ClassifyDelta(delta, cost float64) Verdict {
	switch {
	case math.Abs(delta) < cost*fastFillShare:
		return BothLegsFilled
	case delta < -cost*buyFilledShare:
		return AwaitingReverse
	default:
		return Inconclusive
	}
}

// Insufficient — не хватает на покупку (с запасом 1%).
func Insufficient(balance, cost float64) bool {
	return balance < cost*requiredBalance
}

var (
	priceRe   = regexp.MustCompile(`[\d.]+`)
	holdingRe = regexp.MustCompile(`[\d,]+(?:\.\d+)?`)
)

// ParsePrice: чистим запятые/пробелы/переводы строк, берём первое число.
func ParsePrice(text string) (float64, bool) {
	cleaned := strings.NewReplacer(",", "", "\n", "", " ", "", "\u00a0", "").Replace(strings.TrimSpace(text))
	m := priceRe.FindString(cleaned)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// ParseBalance: "1,234.56 USDT" → 1234.56. Берём первый токен до пробела.
func ParseBalance(text string) (float64, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(fields[0], ",", ""), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ParseHolding: первое число вида 1,234.5678 в тексте. ok=false — в тексте нет числа,
// это не то же самое, что нулевая позиция.
func ParseHolding(text string) (float64, bool) {
	m := holdingRe.FindString(text)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// FormatNumber — то, что вбиваем в поле ввода: до 8 знаков, без хвостовых нулей.
func FormatNumber(v float64) string {
	return decimal.NewFromFloat(v).Round(8).String()
}
