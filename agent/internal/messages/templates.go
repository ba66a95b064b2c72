package messages

import (
	"fmt"
	"html"
	"strings"
	"text/template"
	"time"
)

// Messages are Telegram HTML. Values that come from users or APIs must go
// through esc.
var funcs = template.FuncMap{
	"esc": html.EscapeString,
	"pct": func(v float64) string { return fmt.Sprintf("%.0f", v) },
}

var newTokenTemplate = template.Must(template.New("new_token").Funcs(funcs).Parse(
	`💊 <b>${{esc .Symbol}} | {{esc .Name}}</b>
├ <code>{{esc .Address}}</code>

🤙Caller Stats - {{esc .Caller}}
├Hit rate: 5x: <b>{{pct .HitRate5x}}%</b>  |  2x: <b>{{pct .HitRate2x}}%</b>
└Migration rate:<b>{{pct .MigrationRate}}%</b> (<b>{{.Migrated}}</b> out of <b>{{.TotalUnbonded}}</b>)

<b>📊 Token Stats</b>
├<code>MC:</code> <b>{{.MarketCap}}</b> | <b>{{.MarketCapChange}}</b> 𝝙
├<code>LP:</code> <b>{{.Liquidity}}</b>
├<code>VOL:</code> <b>{{.Volume}}</b>
├ Buys: <b>{{.Buys}}</b> |Sells: <b>{{.Sells}}</b>
└<code>DEX:</code> {{esc .Dex}}
{{if .ShowBonding}}
🏦 <b>Bond Stats:</b>
└ {{.BondingBar}}
{{end}}
💬 <b>Check Comments For More Details</b> - {{esc .AlertChannel}}`))

var keywordTemplate = template.Must(template.New("keyword").Funcs(funcs).Parse(
	`⚠️ <b>Keyword Alert!</b> ⚠️
<b>Keyword:</b> {{esc .Keyword}}
<b>From:</b> {{esc .From}}
<b>Chat:</b> {{esc .Chat}}`))

// NewToken holds the values of a new-token alert.
type NewToken struct {
	Symbol  string
	Name    string
	Address string
	Caller  string

	HitRate5x     float64
	HitRate2x     float64
	MigrationRate float64
	Migrated      int
	TotalUnbonded int

	MarketCap       string
	MarketCapChange string
	Liquidity       string
	Volume          string
	Buys            int
	Sells           int
	Dex             string

	ShowBonding bool
	BondingBar  string

	AlertChannel string
}

// KeywordAlert holds the values of a keyword alert.
type KeywordAlert struct {
	Keyword string
	From    string
	Chat    string
}

func RenderNewToken(d NewToken) (string, error) {
	return render(newTokenTemplate, d)
}

func RenderKeywordAlert(d KeywordAlert) (string, error) {
	return render(keywordTemplate, d)
}

func render(t *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", t.Name(), err)
	}
	return sb.String(), nil
}

type multiplierLevel struct {
	min   float64
	emoji string
}

// Highest threshold first.
var multiplierLevels = []multiplierLevel{
	{100, "🌙"},
	{10, "🚀"},
	{7, "🌕"},
	{3, "🔥"},
	{1, "🎉"},
}

// MultiplierEmoji picks the emoji for the highest threshold mult reaches.
func MultiplierEmoji(mult float64) string {
	for _, l := range multiplierLevels {
		if mult >= l.min {
			return l.emoji
		}
	}
	return "🎉"
}

// MarketCapIncrease is the reply sent when a call reaches its multiple.
func MarketCapIncrease(initialMC, currentMC float64, elapsed time.Duration) string {
	mult := currentMC / initialMC
	return fmt.Sprintf("%s %.1fx | 💹From %s ↗️ %s within %s",
		MultiplierEmoji(mult), mult, FormatMarketCap(initialMC), FormatMarketCap(currentMC), FormatElapsed(elapsed))
}

// Bonded is the reply sent when a token completes its bonding curve.
func Bonded(elapsed time.Duration) string {
	return "Token has been bonded, achieved within " + FormatElapsed(elapsed)
}
